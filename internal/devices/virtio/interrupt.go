package virtio

import (
	"fmt"
	"sync/atomic"
)

// Interrupt status bits, OR'd into the guest-visible INTERRUPT_STATUS
// register (offset 0x60).
const (
	interruptStatusUsedRing     = 0x1
	interruptStatusConfigChange = 0x2
)

// InterruptSink is the host-side fan-in the interrupt adapter fires into,
// an external collaborator the adapter never inspects beyond this one
// call.
type InterruptSink interface {
	Trigger(vector uint32) error
}

// InterruptKind distinguishes the two interrupt causes the MMIO transport
// recognizes. The queue index in Queue is intentionally not threaded through
// to the sink: the transport multiplexes all queue interrupts onto a single
// level-style status bit, per the virtio MMIO wire contract.
type InterruptKind struct {
	config bool
	queue  int
}

// ConfigInterruptKind reports a configuration-space change.
func ConfigInterruptKind() InterruptKind { return InterruptKind{config: true} }

// QueueInterruptKind reports a used-buffer notification for queue index i.
func QueueInterruptKind(i int) InterruptKind { return InterruptKind{queue: i} }

func (k InterruptKind) bit() uint32 {
	if k.config {
		return interruptStatusConfigChange
	}
	return interruptStatusUsedRing
}

// InterruptAdapter binds the transport's shared interrupt_status atomic to a
// host interrupt sink. It has no back-reference to the Transport — the
// atomic is the single source of truth, shared by value via pointer.
type InterruptAdapter struct {
	status *atomic.Uint32
	sink   InterruptSink
}

// NewInterruptAdapter constructs an adapter over a shared status word. The
// same *atomic.Uint32 must be the one the Transport exposes at offset 0x60.
func NewInterruptAdapter(status *atomic.Uint32, sink InterruptSink) *InterruptAdapter {
	return &InterruptAdapter{status: status, sink: sink}
}

// Trigger ORs the status bit for kind into interrupt_status with
// sequentially consistent ordering, then fires the sink on vector 0. A
// sink error is wrapped and returned to the caller.
func (a *InterruptAdapter) Trigger(kind InterruptKind) error {
	a.status.Or(kind.bit())
	if err := a.sink.Trigger(0); err != nil {
		return fmt.Errorf("%w: %w", ErrInterruptFireFailed, err)
	}
	return nil
}
