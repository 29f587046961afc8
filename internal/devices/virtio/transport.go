package virtio

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// NotifyRegOffset is the offset past a transport's MMIO base at which the
// guest's doorbell writes land. The VMM routes writes there directly to the
// matching QueueEvent (via IOEventFDs), never back through Read/Write.
const NotifyRegOffset = 0x50

// Transport is the virtio MMIO transport for a single attached device. All
// mutating operations require the caller to hold exclusive access (the
// surrounding MMIO bus's mutex); interrupt_status and device_activated are
// the only fields touched without it.
type Transport struct {
	id     string
	device BackingDevice
	memory GuestMemory

	featuresSelect      uint32
	ackedFeaturesSelect uint32
	queueSelect         uint32
	driverStatus        uint32
	configGeneration    uint32
	shmRegionSelect     uint32

	interruptStatus atomic.Uint32
	interrupt       *InterruptAdapter

	queues    []*Queue
	queueEvts []*QueueEvent

	deviceActivated atomic.Bool

	activateEvt        chan struct{}
	pendingMu          sync.Mutex
	pendingActivations []*Activator
}

// NewTransport constructs a Transport bound to a backing device, guest
// memory handle, and interrupt sink, mirroring newMMIODevice's
// construction-time contract: the queue count is fixed at the backing
// device's declared count for the lifetime of the transport.
func NewTransport(id string, device BackingDevice, memory GuestMemory, sink InterruptSink) *Transport {
	t := &Transport{
		id:          id,
		device:      device,
		memory:      memory,
		activateEvt: make(chan struct{}, 1),
	}

	maxSizes := device.QueueMaxSizes()
	t.queues = make([]*Queue, len(maxSizes))
	t.queueEvts = make([]*QueueEvent, len(maxSizes))
	for i, sz := range maxSizes {
		t.queues[i] = NewQueue(sz)
		t.queueEvts[i] = NewQueueEvent()
	}

	t.interrupt = NewInterruptAdapter(&t.interruptStatus, sink)
	return t
}

// ID returns the transport's stable identifier, used as the snapshot
// section key.
func (t *Transport) ID() string { return t.id }

// AssignInterrupt reinstalls the interrupt adapter outside of the reset
// path, e.g. when the VMM rewires interrupt routing underneath a live
// transport.
func (t *Transport) AssignInterrupt(sink InterruptSink) {
	t.interrupt = NewInterruptAdapter(&t.interruptStatus, sink)
}

// BumpConfigGeneration increments the guest-visible config generation
// counter (offset 0xFC). The transport never calls this itself; only the
// backing device bumps it, when it changes config space out from under the
// guest.
func (t *Transport) BumpConfigGeneration() {
	t.configGeneration++
}

// selectedQueue returns the queue at queue_select, or nil if the selector
// is out of range. All selected-queue register accesses no-op on nil.
func (t *Transport) selectedQueue() *Queue {
	idx := int(t.queueSelect)
	if idx < 0 || idx >= len(t.queues) {
		return nil
	}
	return t.queues[idx]
}

// IOEventFDs returns the (event, notify-address) pairs the VMM must install
// at base+NotifyRegOffset: one per queue, routing a guest write there
// straight to the matching event without re-entering the transport.
func (t *Transport) IOEventFDs(base uint64) []QueueNotify {
	notifyAddr := base + NotifyRegOffset
	out := make([]QueueNotify, len(t.queueEvts))
	for i, e := range t.queueEvts {
		out[i] = QueueNotify{Event: e, Address: notifyAddr}
	}
	return out
}

// QueueNotify pairs a queue's doorbell event with the MMIO address the VMM
// should route writes from.
type QueueNotify struct {
	Event   *QueueEvent
	Address uint64
}

// prepareActivator snapshots the set of ready queues plus their events,
// moves the interrupt adapter out of the transport (the transport retains
// nil until the next reset), and returns an Activator ready to run. Queue
// validity is probed but never enforced here — the backing device is
// authoritative.
func (t *Transport) prepareActivator(barrier *Barrier) *Activator {
	var activated []ActivatedQueue
	for i, q := range t.queues {
		if !q.Ready {
			continue
		}
		if !q.IsValid() {
			slog.Error("virtio: queue is not valid at activation", "id", t.id, "queue", i)
		}
		activated = append(activated, ActivatedQueue{
			Index: i,
			Queue: q.Clone(),
			Event: t.queueEvts[i].Clone(),
		})
	}

	interrupt := t.interrupt
	t.interrupt = nil

	return &Activator{
		ID:        t.id,
		Memory:    t.memory,
		Interrupt: interrupt,
		Device:    t.device,
		Queues:    activated,
		activated: &t.deviceActivated,
		barrier:   barrier,
	}
}

// MaybeActivate runs activation synchronously, with no barrier attached.
// It is the no-barrier twin of the deferred, barrier-returning path in
// Write, used by restore and by callers that have their own reason to
// activate off the MMIO dispatch path.
func (t *Transport) MaybeActivate() error {
	if !t.needsActivation() {
		return nil
	}
	return t.prepareActivator(nil).Run()
}

func (t *Transport) pushPendingActivation(a *Activator) {
	t.pendingMu.Lock()
	t.pendingActivations = append(t.pendingActivations, a)
	t.pendingMu.Unlock()
}

func (t *Transport) drainPendingActivations() []*Activator {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	drained := t.pendingActivations
	t.pendingActivations = nil
	return drained
}

// signalActivate wakes the activation worker, coalescing with any pending,
// unconsumed signal.
func (t *Transport) signalActivate() {
	select {
	case t.activateEvt <- struct{}{}:
	default:
	}
}
