package virtio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// GuestMemory is the address-indexed byte store the transport reads ring
// cursors from at restore time. It is an external collaborator: the
// transport never owns guest memory, only borrows a handle to it.
type GuestMemory interface {
	io.ReaderAt
	io.WriterAt
}

// readUint16Acquire reads a little-endian uint16 from guest memory.
// Acquire ordering across the vCPU/host boundary is the guest memory
// subsystem's responsibility, since it is the component that publishes
// ring writes; this helper only does the byte decode.
func readUint16Acquire(mem GuestMemory, addr uint64) (uint16, error) {
	var buf [2]byte
	n, err := mem.ReadAt(buf[:], int64(addr))
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, fmt.Errorf("virtio: short guest memory read at %#x (want 2, got %d)", addr, n)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// Queue is the opaque virtqueue handle the transport keeps one of per
// queue index. The ring/descriptor contents themselves are owned by a
// separate virtqueue library; this struct carries exactly the fields the
// MMIO register window and the snapshot/restore contract expose.
type Queue struct {
	MaxSize   uint16
	Size      uint16
	Ready     bool
	DescTable uint64
	AvailRing uint64
	UsedRing  uint64

	// NextAvail/NextUsed are the producer/consumer ring cursors. They live
	// in the virtqueue library in the general case; the transport only
	// touches them during restore, rehydrating both from the guest-visible
	// used index.
	NextAvail uint16
	NextUsed  uint16
}

// NewQueue constructs a queue handle with the given maximum size.
func NewQueue(maxSize uint16) *Queue {
	return &Queue{MaxSize: maxSize}
}

// Reset clears queue state on a driver-requested device reset. Size is
// restored to MaxSize rather than zeroed: a reset queue is ready for the
// driver to renegotiate from the top of its range, not from a blank slate.
func (q *Queue) Reset() {
	q.Size = q.MaxSize
	q.Ready = false
	q.DescTable = 0
	q.AvailRing = 0
	q.UsedRing = 0
	q.NextAvail = 0
	q.NextUsed = 0
}

// SetSize validates and stores a guest-requested queue size. Guests may
// legitimately write 0 while tearing a queue down; only an out-of-range
// request above MaxSize is rejected.
func (q *Queue) SetSize(size uint16) error {
	if size > q.MaxSize {
		return fmt.Errorf("queue size %d exceeds max size %d", size, q.MaxSize)
	}
	q.Size = size
	return nil
}

// SetReady implements the QUEUE_READY register: a bare mirror of the
// guest-written bit, with no other side effect.
func (q *Queue) SetReady(ready bool) {
	q.Ready = ready
}

// TrySetDescTableAddress sets the descriptor table GPA, used during
// restore. GPA 0 with a nonzero size is rejected — a live queue never
// legitimately has a null descriptor table.
func (q *Queue) TrySetDescTableAddress(gpa uint64) error {
	if gpa == 0 && q.Size != 0 {
		return fmt.Errorf("%w: desc table gpa is 0", ErrQueueAddressInvalid)
	}
	q.DescTable = gpa
	return nil
}

// TrySetAvailRingAddress sets the available-ring GPA.
func (q *Queue) TrySetAvailRingAddress(gpa uint64) error {
	if gpa == 0 && q.Size != 0 {
		return fmt.Errorf("%w: avail ring gpa is 0", ErrQueueAddressInvalid)
	}
	q.AvailRing = gpa
	return nil
}

// TrySetUsedRingAddress sets the used-ring GPA.
func (q *Queue) TrySetUsedRingAddress(gpa uint64) error {
	if gpa == 0 && q.Size != 0 {
		return fmt.Errorf("%w: used ring gpa is 0", ErrQueueAddressInvalid)
	}
	q.UsedRing = gpa
	return nil
}

// IsValid probes whether the queue's configuration is plausible before
// activation. A queue found invalid is still passed to the backing device
// unchanged — this is advisory, logged by the caller, never enforced here.
func (q *Queue) IsValid() bool {
	return q.Ready && q.Size > 0 && q.Size <= q.MaxSize && q.DescTable != 0 && q.AvailRing != 0 && q.UsedRing != 0
}

// Clone returns an independent copy of the queue handle, suitable for
// handing to an Activator record.
func (q *Queue) Clone() *Queue {
	cp := *q
	return &cp
}

// syncUsedIndex sets both NextAvail and NextUsed to the ring's current
// used_idx, read through readUint16Acquire, which adds no memory ordering of
// its own (see its comment). This is a deliberate restore-time
// choice: the caller is required to have quiesced the backing device
// first, so there can be no request in flight whose completion this would
// lose.
func (q *Queue) syncUsedIndex(mem GuestMemory) error {
	if q.UsedRing == 0 {
		return nil
	}
	usedIdx, err := readUint16Acquire(mem, q.UsedRing+2)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUsedIndexReadFailed, err)
	}
	q.NextAvail = usedIdx
	q.NextUsed = usedIdx
	return nil
}
