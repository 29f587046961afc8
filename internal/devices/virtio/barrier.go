package virtio

import "sync/atomic"

// Barrier is a two-party rendezvous: both parties' Wait calls block until
// both have arrived, then both return. It serializes the MMIO dispatcher
// with activation completion without the dispatcher holding the
// transport's lock across the backing device's Activate call.
//
// Go's stdlib has no bare two-party rendezvous type; this is the
// idiomatic channel-based construction for exactly two waiters.
type Barrier struct {
	arrived atomic.Int32
	release chan struct{}
}

// NewBarrier constructs a fresh, single-use barrier.
func NewBarrier() *Barrier {
	return &Barrier{release: make(chan struct{})}
}

// Wait blocks until both parties have called Wait once.
func (b *Barrier) Wait() {
	if b.arrived.Add(1) == 2 {
		close(b.release)
		return
	}
	<-b.release
}
