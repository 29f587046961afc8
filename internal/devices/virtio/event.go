package virtio

// QueueEvent is the edge-triggered doorbell object parallel to a Queue.
// The VMM routes a guest write to base+NotifyRegOffset straight to the
// matching event, never back through the register decoder. A buffered
// channel stands in for an eventfd that gets duplicated per activation:
// Clone returns a handle sharing the same underlying channel, so a
// doorbell rung on either handle is observed by both.
type QueueEvent struct {
	c chan struct{}
}

// NewQueueEvent constructs a fresh, un-rung event.
func NewQueueEvent() *QueueEvent {
	return &QueueEvent{c: make(chan struct{}, 1)}
}

// Notify rings the doorbell. Non-blocking: a pending, unconsumed
// notification coalesces with the next one, matching eventfd counter
// semantics closely enough for a single-shot "queue has work" signal.
func (e *QueueEvent) Notify() {
	select {
	case e.c <- struct{}{}:
	default:
	}
}

// C exposes the channel for a consumer to select on.
func (e *QueueEvent) C() <-chan struct{} {
	return e.c
}

// Clone returns a handle sharing the same underlying channel as e. The
// Activator record captures a clone per ready queue so the backing
// device's worker can hold its own handle independent of the transport's
// lifetime.
func (e *QueueEvent) Clone() *QueueEvent {
	return &QueueEvent{c: e.c}
}
