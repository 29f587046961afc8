package virtio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Activator is a one-shot record that carries a frozen view of the
// transport into the backing device's Activate call. It is built once by
// Transport.prepareActivator and consumed exactly once by Run.
type Activator struct {
	ID        string
	Memory    GuestMemory
	Interrupt *InterruptAdapter
	Device    BackingDevice
	Queues    []ActivatedQueue

	activated *atomic.Bool
	barrier   *Barrier
}

// Run performs the activation. On success it sets device_activated true.
// Whether or not activation succeeds, an attached barrier is always waited
// on, so the dispatcher that produced this Activator is never left
// hanging.
func (a *Activator) Run() error {
	err := a.Device.Activate(a.Memory, a.Interrupt, a.Queues)
	if err == nil {
		a.activated.Store(true)
	}
	if a.barrier != nil {
		slog.Info("virtio: waiting for activation barrier", "id", a.ID)
		a.barrier.Wait()
		slog.Info("virtio: activation barrier released", "id", a.ID)
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %w", a.ID, ErrDeviceActivateFailed, err)
	}
	return nil
}

// ActivationWorker drains a transport's pending_activations whenever it is
// signaled, running each Activator on its own goroutine-owned loop. It is
// the worker thread that lets device_activated transition to true off the
// MMIO dispatcher's lock domain: the backing device's Activate call runs
// here, and the dispatcher only waits on the barrier until it returns.
type ActivationWorker struct {
	transport *Transport
	group     *errgroup.Group
	cancel    context.CancelFunc

	// OnActivationError, if set, receives activation failures as they
	// happen, so they reach whatever layer manages VM lifecycle instead of
	// being silently absorbed. Defaults to logging.
	OnActivationError func(id string, err error)

	mu      sync.Mutex
	started bool
}

// NewActivationWorker constructs a worker bound to t. It does not start
// running until Start is called.
func NewActivationWorker(t *Transport) *ActivationWorker {
	return &ActivationWorker{transport: t}
}

// Start launches the drain loop. Safe to call once; a second call is a
// no-op.
func (w *ActivationWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	w.group = g
	g.Go(func() error {
		return w.run(ctx)
	})
}

func (w *ActivationWorker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.transport.activateEvt:
			for _, a := range w.transport.drainPendingActivations() {
				if err := a.Run(); err != nil {
					if w.OnActivationError != nil {
						w.OnActivationError(a.ID, err)
					} else {
						slog.Error("virtio: activation failed", "id", a.ID, "err", err)
					}
				}
			}
		}
	}
}

// Stop cancels the drain loop and waits for it to exit. It does not drain
// any activations still pending at the time of the call; draining
// pending_activations before declaring shutdown complete is the
// surrounding VM's responsibility.
func (w *ActivationWorker) Stop() error {
	w.mu.Lock()
	started := w.started
	cancel := w.cancel
	group := w.group
	w.mu.Unlock()
	if !started {
		return nil
	}
	cancel()
	return group.Wait()
}
