package virtio

import (
	"testing"
	"time"
)

func TestBarrierRendezvous(t *testing.T) {
	b := NewBarrier()
	done := make(chan struct{})

	go func() {
		b.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("barrier released before second party arrived")
	case <-time.After(20 * time.Millisecond):
	}

	b.Wait()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("barrier never released after both parties arrived")
	}
}
