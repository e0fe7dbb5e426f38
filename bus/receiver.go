package bus

import (
	"context"
	"sync"
)

// Receiver is a single subscription's or listener's inbound channel.
type Receiver struct {
	ch    chan Envelope
	close func()

	closedOnce sync.Once
}

// Receive blocks until an Envelope arrives or ctx is done.
func (r *Receiver) Receive(ctx context.Context) (Envelope, error) {
	select {
	case env := <-r.ch:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Close detaches the receiver. For a Subscribe receiver this stops further
// deliveries; for a Listen receiver on a shared queue, Close only runs the
// (no-op) detach hook — the queue channel itself persists for other
// listeners.
func (r *Receiver) Close() {
	r.closedOnce.Do(r.close)
}
