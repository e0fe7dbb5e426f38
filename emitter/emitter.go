// Package emitter implements the per-entity post-commit event queue (C12):
// an aggregate queues (name, payload) pairs during a command, and only
// after its commit actually succeeds does EmitQueued hand them to
// registered listeners, in registration order, on the committing
// goroutine.
package emitter

import "context"

// Listener is invoked once per queued event, in the order Queue was called.
// It must not block for long: emission stays on the committing thread,
// not handed off to a worker pool of its own.
type Listener func(ctx context.Context, name string, payload []byte) error

type queued struct {
	name    string
	payload []byte
}

// Emitter accumulates queued events for a single command invocation and
// dispatches them once told the commit succeeded.
type Emitter struct {
	pending   []queued
	listeners []Listener
}

// New returns an empty Emitter.
func New() *Emitter {
	return &Emitter{}
}

// On registers a listener invoked for every event EmitQueued dispatches,
// in registration order.
func (e *Emitter) On(l Listener) {
	e.listeners = append(e.listeners, l)
}

// Queue stages an event for delivery once EmitQueued is called. Safe to
// call multiple times per command; order is preserved.
func (e *Emitter) Queue(name string, payload []byte) {
	e.pending = append(e.pending, queued{name: name, payload: payload})
}

// EmitQueued dispatches every queued event, in queue order, to every
// listener, in registration order, then clears the queue. Call this only
// after the commit the events describe has actually succeeded; on a failed
// commit call Abort instead.
func (e *Emitter) EmitQueued(ctx context.Context) error {
	defer e.clear()
	for _, q := range e.pending {
		for _, l := range e.listeners {
			if err := l(ctx, q.name, q.payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// Abort discards every queued event without dispatching it, for a command
// whose commit failed.
func (e *Emitter) Abort() {
	e.clear()
}

func (e *Emitter) clear() {
	e.pending = nil
}
