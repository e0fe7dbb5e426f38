package outbox

import (
	"context"

	"github.com/google/uuid"
)

// Inserter is the subset of Backend a commit-time Effect needs. Both
// MemoryBackend and PostgresBackend implement it.
type Inserter interface {
	Insert(ctx context.Context, msg Message) error
}

// Effect stages an outbox Insert for a repository.Commit batch. Unlike
// readmodel's Insert, there is no AlreadyExists case to validate in
// Prepare — a fresh message id never collides — so Prepare only assigns
// the id and defers the actual write to apply.
type Effect struct {
	backend Inserter
	msg     Message
}

// Insert stages msg for delivery once the enclosing commit succeeds.
func Insert(backend Inserter, msg Message) *Effect {
	return &Effect{backend: backend, msg: msg}
}

func (e *Effect) Prepare(ctx context.Context) (func() error, error) {
	if e.msg.ID == "" {
		e.msg.ID = uuid.NewString()
	}
	msg := e.msg
	return func() error { return e.backend.Insert(ctx, msg) }, nil
}
