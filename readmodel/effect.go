package readmodel

import (
	"context"

	"github.com/jules-labs/go-cqrskit/cqerrs"
)

// op tags which Store method an Effect's apply closure ultimately calls.
type op int

const (
	opInsert op = iota
	opUpsert
	opUpdate
	opDelete
)

// Effect stages one read-model write for a repository.Commit batch,
// implementing repository.SideEffect's validate-then-apply two-phase
// contract: Insert's AlreadyExists check runs in Prepare, before any event
// in the batch is durable, so a rejected insert aborts the whole commit.
type Effect struct {
	store           Store
	op              op
	collection      string
	id              string
	value           any
	expectedVersion uint64
}

// Insert stages an Insert call, validated in Prepare.
func Insert(store Store, collection, id string, value any) *Effect {
	return &Effect{store: store, op: opInsert, collection: collection, id: id, value: value}
}

// Upsert stages an Upsert call.
func Upsert(store Store, collection, id string, value any) *Effect {
	return &Effect{store: store, op: opUpsert, collection: collection, id: id, value: value}
}

// Update stages a compare-and-swap Update call against expectedVersion.
func Update(store Store, collection, id string, value any, expectedVersion uint64) *Effect {
	return &Effect{store: store, op: opUpdate, collection: collection, id: id, value: value, expectedVersion: expectedVersion}
}

// DeleteEffect stages a Delete call.
func DeleteEffect(store Store, collection, id string) *Effect {
	return &Effect{store: store, op: opDelete, collection: collection, id: id}
}

func (e *Effect) Prepare(ctx context.Context) (func() error, error) {
	if e.op == opInsert {
		_, exists, err := e.store.Get(ctx, e.collection, e.id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, cqerrs.AlreadyExists(e.id)
		}
	}
	return func() error { return e.apply(ctx) }, nil
}

func (e *Effect) apply(ctx context.Context) error {
	switch e.op {
	case opInsert:
		return e.store.Insert(ctx, e.collection, e.id, e.value)
	case opUpsert:
		return e.store.Upsert(ctx, e.collection, e.id, e.value)
	case opUpdate:
		return e.store.Update(ctx, e.collection, e.id, e.value, e.expectedVersion)
	case opDelete:
		return e.store.Delete(ctx, e.collection, e.id)
	default:
		return nil
	}
}
