// Package repository implements the event-store contract (C6): get/find,
// atomic multi-entity commit with optimistic concurrency, and snapshot
// delegation.
package repository

import (
	"context"

	"github.com/jules-labs/go-cqrskit/entity"
	"github.com/jules-labs/go-cqrskit/snapshot"
)

// Entry is one element of a commit batch: the header whose pending events
// (if any) are appended, plus any side-effect writes staged for this commit
// (read-model upserts, outbox inserts — see package commit). The core only
// needs Version/Pending/ID from the header; Extra carries backend-
// specific side effects opaque to the repository itself.
type Entry struct {
	Header *entity.Header
	Extra  []SideEffect
}

// SideEffect is implemented by anything a commit batch can carry besides
// aggregate events (read-model writes, outbox inserts). Prepare validates
// the effect against current state (e.g. an Insert's AlreadyExists check)
// and returns the mutation to run once the whole batch is known to be
// valid; apply is never invoked if any entry in the batch fails its version
// check or if any other effect's Prepare fails, keeping the batch atomic
// even for backends (like MemoryRepository) with no native transaction.
type SideEffect interface {
	Prepare(ctx context.Context) (apply func() error, err error)
}

// Repository is the collaborator-facing event-store contract.
type Repository interface {
	// Get loads the header (committed events only) for id, or (nil, nil) if
	// the id has never been written. No lock is acquired at this layer.
	Get(ctx context.Context, id string) (*entity.Header, error)

	// Find returns every header matching predicate. Predicate runs against
	// the full committed event log visible to the backend.
	Find(ctx context.Context, predicate func(*entity.Header) bool) ([]*entity.Header, error)

	// Commit atomically appends every entry's pending events (subject to an
	// optimistic concurrency check against each entry's version-at-load)
	// plus any staged SideEffects, across the whole batch.
	Commit(ctx context.Context, batch []Entry) error

	// SnapshotPut and SnapshotGet delegate to the backend's snapshot store.
	SnapshotPut(ctx context.Context, id string, s snapshot.Snapshot) error
	SnapshotGet(ctx context.Context, id string) (*snapshot.Snapshot, error)
}
