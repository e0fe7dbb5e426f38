// Package commit implements the Builder (C9): one atomic batch combining
// aggregate event commits with read-model and outbox side effects, plus a
// frequency-based snapshot policy. It replaces the hand-rolled
// "compensation closure" style of a multi-step saga with a single
// all-or-nothing write.
package commit

import (
	"context"
	"fmt"

	"github.com/jules-labs/go-cqrskit/aggregate"
	"github.com/jules-labs/go-cqrskit/entity"
	"github.com/jules-labs/go-cqrskit/repository"
	"github.com/jules-labs/go-cqrskit/snapshot"
)

// Snapshottable is implemented by aggregates that opt into automatic
// snapshotting; SnapshotPayload serializes current state for storage.
type Snapshottable interface {
	aggregate.Aggregate
	SnapshotPayload() ([]byte, error)
}

type snapshotCandidate struct {
	agg       Snapshottable
	frequency uint64
}

// Builder accumulates the writes of a single atomic commit: zero or more
// aggregates (via Commit/CommitSnapshotted) plus zero or more side effects
// (via ReadModel/Outbox), executed together by Execute.
type Builder struct {
	repo       repository.Repository
	headers    []*entity.Header
	effects    []repository.SideEffect
	candidates []snapshotCandidate
}

// NewBuilder returns a Builder that will commit through repo.
func NewBuilder(repo repository.Repository) *Builder {
	return &Builder{repo: repo}
}

// Commit stages a's pending events for the batch.
func (b *Builder) Commit(a aggregate.Aggregate) *Builder {
	b.headers = append(b.headers, a.Header())
	return b
}

// CommitSnapshotted stages a's pending events and, after a successful
// commit, writes a new snapshot once a.Header().Version() has advanced by
// at least frequency since the last stored snapshot (the
// "new_version >= last_snapshot_version + frequency" rule).
func (b *Builder) CommitSnapshotted(a Snapshottable, frequency uint64) *Builder {
	b.Commit(a)
	b.candidates = append(b.candidates, snapshotCandidate{agg: a, frequency: frequency})
	return b
}

// ReadModel stages a read-model side effect (see package readmodel) to run
// in the same atomic batch as every Commit call on this Builder.
func (b *Builder) ReadModel(eff repository.SideEffect) *Builder {
	b.effects = append(b.effects, eff)
	return b
}

// Outbox stages an outbox side effect (see package outbox).
func (b *Builder) Outbox(eff repository.SideEffect) *Builder {
	b.effects = append(b.effects, eff)
	return b
}

// Execute runs the accumulated writes as a single repository.Commit call,
// then applies the snapshot policy for every CommitSnapshotted candidate.
// An empty Builder (no Commit/ReadModel/Outbox calls) is a no-op.
func (b *Builder) Execute(ctx context.Context) error {
	if len(b.headers) == 0 && len(b.effects) == 0 {
		return nil
	}

	batch := make([]repository.Entry, 0, len(b.headers)+1)
	for _, h := range b.headers {
		batch = append(batch, repository.Entry{Header: h})
	}
	if len(b.effects) > 0 {
		if len(batch) == 0 {
			// No aggregate in this batch: attach the effects to a fresh,
			// unversioned header so repository.Commit's per-entry version
			// check is a trivial 0==0 pass and no event is appended.
			batch = append(batch, repository.Entry{Header: entity.NewHeader()})
		}
		batch[0].Extra = append(batch[0].Extra, b.effects...)
	}

	if err := b.repo.Commit(ctx, batch); err != nil {
		return err
	}

	for _, c := range b.candidates {
		if err := b.maybeSnapshot(ctx, c); err != nil {
			return fmt.Errorf("commit: snapshot policy: %w", err)
		}
	}
	return nil
}

func (b *Builder) maybeSnapshot(ctx context.Context, c snapshotCandidate) error {
	h := c.agg.Header()
	existing, err := b.repo.SnapshotGet(ctx, h.ID())
	if err != nil {
		return err
	}
	var lastVersion uint64
	if existing != nil {
		lastVersion = existing.Version
	}
	if h.Version() < lastVersion+c.frequency {
		return nil
	}
	payload, err := c.agg.SnapshotPayload()
	if err != nil {
		return err
	}
	return b.repo.SnapshotPut(ctx, h.ID(), snapshot.Snapshot{
		ID:      h.ID(),
		Version: h.Version(),
		Payload: payload,
	})
}
