package lock

import (
	"context"
	"sync"

	"github.com/jules-labs/go-cqrskit/entity"
	"github.com/jules-labs/go-cqrskit/repository"
	"github.com/jules-labs/go-cqrskit/snapshot"
)

// QueuedRepository wraps a repository.Repository so Get acquires the key's
// lock before loading, Commit releases it (success or failure), and Peek
// loads without acquiring, for read paths that tolerate a stale view.
type QueuedRepository struct {
	next    repository.Repository
	manager Manager

	mu      sync.Mutex
	handles map[*entity.Header]Handle
}

// NewQueuedRepository returns a Repository that serializes load-then-commit
// cycles per entity id through manager.
func NewQueuedRepository(next repository.Repository, manager Manager) *QueuedRepository {
	return &QueuedRepository{
		next:    next,
		manager: manager,
		handles: make(map[*entity.Header]Handle),
	}
}

// Get acquires key's lock, loads the header, and returns it; the caller must
// eventually call Commit or Abort on the same QueuedRepository to release
// the lock, even if Get's returned header is never mutated.
func (q *QueuedRepository) Get(ctx context.Context, id string) (*entity.Header, error) {
	handle, err := q.manager.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	h, err := q.next.Get(ctx, id)
	if err != nil {
		handle.Release()
		return nil, err
	}
	if h == nil {
		h = entity.NewHeader()
		if err := h.SetID(id); err != nil {
			handle.Release()
			return nil, err
		}
	}
	q.track(h, handle)
	return h, nil
}

// Peek loads id's header without acquiring its lock, for read-only views
// that accept a result which may be stale by the time it's used.
func (q *QueuedRepository) Peek(ctx context.Context, id string) (*entity.Header, error) {
	return q.next.Get(ctx, id)
}

func (q *QueuedRepository) Find(ctx context.Context, predicate func(*entity.Header) bool) ([]*entity.Header, error) {
	return q.next.Find(ctx, predicate)
}

// Commit delegates to the wrapped repository, then releases the lock held by
// every entry in batch that was obtained via Get on this QueuedRepository,
// regardless of whether Commit itself succeeds.
func (q *QueuedRepository) Commit(ctx context.Context, batch []repository.Entry) error {
	defer func() {
		for _, e := range batch {
			q.releaseIfTracked(e.Header)
		}
	}()
	return q.next.Commit(ctx, batch)
}

// Abort releases the locks held for every header in headers without
// committing, for command paths that decide not to write anything.
func (q *QueuedRepository) Abort(headers ...*entity.Header) {
	for _, h := range headers {
		q.releaseIfTracked(h)
	}
}

func (q *QueuedRepository) SnapshotPut(ctx context.Context, id string, s snapshot.Snapshot) error {
	return q.next.SnapshotPut(ctx, id, s)
}

func (q *QueuedRepository) SnapshotGet(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	return q.next.SnapshotGet(ctx, id)
}

// track associates a live lock Handle with the *entity.Header instance Get
// returned, so Commit/Abort can find it by pointer identity without
// widening the public entity.Header type with a lock-specific field.
func (q *QueuedRepository) track(h *entity.Header, handle Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handles[h] = handle
}

func (q *QueuedRepository) releaseIfTracked(h *entity.Header) {
	q.mu.Lock()
	handle, ok := q.handles[h]
	if ok {
		delete(q.handles, h)
	}
	q.mu.Unlock()
	if ok {
		handle.Release()
	}
}
