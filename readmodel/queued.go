package readmodel

import (
	"context"
	"sync"

	"github.com/jules-labs/go-cqrskit/lock"
)

// QueuedStore wraps a Store so a caller's Get acquires the per-(collection,
// id) lock and holds it until a matching Upsert, Update, Delete, or Abort
// call on the same key releases it — not a lock scoped to a single method
// call, but to the whole get-then-write critical section, the same
// acquire-at-get/release-at-commit shape as lock.QueuedRepository. Disjoint
// keys never contend. Insert is not part of the acquire/release protocol:
// it targets a row that by definition doesn't exist yet, so there is
// nothing to have locked via a prior Get.
type QueuedStore struct {
	next    Store
	manager lock.Manager

	mu      sync.Mutex
	handles map[string]lock.Handle
}

// NewQueuedStore wraps next, serializing get-to-write critical sections per
// (collection, id) key through manager.
func NewQueuedStore(next Store, manager lock.Manager) *QueuedStore {
	return &QueuedStore{next: next, manager: manager, handles: make(map[string]lock.Handle)}
}

func rowKey(collection, id string) string { return collection + "/" + id }

// Get acquires the lock for (collection, id) and holds it until Upsert,
// Update, Delete, or Abort is called for the same key.
func (s *QueuedStore) Get(ctx context.Context, collection, id string) (Row, bool, error) {
	handle, err := s.manager.Acquire(ctx, rowKey(collection, id))
	if err != nil {
		return Row{}, false, err
	}
	s.track(rowKey(collection, id), handle)
	return s.next.Get(ctx, collection, id)
}

// GetNoLock reads (collection, id) without acquiring its lock.
func (s *QueuedStore) GetNoLock(ctx context.Context, collection, id string) (Row, bool, error) {
	return s.next.Get(ctx, collection, id)
}

func (s *QueuedStore) track(key string, h lock.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[key] = h
}

// release releases and forgets the lock held for key, if Get acquired one.
func (s *QueuedStore) release(key string) {
	s.mu.Lock()
	h, ok := s.handles[key]
	if ok {
		delete(s.handles, key)
	}
	s.mu.Unlock()
	if ok {
		h.Release()
	}
}

func (s *QueuedStore) Insert(ctx context.Context, collection, id string, value any) error {
	return s.next.Insert(ctx, collection, id, value)
}

func (s *QueuedStore) Upsert(ctx context.Context, collection, id string, value any) error {
	key := rowKey(collection, id)
	err := s.next.Upsert(ctx, collection, id, value)
	s.release(key)
	return err
}

func (s *QueuedStore) Update(ctx context.Context, collection, id string, value any, expectedVersion uint64) error {
	key := rowKey(collection, id)
	err := s.next.Update(ctx, collection, id, value, expectedVersion)
	s.release(key)
	return err
}

func (s *QueuedStore) Delete(ctx context.Context, collection, id string) error {
	key := rowKey(collection, id)
	err := s.next.Delete(ctx, collection, id)
	s.release(key)
	return err
}

// Abort releases the lock held for (collection, id) without writing.
func (s *QueuedStore) Abort(collection, id string) {
	s.release(rowKey(collection, id))
}

func (s *QueuedStore) Find(ctx context.Context, collection string, predicate func(Row) bool) ([]Row, error) {
	return s.next.Find(ctx, collection, predicate)
}

func (s *QueuedStore) FindOne(ctx context.Context, collection string, predicate func(Row) bool) (Row, bool, error) {
	return s.next.FindOne(ctx, collection, predicate)
}
