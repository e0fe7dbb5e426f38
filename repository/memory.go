package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/jules-labs/go-cqrskit/cqerrs"
	"github.com/jules-labs/go-cqrskit/entity"
	"github.com/jules-labs/go-cqrskit/snapshot"
)

// MemoryRepository is the in-process reference Repository. All commits
// serialize behind a single mutex: correct, not throughput-optimized, like
// the rest of this module's in-memory default backends.
type MemoryRepository struct {
	mu       sync.Mutex
	logs     map[string][]entity.Record
	snapshot snapshot.Store
}

// NewMemoryRepository returns an empty in-memory event store.
func NewMemoryRepository(store snapshot.Store) *MemoryRepository {
	if store == nil {
		store = snapshot.NewMemoryStore()
	}
	return &MemoryRepository{
		logs:     make(map[string][]entity.Record),
		snapshot: store,
	}
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*entity.Header, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log, ok := r.logs[id]
	if !ok {
		return nil, nil
	}
	h := entity.NewHeader()
	if err := h.SetID(id); err != nil {
		return nil, err
	}
	h.LoadCommitted(0, log)
	return h, nil
}

func (r *MemoryRepository) Find(_ context.Context, predicate func(*entity.Header) bool) ([]*entity.Header, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.Header
	for id, log := range r.logs {
		h := entity.NewHeader()
		if err := h.SetID(id); err != nil {
			return nil, err
		}
		h.LoadCommitted(0, log)
		if predicate(h) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Commit(ctx context.Context, batch []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	type plan struct {
		id     string
		newLog []entity.Record
	}
	plans := make([]plan, 0, len(batch))

	for _, e := range batch {
		h := e.Header
		pending := h.Pending()
		if len(pending) == 0 && len(e.Extra) == 0 {
			continue
		}
		id := h.ID()
		expected := h.Version()
		current := r.logs[id]
		if uint64(len(current)) != expected {
			return cqerrs.VersionConflict(id, expected, uint64(len(current)))
		}
		if len(pending) > 0 {
			plans = append(plans, plan{id: id, newLog: append(append([]entity.Record(nil), current...), pending...)})
		}
	}

	// Prepare every staged side effect before mutating anything: a failed
	// Prepare (e.g. read-model AlreadyExists) aborts the whole batch.
	applies := make([]func() error, 0)
	for _, e := range batch {
		for _, eff := range e.Extra {
			apply, err := eff.Prepare(ctx)
			if err != nil {
				return err
			}
			applies = append(applies, apply)
		}
	}

	for _, p := range plans {
		r.logs[p.id] = p.newLog
	}
	for _, apply := range applies {
		if err := apply(); err != nil {
			return fmt.Errorf("repository: side effect apply after validation: %w", err)
		}
	}
	for _, e := range batch {
		if len(e.Header.Pending()) > 0 {
			e.Header.ApplyCommit()
		}
	}
	return nil
}

func (r *MemoryRepository) SnapshotPut(ctx context.Context, id string, s snapshot.Snapshot) error {
	return r.snapshot.Put(ctx, id, s)
}

func (r *MemoryRepository) SnapshotGet(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	return r.snapshot.Get(ctx, id)
}
