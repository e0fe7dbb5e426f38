package readmodel

import (
	"context"
	"sync"

	"github.com/jules-labs/go-cqrskit/cqerrs"
)

// row is one stored (data, version) pair.
type row struct {
	data    []byte
	version uint64
}

// MemoryStore is the in-process reference Store: a map of maps guarded by a
// single mutex, correct over throughput-optimized, like package
// repository's in-memory backend.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]row
}

// NewMemoryStore returns an empty read-model store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]row)}
}

func (s *MemoryStore) collection(name string) map[string]row {
	c, ok := s.data[name]
	if !ok {
		c = make(map[string]row)
		s.data[name] = c
	}
	return c
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data[collection][id]
	if !ok {
		return Row{}, false, nil
	}
	return Row{ID: id, Data: r.data, Version: r.version}, true, nil
}

func (s *MemoryStore) Insert(_ context.Context, collection, id string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	if _, exists := c[id]; exists {
		return cqerrs.AlreadyExists(id)
	}
	data, err := encodeValue(value)
	if err != nil {
		return cqerrs.EncodeFailed(id, err)
	}
	c[id] = row{data: data, version: 1}
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, collection, id string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encodeValue(value)
	if err != nil {
		return cqerrs.EncodeFailed(id, err)
	}
	c := s.collection(collection)
	next := uint64(1)
	if cur, exists := c[id]; exists {
		next = cur.version + 1
	}
	c[id] = row{data: data, version: next}
	return nil
}

// Update performs a compare-and-swap against the row's current version. A
// missing row is treated as version 0, so Update(..., 0) on a missing row
// creates it at version 1 just like a CAS against an empty slot.
func (s *MemoryStore) Update(_ context.Context, collection, id string, value any, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	cur, exists := c[id]
	var actual uint64
	if exists {
		actual = cur.version
	}
	if actual != expectedVersion {
		return cqerrs.VersionConflict(id, expectedVersion, actual)
	}
	data, err := encodeValue(value)
	if err != nil {
		return cqerrs.EncodeFailed(id, err)
	}
	c[id] = row{data: data, version: actual + 1}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collection(collection), id)
	return nil
}

func (s *MemoryStore) Find(_ context.Context, collection string, predicate func(Row) bool) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Row
	for id, r := range s.data[collection] {
		candidate := Row{ID: id, Data: r.data, Version: r.version}
		if predicate(candidate) {
			out = append(out, candidate)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindOne(_ context.Context, collection string, predicate func(Row) bool) (Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.data[collection] {
		candidate := Row{ID: id, Data: r.data, Version: r.version}
		if predicate(candidate) {
			return candidate, true, nil
		}
	}
	return Row{}, false, nil
}
