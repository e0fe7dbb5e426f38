package lock

import (
	"context"
	"sync"
)

// MemoryManager is the in-process reference Manager: one FIFO wait queue per
// key, each guarded by its own mutex so unrelated keys never contend.
type MemoryManager struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

// NewMemoryManager returns an empty Manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{keys: make(map[string]*keyLock)}
}

type keyLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (m *MemoryManager) keyLockFor(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl, ok := m.keys[key]
	if !ok {
		kl = &keyLock{}
		m.keys[key] = kl
	}
	return kl
}

func (m *MemoryManager) Acquire(ctx context.Context, key string) (Handle, error) {
	kl := m.keyLockFor(key)

	kl.mu.Lock()
	if !kl.held {
		kl.held = true
		kl.mu.Unlock()
		return &memoryHandle{manager: m, key: key}, nil
	}
	wake := make(chan struct{})
	kl.waiters = append(kl.waiters, wake)
	kl.mu.Unlock()

	select {
	case <-wake:
		return &memoryHandle{manager: m, key: key}, nil
	case <-ctx.Done():
		kl.mu.Lock()
		for i, w := range kl.waiters {
			if w == wake {
				kl.waiters = append(kl.waiters[:i], kl.waiters[i+1:]...)
				break
			}
		}
		kl.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (m *MemoryManager) release(key string) {
	kl := m.keyLockFor(key)
	kl.mu.Lock()
	defer kl.mu.Unlock()

	if len(kl.waiters) == 0 {
		kl.held = false
		return
	}
	next := kl.waiters[0]
	kl.waiters = kl.waiters[1:]
	close(next) // held stays true: ownership transfers directly to next waiter
}

type memoryHandle struct {
	manager  *MemoryManager
	key      string
	released sync.Once
}

func (h *memoryHandle) Release() {
	h.released.Do(func() { h.manager.release(h.key) })
}
