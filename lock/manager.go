// Package lock provides per-key mutual exclusion ahead of a Repository
// load/commit cycle, so two commands racing on the same entity id queue
// FIFO instead of retrying on VersionConflict (C7).
package lock

import "context"

// Handle represents a held lock on one key. Release is idempotent; calling
// it more than once, or never acquiring, is a caller bug but not a panic.
type Handle interface {
	Release()
}

// Manager hands out per-key locks. Acquire blocks until ctx is done or the
// key becomes free, honoring insertion order: under N concurrent Acquire
// calls on the same key, they are granted in request order.
type Manager interface {
	Acquire(ctx context.Context, key string) (Handle, error)
}

// InstrumentedManager wraps a Manager with tracing, grounded on the
// wrap-the-locker-not-the-lock shape distlock.InstrumentedLocker uses.
type InstrumentedManager struct {
	next Manager
}

// NewInstrumentedManager returns a Manager that spans every Acquire/Release.
func NewInstrumentedManager(next Manager) *InstrumentedManager {
	return &InstrumentedManager{next: next}
}

func (m *InstrumentedManager) Acquire(ctx context.Context, key string) (Handle, error) {
	ctx, span := tracer.Start(ctx, "lock.acquire", spanAttrs(key)...)
	defer span.End()

	h, err := m.next.Acquire(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &instrumentedHandle{next: h, key: key}, nil
}

type instrumentedHandle struct {
	next Handle
	key  string
}

func (h *instrumentedHandle) Release() {
	_, span := tracer.Start(context.Background(), "lock.release", spanAttrs(h.key)...)
	defer span.End()
	h.next.Release()
}
