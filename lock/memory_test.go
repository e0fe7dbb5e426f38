package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jules-labs/go-cqrskit/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireExcludesConcurrentHolders(t *testing.T) {
	m := lock.NewMemoryManager()
	ctx := context.Background()

	h1, err := m.Acquire(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		h2, err := m.Acquire(ctx, "k")
		require.NoError(t, err)
		close(acquired)
		h2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire succeeded while first holder had not released")
	case <-time.After(20 * time.Millisecond):
	}

	h1.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never unblocked after release")
	}
}

// TestQueueFairness checks the queue-fairness property: N concurrent
// Acquire calls on the same key are granted in request order.
func TestQueueFairness(t *testing.T) {
	m := lock.NewMemoryManager()
	ctx := context.Background()

	first, err := m.Acquire(ctx, "k")
	require.NoError(t, err)

	const waiters = 5
	order := make([]int, 0, waiters)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.Acquire(ctx, "k")
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			h.Release()
		}(i)
		time.Sleep(5 * time.Millisecond) // let goroutine i enqueue before i+1 starts
	}

	first.Release()
	wg.Wait()

	for i, v := range order {
		assert.Equal(t, i, v, "waiters must be granted in request order")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	m := lock.NewMemoryManager()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "k")
	require.NoError(t, err)

	cancelCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(cancelCtx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
