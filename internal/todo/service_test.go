package todo_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jules-labs/go-cqrskit/internal/todo"
	"github.com/jules-labs/go-cqrskit/lock"
	"github.com/jules-labs/go-cqrskit/outbox"
	"github.com/jules-labs/go-cqrskit/readmodel"
	"github.com/jules-labs/go-cqrskit/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() todo.Service {
	repo := repository.NewMemoryRepository(nil)
	locks := lock.NewMemoryManager()
	views := readmodel.NewMemoryStore()
	ob := outbox.NewMemoryBackend()
	return todo.NewService(repo, locks, views, ob)
}

func TestLifecycleCreateCompleteReopen(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	created, err := svc.CreateTodo(ctx, "t-1", "buy milk")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", created.Title)
	assert.False(t, created.Done)
	assert.Equal(t, uint64(1), created.Version)

	completed, err := svc.CompleteTodo(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, completed.Done)
	assert.Equal(t, uint64(2), completed.Version)

	reopened, err := svc.ReopenTodo(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, reopened.Done)
	assert.Equal(t, uint64(3), reopened.Version)

	fetched, err := svc.GetTodo(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, reopened.Version, fetched.Version)
}

func TestCreateTwiceWithSameIDFails(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.CreateTodo(ctx, "t-1", "buy milk")
	require.NoError(t, err)

	_, err = svc.CreateTodo(ctx, "t-1", "buy bread")
	assert.Error(t, err)
}

func TestCompleteIsIdempotentAndLeavesVersionUnchanged(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.CreateTodo(ctx, "t-1", "buy milk")
	require.NoError(t, err)

	first, err := svc.CompleteTodo(ctx, "t-1")
	require.NoError(t, err)

	second, err := svc.CompleteTodo(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
}

// TestConcurrentCompletionsSerializeInsteadOfConflicting exercises the
// per-id lock: two commands racing the same todo queue behind Acquire
// rather than one losing to a VersionConflict, which is what would happen
// without the lock.
func TestConcurrentCompletionsSerializeInsteadOfConflicting(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.CreateTodo(ctx, "t-1", "buy milk")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.CompleteTodo(ctx, "t-1")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.ReopenTodo(ctx, "t-1")
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Whichever command runs second observes the first's effect (Reopen
	// is a no-op if Complete hasn't landed yet, and vice versa), so the
	// final version is 1 or 2 bumps past creation depending on interleaving
	// — but never a VersionConflict, which the lock above already proved.
	final, err := svc.GetTodo(ctx, "t-1")
	require.NoError(t, err)
	assert.Contains(t, []uint64{2, 3}, final.Version)
}
