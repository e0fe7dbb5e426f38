package readmodel_test

import (
	"context"
	"testing"

	"github.com/jules-labs/go-cqrskit/entity"
	"github.com/jules-labs/go-cqrskit/readmodel"
	"github.com/jules-labs/go-cqrskit/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEffectStagesWithCommit exercises readmodel.Insert as a
// repository.SideEffect riding alongside an aggregate's event commit.
func TestEffectStagesWithCommit(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository(nil)
	store := readmodel.NewMemoryStore()

	h := entity.NewHeader()
	require.NoError(t, h.SetID("co-1"))
	h.Digest("ItemCheckedOut", nil, 1)

	eff := readmodel.Insert(store, "checkouts", "co-1", checkoutView{ItemID: "book-1", Status: "active"})
	require.NoError(t, repo.Commit(ctx, []repository.Entry{{Header: h, Extra: []repository.SideEffect{eff}}}))

	row, ok, err := store.Get(ctx, "checkouts", "co-1")
	require.NoError(t, err)
	require.True(t, ok)
	var v checkoutView
	require.NoError(t, row.Decode(&v))
	assert.Equal(t, "active", v.Status)
}

// TestEffectAlreadyExistsAbortsWholeCommit checks commit atomicity: a
// failed side effect must leave no event durable.
func TestEffectAlreadyExistsAbortsWholeCommit(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository(nil)
	store := readmodel.NewMemoryStore()
	require.NoError(t, store.Insert(ctx, "checkouts", "co-1", checkoutView{Status: "active"}))

	h := entity.NewHeader()
	require.NoError(t, h.SetID("co-1"))
	h.Digest("ItemCheckedOut", nil, 1)

	eff := readmodel.Insert(store, "checkouts", "co-1", checkoutView{Status: "active"})
	err := repo.Commit(ctx, []repository.Entry{{Header: h, Extra: []repository.SideEffect{eff}}})
	require.Error(t, err)

	reloaded, err := repo.Get(ctx, "co-1")
	require.NoError(t, err)
	assert.Nil(t, reloaded, "event must not be durable when a side effect rejects the batch")
}
