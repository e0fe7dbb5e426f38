package readmodel_test

import (
	"context"
	"testing"

	"github.com/jules-labs/go-cqrskit/cqerrs"
	"github.com/jules-labs/go-cqrskit/readmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkoutView struct {
	ItemID string `json:"item_id"`
	Status string `json:"status"`
}

func TestInsertGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := readmodel.NewMemoryStore()

	require.NoError(t, store.Insert(ctx, "checkouts", "c1", checkoutView{ItemID: "book-1", Status: "active"}))

	row, ok, err := store.Get(ctx, "checkouts", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), row.Version)

	var v checkoutView
	require.NoError(t, row.Decode(&v))
	assert.Equal(t, "book-1", v.ItemID)
}

func TestInsertRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := readmodel.NewMemoryStore()

	require.NoError(t, store.Insert(ctx, "checkouts", "c1", checkoutView{ItemID: "book-1"}))
	err := store.Insert(ctx, "checkouts", "c1", checkoutView{ItemID: "book-2"})
	require.Error(t, err)
	assert.True(t, cqerrs.Is(err, cqerrs.KindAlreadyExists))
}

func TestUpdateOnMissingRowWithNonZeroExpectedFailsVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := readmodel.NewMemoryStore()

	err := store.Update(ctx, "checkouts", "missing", checkoutView{}, 3)
	require.Error(t, err)
	assert.True(t, cqerrs.Is(err, cqerrs.KindVersionConflict))

	_, ok, err := store.Get(ctx, "checkouts", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := readmodel.NewMemoryStore()

	require.NoError(t, store.Upsert(ctx, "checkouts", "c1", checkoutView{Status: "active"}))
	row, ok, err := store.Get(ctx, "checkouts", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), row.Version)

	require.NoError(t, store.Upsert(ctx, "checkouts", "c1", checkoutView{Status: "returned"}))
	row, ok, err = store.Get(ctx, "checkouts", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), row.Version)
}

func TestUpdateWithCorrectVersionSucceedsAndConflictsWhenStale(t *testing.T) {
	ctx := context.Background()
	store := readmodel.NewMemoryStore()

	require.NoError(t, store.Insert(ctx, "checkouts", "c1", checkoutView{Status: "active"}))

	require.NoError(t, store.Update(ctx, "checkouts", "c1", checkoutView{Status: "returned"}, 1))
	row, ok, err := store.Get(ctx, "checkouts", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), row.Version)

	err = store.Update(ctx, "checkouts", "c1", checkoutView{Status: "lost"}, 1)
	require.Error(t, err)
	assert.True(t, cqerrs.Is(err, cqerrs.KindVersionConflict))
}

func TestFindMatchesPredicate(t *testing.T) {
	ctx := context.Background()
	store := readmodel.NewMemoryStore()

	require.NoError(t, store.Insert(ctx, "checkouts", "c1", checkoutView{Status: "active"}))
	require.NoError(t, store.Insert(ctx, "checkouts", "c2", checkoutView{Status: "returned"}))

	matches, err := store.Find(ctx, "checkouts", func(r readmodel.Row) bool {
		var v checkoutView
		_ = r.Decode(&v)
		return v.Status == "active"
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c1", matches[0].ID)
}

func TestDeleteThenGetReportsMissing(t *testing.T) {
	ctx := context.Background()
	store := readmodel.NewMemoryStore()

	require.NoError(t, store.Insert(ctx, "checkouts", "c1", checkoutView{}))
	require.NoError(t, store.Delete(ctx, "checkouts", "c1"))

	_, ok, err := store.Get(ctx, "checkouts", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}
