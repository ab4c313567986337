package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/storage"
)

func testClosedPosition(mint, trader string, closedAtMs int64) *domain.ClosedPosition {
	return &domain.ClosedPosition{
		Mint:         mint,
		CopiedFrom:   trader,
		Venue:        "pump",
		BuyCapital:   0.5,
		ReturnsSol:   0.1,
		PnLPerc:      20.0,
		PeakPnLPerc:  45.0,
		LeastPnLPerc: -5.0,
		Sells:        2,
		SellReasons:  "TP 0, PD 1",
		DurationMs:   90000,
		BuyLatencyMs: 150,
		AvgSellLatMs: 200,
		FinalPrice:   0.0000012,
		FinalMktCap:  120.5,
		ClosedAtMs:   closedAtMs,
	}
}

func TestPositionJournalStore_InsertAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionJournalStore(pool)
	ctx := context.Background()

	p := testClosedPosition("mint1", "trader1", 1704067200000)
	require.NoError(t, store.Insert(ctx, p))

	result, err := store.GetByTrader(ctx, "trader1")
	require.NoError(t, err)
	require.Len(t, result, 1)

	got := result[0]
	assert.Equal(t, "mint1", got.Mint)
	assert.Equal(t, "pump", got.Venue)
	assert.Equal(t, 20.0, got.PnLPerc)
	assert.Equal(t, 45.0, got.PeakPnLPerc)
	assert.Equal(t, "TP 0, PD 1", got.SellReasons)
	assert.Equal(t, int64(1704067200000), got.ClosedAtMs)
}

func TestPositionJournalStore_DuplicateKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionJournalStore(pool)
	ctx := context.Background()

	p := testClosedPosition("mint1", "trader1", 1000)
	require.NoError(t, store.Insert(ctx, p))

	err := store.Insert(ctx, p)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// same mint closed again later is a distinct record
	later := testClosedPosition("mint1", "trader1", 2000)
	assert.NoError(t, store.Insert(ctx, later))
}

func TestPositionJournalStore_GetAllOrdered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionJournalStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testClosedPosition("m3", "t1", 3000)))
	require.NoError(t, store.Insert(ctx, testClosedPosition("m1", "t1", 1000)))
	require.NoError(t, store.Insert(ctx, testClosedPosition("m2", "t2", 2000)))

	result, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, result, 3)

	assert.Equal(t, "m1", result[0].Mint)
	assert.Equal(t, "m2", result[1].Mint)
	assert.Equal(t, "m3", result[2].Mint)
}

func TestPositionJournalStore_GetByTraderFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionJournalStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testClosedPosition("m1", "t1", 1000)))
	require.NoError(t, store.Insert(ctx, testClosedPosition("m2", "t2", 2000)))

	result, err := store.GetByTrader(ctx, "t2")
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "m2", result[0].Mint)

	empty, err := store.GetByTrader(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPositionJournalStore_InvalidInput(t *testing.T) {
	store := NewPositionJournalStore(nil)

	err := store.Insert(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.Insert(context.Background(), &domain.ClosedPosition{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
