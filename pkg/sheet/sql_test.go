package sheet_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/circuitbreaker"
	"restaurant_ops/pkg/sheet"
	"restaurant_ops/pkg/sheet/sheettest"
)

func TestSQLStoreAppendAndGet(t *testing.T) {
	ctx := context.Background()
	store := sheet.NewSQLStore(sheettest.SetupTestDB(t))

	require.NoError(t, store.Append(ctx, "Recipes!A:B", [][]string{{"id", "name"}}))
	require.NoError(t, store.Append(ctx, "Recipes!A:B", [][]string{{"r1", "Tagine"}, {"r2", "Couscous"}}))

	rows, err := store.Get(ctx, "Recipes!A:B")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "name"}, {"r1", "Tagine"}, {"r2", "Couscous"}}, rows)

	rows, err = store.Get(ctx, "Recipes!B2:B")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Tagine"}, {"Couscous"}}, rows)

	rows, err = store.Get(ctx, "Missing!A:B")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSQLStoreUpdateTrimsTrailingCells(t *testing.T) {
	ctx := context.Background()
	store := sheettest.NewStore(t)

	require.NoError(t, store.Append(ctx, sheet.Reservations.All(), [][]string{{"r1", "05/01/2026", "19:00", "Ana", "2"}}))
	require.NoError(t, store.Update(ctx, sheet.Cell("Reservations", "I", 2), [][]string{{"confirmed"}}))

	rows, err := store.Get(ctx, sheet.Reservations.Row(2))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0], 9)
	assert.Equal(t, "confirmed", rows[0][8])
	assert.Equal(t, "", rows[0][5])

	require.NoError(t, store.Update(ctx, sheet.Cell("Reservations", "I", 2), [][]string{{""}}))
	rows, err = store.Get(ctx, sheet.Reservations.Row(2))
	require.NoError(t, err)
	assert.Len(t, rows[0], 5)
}

func TestSQLStoreUpdateRejectsOverflow(t *testing.T) {
	store := sheettest.NewStore(t)
	err := store.Update(context.Background(), "Recipes!A2:B2", [][]string{{"r1", "name", "extra"}})
	assert.Error(t, err)
}

func TestSQLStoreUpdateFillsGaps(t *testing.T) {
	ctx := context.Background()
	store := sheet.NewSQLStore(sheettest.SetupTestDB(t))

	require.NoError(t, store.Update(ctx, "Recipes!A3:B3", [][]string{{"r3", "Late"}}))
	rows, err := store.Get(ctx, "Recipes!A:B")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{}, {}, {"r3", "Late"}}, rows)
}

func TestSQLStoreDeleteRowsShiftsUp(t *testing.T) {
	ctx := context.Background()
	store := sheettest.NewStore(t)

	require.NoError(t, store.Append(ctx, sheet.Recipes.All(), [][]string{{"a", "A"}, {"b", "B"}, {"c", "C"}}))
	require.NoError(t, store.DeleteRows(ctx, "Recipes", 2, 3))

	rows, err := store.Get(ctx, sheet.Recipes.All())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "name"}, {"a", "A"}, {"c", "C"}}, rows)

	require.NoError(t, store.Append(ctx, sheet.Recipes.All(), [][]string{{"d", "D"}}))
	rows, err = store.Get(ctx, sheet.Recipes.All())
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "D"}, rows[3])

	assert.Error(t, store.DeleteRows(ctx, "Recipes", 3, 3))
}

func TestSQLStoreBatchUpdate(t *testing.T) {
	ctx := context.Background()
	store := sheettest.NewStore(t)
	require.NoError(t, store.Append(ctx, sheet.Reservations.All(), [][]string{{"r1", "05/01/2026"}}))

	err := store.BatchUpdate(ctx, []sheet.ValueRange{
		{Range: sheet.Cell("Reservations", "I", 2), Values: [][]string{{"cancelled"}}},
		{Range: sheet.Cell("Reservations", "M", 2), Values: [][]string{{"queuedCancellation"}}},
	})
	require.NoError(t, err)

	rows, err := store.Get(ctx, sheet.Span("Reservations", "I", "M", 2))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"cancelled", "", "", "", "queuedCancellation"}}, rows)
}

func TestSQLStoreBatchUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := sheettest.NewStore(t)
	require.NoError(t, store.Append(ctx, sheet.Recipes.All(), [][]string{{"r1", "Old"}}))

	err := store.BatchUpdate(ctx, []sheet.ValueRange{
		{Range: "Recipes!B2", Values: [][]string{{"New"}}},
		{Range: "Recipes!B3", Values: [][]string{{"too", "wide"}}},
	})
	require.Error(t, err)

	rows, err := store.Get(ctx, "Recipes!B2")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Old"}}, rows)
}

func TestEnsureHeadersIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := sheettest.NewStore(t)
	require.NoError(t, sheet.EnsureHeaders(ctx, store, sheet.Layouts()...))

	rows, err := store.Get(ctx, sheet.Inventory.All())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sheet.Inventory.Header, rows[0])
}

func TestGuardedOpensOnUpstreamFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("backend down")
	failing := &sheettest.Failing{Gateway: sheettest.NewStore(t), Err: boom, FailOn: map[string]bool{"get": true}}
	guarded := sheet.NewGuarded(failing, circuitbreaker.NewCircuitBreakerWithWindow(1, time.Minute, time.Minute))

	for i := 0; i < 2; i++ {
		_, err := guarded.Get(ctx, "Recipes!A:B")
		assert.ErrorIs(t, err, boom)
	}

	_, err := guarded.Get(ctx, "Recipes!A:B")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 500, apperr.Status(err))
}

func TestGuardedIgnoresCallerErrors(t *testing.T) {
	ctx := context.Background()
	failing := &sheettest.Failing{Gateway: sheettest.NewStore(t), Err: sheet.ErrNoCredentials, FailOn: map[string]bool{"get": true}}
	guarded := sheet.NewGuarded(failing, circuitbreaker.NewCircuitBreakerWithWindow(1, time.Minute, time.Minute))

	for i := 0; i < 5; i++ {
		_, err := guarded.Get(ctx, "Recipes!A:B")
		assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	}
}

func TestGuardedMalformedRangeKeepsBreakerClosed(t *testing.T) {
	ctx := context.Background()
	cb := circuitbreaker.NewCircuitBreakerWithWindow(1, time.Minute, time.Minute)
	guarded := sheet.NewGuarded(sheettest.NewStore(t), cb)

	for i := 0; i < 3; i++ {
		_, err := guarded.Get(ctx, "Recipes!1A")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
		assert.Equal(t, 400, apperr.Status(err))

		err = guarded.Update(ctx, "Recipes!A2:B2", [][]string{{"a", "b", "c"}})
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		err = guarded.DeleteRows(ctx, "Recipes", 2, 1)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.GetState())

	require.NoError(t, guarded.Append(ctx, "Recipes!A:B", [][]string{{"r1", "Tagine"}}))
}
