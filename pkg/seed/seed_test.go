package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"restaurant_ops/pkg/idempotency"
	"restaurant_ops/pkg/inventory"
	"restaurant_ops/pkg/lock"
	"restaurant_ops/pkg/recipe"
	"restaurant_ops/pkg/reservation"
	"restaurant_ops/pkg/sheet/sheettest"
)

func TestRunSeedsThroughServices(t *testing.T) {
	store := sheettest.NewStore(t)
	locks := lock.NewMemory()
	res := reservation.NewManager(store, locks, idempotency.NewMemory(), zap.NewNop())
	inv := inventory.NewLedger(store, locks, zap.NewNop())
	rec := recipe.NewStore(store, locks, zap.NewNop())

	s := New(res, inv, rec, zap.NewNop(), 42)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ticks := 0
	s.OnProgress(func() { ticks++ })

	want := Counts{Reservations: 10, Items: 14, Recipes: 3}
	done, err := s.Run(context.Background(), want)
	require.NoError(t, err)
	assert.Equal(t, want, done)
	assert.Equal(t, want.Total(), ticks)

	ctx := context.Background()
	listed, err := res.List(ctx, reservation.Filter{}, now)
	require.NoError(t, err)
	assert.Len(t, listed, 10)

	items, err := inv.ListItems(ctx, inventory.ItemFilter{}, now)
	require.NoError(t, err)
	assert.Len(t, items, 14)
	names := map[string]bool{}
	for _, it := range items {
		assert.False(t, names[it.Name], "duplicate item name %s", it.Name)
		names[it.Name] = true
	}

	recipes, err := rec.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recipes, 3)
	for _, r := range recipes {
		assert.NotEmpty(t, r.Ingredients)
		_, err := recipe.SellingPrice(r)
		assert.NoError(t, err)
	}
}
