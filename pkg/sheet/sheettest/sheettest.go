// Package sheettest provides an in-memory SQL-backed gateway for tests.
package sheettest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/sheet"
)

func SetupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "failed to connect test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.SheetRow{}))
	return db
}

// NewStore returns a SQL gateway with the header row of every layout written.
func NewStore(t testing.TB) *sheet.SQLStore {
	t.Helper()
	store := sheet.NewSQLStore(SetupTestDB(t))
	require.NoError(t, sheet.EnsureHeaders(context.Background(), store, sheet.Layouts()...))
	return store
}

// Failing wraps a gateway and returns Err from the operations named in FailOn
// ("get", "append", "update", "delete", "batch").
type Failing struct {
	sheet.Gateway
	Err    error
	FailOn map[string]bool
}

func (f *Failing) Get(ctx context.Context, rng string) ([][]string, error) {
	if f.FailOn["get"] {
		return nil, f.Err
	}
	return f.Gateway.Get(ctx, rng)
}

func (f *Failing) Append(ctx context.Context, rng string, rows [][]string) error {
	if f.FailOn["append"] {
		return f.Err
	}
	return f.Gateway.Append(ctx, rng, rows)
}

func (f *Failing) Update(ctx context.Context, rng string, rows [][]string) error {
	if f.FailOn["update"] {
		return f.Err
	}
	return f.Gateway.Update(ctx, rng, rows)
}

func (f *Failing) DeleteRows(ctx context.Context, name string, start, end int) error {
	if f.FailOn["delete"] {
		return f.Err
	}
	return f.Gateway.DeleteRows(ctx, name, start, end)
}

func (f *Failing) BatchUpdate(ctx context.Context, data []sheet.ValueRange) error {
	if f.FailOn["batch"] {
		return f.Err
	}
	return f.Gateway.BatchUpdate(ctx, data)
}

// Cancelling behaves like a client that goes away mid-request: the first
// Op ("append", "update" or "delete") against Sheet calls Cancel and fails
// with the context's error. Any call made on a done context fails the same
// way, as a real backend would.
type Cancelling struct {
	sheet.Gateway
	Sheet  string
	Op     string
	Cancel context.CancelFunc
}

func (c *Cancelling) hit(ctx context.Context, op, name string) error {
	if op == c.Op && name == c.Sheet {
		c.Cancel()
	}
	return ctx.Err()
}

func (c *Cancelling) Get(ctx context.Context, rng string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Gateway.Get(ctx, rng)
}

func (c *Cancelling) Append(ctx context.Context, rng string, rows [][]string) error {
	if err := c.hit(ctx, "append", sheetOf(rng)); err != nil {
		return err
	}
	return c.Gateway.Append(ctx, rng, rows)
}

func (c *Cancelling) Update(ctx context.Context, rng string, rows [][]string) error {
	if err := c.hit(ctx, "update", sheetOf(rng)); err != nil {
		return err
	}
	return c.Gateway.Update(ctx, rng, rows)
}

func (c *Cancelling) DeleteRows(ctx context.Context, name string, start, end int) error {
	if err := c.hit(ctx, "delete", name); err != nil {
		return err
	}
	return c.Gateway.DeleteRows(ctx, name, start, end)
}

func (c *Cancelling) BatchUpdate(ctx context.Context, data []sheet.ValueRange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Gateway.BatchUpdate(ctx, data)
}

func sheetOf(rng string) string {
	r, err := sheet.ParseRange(rng)
	if err != nil {
		return ""
	}
	return r.Sheet
}
