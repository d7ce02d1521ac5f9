// Package sheet is the row-oriented persistence gateway. Data lives in named
// sheets addressed by A1 ranges, either in a Google spreadsheet or in a SQL
// table that emulates one.
package sheet

import (
	"context"
	"fmt"
	"time"
)

// CompensationTimeout bounds a write that undoes a half-applied change.
const CompensationTimeout = 10 * time.Second

// Detached returns a context for compensating writes. It keeps the values of
// ctx, including the caller's OAuth token, but not its cancellation, so an
// undo still runs after the client has gone away.
func Detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), CompensationTimeout)
}

type Gateway interface {
	// Get returns the values in rng with trailing empty cells and rows trimmed.
	Get(ctx context.Context, rng string) ([][]string, error)
	// Append writes rows after the last used row of the sheet.
	Append(ctx context.Context, rng string, rows [][]string) error
	// Update writes rows starting at the top-left cell of rng.
	Update(ctx context.Context, rng string, rows [][]string) error
	// DeleteRows removes 0-based rows [start, end); later rows shift up.
	DeleteRows(ctx context.Context, sheet string, start, end int) error
	// BatchUpdate applies several updates together.
	BatchUpdate(ctx context.Context, data []ValueRange) error
}

type ValueRange struct {
	Range  string
	Values [][]string
}

// Layout is the fixed column order of one sheet. Row 1 holds the header.
type Layout struct {
	Name   string
	Header []string
}

func (l Layout) LastColumn() string { return ColumnLetter(len(l.Header) - 1) }

// All is the whole-sheet range, header row included.
func (l Layout) All() string { return Columns(l.Name, "A", l.LastColumn()) }

// Row addresses every column of the 1-based row.
func (l Layout) Row(row int) string { return Span(l.Name, "A", l.LastColumn(), row) }

var (
	Reservations = Layout{Name: "Reservations", Header: []string{
		"id", "date", "time", "name", "guests", "phone", "email", "source",
		"status", "notes", "table", "emailSent", "emailQueue", "checkedIn",
	}}
	Inventory = Layout{Name: "Inventory", Header: []string{
		"id", "name", "category", "subcategory", "quantity", "unit", "costPerUnit",
		"minThreshold", "supplier", "notes", "storageLocation", "expiryDate",
	}}
	InventoryMovements = Layout{Name: "InventoryMovements", Header: []string{
		"id", "itemId", "type", "quantity", "date", "reason",
	}}
	Recipes = Layout{Name: "Recipes", Header: []string{
		"id", "name",
	}}
	RecipeDetails = Layout{Name: "RecipeDetails", Header: []string{
		"id", "name", "servings", "ingredients", "laborCost", "overheadCost",
		"profitMargin", "createdAt", "updatedAt",
	}}
)

func Layouts() []Layout {
	return []Layout{Reservations, Inventory, InventoryMovements, Recipes, RecipeDetails}
}

// EnsureHeaders writes the header row of every sheet whose first row is empty.
func EnsureHeaders(ctx context.Context, gw Gateway, layouts ...Layout) error {
	for _, l := range layouts {
		rows, err := gw.Get(ctx, l.Row(1))
		if err != nil {
			return fmt.Errorf("read %s header: %w", l.Name, err)
		}
		if len(rows) > 0 && len(rows[0]) > 0 {
			continue
		}
		if err := gw.Update(ctx, l.Row(1), [][]string{l.Header}); err != nil {
			return fmt.Errorf("write %s header: %w", l.Name, err)
		}
	}
	return nil
}

// FindRow returns the index of the first data row whose column A equals id.
// Index 0 is the header and never matches.
func FindRow(rows [][]string, id string) (int, bool) {
	if id == "" {
		return -1, false
	}
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) > 0 && rows[i][0] == id {
			return i, true
		}
	}
	return -1, false
}

// Pad returns row extended with empty cells to n columns.
func Pad(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	out := make([]string, n)
	copy(out, row)
	return out
}
