package inventory

import (
	"strconv"
	"strings"

	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/sheet"
)

// Inventory sheet columns.
const (
	colID = iota
	colName
	colCategory
	colSubcategory
	colQuantity
	colUnit
	colCostPerUnit
	colMinThreshold
	colSupplier
	colNotes
	colStorageLocation
	colExpiryDate
	numItemCols
)

// InventoryMovements sheet columns.
const (
	mvID = iota
	mvItemID
	mvType
	mvQuantity
	mvDate
	mvReason
	numMovementCols
)

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func ItemFromRow(row []string) models.InventoryItem {
	row = sheet.Pad(row, numItemCols)
	return models.InventoryItem{
		ID:              row[colID],
		Name:            row[colName],
		Category:        row[colCategory],
		Subcategory:     row[colSubcategory],
		Quantity:        parseFloat(row[colQuantity]),
		Unit:            row[colUnit],
		CostPerUnit:     parseFloat(row[colCostPerUnit]),
		MinThreshold:    parseFloat(row[colMinThreshold]),
		Supplier:        row[colSupplier],
		Notes:           row[colNotes],
		StorageLocation: row[colStorageLocation],
		ExpiryDate:      row[colExpiryDate],
	}
}

func ItemToRow(it models.InventoryItem) []string {
	return []string{
		it.ID,
		it.Name,
		it.Category,
		it.Subcategory,
		formatFloat(it.Quantity),
		it.Unit,
		formatFloat(it.CostPerUnit),
		formatFloat(it.MinThreshold),
		it.Supplier,
		it.Notes,
		it.StorageLocation,
		it.ExpiryDate,
	}
}

func MovementFromRow(row []string) models.InventoryMovement {
	row = sheet.Pad(row, numMovementCols)
	return models.InventoryMovement{
		ID:       row[mvID],
		ItemID:   row[mvItemID],
		Type:     models.MovementType(strings.ToUpper(strings.TrimSpace(row[mvType]))),
		Quantity: parseFloat(row[mvQuantity]),
		Date:     row[mvDate],
		Reason:   row[mvReason],
	}
}

func MovementToRow(m models.InventoryMovement) []string {
	return []string{m.ID, m.ItemID, string(m.Type), formatFloat(m.Quantity), m.Date, m.Reason}
}
