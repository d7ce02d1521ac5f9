package inventory

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lucsky/cuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/lock"
	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/sheet"
)

type ItemInput struct {
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	Subcategory     string  `json:"subcategory"`
	Quantity        float64 `json:"quantity"`
	Unit            string  `json:"unit"`
	CostPerUnit     float64 `json:"costPerUnit"`
	MinThreshold    float64 `json:"minThreshold"`
	Supplier        string  `json:"supplier"`
	Notes           string  `json:"notes"`
	StorageLocation string  `json:"storageLocation"`
	ExpiryDate      string  `json:"expiryDate"`
}

type MovementInput struct {
	ItemID   string              `json:"itemId"`
	Type     models.MovementType `json:"type"`
	Quantity float64             `json:"quantity"`
	Reason   string              `json:"reason"`
	Date     string              `json:"date"`
}

// Ledger owns the Inventory and InventoryMovements sheets. Every write that
// depends on a lookup holds the Inventory sheet lock.
type Ledger struct {
	gw     sheet.Gateway
	locks  lock.Locker
	logger *zap.Logger
	newID  func() string
	now    func() time.Time
}

func NewLedger(gw sheet.Gateway, locks lock.Locker, logger *zap.Logger) *Ledger {
	return &Ledger{gw: gw, locks: locks, logger: logger, newID: cuid.New, now: time.Now}
}

func (l *Ledger) lock(ctx context.Context) (func(), error) {
	unlock, err := l.locks.Lock(ctx, lock.SheetKey(sheet.Inventory.Name))
	if err != nil {
		return nil, apperr.Upstream("lock inventory", err)
	}
	return unlock, nil
}

func (l *Ledger) itemRows(ctx context.Context) ([][]string, error) {
	rows, err := l.gw.Get(ctx, sheet.Inventory.All())
	if err != nil {
		return nil, apperr.Upstream("read inventory", err)
	}
	return rows, nil
}

func (l *Ledger) locate(ctx context.Context, id string) ([][]string, int, error) {
	rows, err := l.itemRows(ctx)
	if err != nil {
		return nil, 0, err
	}
	idx, ok := sheet.FindRow(rows, id)
	if !ok {
		return nil, 0, apperr.NotFound("Item not found")
	}
	return rows, idx, nil
}

func buildItem(in ItemInput) (models.InventoryItem, error) {
	required := map[string]string{
		"name":            in.Name,
		"category":        in.Category,
		"subcategory":     in.Subcategory,
		"unit":            in.Unit,
		"storageLocation": in.StorageLocation,
	}
	for _, field := range []string{"name", "category", "subcategory", "unit", "storageLocation"} {
		if strings.TrimSpace(required[field]) == "" {
			return models.InventoryItem{}, apperr.Validation(field + " is required")
		}
	}
	for field, v := range map[string]float64{"quantity": in.Quantity, "costPerUnit": in.CostPerUnit, "minThreshold": in.MinThreshold} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return models.InventoryItem{}, apperr.Validation(field + " must be a non-negative number")
		}
	}
	expiry, err := normalizeExpiry(in.ExpiryDate)
	if err != nil {
		return models.InventoryItem{}, apperr.Validation(err.Error())
	}

	return models.InventoryItem{
		Name:            strings.TrimSpace(in.Name),
		Category:        strings.TrimSpace(in.Category),
		Subcategory:     strings.TrimSpace(in.Subcategory),
		Quantity:        in.Quantity,
		Unit:            strings.TrimSpace(in.Unit),
		CostPerUnit:     in.CostPerUnit,
		MinThreshold:    in.MinThreshold,
		Supplier:        strings.TrimSpace(in.Supplier),
		Notes:           in.Notes,
		StorageLocation: strings.TrimSpace(in.StorageLocation),
		ExpiryDate:      expiry,
	}, nil
}

func (l *Ledger) AddItem(ctx context.Context, in ItemInput) (models.InventoryItem, error) {
	item, err := buildItem(in)
	if err != nil {
		return models.InventoryItem{}, err
	}
	item.ID = l.newID()

	unlock, err := l.lock(ctx)
	if err != nil {
		return models.InventoryItem{}, err
	}
	defer unlock()

	if err := l.gw.Append(ctx, sheet.Inventory.All(), [][]string{ItemToRow(item)}); err != nil {
		return models.InventoryItem{}, apperr.Upstream("append item", err)
	}
	l.logger.Info("inventory item added", zap.String("id", item.ID), zap.String("name", item.Name))
	return item, nil
}

// EditItem replaces every field of the item except its id.
func (l *Ledger) EditItem(ctx context.Context, id string, in ItemInput) (models.InventoryItem, error) {
	item, err := buildItem(in)
	if err != nil {
		return models.InventoryItem{}, err
	}
	item.ID = id

	unlock, err := l.lock(ctx)
	if err != nil {
		return models.InventoryItem{}, err
	}
	defer unlock()

	_, idx, err := l.locate(ctx, id)
	if err != nil {
		return models.InventoryItem{}, err
	}
	row := sheet.RowNumber(idx)
	fields := ItemToRow(item)[colName:]
	if err := l.gw.Update(ctx, sheet.Span(sheet.Inventory.Name, "B", sheet.Inventory.LastColumn(), row), [][]string{fields}); err != nil {
		return models.InventoryItem{}, apperr.Upstream("update item", err)
	}
	l.logger.Info("inventory item edited", zap.String("id", id))
	return item, nil
}

// DeleteItem removes the item row. Its movements stay in the log.
func (l *Ledger) DeleteItem(ctx context.Context, id string) error {
	unlock, err := l.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	_, idx, err := l.locate(ctx, id)
	if err != nil {
		return err
	}
	if err := l.gw.DeleteRows(ctx, sheet.Inventory.Name, idx, idx+1); err != nil {
		return apperr.Upstream("delete item", err)
	}
	l.logger.Info("inventory item deleted", zap.String("id", id))
	return nil
}

func (l *Ledger) GetItem(ctx context.Context, id string) (models.InventoryItem, error) {
	rows, idx, err := l.locate(ctx, id)
	if err != nil {
		return models.InventoryItem{}, err
	}
	return ItemFromRow(rows[idx]), nil
}

type ItemFilter struct {
	Category        string
	StorageLocation string
	LowStock        bool
	Expiry          ExpiryStatus
}

type ItemView struct {
	models.InventoryItem
	ExpiryStatus    ExpiryStatus `json:"expiryStatus"`
	DaysUntilExpiry *int         `json:"daysUntilExpiry"`
	LowStock        bool         `json:"lowStock"`
}

func (l *Ledger) ListItems(ctx context.Context, f ItemFilter, now time.Time) ([]ItemView, error) {
	switch f.Expiry {
	case "", Expired, ExpiringSoon, Valid, NoExpiry:
	default:
		return nil, apperr.Validation("unknown expiry status " + string(f.Expiry))
	}
	rows, err := l.itemRows(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]ItemView, 0, len(rows))
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) == 0 || rows[i][0] == "" {
			continue
		}
		item := ItemFromRow(rows[i])
		status, days := Expiry(item, now)
		v := ItemView{InventoryItem: item, ExpiryStatus: status, DaysUntilExpiry: days, LowStock: IsLowStock(item)}

		if f.Category != "" && !strings.EqualFold(item.Category, f.Category) {
			continue
		}
		if f.StorageLocation != "" && !strings.EqualFold(item.StorageLocation, f.StorageLocation) {
			continue
		}
		if f.LowStock && !v.LowStock {
			continue
		}
		if f.Expiry != "" && v.ExpiryStatus != f.Expiry {
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

// RecordMovement applies a stock change. Under the inventory lock it reads
// the current quantity, rejects an OUT that would go below zero, writes the
// new quantity and appends the movement. If the append fails the previous
// quantity is written back.
func (l *Ledger) RecordMovement(ctx context.Context, in MovementInput) (models.InventoryMovement, models.InventoryItem, error) {
	mv, err := l.buildMovement(in)
	if err != nil {
		return models.InventoryMovement{}, models.InventoryItem{}, err
	}

	unlock, err := l.lock(ctx)
	if err != nil {
		return models.InventoryMovement{}, models.InventoryItem{}, err
	}
	defer unlock()

	rows, idx, err := l.locate(ctx, mv.ItemID)
	if err != nil {
		return models.InventoryMovement{}, models.InventoryItem{}, err
	}
	item := ItemFromRow(rows[idx])
	previous := sheet.Pad(rows[idx], numItemCols)[colQuantity]

	next := ApplyMovement(item.Quantity, mv.Type, mv.Quantity)
	if next < 0 {
		l.logger.Warn("movement rejected",
			zap.String("item_id", item.ID),
			zap.Float64("quantity", item.Quantity),
			zap.Float64("requested", mv.Quantity))
		return models.InventoryMovement{}, item, apperr.InsufficientStock("Insufficient stock")
	}

	qtyCell := sheet.Cell(sheet.Inventory.Name, sheet.ColumnLetter(colQuantity), sheet.RowNumber(idx))
	if err := l.gw.Update(ctx, qtyCell, [][]string{{formatFloat(next)}}); err != nil {
		return models.InventoryMovement{}, item, apperr.Upstream("update quantity", err)
	}

	if err := l.gw.Append(ctx, sheet.InventoryMovements.All(), [][]string{MovementToRow(mv)}); err != nil {
		undoCtx, cancel := sheet.Detached(ctx)
		defer cancel()
		if rbErr := l.gw.Update(undoCtx, qtyCell, [][]string{{previous}}); rbErr != nil {
			l.logger.Error("failed to restore quantity after movement append failed",
				zap.String("item_id", item.ID), zap.String("quantity", previous), zap.Error(rbErr))
		}
		return models.InventoryMovement{}, item, apperr.Upstream("append movement", err)
	}

	item.Quantity = next
	l.logger.Info("movement recorded",
		zap.String("item_id", item.ID),
		zap.String("type", string(mv.Type)),
		zap.Float64("quantity", mv.Quantity),
		zap.Float64("stock", next))
	return mv, item, nil
}

// ApplyMovement returns the stock after a movement, in decimal arithmetic so
// repeated fractional movements do not drift.
func ApplyMovement(current float64, t models.MovementType, qty float64) float64 {
	cur := decimal.NewFromFloat(current)
	delta := decimal.NewFromFloat(qty)
	if t == models.MovementOut {
		return cur.Sub(delta).InexactFloat64()
	}
	return cur.Add(delta).InexactFloat64()
}

func (l *Ledger) buildMovement(in MovementInput) (models.InventoryMovement, error) {
	if strings.TrimSpace(in.ItemID) == "" {
		return models.InventoryMovement{}, apperr.Validation("itemId is required")
	}
	t := models.MovementType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	if t != models.MovementIn && t != models.MovementOut {
		return models.InventoryMovement{}, apperr.Validation("type must be IN or OUT")
	}
	if math.IsNaN(in.Quantity) || math.IsInf(in.Quantity, 0) || in.Quantity <= 0 {
		return models.InventoryMovement{}, apperr.Validation("quantity must be a positive number")
	}

	date := strings.TrimSpace(in.Date)
	if date == "" {
		date = l.now().UTC().Format(time.RFC3339)
	} else if _, ok := parseMovementDate(date); !ok {
		return models.InventoryMovement{}, apperr.Validation("invalid date " + date)
	}

	return models.InventoryMovement{
		ID:       l.newID(),
		ItemID:   strings.TrimSpace(in.ItemID),
		Type:     t,
		Quantity: in.Quantity,
		Date:     date,
		Reason:   strings.TrimSpace(in.Reason),
	}, nil
}

func parseMovementDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, ExpiryLayout, "1/2/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type MovementFilter struct {
	ItemID string
	Type   models.MovementType
}

// ListMovements returns matching movements, newest first.
func (l *Ledger) ListMovements(ctx context.Context, f MovementFilter) ([]models.InventoryMovement, error) {
	rows, err := l.gw.Get(ctx, sheet.InventoryMovements.All())
	if err != nil {
		return nil, apperr.Upstream("read movements", err)
	}
	wantType := models.MovementType(strings.ToUpper(string(f.Type)))

	out := make([]models.InventoryMovement, 0, len(rows))
	for i := len(rows) - 1; i >= 1; i-- {
		if len(rows[i]) == 0 || rows[i][0] == "" {
			continue
		}
		mv := MovementFromRow(rows[i])
		if f.ItemID != "" && mv.ItemID != f.ItemID {
			continue
		}
		if wantType != "" && mv.Type != wantType {
			continue
		}
		out = append(out, mv)
	}

	// Rows edited by hand may carry dates we cannot read; they sort last.
	sort.SliceStable(out, func(i, j int) bool {
		ti, okI := parseMovementDate(out[i].Date)
		tj, okJ := parseMovementDate(out[j].Date)
		if okI != okJ {
			return okI
		}
		return okI && ti.After(tj)
	})
	return out, nil
}
