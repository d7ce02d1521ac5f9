package sheet

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/models"
)

// SQLStore keeps every sheet in the sheet_rows table, one record per row.
// Positions are 0-based and contiguous per sheet; each call runs in a single
// transaction.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, rng string) ([][]string, error) {
	r, err := ParseRange(rng)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("sheet = ? AND position >= ?", r.Sheet, r.StartRow)
	if r.EndRow >= 0 {
		q = q.Where("position <= ?", r.EndRow)
	}
	var records []models.SheetRow
	if err := q.Order("position").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("get %s: %w", rng, err)
	}

	out := make([][]string, 0, len(records))
	for _, rec := range records {
		for r.StartRow+len(out) < rec.Position {
			out = append(out, []string{})
		}
		cells, err := decodeCells(rec.Cells)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", rng, err)
		}
		out = append(out, trimRight(sliceCols(cells, r.StartCol, r.EndCol)))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (s *SQLStore) Append(ctx context.Context, rng string, rows [][]string) error {
	r, err := ParseRange(rng)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		err := tx.Model(&models.SheetRow{}).
			Where("sheet = ?", r.Sheet).
			Select("COALESCE(MAX(position), -1)").
			Scan(&last).Error
		if err != nil {
			return fmt.Errorf("append %s: %w", rng, err)
		}
		for i, row := range rows {
			cells := make([]string, r.StartCol, r.StartCol+len(row))
			cells = append(cells, row...)
			encoded, err := encodeCells(cells)
			if err != nil {
				return err
			}
			rec := models.SheetRow{Sheet: r.Sheet, Position: last + 1 + i, Cells: encoded}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("append %s: %w", rng, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Update(ctx context.Context, rng string, rows [][]string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return writeRange(tx, rng, rows)
	})
}

func (s *SQLStore) BatchUpdate(ctx context.Context, data []ValueRange) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, vr := range data {
			if err := writeRange(tx, vr.Range, vr.Values); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) DeleteRows(ctx context.Context, sheet string, start, end int) error {
	if start < 0 || end <= start {
		return apperr.Validation(fmt.Sprintf("delete rows %s: invalid span [%d,%d)", sheet, start, end))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("sheet = ? AND position >= ? AND position < ?", sheet, start, end).
			Delete(&models.SheetRow{}).Error
		if err != nil {
			return fmt.Errorf("delete rows %s: %w", sheet, err)
		}
		err = tx.Model(&models.SheetRow{}).
			Where("sheet = ? AND position >= ?", sheet, end).
			Update("position", gorm.Expr("position - ?", end-start)).Error
		if err != nil {
			return fmt.Errorf("shift rows %s: %w", sheet, err)
		}
		return nil
	})
}

func writeRange(tx *gorm.DB, rng string, rows [][]string) error {
	r, err := ParseRange(rng)
	if err != nil {
		return err
	}
	if r.EndRow >= 0 && r.StartRow+len(rows)-1 > r.EndRow {
		return apperr.Validation(fmt.Sprintf("update %s: %d rows do not fit the range", rng, len(rows)))
	}

	for i, row := range rows {
		if r.EndCol >= 0 && r.StartCol+len(row)-1 > r.EndCol {
			return apperr.Validation(fmt.Sprintf("update %s: %d values do not fit the range", rng, len(row)))
		}
		pos := r.StartRow + i

		var existing []models.SheetRow
		err := tx.Where("sheet = ? AND position = ?", r.Sheet, pos).Limit(1).Find(&existing).Error
		if err != nil {
			return fmt.Errorf("update %s: %w", rng, err)
		}

		var cells []string
		if len(existing) > 0 {
			if cells, err = decodeCells(existing[0].Cells); err != nil {
				return fmt.Errorf("update %s: %w", rng, err)
			}
		}
		cells = Pad(cells, r.StartCol+len(row))
		copy(cells[r.StartCol:], row)

		encoded, err := encodeCells(cells)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			rec := models.SheetRow{Sheet: r.Sheet, Position: pos, Cells: encoded}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("update %s: %w", rng, err)
			}
			continue
		}
		if err := tx.Model(&existing[0]).Update("cells", encoded).Error; err != nil {
			return fmt.Errorf("update %s: %w", rng, err)
		}
	}
	return nil
}

func sliceCols(cells []string, start, end int) []string {
	if start >= len(cells) {
		return []string{}
	}
	if end < 0 || end+1 > len(cells) {
		return cells[start:]
	}
	return cells[start : end+1]
}

func trimRight(cells []string) []string {
	n := len(cells)
	for n > 0 && cells[n-1] == "" {
		n--
	}
	return cells[:n]
}

func encodeCells(cells []string) (string, error) {
	b, err := json.Marshal(cells)
	if err != nil {
		return "", fmt.Errorf("encode cells: %w", err)
	}
	return string(b), nil
}

func decodeCells(s string) ([]string, error) {
	var cells []string
	if s == "" {
		return cells, nil
	}
	if err := json.Unmarshal([]byte(s), &cells); err != nil {
		return nil, fmt.Errorf("decode cells: %w", err)
	}
	return cells, nil
}
