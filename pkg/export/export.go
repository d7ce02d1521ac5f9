// Package export writes parquet snapshots of the operational sheets.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"restaurant_ops/pkg/inventory"
	"restaurant_ops/pkg/reservation"
	"restaurant_ops/pkg/sheet"
)

type ReservationRecord struct {
	ID         string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date       string `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time       string `parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name       string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Guests     int64  `parquet:"name=guests, type=INT64"`
	Phone      string `parquet:"name=phone, type=BYTE_ARRAY, convertedtype=UTF8"`
	Email      string `parquet:"name=email, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source     string `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Status     string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Notes      string `parquet:"name=notes, type=BYTE_ARRAY, convertedtype=UTF8"`
	Table      string `parquet:"name=table, type=BYTE_ARRAY, convertedtype=UTF8"`
	EmailSent  string `parquet:"name=email_sent, type=BYTE_ARRAY, convertedtype=UTF8"`
	EmailQueue string `parquet:"name=email_queue, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	CheckedIn  string `parquet:"name=checked_in, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type InventoryRecord struct {
	ID              string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name            string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Category        string  `parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Subcategory     string  `parquet:"name=subcategory, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity        float64 `parquet:"name=quantity, type=DOUBLE"`
	Unit            string  `parquet:"name=unit, type=BYTE_ARRAY, convertedtype=UTF8"`
	CostPerUnit     float64 `parquet:"name=cost_per_unit, type=DOUBLE"`
	MinThreshold    float64 `parquet:"name=min_threshold, type=DOUBLE"`
	Supplier        string  `parquet:"name=supplier, type=BYTE_ARRAY, convertedtype=UTF8"`
	Notes           string  `parquet:"name=notes, type=BYTE_ARRAY, convertedtype=UTF8"`
	StorageLocation string  `parquet:"name=storage_location, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExpiryDate      string  `parquet:"name=expiry_date, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type MovementRecord struct {
	ID       string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ItemID   string  `parquet:"name=item_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type     string  `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Quantity float64 `parquet:"name=quantity, type=DOUBLE"`
	Date     string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Reason   string  `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type Result struct {
	Sheet    string
	Location string
	Rows     int
}

type Exporter struct {
	gw       sheet.Gateway
	target   Target
	logger   *zap.Logger
	progress func(rows int)
}

func New(gw sheet.Gateway, target Target, logger *zap.Logger) *Exporter {
	return &Exporter{gw: gw, target: target, logger: logger}
}

// OnProgress registers fn to be called with the number of rows written
// after each sheet.
func (e *Exporter) OnProgress(fn func(rows int)) {
	e.progress = fn
}

// Snapshot writes one file per sheet, named <sheet>/<timestamp>.parquet.
func (e *Exporter) Snapshot(ctx context.Context, at time.Time) ([]Result, error) {
	stamp := at.UTC().Format("20060102T150405Z")
	jobs := []struct {
		layout  sheet.Layout
		records func(rows [][]string) []interface{}
		schema  interface{}
	}{
		{sheet.Reservations, reservationRecords, new(ReservationRecord)},
		{sheet.Inventory, inventoryRecords, new(InventoryRecord)},
		{sheet.InventoryMovements, movementRecords, new(MovementRecord)},
	}

	results := make([]Result, 0, len(jobs))
	for _, job := range jobs {
		rows, err := e.gw.Get(ctx, job.layout.All())
		if err != nil {
			return results, fmt.Errorf("read %s: %w", job.layout.Name, err)
		}
		records := job.records(rows)
		name := strings.ToLower(job.layout.Name) + "/" + stamp + ".parquet"
		if err := e.write(ctx, name, job.schema, records); err != nil {
			return results, fmt.Errorf("write %s: %w", job.layout.Name, err)
		}
		res := Result{Sheet: job.layout.Name, Location: e.target.Location(name), Rows: len(records)}
		e.logger.Info("sheet exported", zap.String("sheet", res.Sheet), zap.String("location", res.Location), zap.Int("rows", res.Rows))
		if e.progress != nil {
			e.progress(res.Rows)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Exporter) write(ctx context.Context, name string, schema interface{}, records []interface{}) error {
	fw, err := e.target.Create(ctx, name)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, schema, 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("failed to create ParquetWriter: %w", err)
	}
	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			fw.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return fw.Close()
}

func dataRows(rows [][]string) [][]string {
	if len(rows) <= 1 {
		return nil
	}
	return rows[1:]
}

func reservationRecords(rows [][]string) []interface{} {
	out := make([]interface{}, 0, len(rows))
	for _, row := range dataRows(rows) {
		r := reservation.FromRow(row)
		if r.ID == "" {
			continue
		}
		out = append(out, ReservationRecord{
			ID: r.ID, Date: r.Date, Time: r.Time, Name: r.Name, Guests: int64(r.Guests),
			Phone: r.Phone, Email: r.Email, Source: r.Source, Status: string(r.Status),
			Notes: r.Notes, Table: r.Table, EmailSent: r.EmailSent, EmailQueue: r.EmailQueue,
			CheckedIn: string(r.CheckedIn),
		})
	}
	return out
}

func inventoryRecords(rows [][]string) []interface{} {
	out := make([]interface{}, 0, len(rows))
	for _, row := range dataRows(rows) {
		it := inventory.ItemFromRow(row)
		if it.ID == "" {
			continue
		}
		out = append(out, InventoryRecord{
			ID: it.ID, Name: it.Name, Category: it.Category, Subcategory: it.Subcategory,
			Quantity: it.Quantity, Unit: it.Unit, CostPerUnit: it.CostPerUnit, MinThreshold: it.MinThreshold,
			Supplier: it.Supplier, Notes: it.Notes, StorageLocation: it.StorageLocation, ExpiryDate: it.ExpiryDate,
		})
	}
	return out
}

func movementRecords(rows [][]string) []interface{} {
	out := make([]interface{}, 0, len(rows))
	for _, row := range dataRows(rows) {
		mv := inventory.MovementFromRow(row)
		if mv.ID == "" {
			continue
		}
		out = append(out, MovementRecord{
			ID: mv.ID, ItemID: mv.ItemID, Type: string(mv.Type),
			Quantity: mv.Quantity, Date: mv.Date, Reason: mv.Reason,
		})
	}
	return out
}
