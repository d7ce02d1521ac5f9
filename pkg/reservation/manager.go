package reservation

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/lucsky/cuid"
	"go.uber.org/zap"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/idempotency"
	"restaurant_ops/pkg/lock"
	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/sheet"
)

const DefaultSource = "manual"

type ChangeType string

const (
	Created ChangeType = "created"
	Updated ChangeType = "updated"
	Deleted ChangeType = "deleted"
)

type Change struct {
	Type        ChangeType         `json:"type"`
	Reservation models.Reservation `json:"reservation"`
	// Previous is the state before an update.
	Previous *models.Reservation `json:"-"`
}

type Listener interface {
	ReservationChanged(Change)
}

type CreateInput struct {
	Date   string                   `json:"date"`
	Time   string                   `json:"time"`
	Name   string                   `json:"name"`
	Guests int                      `json:"guests"`
	Phone  string                   `json:"phone"`
	Email  string                   `json:"email"`
	Source string                   `json:"source"`
	Status models.ReservationStatus `json:"status"`
	Notes  string                   `json:"notes"`
}

// Patch carries the fields of a partial update; nil fields are left alone.
type Patch struct {
	Date      *string                   `json:"date"`
	Time      *string                   `json:"time"`
	Name      *string                   `json:"name"`
	Guests    *int                      `json:"guests"`
	Phone     *string                   `json:"phone"`
	Email     *string                   `json:"email"`
	Source    *string                   `json:"source"`
	Notes     *string                   `json:"notes"`
	Status    *models.ReservationStatus `json:"status"`
	Table     *string                   `json:"table"`
	CheckedIn *models.CheckIn           `json:"checkedIn"`
}

func (p Patch) Empty() bool {
	return p.Date == nil && p.Time == nil && p.Name == nil && p.Guests == nil &&
		p.Phone == nil && p.Email == nil && p.Source == nil && p.Notes == nil &&
		p.Status == nil && p.Table == nil && p.CheckedIn == nil
}

// Manager owns every read-modify-write on the Reservations sheet. Each one
// runs under the sheet lock, so a row index found by a scan stays valid
// until the write that uses it.
type Manager struct {
	gw     sheet.Gateway
	locks  lock.Locker
	idem   idempotency.Store
	logger *zap.Logger
	newID  func() string

	mu        sync.RWMutex
	listeners []Listener
}

func NewManager(gw sheet.Gateway, locks lock.Locker, idem idempotency.Store, logger *zap.Logger) *Manager {
	return &Manager{
		gw:     gw,
		locks:  locks,
		idem:   idem,
		logger: logger,
		newID:  cuid.New,
	}
}

func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) publish(ch Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.listeners {
		l.ReservationChanged(ch)
	}
}

func (m *Manager) lock(ctx context.Context) (func(), error) {
	unlock, err := m.locks.Lock(ctx, lock.SheetKey(sheet.Reservations.Name))
	if err != nil {
		return nil, apperr.Upstream("lock reservations", err)
	}
	return unlock, nil
}

func (m *Manager) rows(ctx context.Context) ([][]string, error) {
	rows, err := m.gw.Get(ctx, sheet.Reservations.All())
	if err != nil {
		return nil, apperr.Upstream("read reservations", err)
	}
	return rows, nil
}

func (m *Manager) locate(ctx context.Context, id string) ([][]string, int, error) {
	rows, err := m.rows(ctx)
	if err != nil {
		return nil, 0, err
	}
	idx, ok := sheet.FindRow(rows, id)
	if !ok {
		return nil, 0, apperr.NotFound("Reservation not found")
	}
	return rows, idx, nil
}

// Create appends a new reservation. With a non-empty idempotency key a
// repeated call returns the reservation created the first time and
// replayed is true.
func (m *Manager) Create(ctx context.Context, in CreateInput, idempotencyKey string) (res models.Reservation, replayed bool, err error) {
	res, err = newReservation(in)
	if err != nil {
		return models.Reservation{}, false, err
	}

	unlock, err := m.lock(ctx)
	if err != nil {
		return models.Reservation{}, false, err
	}
	defer unlock()

	if idempotencyKey != "" {
		prev, found, err := m.idem.Get(ctx, idempotencyKey)
		if err != nil {
			return models.Reservation{}, false, apperr.Upstream("idempotency lookup", err)
		}
		if found {
			var original models.Reservation
			if err := json.Unmarshal([]byte(prev), &original); err == nil {
				m.logger.Info("replaying reservation create",
					zap.String("id", original.ID), zap.String("idempotency_key", idempotencyKey))
				return original, true, nil
			}
		}
	}

	res.ID = m.newID()
	if err := m.gw.Append(ctx, sheet.Reservations.All(), [][]string{ToRow(res)}); err != nil {
		return models.Reservation{}, false, apperr.Upstream("append reservation", err)
	}

	if idempotencyKey != "" {
		b, _ := json.Marshal(res)
		if err := m.idem.Put(ctx, idempotencyKey, string(b), idempotency.DefaultTTL); err != nil {
			m.logger.Warn("failed to remember idempotency key", zap.String("id", res.ID), zap.Error(err))
		}
	}

	m.logger.Info("reservation created", zap.String("id", res.ID), zap.String("date", res.Date), zap.Int("guests", res.Guests))
	m.publish(Change{Type: Created, Reservation: res})
	return res, false, nil
}

func newReservation(in CreateInput) (models.Reservation, error) {
	if strings.TrimSpace(in.Date) == "" || strings.TrimSpace(in.Time) == "" || strings.TrimSpace(in.Name) == "" {
		return models.Reservation{}, apperr.Validation("date, time, name and guests are required")
	}
	if in.Guests <= 0 {
		return models.Reservation{}, apperr.Validation("guests must be a positive number")
	}
	date, err := NormalizeDate(in.Date)
	if err != nil {
		return models.Reservation{}, apperr.Validation(err.Error())
	}

	status := in.Status
	if status == "" {
		status = models.StatusPending
	}
	if !status.Settable() {
		return models.Reservation{}, apperr.Validation("invalid status " + string(status))
	}
	source := strings.TrimSpace(in.Source)
	if source == "" {
		source = DefaultSource
	}

	return models.Reservation{
		Date:   date,
		Time:   strings.TrimSpace(in.Time),
		Name:   strings.TrimSpace(in.Name),
		Guests: in.Guests,
		Phone:  strings.TrimSpace(in.Phone),
		Email:  strings.TrimSpace(in.Email),
		Source: source,
		Status: status,
		Notes:  in.Notes,
	}, nil
}

func (m *Manager) Get(ctx context.Context, id string) (models.Reservation, error) {
	rows, idx, err := m.locate(ctx, id)
	if err != nil {
		return models.Reservation{}, err
	}
	return FromRow(rows[idx]), nil
}

func (m *Manager) UpdateStatus(ctx context.Context, id string, status models.ReservationStatus) (models.Reservation, error) {
	return m.Update(ctx, id, Patch{Status: &status})
}

// AssignTable writes the table column only. Another reservation may already
// hold the same table at the same date and time; see TableConflicts.
func (m *Manager) AssignTable(ctx context.Context, id, table string) (models.Reservation, error) {
	return m.Update(ctx, id, Patch{Table: &table})
}

func (m *Manager) SetCheckedIn(ctx context.Context, id string, checkedIn models.CheckIn) (models.Reservation, error) {
	return m.Update(ctx, id, Patch{CheckedIn: &checkedIn})
}

// Update applies p and writes only the cells that changed, in one batch.
// Moving into confirmed or cancelled queues the matching email; repeating
// the same status queues nothing.
func (m *Manager) Update(ctx context.Context, id string, p Patch) (models.Reservation, error) {
	if p.Empty() {
		return models.Reservation{}, apperr.Validation("nothing to update")
	}

	unlock, err := m.lock(ctx)
	if err != nil {
		return models.Reservation{}, err
	}
	defer unlock()

	rows, idx, err := m.locate(ctx, id)
	if err != nil {
		return models.Reservation{}, err
	}
	before := FromRow(rows[idx])
	after, err := applyPatch(before, p)
	if err != nil {
		return models.Reservation{}, err
	}

	writes := diff(sheet.RowNumber(idx), ToRow(before), ToRow(after))
	if len(writes) == 0 {
		return after, nil
	}
	if err := m.gw.BatchUpdate(ctx, writes); err != nil {
		return models.Reservation{}, apperr.Upstream("update reservation", err)
	}

	m.logger.Info("reservation updated",
		zap.String("id", id),
		zap.String("status", string(after.Status)),
		zap.Int("cells", len(writes)))
	m.publish(Change{Type: Updated, Reservation: after, Previous: &before})
	return after, nil
}

func applyPatch(r models.Reservation, p Patch) (models.Reservation, error) {
	if p.Date != nil {
		date, err := NormalizeDate(*p.Date)
		if err != nil {
			return r, apperr.Validation(err.Error())
		}
		r.Date = date
	}
	if p.Time != nil {
		if strings.TrimSpace(*p.Time) == "" {
			return r, apperr.Validation("time cannot be empty")
		}
		r.Time = strings.TrimSpace(*p.Time)
	}
	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return r, apperr.Validation("name cannot be empty")
		}
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.Guests != nil {
		if *p.Guests <= 0 {
			return r, apperr.Validation("guests must be a positive number")
		}
		r.Guests = *p.Guests
	}
	if p.Phone != nil {
		r.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.Email != nil {
		r.Email = strings.TrimSpace(*p.Email)
	}
	if p.Source != nil {
		r.Source = strings.TrimSpace(*p.Source)
		if r.Source == "" {
			r.Source = DefaultSource
		}
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
	if p.Table != nil {
		r.Table = strings.TrimSpace(*p.Table)
	}
	if p.CheckedIn != nil {
		r.CheckedIn = *p.CheckedIn
	}
	if p.Status != nil {
		next := *p.Status
		if !next.Settable() {
			return r, apperr.Validation("invalid status " + string(next))
		}
		if next != r.Status {
			switch next {
			case models.StatusConfirmed:
				r.EmailQueue = models.EmailQueued
			case models.StatusCancelled:
				r.EmailQueue = models.EmailQueuedCancellation
			}
		}
		r.Status = next
	}
	return r, nil
}

// diff returns one single-cell write per column that differs.
func diff(row int, before, after []string) []sheet.ValueRange {
	var writes []sheet.ValueRange
	for col := range after {
		if before[col] != after[col] {
			writes = append(writes, sheet.ValueRange{
				Range:  sheet.Cell(sheet.Reservations.Name, sheet.ColumnLetter(col), row),
				Values: [][]string{{after[col]}},
			})
		}
	}
	return writes
}

// Delete removes the reservation row. Later rows shift up.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	rows, idx, err := m.locate(ctx, id)
	if err != nil {
		return err
	}
	if err := m.gw.DeleteRows(ctx, sheet.Reservations.Name, idx, idx+1); err != nil {
		return apperr.Upstream("delete reservation", err)
	}

	m.logger.Info("reservation deleted", zap.String("id", id))
	m.publish(Change{Type: Deleted, Reservation: FromRow(rows[idx])})
	return nil
}
