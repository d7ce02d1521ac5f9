package reservation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/models"
)

const (
	WhenAll      = "all"
	WhenPast     = "past"
	WhenUpcoming = "upcoming"

	SortChronological = "chronological"
	SortReverse       = "reverse"
	SortGuests        = "guests"
)

type Filter struct {
	Date   string
	Status string
	Name   string
	When   string
	Sort   string
}

// Listed is a reservation as shown in the list view.
type Listed struct {
	models.Reservation
	// CouscousDay marks Friday reservations.
	CouscousDay bool `json:"couscousDay"`
}

type sortable struct {
	Listed
	day    time.Time
	dated  bool
	minute int
}

func (m *Manager) List(ctx context.Context, f Filter, now time.Time) ([]Listed, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	rows, err := m.rows(ctx)
	if err != nil {
		return nil, err
	}

	var dateFilter time.Time
	if f.Date != "" {
		if dateFilter, err = ParseDate(f.Date); err != nil {
			return nil, apperr.Validation(err.Error())
		}
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	name := strings.ToLower(strings.TrimSpace(f.Name))

	items := make([]sortable, 0, len(rows))
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) == 0 || rows[i][0] == "" {
			continue
		}
		r := FromRow(rows[i])
		day, derr := ParseDate(r.Date)
		dated := derr == nil

		if f.Date != "" && (!dated || !day.Equal(dateFilter)) {
			continue
		}
		if f.Status != "" && !strings.EqualFold(string(r.Status), f.Status) {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(r.Name), name) {
			continue
		}
		switch f.When {
		case WhenPast:
			if !dated || !day.Before(today) {
				continue
			}
		case WhenUpcoming:
			if !dated || day.Before(today) {
				continue
			}
		}

		items = append(items, sortable{
			Listed: Listed{Reservation: r, CouscousDay: dated && day.Weekday() == time.Friday},
			day:    day,
			dated:  dated,
			minute: clock(r.Time),
		})
	}

	sortItems(items, f.Sort)

	out := make([]Listed, len(items))
	for i, it := range items {
		out[i] = it.Listed
	}
	return out, nil
}

func (f Filter) validate() error {
	switch f.When {
	case "", WhenAll, WhenPast, WhenUpcoming:
	default:
		return apperr.Validation("when must be past, upcoming or all")
	}
	switch f.Sort {
	case "", SortChronological, SortReverse, SortGuests:
	default:
		return apperr.Validation("sort must be chronological, reverse or guests")
	}
	if f.Status != "" && !models.ReservationStatus(strings.ToLower(f.Status)).Settable() &&
		models.ReservationStatus(strings.ToLower(f.Status)) != models.StatusConfirming {
		return apperr.Validation("unknown status " + f.Status)
	}
	return nil
}

// Undated rows sort after dated ones.
func chronoLess(a, b sortable) bool {
	if a.dated != b.dated {
		return a.dated
	}
	if !a.day.Equal(b.day) {
		return a.day.Before(b.day)
	}
	return a.minute < b.minute
}

func sortItems(items []sortable, mode string) {
	switch mode {
	case SortReverse:
		sort.SliceStable(items, func(i, j int) bool { return chronoLess(items[j], items[i]) })
	case SortGuests:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Guests != items[j].Guests {
				return items[i].Guests > items[j].Guests
			}
			return chronoLess(items[i], items[j])
		})
	default:
		sort.SliceStable(items, func(i, j int) bool { return chronoLess(items[i], items[j]) })
	}
}

// Conflict is a table held by more than one active reservation at the same
// date and time.
type Conflict struct {
	Date           string   `json:"date"`
	Time           string   `json:"time"`
	Table          string   `json:"table"`
	ReservationIDs []string `json:"reservationIds"`
}

// TableConflicts reports double-booked tables on date, optionally narrowed
// to one time. Cancelled reservations never conflict. Nothing is blocked.
func (m *Manager) TableConflicts(ctx context.Context, date, at string) ([]Conflict, error) {
	day, err := NormalizeDate(date)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	rows, err := m.rows(ctx)
	if err != nil {
		return nil, err
	}

	type slot struct{ time, table string }
	groups := make(map[slot][]string)
	var order []slot
	for i := 1; i < len(rows); i++ {
		r := FromRow(rows[i])
		if r.ID == "" || r.Table == "" || r.Status == models.StatusCancelled {
			continue
		}
		if d, err := NormalizeDate(r.Date); err != nil || d != day {
			continue
		}
		if at != "" && slotTime(r.Time) != slotTime(at) {
			continue
		}
		key := slot{time: slotTime(r.Time), table: r.Table}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r.ID)
	}

	conflicts := make([]Conflict, 0)
	for _, key := range order {
		if ids := groups[key]; len(ids) > 1 {
			conflicts = append(conflicts, Conflict{Date: day, Time: key.time, Table: key.table, ReservationIDs: ids})
		}
	}
	return conflicts, nil
}

// slotTime renders a parseable time as HH:MM so "7:00 PM" and "19:00" match.
func slotTime(s string) string {
	if m := clock(s); m >= 0 {
		return fmt.Sprintf("%02d:%02d", m/60, m%60)
	}
	return strings.TrimSpace(s)
}
