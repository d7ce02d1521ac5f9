package reservation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/sheet"
)

// Column offsets in the Reservations sheet.
const (
	colID = iota
	colDate
	colTime
	colName
	colGuests
	colPhone
	colEmail
	colSource
	colStatus
	colNotes
	colTable
	colEmailSent
	colEmailQueue
	colCheckedIn
	numCols
)

const DateLayout = "01/02/2006"

var dateLayouts = []string{"1/2/2006", "2006-01-02"}

// ParseDate accepts M/D/YYYY, MM/DD/YYYY and YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// NormalizeDate returns s in the stored MM/DD/YYYY form.
func NormalizeDate(s string) (string, error) {
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

var timeLayouts = []string{"15:04", "3:04 PM", "3:04PM", "3 PM", "3PM", "15:04:05"}

// clock converts a reservation time to minutes after midnight, -1 if unknown.
func clock(s string) int {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute()
		}
	}
	return -1
}

func FromRow(row []string) models.Reservation {
	row = sheet.Pad(row, numCols)
	guests, _ := strconv.Atoi(strings.TrimSpace(row[colGuests]))
	return models.Reservation{
		ID:         row[colID],
		Date:       row[colDate],
		Time:       row[colTime],
		Name:       row[colName],
		Guests:     guests,
		Phone:      row[colPhone],
		Email:      row[colEmail],
		Source:     row[colSource],
		Status:     models.ReservationStatus(strings.ToLower(strings.TrimSpace(row[colStatus]))),
		Notes:      row[colNotes],
		Table:      row[colTable],
		EmailSent:  row[colEmailSent],
		EmailQueue: row[colEmailQueue],
		CheckedIn:  models.CheckIn(strings.ToLower(strings.TrimSpace(row[colCheckedIn]))),
	}
}

func ToRow(r models.Reservation) []string {
	row := make([]string, numCols)
	row[colID] = r.ID
	row[colDate] = r.Date
	row[colTime] = r.Time
	row[colName] = r.Name
	row[colGuests] = strconv.Itoa(r.Guests)
	row[colPhone] = r.Phone
	row[colEmail] = r.Email
	row[colSource] = r.Source
	row[colStatus] = string(r.Status)
	row[colNotes] = r.Notes
	row[colTable] = r.Table
	row[colEmailSent] = r.EmailSent
	row[colEmailQueue] = r.EmailQueue
	row[colCheckedIn] = string(r.CheckedIn)
	return row
}
