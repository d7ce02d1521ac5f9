package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ReservationStatus string

const (
	StatusPending    ReservationStatus = "pending"
	StatusConfirmed  ReservationStatus = "confirmed"
	StatusWaitlist   ReservationStatus = "waitlist"
	StatusCancelled  ReservationStatus = "cancelled"
	StatusConfirming ReservationStatus = "confirming" // legacy intermediate marker, repaired by the outbox
)

// Settable reports whether a client may move a reservation into s.
func (s ReservationStatus) Settable() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusWaitlist, StatusCancelled:
		return true
	}
	return false
}

// Email queue flags stored in the Reservations M column.
const (
	EmailQueued             = "queued"
	EmailQueuedCancellation = "queuedCancellation"
	EmailSent               = "sent"
	EmailCancellationSent   = "cancellationSent"
	EmailFailed             = "failed"
)

// CheckIn is the tri-state arrival flag: "yes", "no" or unset.
type CheckIn string

const (
	CheckedInYes   CheckIn = "yes"
	CheckedInNo    CheckIn = "no"
	CheckedInUnset CheckIn = ""
)

// UnmarshalJSON accepts "yes"/"no" as well as JSON booleans.
func (c *CheckIn) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*c = CheckedInYes
		} else {
			*c = CheckedInNo
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("checkedIn must be a boolean or yes/no")
	}
	switch CheckIn(strings.ToLower(strings.TrimSpace(s))) {
	case CheckedInYes:
		*c = CheckedInYes
	case CheckedInNo:
		*c = CheckedInNo
	case CheckedInUnset:
		*c = CheckedInUnset
	default:
		return fmt.Errorf("checkedIn must be yes or no, got %q", s)
	}
	return nil
}

type Reservation struct {
	ID         string            `json:"id"`
	Date       string            `json:"date"` // MM/DD/YYYY
	Time       string            `json:"time"`
	Name       string            `json:"name"`
	Guests     int               `json:"guests"`
	Phone      string            `json:"phone,omitempty"`
	Email      string            `json:"email,omitempty"`
	Source     string            `json:"source"`
	Status     ReservationStatus `json:"status"`
	Notes      string            `json:"notes,omitempty"`
	Table      string            `json:"table,omitempty"`
	EmailSent  string            `json:"emailSent,omitempty"`
	EmailQueue string            `json:"emailQueue,omitempty"`
	CheckedIn  CheckIn           `json:"checkedIn,omitempty"`
}

type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"
)

type InventoryItem struct {
	ID              string  `json:"id"`
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
	ExpiryDate      string  `json:"expiryDate,omitempty"`
}

// InventoryMovement is an append-only stock change. ItemID is not checked
// against the Inventory sheet once written, so orphans survive item deletion.
type InventoryMovement struct {
	ID       string       `json:"id"`
	ItemID   string       `json:"itemId"`
	Type     MovementType `json:"type"`
	Quantity float64      `json:"quantity"`
	Date     string       `json:"date"`
	Reason   string       `json:"reason"`
}

type Ingredient struct {
	Name        string  `json:"name"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	CostPerUnit float64 `json:"costPerUnit"`
	TotalCost   float64 `json:"totalCost"`
}

type Recipe struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Servings     int          `json:"servings"`
	Ingredients  []Ingredient `json:"ingredients"`
	LaborCost    float64      `json:"laborCost"`
	OverheadCost float64      `json:"overheadCost"`
	ProfitMargin float64      `json:"profitMargin"`
	CreatedAt    string       `json:"createdAt"`
	UpdatedAt    string       `json:"updatedAt"`
}

// RecipeSummary is the projection kept in the Recipes sheet.
type RecipeSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SheetRow is one spreadsheet row in the SQL-backed gateway.
type SheetRow struct {
	ID        uint   `gorm:"primaryKey"`
	Sheet     string `gorm:"size:100;not null;index:idx_sheet_position,priority:1"`
	Position  int    `gorm:"not null;index:idx_sheet_position,priority:2"`
	Cells     string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SheetRow) TableName() string { return "sheet_rows" }
