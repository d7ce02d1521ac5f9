package inventory

import (
	"fmt"
	"strings"
	"time"

	"restaurant_ops/pkg/models"
)

type ExpiryStatus string

const (
	Expired      ExpiryStatus = "expired"
	ExpiringSoon ExpiryStatus = "expiring-soon"
	Valid        ExpiryStatus = "valid"
	NoExpiry     ExpiryStatus = "no-expiry"
)

// ExpiringSoonDays is the window in which an item counts as expiring soon.
const ExpiringSoonDays = 7

const ExpiryLayout = "2006-01-02"

var expiryLayouts = []string{ExpiryLayout, "1/2/2006"}

func parseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid expiry date %q", s)
}

// normalizeExpiry returns s as YYYY-MM-DD; empty stays empty.
func normalizeExpiry(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	t, err := parseExpiry(s)
	if err != nil {
		return "", err
	}
	return t.Format(ExpiryLayout), nil
}

// Expiry derives the expiry status of item on the calendar day of now. The
// day count is nil when the item has no (readable) expiry date.
func Expiry(item models.InventoryItem, now time.Time) (ExpiryStatus, *int) {
	if strings.TrimSpace(item.ExpiryDate) == "" {
		return NoExpiry, nil
	}
	exp, err := parseExpiry(item.ExpiryDate)
	if err != nil {
		return NoExpiry, nil
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(exp.Sub(today).Hours() / 24)

	switch {
	case days < 0:
		return Expired, &days
	case days <= ExpiringSoonDays:
		return ExpiringSoon, &days
	default:
		return Valid, &days
	}
}

func IsLowStock(item models.InventoryItem) bool {
	return item.Quantity <= item.MinThreshold
}
