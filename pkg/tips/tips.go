// Package tips splits a tip pool between roles by hours worked.
package tips

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Role struct {
	Role         string  `json:"role"`
	Count        int     `json:"count"`
	Hours        float64 `json:"hours"`
	TipsReceived bool    `json:"tipsReceived"`
}

type Share struct {
	Role         string  `json:"role"`
	Count        int     `json:"count"`
	Hours        float64 `json:"hours"`
	Share        float64 `json:"share"`
	PerPerson    float64 `json:"perPerson"`
	TipsReceived bool    `json:"tipsReceived"`
}

func finiteNonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

func Validate(roles []Role, total float64) error {
	if !finiteNonNegative(total) {
		return fmt.Errorf("totalTips must be a non-negative number")
	}
	seen := make(map[string]bool)
	for _, r := range roles {
		name := strings.TrimSpace(r.Role)
		if name == "" {
			return fmt.Errorf("role name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate role %q", name)
		}
		seen[name] = true
		if r.Count < 0 || !finiteNonNegative(r.Hours) {
			return fmt.Errorf("role %q: count and hours must be non-negative", name)
		}
	}
	return nil
}

// Distribute weights each role by hours × count and splits total in that
// proportion. Amounts are rounded to cents. When every weight is zero all
// shares are zero.
func Distribute(roles []Role, total float64) []Share {
	weights := make([]decimal.Decimal, len(roles))
	sum := decimal.Zero
	for i, r := range roles {
		weights[i] = decimal.NewFromFloat(r.Hours).Mul(decimal.NewFromInt(int64(r.Count)))
		sum = sum.Add(weights[i])
	}

	pool := decimal.NewFromFloat(total)
	shares := make([]Share, len(roles))
	for i, r := range roles {
		s := Share{Role: r.Role, Count: r.Count, Hours: r.Hours, TipsReceived: r.TipsReceived}
		if sum.IsPositive() {
			share := weights[i].Div(sum).Mul(pool)
			s.Share = share.Round(2).InexactFloat64()
			if r.Count > 0 {
				s.PerPerson = share.Div(decimal.NewFromInt(int64(r.Count))).Round(2).InexactFloat64()
			}
		}
		shares[i] = s
	}
	return shares
}

type Event struct {
	Role     string    `json:"role"`
	Received bool      `json:"received"`
	At       time.Time `json:"at"`
}

// Session holds one calculator's roles, pool and received-toggle history.
// Nothing in it is persisted.
type Session struct {
	mu      sync.Mutex
	roles   []Role
	total   float64
	history []Event
}

func NewSession(roles []Role, total float64) (*Session, error) {
	if err := Validate(roles, total); err != nil {
		return nil, err
	}
	cp := make([]Role, len(roles))
	copy(cp, roles)
	return &Session{roles: cp, total: total}, nil
}

func (s *Session) SetTotal(total float64) error {
	if !finiteNonNegative(total) {
		return fmt.Errorf("totalTips must be a non-negative number")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = total
	return nil
}

// SetRole adds r or replaces the role with the same name, keeping its
// received flag.
func (s *Session) SetRole(r Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.roles {
		if existing.Role == r.Role {
			r.TipsReceived = existing.TipsReceived
			next := append([]Role(nil), s.roles...)
			next[i] = r
			if err := Validate(next, s.total); err != nil {
				return err
			}
			s.roles = next
			return nil
		}
	}
	next := append(append([]Role(nil), s.roles...), r)
	if err := Validate(next, s.total); err != nil {
		return err
	}
	s.roles = next
	return nil
}

func (s *Session) RemoveRole(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.roles {
		if r.Role == name {
			s.roles = append(s.roles[:i:i], s.roles[i+1:]...)
			return true
		}
	}
	return false
}

// ToggleReceived flips the role's received flag and records the change.
func (s *Session) ToggleReceived(role string, at time.Time) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.roles {
		if s.roles[i].Role == role {
			s.roles[i].TipsReceived = !s.roles[i].TipsReceived
			ev := Event{Role: role, Received: s.roles[i].TipsReceived, At: at}
			s.history = append(s.history, ev)
			return ev, nil
		}
	}
	return Event{}, fmt.Errorf("unknown role %q", role)
}

func (s *Session) Distribution() []Share {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Distribute(s.roles, s.total)
}

func (s *Session) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.history))
	copy(out, s.history)
	return out
}
