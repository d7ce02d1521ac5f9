package reservation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/sheet"
)

// PendingEmails returns every reservation whose email flag is queued.
// Rows left in the old "confirming" state are first moved to confirmed with
// a queued confirmation email.
func (m *Manager) PendingEmails(ctx context.Context) ([]models.Reservation, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rows, err := m.rows(ctx)
	if err != nil {
		return nil, err
	}

	var repairs []sheet.ValueRange
	pending := make([]models.Reservation, 0)
	for i := 1; i < len(rows); i++ {
		r := FromRow(rows[i])
		if r.ID == "" {
			continue
		}
		if r.Status == models.StatusConfirming {
			before := ToRow(r)
			r.Status = models.StatusConfirmed
			if r.EmailQueue != models.EmailSent {
				r.EmailQueue = models.EmailQueued
			}
			repairs = append(repairs, diff(sheet.RowNumber(i), before, ToRow(r))...)
			m.logger.Warn("repairing reservation stuck in confirming", zap.String("id", r.ID))
		}
		if r.EmailQueue == models.EmailQueued || r.EmailQueue == models.EmailQueuedCancellation {
			pending = append(pending, r)
		}
	}

	if len(repairs) > 0 {
		if err := m.gw.BatchUpdate(ctx, repairs); err != nil {
			return nil, apperr.Upstream("repair confirming reservations", err)
		}
	}
	return pending, nil
}

// MarkEmail moves the email flag from expect to flag and, for delivered
// emails, stamps the emailSent column. It reports false without writing
// when the flag no longer equals expect, e.g. a confirmation that was
// cancelled while it was being sent.
func (m *Manager) MarkEmail(ctx context.Context, id, expect, flag string, at time.Time) (bool, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	rows, idx, err := m.locate(ctx, id)
	if err != nil {
		return false, err
	}
	before := FromRow(rows[idx])
	if before.EmailQueue != expect {
		return false, nil
	}

	after := before
	after.EmailQueue = flag
	if flag == models.EmailSent || flag == models.EmailCancellationSent {
		after.EmailSent = at.UTC().Format(time.RFC3339)
	}
	writes := diff(sheet.RowNumber(idx), ToRow(before), ToRow(after))
	if len(writes) == 0 {
		return true, nil
	}
	if err := m.gw.BatchUpdate(ctx, writes); err != nil {
		return false, apperr.Upstream("mark email", err)
	}
	m.publish(Change{Type: Updated, Reservation: after, Previous: &before})
	return true, nil
}
