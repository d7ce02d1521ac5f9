// Package notify delivers the email jobs queued in the Reservations sheet.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/queue"
)

// Outbox is the part of the reservation manager the dispatcher drives.
type Outbox interface {
	PendingEmails(ctx context.Context) ([]models.Reservation, error)
	MarkEmail(ctx context.Context, id, expect, flag string, at time.Time) (bool, error)
}

// Outcome labels passed to the result hook.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeDeferred = "deferred"
	OutcomeSkipped  = "skipped"
)

type Result struct {
	Sent     int
	Failed   int
	Deferred int
	Skipped  int
}

type Dispatcher struct {
	outbox      Outbox
	publisher   Publisher
	retries     *queue.Queue
	maxAttempts int
	logger      *zap.Logger

	now      func() time.Time
	onResult func(kind Kind, outcome string)
}

func NewDispatcher(outbox Outbox, publisher Publisher, retries *queue.Queue, maxAttempts int, logger *zap.Logger) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{
		outbox:      outbox,
		publisher:   publisher,
		retries:     retries,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

// OnResult registers a hook called once per processed job.
func (d *Dispatcher) OnResult(fn func(kind Kind, outcome string)) {
	d.onResult = fn
}

func (d *Dispatcher) record(res *Result, kind Kind, outcome string) {
	switch outcome {
	case OutcomeSent:
		res.Sent++
	case OutcomeFailed:
		res.Failed++
	case OutcomeDeferred:
		res.Deferred++
	case OutcomeSkipped:
		res.Skipped++
	}
	if d.onResult != nil {
		d.onResult(kind, outcome)
	}
}

func jobFor(r models.Reservation) (kind Kind, done string, ok bool) {
	switch r.EmailQueue {
	case models.EmailQueued:
		return KindConfirmation, models.EmailSent, true
	case models.EmailQueuedCancellation:
		return KindCancellation, models.EmailCancellationSent, true
	}
	return "", "", false
}

func MessageKey(id string, kind Kind) string {
	return id + ":" + string(kind)
}

// RunOnce publishes every queued email whose backoff has elapsed. A job is
// marked sent only after the publisher accepted it, so a crash in between
// leads to a second delivery rather than a lost one.
func (d *Dispatcher) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	pending, err := d.outbox.PendingEmails(ctx)
	if err != nil {
		return res, err
	}

	live := make(map[string]bool, len(pending))
	for _, r := range pending {
		if kind, _, ok := jobFor(r); ok {
			live[MessageKey(r.ID, kind)] = true
		}
	}
	d.retries.Retain(live)

	var errs []error
	for _, r := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		kind, done, ok := jobFor(r)
		if !ok {
			continue
		}
		key := MessageKey(r.ID, kind)
		now := d.now()

		if !d.retries.Ready(key, now) {
			d.record(&res, kind, OutcomeDeferred)
			continue
		}

		if strings.TrimSpace(r.Email) == "" {
			d.logger.Warn("reservation has no email address", zap.String("id", r.ID), zap.String("kind", string(kind)))
			if err := d.markFailed(ctx, r, key, now); err != nil {
				errs = append(errs, err)
				continue
			}
			d.record(&res, kind, OutcomeFailed)
			continue
		}

		msg := Message{
			Key:           key,
			Kind:          kind,
			ReservationID: r.ID,
			Name:          r.Name,
			Email:         r.Email,
			Date:          r.Date,
			Time:          r.Time,
			Guests:        r.Guests,
			Table:         r.Table,
			QueuedAt:      now.UTC(),
		}
		if err := d.publisher.Publish(ctx, msg); err != nil {
			job := d.retries.Fail(key, err, now)
			if job.Attempts >= d.maxAttempts {
				d.logger.Error("giving up on email",
					zap.String("key", key), zap.Int("attempts", job.Attempts), zap.Error(err))
				if err := d.markFailed(ctx, r, key, now); err != nil {
					errs = append(errs, err)
					continue
				}
				d.record(&res, kind, OutcomeFailed)
				continue
			}
			d.logger.Warn("email publish failed, will retry",
				zap.String("key", key), zap.Int("attempts", job.Attempts), zap.Time("retryAt", job.RetryAt), zap.Error(err))
			d.record(&res, kind, OutcomeDeferred)
			continue
		}

		marked, err := d.outbox.MarkEmail(ctx, r.ID, r.EmailQueue, done, now)
		if err != nil {
			d.logger.Error("email published but not marked", zap.String("key", key), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		d.retries.Remove(key)
		if !marked {
			d.logger.Info("email flag changed during delivery", zap.String("key", key))
			d.record(&res, kind, OutcomeSkipped)
			continue
		}
		d.logger.Info("email dispatched", zap.String("key", key))
		d.record(&res, kind, OutcomeSent)
	}
	return res, errors.Join(errs...)
}

func (d *Dispatcher) markFailed(ctx context.Context, r models.Reservation, key string, now time.Time) error {
	if _, err := d.outbox.MarkEmail(ctx, r.ID, r.EmailQueue, models.EmailFailed, now); err != nil {
		d.logger.Error("mark email failed", zap.String("key", key), zap.Error(err))
		return err
	}
	d.retries.Remove(key)
	return nil
}

// Run calls RunOnce every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("email dispatcher started", zap.Duration("interval", interval))
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("email dispatch pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			d.logger.Info("email dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}
