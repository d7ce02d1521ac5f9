package sheet

import (
	"context"
	"errors"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/circuitbreaker"
)

// Guarded fails fast while the wrapped gateway keeps erroring. Caller
// errors (missing credentials, bad input) do not trip the breaker.
type Guarded struct {
	next Gateway
	cb   *circuitbreaker.CircuitBreaker
}

func NewGuarded(next Gateway, cb *circuitbreaker.CircuitBreaker) *Guarded {
	return &Guarded{next: next, cb: cb}
}

func (g *Guarded) Get(ctx context.Context, rng string) ([][]string, error) {
	var rows [][]string
	err := g.do(ctx, func() error {
		var err error
		rows, err = g.next.Get(ctx, rng)
		return err
	})
	return rows, err
}

func (g *Guarded) Append(ctx context.Context, rng string, rows [][]string) error {
	return g.do(ctx, func() error { return g.next.Append(ctx, rng, rows) })
}

func (g *Guarded) Update(ctx context.Context, rng string, rows [][]string) error {
	return g.do(ctx, func() error { return g.next.Update(ctx, rng, rows) })
}

func (g *Guarded) DeleteRows(ctx context.Context, sheet string, start, end int) error {
	return g.do(ctx, func() error { return g.next.DeleteRows(ctx, sheet, start, end) })
}

func (g *Guarded) BatchUpdate(ctx context.Context, data []ValueRange) error {
	return g.do(ctx, func() error { return g.next.BatchUpdate(ctx, data) })
}

func (g *Guarded) do(ctx context.Context, fn func() error) error {
	var callerErr error
	err := g.cb.Execute(ctx, func() error {
		err := fn()
		if err != nil && !apperr.Is(err, apperr.KindUpstream) {
			callerErr = err
			return nil
		}
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return apperr.Upstream("spreadsheet unavailable", err)
	}
	if err != nil {
		return err
	}
	return callerErr
}
