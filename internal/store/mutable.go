package store

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
	"fintrack/internal/gateway"
	"fintrack/internal/log"
)

// Resync brings a store back in line with the server after a committed
// write. reload performs a fetch that is guaranteed to start after the write.
type Resync interface {
	Resync(ctx context.Context, reload func(context.Context) error) error
}

// FullReload refetches the whole resource.
type FullReload struct{}

func (FullReload) Resync(ctx context.Context, reload func(context.Context) error) error {
	return reload(ctx)
}

// ResyncFunc adapts a function to Resync.
type ResyncFunc func(ctx context.Context, reload func(context.Context) error) error

func (f ResyncFunc) Resync(ctx context.Context, reload func(context.Context) error) error {
	return f(ctx, reload)
}

// StaleError reports a write that committed on the server while the
// follow-up refresh of Store failed. The write is not rolled back.
type StaleError struct {
	Store core.Resource
	Err   *apperr.Info
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("%s refresh failed after write: %s", e.Store, e.Err.Message)
}

func (e *StaleError) Unwrap() error {
	return e.Err
}

// IsStale reports whether err is a *StaleError.
func IsStale(err error) bool {
	var se *StaleError
	return errors.As(err, &se)
}

type validator interface {
	Validate() error
}

// Mutable adds writes to a store. T is the store's data, R a record and In
// its write payload.
type Mutable[T, R, In any] struct {
	*Store[T]
	writer gateway.Writer[R, In]
}

// NewMutable creates a writable store.
func NewMutable[T, R, In any](name core.Resource, fetch func(context.Context) (T, error), w gateway.Writer[R, In], opts ...Option) *Mutable[T, R, In] {
	return &Mutable[T, R, In]{Store: New(name, fetch, opts...), writer: w}
}

// NewCollection creates a writable list store over a gateway collection.
func NewCollection[R, In any](name core.Resource, col gateway.Collection[R, In], opts ...Option) *Mutable[[]R, R, In] {
	return NewMutable[[]R, R, In](name, col.List, col, opts...)
}

func validate(in any) error {
	if v, ok := in.(validator); ok {
		return v.Validate()
	}
	return nil
}

// Create writes a new record and resynchronizes. On a failed resync the
// record is returned together with a *StaleError.
func (m *Mutable[T, R, In]) Create(ctx context.Context, in In) (R, error) {
	var rec R
	err := m.mutate(ctx, log.OpCreate, func(ctx context.Context) error {
		if err := validate(in); err != nil {
			return err
		}
		var err error
		rec, err = m.writer.Create(ctx, in)
		return err
	})
	return finish(rec, err)
}

func (m *Mutable[T, R, In]) Update(ctx context.Context, id int64, in In) (R, error) {
	var rec R
	err := m.mutate(ctx, log.OpUpdate, func(ctx context.Context) error {
		if err := validate(in); err != nil {
			return err
		}
		var err error
		rec, err = m.writer.Update(ctx, id, in)
		return err
	})
	return finish(rec, err)
}

func (m *Mutable[T, R, In]) Delete(ctx context.Context, id int64) error {
	return m.mutate(ctx, log.OpDelete, func(ctx context.Context) error {
		return m.writer.Delete(ctx, id)
	})
}

func finish[R any](rec R, err error) (R, error) {
	if err != nil && !IsStale(err) {
		var zero R
		return zero, err
	}
	return rec, err
}

// CurrentGoal is the goal sub-resource credits are saved toward. The server
// answers "no current goal found" when none is selected, which the store
// commits as empty data.
type CurrentGoal struct {
	*Store[core.Goal]
	api gateway.CurrentGoalAPI
}

func NewCurrentGoal(api gateway.CurrentGoalAPI, opts ...Option) *CurrentGoal {
	opts = append(opts[:len(opts):len(opts)], WithAbsence())
	return &CurrentGoal{Store: New(core.ResourceCurrentGoal, api.Get, opts...), api: api}
}

// Select makes goalID the current goal.
func (c *CurrentGoal) Select(ctx context.Context, goalID int64) (core.Goal, error) {
	var g core.Goal
	err := c.mutate(ctx, log.OpUpdate, func(ctx context.Context) error {
		var err error
		g, err = c.api.Select(ctx, goalID)
		return err
	})
	return finish(g, err)
}
