// Package orchestrator runs business operations that span several stores:
// a write through the owning store followed by a refresh of everything
// derived from it.
package orchestrator

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// Session reports whether a user is signed in.
type Session interface {
	IsAuthenticated() bool
}

// Notifier announces a committed write to other processes of the same user.
type Notifier interface {
	Announce(ctx context.Context, resource core.Resource) error
}

var (
	// IncomeDependents are refreshed after a credit write.
	IncomeDependents = []core.Resource{
		core.ResourceBalance,
		core.ResourceGoal,
		core.ResourceCurrentGoal,
		core.ResourceRecommendation,
		core.ResourceReminder,
	}
	SpendingDependents = []core.Resource{
		core.ResourceBalance,
		core.ResourceCategory,
		core.ResourceGoal,
		core.ResourceCurrentGoal,
		core.ResourceRecommendation,
		core.ResourceReminder,
	}
	GoalDependents = []core.Resource{
		core.ResourceCurrentGoal,
		core.ResourceRecommendation,
		core.ResourceReminder,
	}
)

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	session Session
	stores  *store.Set
	byName  map[core.Resource]store.Refreshable
	logger  *log.Logger

	mu       sync.RWMutex
	notifier Notifier
}

func New(session Session, stores *store.Set, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		session: session,
		stores:  stores,
		byName:  stores.ByResource(),
		logger:  log.OrDiscard(logger).WithComponent(log.ComponentOrchestrator),
	}
}

// SetNotifier installs n; nil disables announcements.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifier = n
}

func (o *Orchestrator) AddIncome(ctx context.Context, in core.CreditInput) (core.Credit, error) {
	return run(ctx, o, core.ResourceCredit, log.OpCreate, IncomeDependents, func(ctx context.Context) (core.Credit, error) {
		return o.stores.Credits.Create(ctx, in)
	})
}

func (o *Orchestrator) UpdateIncome(ctx context.Context, id int64, in core.CreditInput) (core.Credit, error) {
	return run(ctx, o, core.ResourceCredit, log.OpUpdate, IncomeDependents, func(ctx context.Context) (core.Credit, error) {
		return o.stores.Credits.Update(ctx, id, in)
	})
}

func (o *Orchestrator) DeleteIncome(ctx context.Context, id int64) error {
	_, err := run(ctx, o, core.ResourceCredit, log.OpDelete, IncomeDependents, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.stores.Credits.Delete(ctx, id)
	})
	return err
}

func (o *Orchestrator) AddSpending(ctx context.Context, in core.SpendingInput) (core.Spending, error) {
	return run(ctx, o, core.ResourceSpending, log.OpCreate, SpendingDependents, func(ctx context.Context) (core.Spending, error) {
		return o.stores.Spendings.Create(ctx, in)
	})
}

func (o *Orchestrator) UpdateSpending(ctx context.Context, id int64, in core.SpendingInput) (core.Spending, error) {
	return run(ctx, o, core.ResourceSpending, log.OpUpdate, SpendingDependents, func(ctx context.Context) (core.Spending, error) {
		return o.stores.Spendings.Update(ctx, id, in)
	})
}

func (o *Orchestrator) DeleteSpending(ctx context.Context, id int64) error {
	_, err := run(ctx, o, core.ResourceSpending, log.OpDelete, SpendingDependents, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.stores.Spendings.Delete(ctx, id)
	})
	return err
}

func (o *Orchestrator) CreateGoal(ctx context.Context, in core.GoalInput) (core.Goal, error) {
	return run(ctx, o, core.ResourceGoal, log.OpCreate, GoalDependents, func(ctx context.Context) (core.Goal, error) {
		return o.stores.Goals.Create(ctx, in)
	})
}

func (o *Orchestrator) UpdateGoal(ctx context.Context, id int64, in core.GoalInput) (core.Goal, error) {
	return run(ctx, o, core.ResourceGoal, log.OpUpdate, GoalDependents, func(ctx context.Context) (core.Goal, error) {
		return o.stores.Goals.Update(ctx, id, in)
	})
}

func (o *Orchestrator) DeleteGoal(ctx context.Context, id int64) error {
	_, err := run(ctx, o, core.ResourceGoal, log.OpDelete, GoalDependents, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.stores.Goals.Delete(ctx, id)
	})
	return err
}

// run performs write and, once it has committed, refreshes dependents
// concurrently. A failed refresh does not cancel its siblings.
func run[R any](ctx context.Context, o *Orchestrator, owner core.Resource, op string, dependents []core.Resource, write func(context.Context) (R, error)) (R, error) {
	if !o.session.IsAuthenticated() {
		var zero R
		return zero, apperr.Unauthenticated()
	}

	rec, err := write(ctx)
	var stale *store.StaleError
	if err != nil && !errors.As(err, &stale) {
		o.logger.WarnContext(ctx, "write failed", log.FieldStore, string(owner), log.FieldOperation, op, log.FieldError, err.Error())
		return rec, err
	}
	// Signed out while the write was in flight: the stores are reset and
	// must stay that way.
	if !o.session.IsAuthenticated() {
		o.logger.InfoContext(ctx, "session ended during write, skipping refresh", log.FieldStore, string(owner), log.FieldOperation, op)
		return rec, nil
	}

	o.announce(ctx, owner)

	refreshErr := o.refresh(ctx, dependents)
	if stale != nil {
		return rec, stale
	}
	if refreshErr != nil {
		o.logger.WarnContext(ctx, "dependent refresh failed after write",
			log.FieldStore, string(refreshErr.Store),
			log.FieldOperation, op,
			log.FieldError, refreshErr.Err.Message)
		return rec, refreshErr
	}
	return rec, nil
}

// refresh returns the first dependent failure.
func (o *Orchestrator) refresh(ctx context.Context, dependents []core.Resource) *store.StaleError {
	var g errgroup.Group
	for _, r := range dependents {
		r := r
		target, ok := o.byName[r]
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := target.FetchAll(ctx); err != nil {
				info, ok := apperr.As(err)
				if !ok {
					info = apperr.NewTranslator(string(r)).Translate(err)
				}
				return &store.StaleError{Store: r, Err: info}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var stale *store.StaleError
		if errors.As(err, &stale) {
			return stale
		}
	}
	return nil
}

func (o *Orchestrator) announce(ctx context.Context, resource core.Resource) {
	o.mu.RLock()
	n := o.notifier
	o.mu.RUnlock()
	if n == nil {
		return
	}
	if err := n.Announce(ctx, resource); err != nil {
		o.logger.WarnContext(ctx, "announce failed", log.FieldStore, string(resource), log.FieldError, err.Error())
	}
}
