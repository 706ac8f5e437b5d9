// Package coordinator propagates changes between stores. It owns a static
// table of edges and a single dispatcher; it never touches store state except
// through the stores' public actions.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"fintrack/internal/apperr"
	"fintrack/internal/auth"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/store"
)

// AuthSource is the root store the coordinator watches.
type AuthSource interface {
	State() auth.State
	Subscribe(fn func(prev, next auth.State)) (unsubscribe func())
}

// Options configures a coordinator.
type Options struct {
	Edges   []Edge // nil means DefaultEdges()
	Logger  *log.Logger
	Metrics *metrics.Collector
}

type Coordinator struct {
	auth     AuthSource
	stores   map[core.Resource]store.Refreshable
	bySource map[core.Resource][]Edge
	logger   *log.Logger
	metrics  *metrics.Collector

	startOnce sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	ctx      context.Context
	unsubs   []func()
	lastAuth bool
	stopped  bool
}

// New validates the edge table against the given stores.
func New(authSrc AuthSource, stores []store.Refreshable, opts Options) (*Coordinator, error) {
	edges := opts.Edges
	if edges == nil {
		edges = DefaultEdges()
	}
	byName := make(map[core.Resource]store.Refreshable, len(stores))
	known := make(map[core.Resource]bool, len(stores))
	for _, s := range stores {
		byName[s.Name()] = s
		known[s.Name()] = true
	}
	if err := validateEdges(edges, known); err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	bySource := map[core.Resource][]Edge{}
	for _, e := range edges {
		bySource[e.Source] = append(bySource[e.Source], e)
	}
	return &Coordinator{
		auth:     authSrc,
		stores:   byName,
		bySource: bySource,
		logger:   log.OrDiscard(opts.Logger).WithComponent(log.ComponentCoordinator),
		metrics:  opts.Metrics,
	}, nil
}

// Start wires the subscriptions. Only the first call has an effect. Fetches
// dispatched later run under ctx.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.ctx = ctx
		c.mu.Unlock()

		for source := range c.bySource {
			if source == core.ResourceAuth {
				continue
			}
			src := c.stores[source]
			unsub := src.Watch(c.onChange)
			c.mu.Lock()
			c.unsubs = append(c.unsubs, unsub)
			c.mu.Unlock()
		}
		unsub := c.auth.Subscribe(func(_, next auth.State) { c.onAuth(next.IsAuthenticated) })
		c.mu.Lock()
		c.unsubs = append(c.unsubs, unsub)
		c.mu.Unlock()

		c.logger.InfoContext(ctx, "coordinator started", "edges", c.edgeCount())

		// A session restored before Start still gets its initial load.
		c.onAuth(c.auth.State().IsAuthenticated)
	})
}

// Stop removes every subscription. Effects already dispatched keep running.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.stopped = true
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Wait blocks until every dispatched fetch has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Invalidate refreshes resource because something outside this process
// changed it. Its own edges then fire as for any other change.
func (c *Coordinator) Invalidate(ctx context.Context, resource core.Resource) error {
	target, ok := c.stores[resource]
	if !ok {
		return fmt.Errorf("invalidate %q: %w", resource, ErrUnknownStore)
	}
	if !c.auth.State().IsAuthenticated {
		return apperr.Unauthenticated()
	}
	c.logger.DebugContext(ctx, "external invalidation", log.FieldOperation, log.OpInvalidate, log.FieldStore, string(resource))
	return target.FetchAll(ctx)
}

func (c *Coordinator) edgeCount() int {
	n := 0
	for _, es := range c.bySource {
		n += len(es)
	}
	return n
}

func (c *Coordinator) onAuth(authenticated bool) {
	c.mu.Lock()
	if c.stopped || authenticated == c.lastAuth {
		c.mu.Unlock()
		return
	}
	c.lastAuth = authenticated
	c.mu.Unlock()

	when := SignedOut
	if authenticated {
		when = SignedIn
	}
	c.dispatch(core.ResourceAuth, when)
}

func (c *Coordinator) onChange(ch store.Change) {
	if !ch.Replaced() {
		return
	}
	c.mu.Lock()
	active := !c.stopped && c.lastAuth
	c.mu.Unlock()
	if !active || !c.auth.State().IsAuthenticated {
		return
	}
	c.dispatch(ch.Store, DataChanged)
}

func (c *Coordinator) dispatch(source core.Resource, when Condition) {
	for _, e := range c.bySource[source] {
		if e.When != when {
			continue
		}
		c.apply(e)
	}
}

func (c *Coordinator) apply(e Edge) {
	target := c.stores[e.Target]
	c.metrics.ObserveEffect(e.Name, string(e.Target), string(e.Effect))

	switch e.Effect {
	case EffectReset:
		target.Reset()
		c.logger.Debug("reset", log.FieldEdge, e.Name, log.FieldStore, string(e.Target))
	case EffectFetch:
		c.mu.Lock()
		ctx := c.ctx
		c.mu.Unlock()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := target.FetchAll(ctx); err != nil {
				c.logger.WarnContext(ctx, "dependent fetch failed",
					log.FieldEdge, e.Name,
					log.FieldStore, string(e.Target),
					log.FieldError, err.Error())
			}
		}()
	}
}
