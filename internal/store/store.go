// Package store holds the client-side containers for every remote resource.
//
// A Store owns one State and changes it only through its own actions. Each
// state change is delivered to subscribers in registration order, outside the
// store's lock, in the order the changes were made.
package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
)

// State is the observable content of a store.
type State[T any] struct {
	// Data is nil until the first successful fetch and after Reset.
	Data    *T
	Loading bool
	Error   *apperr.Info
	// Revision increments each time Data is replaced. It never goes back,
	// not even on Reset.
	Revision uint64
}

// Change is the type-erased form of a state transition.
type Change struct {
	Store        core.Resource
	PrevRevision uint64
	Revision     uint64
	PrevHasData  bool
	HasData      bool
	Loading      bool
	Error        *apperr.Info
}

// DataChanged reports whether the transition replaced Data.
func (c Change) DataChanged() bool {
	return c.Revision != c.PrevRevision
}

// Replaced reports whether loaded data was replaced by newer loaded data.
// The first load after sign-in or Reset is not a replacement.
func (c Change) Replaced() bool {
	return c.DataChanged() && c.PrevHasData && c.HasData
}

// Refreshable is the part of a store the coordinator drives.
type Refreshable interface {
	Name() core.Resource
	FetchAll(ctx context.Context) error
	Reset()
	ClearError()
	Watch(fn func(Change)) (unsubscribe func())
}

type options struct {
	logger  *log.Logger
	metrics *metrics.Collector
	absence bool
	resync  Resync
}

// Option configures a store.
type Option func(*options)

func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithAbsence makes the store commit its domain's "nothing exists yet"
// answer as an empty success instead of an error.
func WithAbsence() Option {
	return func(o *options) { o.absence = true }
}

// WithResync replaces the post-write resynchronization strategy.
func WithResync(r Resync) Option {
	return func(o *options) { o.resync = r }
}

type subscriber[T any] struct {
	id int
	fn func(prev, next State[T])
}

type event[T any] struct {
	prev, next State[T]
}

// Store is a read-only resource container.
type Store[T any] struct {
	name    core.Resource
	fetcher func(ctx context.Context) (T, error)
	tr      *apperr.Translator
	opts    options
	logger  *log.Logger
	group   singleflight.Group

	mu          sync.Mutex
	state       State[T]
	gen         uint64 // bumped by Reset; results of older generations are dropped
	fetching    bool
	writing     int
	flightSeq   uint64 // sequence of the last started fetch
	doneSeq     uint64 // sequence of the last committed fetch
	subs        []subscriber[T]
	nextSubID   int
	pending     []event[T]
	dispatching bool
}

// New creates a store named after its resource. The name selects the error
// translator domain.
func New[T any](name core.Resource, fetch func(ctx context.Context) (T, error), opts ...Option) *Store[T] {
	o := options{resync: FullReload{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T]{
		name:    name,
		fetcher: fetch,
		tr:      apperr.NewTranslator(string(name)),
		opts:    o,
		logger:  log.OrDiscard(o.logger).WithComponent(log.ComponentStore).With(log.FieldStore, string(name)),
	}
}

func (s *Store[T]) Name() core.Resource {
	return s.name
}

// State returns a snapshot of the current state.
func (s *Store[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Data returns the loaded value, if any.
func (s *Store[T]) Data() (T, bool) {
	st := s.State()
	if st.Data == nil {
		var zero T
		return zero, false
	}
	return *st.Data, true
}

// Subscribe registers fn for every state change and returns a function that
// removes it.
func (s *Store[T]) Subscribe(fn func(prev, next State[T])) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Watch is Subscribe without the type parameter.
func (s *Store[T]) Watch(fn func(Change)) (unsubscribe func()) {
	return s.Subscribe(func(prev, next State[T]) {
		fn(Change{
			Store:        s.name,
			PrevRevision: prev.Revision,
			Revision:     next.Revision,
			PrevHasData:  prev.Data != nil,
			HasData:      next.Data != nil,
			Loading:      next.Loading,
			Error:        next.Error,
		})
	})
}

// FetchAll loads the resource. While a fetch is outstanding the call joins
// it and returns its outcome. While only a write is outstanding it returns
// nil at once; the write resynchronizes the store itself.
func (s *Store[T]) FetchAll(ctx context.Context) error {
	s.mu.Lock()
	if s.writing > 0 && !s.fetching {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "fetch skipped, write in progress")
		return nil
	}
	s.mu.Unlock()
	return s.fetch(ctx)
}

// fetch joins the outstanding fetch of the current generation or starts one.
// The first caller's context governs the shared request.
func (s *Store[T]) fetch(ctx context.Context) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	_, err, shared := s.group.Do("fetch:"+strconv.FormatUint(gen, 10), func() (any, error) {
		return nil, s.runFetch(ctx, gen)
	})
	if shared {
		s.logger.DebugContext(ctx, "joined outstanding fetch")
	}
	return err
}

// fetchAfter returns once a fetch that started after mark has completed.
func (s *Store[T]) fetchAfter(ctx context.Context, mark uint64) error {
	for i := 0; i < 2; i++ {
		if err := s.fetch(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		done := s.doneSeq
		s.mu.Unlock()
		if done > mark {
			return nil
		}
	}
	return nil
}

func (s *Store[T]) runFetch(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.fetching = true
	s.flightSeq++
	seq := s.flightSeq
	s.state.Loading = true
	s.commitLocked(prev)
	s.mu.Unlock()
	s.flush()

	start := time.Now()
	v, err := s.fetcher(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.opts.metrics.ObserveFetch(string(s.name), "stale", elapsed)
		s.logger.DebugContext(ctx, "dropped fetch result after reset", log.FieldGeneration, gen)
		return nil
	}
	prev = s.state
	s.fetching = false
	s.doneSeq = seq
	s.state.Loading = s.writing > 0

	var result error
	outcome := "ok"
	switch {
	case err == nil:
		s.state.Data = &v
		s.state.Error = nil
		s.state.Revision++
	case s.opts.absence && s.tr.IsAbsence(err):
		outcome = "absent"
		s.state.Data = nil
		s.state.Error = nil
		s.state.Revision++
	default:
		outcome = "error"
		info := s.tr.Translate(err)
		// Previous data stays visible next to the error.
		s.state.Error = info
		result = info
	}
	s.commitLocked(prev)
	s.mu.Unlock()
	s.flush()

	s.opts.metrics.ObserveFetch(string(s.name), outcome, elapsed)
	if result != nil {
		s.logger.WarnContext(ctx, "fetch failed",
			log.FieldOperation, log.OpFetch,
			log.FieldError, err.Error(),
			log.FieldDuration, elapsed.Milliseconds())
	} else {
		s.logger.DebugContext(ctx, "fetch completed",
			log.FieldOperation, log.OpFetch,
			log.FieldDuration, elapsed.Milliseconds(),
			"outcome", outcome)
	}
	return result
}

// Reset returns the store to its initial state and drops the result of any
// outstanding request.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	prev := s.state
	s.gen++
	s.fetching = false
	s.writing = 0
	rev := prev.Revision
	if prev.Data != nil {
		rev++
	}
	s.state = State[T]{Revision: rev}
	changed := s.commitLocked(prev)
	s.mu.Unlock()
	s.flush()
	if changed {
		s.logger.Debug("reset", log.FieldOperation, log.OpReset)
	}
}

// ClearError drops the current error and nothing else.
func (s *Store[T]) ClearError() {
	s.mu.Lock()
	prev := s.state
	s.state.Error = nil
	s.commitLocked(prev)
	s.mu.Unlock()
	s.flush()
}

// beginWrite marks a write as outstanding and returns its generation.
func (s *Store[T]) beginWrite() uint64 {
	s.mu.Lock()
	prev := s.state
	s.writing++
	s.state.Loading = true
	gen := s.gen
	s.commitLocked(prev)
	s.mu.Unlock()
	s.flush()
	return gen
}

// endWrite clears the write's hold on Loading and records a failure. It
// returns the latest started fetch sequence so the resync can tell results
// that predate the write from fresh ones. current is false when Reset ran
// while the write was outstanding.
func (s *Store[T]) endWrite(gen uint64, err error) (mark uint64, current bool, _ error) {
	var info *apperr.Info
	if err != nil {
		info = s.tr.Translate(err)
	}
	s.mu.Lock()
	prev := s.state
	current = s.gen == gen
	if current {
		s.writing--
		s.state.Loading = s.fetching || s.writing > 0
		if info != nil {
			s.state.Error = info
		}
	}
	mark = s.flightSeq
	s.commitLocked(prev)
	s.mu.Unlock()
	s.flush()
	if info != nil {
		return mark, current, info
	}
	return mark, current, nil
}

// mutate runs a write and resynchronizes the store afterwards. A failed
// write returns its translated error; a failed resync returns *StaleError.
// A store reset during the write stays reset.
func (s *Store[T]) mutate(ctx context.Context, op string, do func(context.Context) error) error {
	start := time.Now()
	mark, current, err := s.runWrite(ctx, do)
	s.opts.metrics.ObserveWrite(string(s.name), op, err)
	if err != nil {
		s.logger.WarnContext(ctx, "write failed", log.FieldOperation, op, log.FieldError, err.Error())
		return err
	}
	s.logger.InfoContext(ctx, "write committed", log.FieldOperation, op, log.FieldDuration, time.Since(start).Milliseconds())
	if !current {
		s.logger.DebugContext(ctx, "store reset during write, skipping resync", log.FieldOperation, op)
		return nil
	}

	if rerr := s.opts.resync.Resync(ctx, func(ctx context.Context) error {
		return s.fetchAfter(ctx, mark)
	}); rerr != nil {
		return &StaleError{Store: s.name, Err: s.tr.Translate(rerr)}
	}
	return nil
}

func (s *Store[T]) runWrite(ctx context.Context, do func(context.Context) error) (mark uint64, current bool, err error) {
	gen := s.beginWrite()
	defer func() {
		mark, current, err = s.endWrite(gen, err)
	}()
	return 0, false, do(ctx)
}

// commitLocked queues a notification when the state differs from prev.
// s.mu must be held.
func (s *Store[T]) commitLocked(prev State[T]) bool {
	next := s.state
	if prev == next {
		return false
	}
	if prev.Loading != next.Loading {
		s.opts.metrics.SetLoading(string(s.name), next.Loading)
	}
	s.pending = append(s.pending, event[T]{prev: prev, next: next})
	return true
}

// flush delivers queued notifications. Only one goroutine delivers at a time;
// notifications queued meanwhile, including ones caused by subscribers, are
// delivered by that goroutine in order.
func (s *Store[T]) flush() {
	s.mu.Lock()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	for len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		subs := append([]subscriber[T](nil), s.subs...)
		s.mu.Unlock()
		for _, sub := range subs {
			sub.fn(ev.prev, ev.next)
		}
		s.mu.Lock()
	}
	s.pending = nil
	s.dispatching = false
	s.mu.Unlock()
}
