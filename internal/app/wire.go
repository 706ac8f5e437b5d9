// Package app builds the dependency graph of the client: one auth store,
// one store per resource, the coordinator and everything hanging off them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"fintrack/internal/amqp"
	"fintrack/internal/apperr"
	"fintrack/internal/auth"
	"fintrack/internal/backend"
	"fintrack/internal/config"
	"fintrack/internal/coordinator"
	"fintrack/internal/export"
	"fintrack/internal/gateway/memory"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/orchestrator"
	"fintrack/internal/storage"
	"fintrack/internal/store"
)

// Options configures NewWire.
type Options struct {
	Config *config.Config
	Logger *log.Logger
	// Registerer receives the metrics; nil keeps them in a private registry.
	Registerer prometheus.Registerer
	// Sessions overrides the SQLite session store.
	Sessions auth.SessionStore
}

// Wire bundles the stores, services and clients of one process.
type Wire struct {
	Config       *config.Config
	Logger       *log.Logger
	Metrics      *metrics.Collector
	Tokens       *auth.Tokens
	Auth         *auth.Store
	Stores       *store.Set
	Coordinator  *coordinator.Coordinator
	Orchestrator *orchestrator.Orchestrator
	// Poller is nil unless a refresh interval is configured.
	Poller *coordinator.Poller
	// Feed is nil unless AMQP is configured and reachable.
	Feed *amqp.Client
	// Memory is set when the in-process backend is selected.
	Memory *memory.Store
	// Origin identifies this process on the invalidation feed.
	Origin string

	closers []func() error
}

// NewWire constructs the dependency graph from opts.
func NewWire(ctx context.Context, opts Options) (*Wire, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	logger := log.OrDiscard(opts.Logger)
	w := &Wire{Config: cfg, Logger: logger, Origin: uuid.NewString()}

	m, err := metrics.New(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}
	w.Metrics = m

	sessions := opts.Sessions
	if sessions == nil {
		sqlite, err := storage.Open(cfg.SessionDBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		w.closers = append(w.closers, sqlite.Close)
		sessions = sqlite
	}

	// Gateway ports read the bearer token from here; auth writes it.
	w.Tokens = &auth.Tokens{}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	res, err := backend.NewFactory(backend.Deps{Logger: logger, Metrics: m}).CreateBackend(ctx, bcfg, w.Tokens)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("app: backend: %w", err)
	}
	if res.Cleanup != nil {
		w.closers = append(w.closers, res.Cleanup)
	}
	w.Memory = res.Memory
	api := res.API

	w.Auth = auth.New(auth.Config{
		API:      api.Auth,
		Probe:    api.Balance,
		Sessions: sessions,
		Tokens:   w.Tokens,
		Logger:   logger,
		Metrics:  m,
	})
	w.Stores = store.NewSet(api, store.WithLogger(logger), store.WithMetrics(m))

	w.Coordinator, err = coordinator.New(w.Auth, w.Stores.All(), coordinator.Options{Logger: logger, Metrics: m})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	w.Orchestrator = orchestrator.New(w.Auth, w.Stores, logger)

	if cfg.RefreshInterval > 0 {
		w.Poller = coordinator.NewPoller(w.Auth, coordinator.PollerConfig{
			Interval: cfg.RefreshInterval,
			Targets:  []store.Refreshable{w.Stores.Reminders, w.Stores.Recommendations},
		}, logger)
	}

	if cfg.AMQPURL != "" {
		feed, err := amqp.NewClient(amqp.Config{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			Origin:     w.Origin,
			RoutingKey: w.RoutingKey,
			Logger:     logger,
			Metrics:    m,
		})
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without invalidation feed", log.FieldError, err.Error())
		} else {
			w.Feed = feed
			w.closers = append(w.closers, feed.Close)
			w.Orchestrator.SetNotifier(feed)
		}
	}

	return w, nil
}

// Start wires the coordinator and restores the persisted session. The
// session's initial load runs through the coordinator; call
// Coordinator.Wait to block on it.
func (w *Wire) Start(ctx context.Context) error {
	w.Coordinator.Start(ctx)
	if err := w.Auth.InitAuth(ctx); err != nil {
		return err
	}
	return nil
}

// RoutingKey names the signed-in user on the invalidation feed. The display
// name is the only identity that survives a restart.
func (w *Wire) RoutingKey() string {
	st := w.Auth.State()
	if !st.IsAuthenticated || st.User == nil {
		return ""
	}
	return st.User.DisplayName()
}

// Consume feeds invalidations from other processes into the coordinator
// until ctx ends.
func (w *Wire) Consume(ctx context.Context) error {
	if w.Feed == nil {
		return errors.New("invalidation feed is not configured")
	}
	key := w.RoutingKey()
	if key == "" {
		return apperr.Unauthenticated()
	}
	return w.Feed.Consume(ctx, key, func(ctx context.Context, msg *amqp.Invalidation) error {
		return w.Coordinator.Invalidate(ctx, msg.Resource)
	})
}

// Snapshot returns the loaded ledger records.
func (w *Wire) Snapshot() export.Snapshot {
	credits, _ := w.Stores.Credits.Data()
	spendings, _ := w.Stores.Spendings.Data()
	categories, _ := w.Stores.Categories.Data()
	return export.Snapshot{Credits: credits, Spendings: spendings, Categories: categories}
}

// Exporter builds the spreadsheet exporter from the configuration.
func (w *Wire) Exporter(ctx context.Context) (*export.Exporter, error) {
	if !w.Config.ExportEnabled() {
		return nil, errors.New("spreadsheet export is not configured (set GOOGLE_SPREADSHEET_ID)")
	}
	creds, err := w.Config.GoogleCredentials()
	if err != nil {
		return nil, err
	}
	return export.New(ctx, export.Config{
		SpreadsheetID:   w.Config.GoogleSpreadsheetID,
		SheetName:       w.Config.GoogleSheetName,
		CredentialsJSON: creds,
	}, w.Logger)
}

// LoadLedger fetches the records the exporter needs.
func (w *Wire) LoadLedger(ctx context.Context) error {
	for _, r := range []store.Refreshable{w.Stores.Credits, w.Stores.Spendings, w.Stores.Categories} {
		if err := r.FetchAll(ctx); err != nil {
			return fmt.Errorf("load %s: %w", r.Name(), err)
		}
	}
	return nil
}

// Close stops background work and releases resources in reverse order.
func (w *Wire) Close() error {
	if w.Coordinator != nil {
		w.Coordinator.Stop()
		w.Coordinator.Wait()
	}
	if w.Poller != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = w.Poller.Stop(ctx)
		cancel()
	}
	if w.Auth != nil {
		w.Auth.Wait()
	}
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}

// Ensure interface conformance
var _ orchestrator.Notifier = (*amqp.Client)(nil)
