package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"fintrack/internal/app"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// NewWatchCommand keeps the session open: it follows invalidations from
// other processes, runs the periodic refresh and serves metrics.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay signed in and print changes as they arrive",
		Args:  cobra.NoArgs,
		RunE: rootOpts.action(func(ctx context.Context, cmd *cobra.Command, _ []string, w *app.Wire, f *OutputFormatter) error {
			return runWatch(ctx, w, f, shutdownTimeout)
		}),
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for a clean shutdown")
	return cmd
}

func runWatch(parent context.Context, w *app.Wire, f *OutputFormatter, timeout time.Duration) error {
	logger := w.Logger.WithComponent(log.ComponentCLI)

	var unsubs []func()
	for _, s := range w.Stores.All() {
		unsubs = append(unsubs, s.Watch(f.printChange))
	}

	var srv *http.Server
	if addr := w.Config.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", w.Metrics.Handler())
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", log.FieldError, err.Error())
			}
		}()
		logger.Info("serving metrics", "addr", addr)
	}

	ctx, done := GracefulShutdown(parent, logger, timeout, func() {
		for _, u := range unsubs {
			u()
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if w.Poller != nil {
			_ = w.Poller.Stop(sctx)
		}
		if srv != nil {
			_ = srv.Shutdown(sctx)
		}
	})

	if w.Poller != nil {
		if err := w.Poller.Start(ctx); err != nil {
			return f.Fail(ExitFailure, err)
		}
	}
	if w.Feed != nil {
		go func() {
			if err := w.Consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("invalidation feed stopped", log.FieldError, err.Error())
			}
		}()
	}

	f.printLine(f.Writer, "Watching as %s; press Ctrl+C to stop", w.RoutingKey())
	<-ctx.Done()
	<-done
	return nil
}

// printChange reports one store transition. Stores notify from their own
// goroutines, so output goes through printLine.
func (f *OutputFormatter) printChange(ch store.Change) {
	now := time.Now().Format(time.TimeOnly)
	if ch.DataChanged() && ch.HasData {
		f.printLine(f.Writer, "%s %s updated", now, ch.Store)
	}
	if ch.Error != nil && !ch.Loading {
		f.printLine(f.errWriter(), "%s %s: %s", now, ch.Store, ch.Error.Message)
	}
}
