package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"fintrack/internal/log"
	"fintrack/internal/store"
)

// PollerConfig holds configuration for the poller.
type PollerConfig struct {
	// Interval between refresh rounds.
	Interval time.Duration
	// Targets are refreshed each round while the session is authenticated.
	Targets []store.Refreshable
}

// Poller periodically refreshes derived stores whose server-side values can
// change without a local write, such as reminders that come due.
type Poller struct {
	auth   AuthSource
	config PollerConfig
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPoller(authSrc AuthSource, config PollerConfig, logger *log.Logger) *Poller {
	return &Poller{
		auth:   authSrc,
		config: config,
		logger: log.OrDiscard(logger).WithComponent(log.ComponentCoordinator),
	}
}

// Start begins the refresh loop. Returns an error if already running.
func (p *Poller) Start(ctx context.Context) error {
	if p.config.Interval <= 0 {
		return errors.New("poller interval must be positive")
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("poller is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	p.logger.InfoContext(ctx, "poller started", "interval", p.config.Interval, "targets", len(p.config.Targets))
	return nil
}

// Stop ends the loop and waits for the current round.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "poller stopped")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "poller stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the poller is currently running
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	if !p.auth.State().IsAuthenticated {
		return
	}
	var wg sync.WaitGroup
	for _, t := range p.config.Targets {
		wg.Add(1)
		go func(t store.Refreshable) {
			defer wg.Done()
			if err := t.FetchAll(ctx); err != nil {
				p.logger.WarnContext(ctx, "periodic refresh failed", log.FieldStore, string(t.Name()), log.FieldError, err.Error())
			}
		}(t)
	}
	wg.Wait()
}
