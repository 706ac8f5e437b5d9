package backend

import (
	"context"
	"fmt"

	"fintrack/internal/gateway"
	"fintrack/internal/gateway/memory"
	"fintrack/internal/log"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	deps   Deps
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(deps Deps) Factory {
	return &DefaultFactory{
		deps:   deps,
		logger: log.OrDiscard(deps.Logger).WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config, tokens gateway.TokenSource) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case HTTPBackend:
		return f.createHTTPBackend(ctx, config, tokens), nil
	case MemoryBackend:
		return f.createMemoryBackend(ctx, config, tokens), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createHTTPBackend(ctx context.Context, config Config, tokens gateway.TokenSource) *BackendResult {
	client := gateway.New(gateway.Config{
		BaseURL:   config.BaseURL,
		Timeout:   config.Timeout,
		RateLimit: config.RateLimit,
		Burst:     config.RateBurst,
	}, tokens, f.deps.Logger, f.deps.Metrics)

	f.logger.InfoContext(ctx, "Initialized HTTP backend",
		"base_url", config.BaseURL,
		"timeout", config.Timeout,
		"rate_limit", config.RateLimit)

	return &BackendResult{API: client.API()}
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context, config Config, tokens gateway.TokenSource) *BackendResult {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}

	store := memory.NewFromFiles(tokens, dataDir)

	f.logger.InfoContext(ctx, "Initialized memory backend", "data_dir", dataDir)

	return &BackendResult{API: store.API(), Memory: store}
}
