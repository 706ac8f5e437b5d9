package backend

import (
	"context"
	"time"

	"fintrack/internal/gateway"
	"fintrack/internal/gateway/memory"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
)

// CleanupFunc releases resources held by a backend
type CleanupFunc func() error

// BackendResult contains the gateway ports and an optional cleanup function
type BackendResult struct {
	API *gateway.API
	// Memory is set for the in-process backend.
	Memory  *memory.Store
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config, tokens gateway.TokenSource) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// HTTP specific
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int

	// Memory backend specific
	DataDirectory string
}

// Deps are shared by every backend.
type Deps struct {
	Logger  *log.Logger
	Metrics *metrics.Collector
}

// BackendType represents the type of backend
type BackendType string

const (
	HTTPBackend   BackendType = "http"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case HTTPBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
