package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/apperr"
	"fintrack/internal/auth"
	"fintrack/internal/config"
	"fintrack/internal/core"
)

func memoryConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataBackend:   "memory",
		SessionDBPath: filepath.Join(t.TempDir(), "fintrack.db"),
		APITimeout:    time.Second,
	}
}

func TestWireMemoryBackend(t *testing.T) {
	ctx := context.Background()
	w, err := NewWire(ctx, Options{Config: memoryConfig(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NotNil(t, w.Memory)
	assert.Nil(t, w.Poller)
	assert.Nil(t, w.Feed)
	assert.NotEmpty(t, w.Origin)

	require.NoError(t, w.Start(ctx))
	assert.False(t, w.Auth.IsAuthenticated())
	assert.Empty(t, w.RoutingKey())

	_, err = w.Memory.Register(core.SignupInfo{Login: "anna", Password: "pw", Name: "Anna"})
	require.NoError(t, err)
	require.NoError(t, w.Auth.Login(ctx, core.Credentials{Login: "anna", Password: "pw"}))
	w.Coordinator.Wait()

	_, ok := w.Stores.Categories.Data()
	assert.True(t, ok, "sign-in loads every store")
	assert.Equal(t, "Anna", w.RoutingKey())

	_, err = w.Orchestrator.AddIncome(ctx, core.CreditInput{Amount: core.Money{Cents: 500}})
	require.NoError(t, err)
	w.Coordinator.Wait()
	assert.Len(t, w.Snapshot().Credits, 1)

	err = w.Consume(ctx)
	assert.Error(t, err, "no feed configured")
}

func TestWireRestoresSession(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	sessions := auth.NewMemorySessions()
	require.NoError(t, sessions.Save(ctx, core.Session{Token: "stale", DisplayName: "Anna"}))

	w, err := NewWire(ctx, Options{Config: cfg, Sessions: sessions})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	// The fresh memory backend does not know the token.
	err = w.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, auth.StatusFailed, w.Auth.State().Status)
	_, ok, _ := sessions.Load(ctx)
	assert.False(t, ok, "a rejected token is discarded")
}

func TestWirePoller(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.RefreshInterval = time.Minute
	w, err := NewWire(context.Background(), Options{Config: cfg, Sessions: auth.NewMemorySessions()})
	require.NoError(t, err)
	defer w.Close()
	assert.NotNil(t, w.Poller)
}

func TestWireRejectsBadConfig(t *testing.T) {
	_, err := NewWire(context.Background(), Options{})
	assert.Error(t, err)

	cfg := memoryConfig(t)
	cfg.DataBackend = "sheets"
	_, err = NewWire(context.Background(), Options{Config: cfg, Sessions: auth.NewMemorySessions()})
	assert.Error(t, err)
}

func TestExporterRequiresConfig(t *testing.T) {
	w, err := NewWire(context.Background(), Options{Config: memoryConfig(t), Sessions: auth.NewMemorySessions()})
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Exporter(context.Background())
	assert.Error(t, err)
	assert.False(t, apperr.IsKind(err, apperr.KindUnauthenticated))
}
