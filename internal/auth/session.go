package auth

import (
	"context"
	"sync"

	"fintrack/internal/core"
)

// SessionStore persists the session across process restarts.
type SessionStore interface {
	// Load returns the saved session; ok is false when none is saved.
	Load(ctx context.Context) (sess core.Session, ok bool, err error)
	Save(ctx context.Context, sess core.Session) error
	Clear(ctx context.Context) error
}

// MemorySessions keeps the session in process memory.
type MemorySessions struct {
	mu   sync.Mutex
	sess *core.Session
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{}
}

func (m *MemorySessions) Load(context.Context) (core.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return core.Session{}, false, nil
	}
	return *m.sess, true, nil
}

func (m *MemorySessions) Save(_ context.Context, sess core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = &sess
	return nil
}

func (m *MemorySessions) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	return nil
}

// Tokens holds the bearer token in memory and serves it to the gateway.
type Tokens struct {
	mu  sync.RWMutex
	tok string
}

func (t *Tokens) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tok
}

func (t *Tokens) Set(tok string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tok = tok
}
