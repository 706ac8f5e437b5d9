// Package auth owns the session state machine, the root every data store
// depends on.
package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
	"fintrack/internal/gateway"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
)

// Status is the phase of the last auth operation.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusLoading      Status = "loading"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
)

var allStatuses = []string{
	string(StatusIdle), string(StatusInitializing), string(StatusLoading),
	string(StatusSucceeded), string(StatusFailed),
}

// State is the observable content of the auth store.
type State struct {
	User            *core.UserInfo
	IsAuthenticated bool
	Status          Status
	Error           *apperr.Info
}

// Config wires the store's collaborators.
type Config struct {
	API gateway.AuthAPI
	// Probe is an authenticated read used to validate a restored token.
	Probe    gateway.SingleReader[core.Balance]
	Sessions SessionStore
	Tokens   *Tokens
	Logger   *log.Logger
	Metrics  *metrics.Collector
	// LogoutTimeout bounds the background logout request.
	LogoutTimeout time.Duration
}

type subscriber struct {
	id int
	fn func(prev, next State)
}

type event struct {
	prev, next State
}

// Store is safe for concurrent use.
type Store struct {
	api      gateway.AuthAPI
	probe    gateway.SingleReader[core.Balance]
	sessions SessionStore
	tokens   *Tokens
	tr       *apperr.Translator
	logger   *log.Logger
	metrics  *metrics.Collector
	timeout  time.Duration
	now      func() time.Time
	bg       sync.WaitGroup

	mu          sync.Mutex
	state       State
	subs        []subscriber
	nextSubID   int
	pending     []event
	dispatching bool
}

func New(cfg Config) *Store {
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = &Tokens{}
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = NewMemorySessions()
	}
	timeout := cfg.LogoutTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	s := &Store{
		api:      cfg.API,
		probe:    cfg.Probe,
		sessions: sessions,
		tokens:   tokens,
		tr:       apperr.NewTranslator(string(core.ResourceAuth)),
		logger:   log.OrDiscard(cfg.Logger).WithComponent(log.ComponentAuth),
		metrics:  cfg.Metrics,
		timeout:  timeout,
		now:      time.Now,
		state:    State{Status: StatusIdle},
	}
	s.metrics.SetAuthStatus(string(StatusIdle), allStatuses)
	return s
}

// Token returns the bearer token of the current session.
func (s *Store) Token() string {
	return s.tokens.Token()
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAuthenticated is a shortcut for State().IsAuthenticated.
func (s *Store) IsAuthenticated() bool {
	return s.State().IsAuthenticated
}

// Subscribe registers fn for every state change.
func (s *Store) Subscribe(fn func(prev, next State)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
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

// InitAuth restores the persisted session and validates it remotely.
func (s *Store) InitAuth(ctx context.Context) error {
	s.update(func(st *State) {
		st.Status = StatusInitializing
		st.Error = nil
	})
	// Whatever happens below, the store must not stay in Initializing.
	defer s.update(func(st *State) {
		if st.Status == StatusInitializing {
			st.Status = StatusFailed
			st.IsAuthenticated = false
		}
	})

	sess, ok, err := s.sessions.Load(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "load session failed", log.FieldOperation, log.OpInit, log.FieldError, err.Error())
		return s.fail(err, false)
	}
	if !ok || sess.Token == "" {
		s.signedOut(StatusSucceeded)
		return nil
	}
	if tokenExpired(sess.Token, s.now()) {
		s.logger.InfoContext(ctx, "persisted token expired, discarding", log.FieldOperation, log.OpInit)
		s.clearSession(ctx)
		s.signedOut(StatusSucceeded)
		return nil
	}

	s.tokens.Set(sess.Token)
	if _, err := s.probe.Get(ctx); err != nil {
		status := apperr.StatusOf(err)
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			s.logger.InfoContext(ctx, "persisted token rejected", log.FieldOperation, log.OpInit, log.FieldStatusCode, status)
			s.clearSession(ctx)
		} else {
			s.logger.WarnContext(ctx, "session validation failed, keeping session", log.FieldOperation, log.OpInit, log.FieldError, err.Error())
		}
		s.tokens.Set("")
		return s.fail(err, true)
	}

	user := &core.UserInfo{Name: sess.DisplayName}
	s.update(func(st *State) {
		st.User = user
		st.IsAuthenticated = true
		st.Status = StatusSucceeded
		st.Error = nil
	})
	s.logger.InfoContext(ctx, "session restored", log.FieldOperation, log.OpInit, log.FieldUser, sess.DisplayName)
	return nil
}

// Login authenticates and persists the session. A session that is already
// signed in ends first, even when the login is for the same user.
func (s *Store) Login(ctx context.Context, creds core.Credentials) error {
	s.begin()
	if err := creds.Validate(); err != nil {
		return s.fail(err, false)
	}
	res, err := s.api.Login(ctx, creds)
	if err != nil {
		s.logger.WarnContext(ctx, "login failed", log.FieldOperation, log.OpLogin, log.FieldUser, creds.Login, log.FieldError, err.Error())
		return s.fail(err, false)
	}

	user := res.User
	if user.Login == "" {
		user.Login = creds.Login
	}
	// Switching accounts: drop the previous user's session first so
	// everything derived from it is reset before the new one loads.
	if s.IsAuthenticated() {
		s.logger.InfoContext(ctx, "replacing signed-in session", log.FieldOperation, log.OpLogin, log.FieldUser, user.Login)
		s.tokens.Set("")
		s.signedOut(StatusLoading)
	}
	s.tokens.Set(res.Token)
	if err := s.sessions.Save(ctx, core.Session{Token: res.Token, DisplayName: user.DisplayName()}); err != nil {
		// The session still works for this process.
		s.logger.ErrorContext(ctx, "persist session failed", log.FieldOperation, log.OpLogin, log.FieldError, err.Error())
	}
	s.update(func(st *State) {
		st.User = &user
		st.IsAuthenticated = true
		st.Status = StatusSucceeded
		st.Error = nil
	})
	s.logger.InfoContext(ctx, "logged in", log.FieldOperation, log.OpLogin, log.FieldUser, user.Login)
	return nil
}

// Signup registers a new account. It does not sign the user in.
func (s *Store) Signup(ctx context.Context, info core.SignupInfo) (core.UserInfo, error) {
	s.begin()
	if err := info.Validate(); err != nil {
		return core.UserInfo{}, s.fail(err, false)
	}
	user, err := s.api.Signup(ctx, info)
	if err != nil {
		s.logger.WarnContext(ctx, "signup failed", log.FieldOperation, log.OpSignup, log.FieldUser, info.Login, log.FieldError, err.Error())
		return core.UserInfo{}, s.fail(err, false)
	}
	s.update(func(st *State) {
		st.Status = StatusSucceeded
		st.Error = nil
	})
	s.logger.InfoContext(ctx, "signed up", log.FieldOperation, log.OpSignup, log.FieldUser, user.Login)
	return user, nil
}

// Logout clears the local session at once. The remote logout runs in the
// background and its outcome is only logged.
func (s *Store) Logout(ctx context.Context) error {
	tok := s.tokens.Token()
	s.tokens.Set("")
	s.clearSession(ctx)
	s.signedOut(StatusIdle)

	if tok != "" && s.api != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			rctx, cancel := context.WithTimeout(gateway.WithToken(context.WithoutCancel(ctx), tok), s.timeout)
			defer cancel()
			if err := s.api.Logout(rctx); err != nil {
				s.logger.Warn("remote logout failed", log.FieldOperation, log.OpLogout, log.FieldError, err.Error())
			}
		}()
	}
	s.logger.InfoContext(ctx, "logged out", log.FieldOperation, log.OpLogout)
	return nil
}

// Wait blocks until background logout requests finish.
func (s *Store) Wait() {
	s.bg.Wait()
}

func (s *Store) ClearError() {
	s.update(func(st *State) { st.Error = nil })
}

func (s *Store) begin() {
	s.update(func(st *State) {
		st.Status = StatusLoading
		st.Error = nil
	})
}

// fail records err as Failed. signOut also drops the authenticated flag.
func (s *Store) fail(err error, signOut bool) error {
	info := s.tr.Translate(err)
	s.update(func(st *State) {
		st.Status = StatusFailed
		st.Error = info
		if signOut {
			st.IsAuthenticated = false
			st.User = nil
		}
	})
	return info
}

func (s *Store) signedOut(status Status) {
	s.update(func(st *State) {
		st.User = nil
		st.IsAuthenticated = false
		st.Status = status
		st.Error = nil
	})
}

func (s *Store) clearSession(ctx context.Context) {
	if err := s.sessions.Clear(ctx); err != nil {
		s.logger.ErrorContext(ctx, "clear session failed", log.FieldError, err.Error())
	}
}

func (s *Store) update(fn func(st *State)) {
	s.mu.Lock()
	prev := s.state
	fn(&s.state)
	next := s.state
	if prev != next {
		s.pending = append(s.pending, event{prev: prev, next: next})
	}
	s.mu.Unlock()
	if prev.Status != next.Status {
		s.metrics.SetAuthStatus(string(next.Status), allStatuses)
	}
	s.flush()
}

func (s *Store) flush() {
	s.mu.Lock()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	for len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		subs := append([]subscriber(nil), s.subs...)
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

// tokenExpired reports whether token is a JWT whose exp has passed. Opaque
// tokens and JWTs without exp are left to the server.
func tokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.After(now)
}
