package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
	"fintrack/internal/gateway"
	"fintrack/internal/gateway/memory"
)

type fakeProbe struct {
	err   error
	calls int
}

func (p *fakeProbe) Get(context.Context) (core.Balance, error) {
	p.calls++
	return core.Balance{}, p.err
}

type fakeAuthAPI struct {
	loginErr   error
	logoutErr  error
	logoutTok  chan string
	signupUser core.UserInfo
}

func (f *fakeAuthAPI) Login(_ context.Context, creds core.Credentials) (gateway.LoginResult, error) {
	if f.loginErr != nil {
		return gateway.LoginResult{}, f.loginErr
	}
	return gateway.LoginResult{Token: "tok", User: core.UserInfo{Login: creds.Login, Name: "Anna"}}, nil
}

func (f *fakeAuthAPI) Signup(_ context.Context, info core.SignupInfo) (core.UserInfo, error) {
	return core.UserInfo{Login: info.Login}, nil
}

func (f *fakeAuthAPI) Logout(ctx context.Context) error {
	if f.logoutTok != nil {
		f.logoutTok <- gateway.ResolveToken(ctx, nil)
	}
	return f.logoutErr
}

func newStore(api gateway.AuthAPI, probe gateway.SingleReader[core.Balance], sessions SessionStore) *Store {
	return New(Config{API: api, Probe: probe, Sessions: sessions})
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return tok
}

func TestInitAuthWithoutSession(t *testing.T) {
	probe := &fakeProbe{}
	s := newStore(&fakeAuthAPI{}, probe, NewMemorySessions())

	require.NoError(t, s.InitAuth(context.Background()))
	st := s.State()
	assert.Equal(t, StatusSucceeded, st.Status)
	assert.False(t, st.IsAuthenticated)
	assert.Zero(t, probe.calls)
}

func TestInitAuthValidSession(t *testing.T) {
	sessions := NewMemorySessions()
	require.NoError(t, sessions.Save(context.Background(), core.Session{Token: "opaque", DisplayName: "Anna"}))
	probe := &fakeProbe{}
	s := newStore(&fakeAuthAPI{}, probe, sessions)

	var statuses []Status
	s.Subscribe(func(_, next State) { statuses = append(statuses, next.Status) })

	require.NoError(t, s.InitAuth(context.Background()))
	st := s.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "Anna", st.User.DisplayName())
	assert.Equal(t, "opaque", s.Token())
	assert.Equal(t, []Status{StatusInitializing, StatusSucceeded}, statuses)
}

func TestInitAuthRejectedToken(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		sessions := NewMemorySessions()
		require.NoError(t, sessions.Save(context.Background(), core.Session{Token: "old"}))
		probe := &fakeProbe{err: &apperr.RemoteError{Message: "invalid token", Status: status}}
		s := newStore(&fakeAuthAPI{}, probe, sessions)

		err := s.InitAuth(context.Background())
		require.Error(t, err)
		st := s.State()
		assert.Equal(t, StatusFailed, st.Status)
		assert.False(t, st.IsAuthenticated)
		assert.Empty(t, s.Token())
		_, ok, _ := sessions.Load(context.Background())
		assert.False(t, ok, "rejected session is cleared")
	}
}

func TestInitAuthTransportFailureKeepsSession(t *testing.T) {
	sessions := NewMemorySessions()
	require.NoError(t, sessions.Save(context.Background(), core.Session{Token: "old"}))
	probe := &fakeProbe{err: &apperr.TransportError{Err: errors.New("refused")}}
	s := newStore(&fakeAuthAPI{}, probe, sessions)

	err := s.InitAuth(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindTransport))
	st := s.State()
	assert.Equal(t, StatusFailed, st.Status)
	assert.False(t, st.IsAuthenticated)
	_, ok, _ := sessions.Load(context.Background())
	assert.True(t, ok)
}

func TestInitAuthExpiredJWT(t *testing.T) {
	sessions := NewMemorySessions()
	require.NoError(t, sessions.Save(context.Background(), core.Session{Token: signed(t, time.Now().Add(-time.Hour))}))
	probe := &fakeProbe{}
	s := newStore(&fakeAuthAPI{}, probe, sessions)

	require.NoError(t, s.InitAuth(context.Background()))
	assert.False(t, s.State().IsAuthenticated)
	assert.Zero(t, probe.calls, "expired tokens are not sent")
	_, ok, _ := sessions.Load(context.Background())
	assert.False(t, ok)
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	assert.True(t, tokenExpired(signed(t, now.Add(-time.Minute)), now))
	assert.False(t, tokenExpired(signed(t, now.Add(time.Hour)), now))
	assert.False(t, tokenExpired("not-a-jwt", now))
}

type brokenSessions struct{ MemorySessions }

func (*brokenSessions) Load(context.Context) (core.Session, bool, error) {
	return core.Session{}, false, errors.New("disk gone")
}

func TestInitAuthNeverStuckInitializing(t *testing.T) {
	s := newStore(&fakeAuthAPI{}, &fakeProbe{}, &brokenSessions{})
	assert.Error(t, s.InitAuth(context.Background()))
	assert.Equal(t, StatusFailed, s.State().Status)
}

func TestLoginWrongCredentials(t *testing.T) {
	api := &fakeAuthAPI{loginErr: &apperr.RemoteError{Message: "forbidden", Status: http.StatusForbidden}}
	s := newStore(api, &fakeProbe{}, NewMemorySessions())

	err := s.Login(context.Background(), core.Credentials{Login: "anna", Password: "bad"})
	require.Error(t, err)
	st := s.State()
	require.NotNil(t, st.Error)
	assert.Equal(t, "Неверный логин или пароль...", st.Error.Message)
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, StatusFailed, st.Status)
}

func TestLoginPersistsSession(t *testing.T) {
	sessions := NewMemorySessions()
	s := newStore(&fakeAuthAPI{}, &fakeProbe{}, sessions)

	require.NoError(t, s.Login(context.Background(), core.Credentials{Login: "anna", Password: "pw"}))
	st := s.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, StatusSucceeded, st.Status)
	assert.Equal(t, "tok", s.Token())

	sess, ok, err := sessions.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.Session{Token: "tok", DisplayName: "Anna"}, sess)
}

func TestLoginReplacesSignedInSession(t *testing.T) {
	s := newStore(&fakeAuthAPI{}, &fakeProbe{}, NewMemorySessions())
	ctx := context.Background()
	require.NoError(t, s.Login(ctx, core.Credentials{Login: "anna", Password: "pw"}))

	var flags []bool
	s.Subscribe(func(prev, next State) {
		if prev.IsAuthenticated != next.IsAuthenticated {
			flags = append(flags, next.IsAuthenticated)
		}
	})
	require.NoError(t, s.Login(ctx, core.Credentials{Login: "bob", Password: "pw"}))

	assert.Equal(t, []bool{false, true}, flags)
	st := s.State()
	assert.True(t, st.IsAuthenticated)
	require.NotNil(t, st.User)
	assert.Equal(t, "bob", st.User.Login)
}

func TestFailedLoginKeepsSignedInSession(t *testing.T) {
	api := &fakeAuthAPI{}
	s := newStore(api, &fakeProbe{}, NewMemorySessions())
	ctx := context.Background()
	require.NoError(t, s.Login(ctx, core.Credentials{Login: "anna", Password: "pw"}))

	api.loginErr = &apperr.RemoteError{Message: "forbidden", Status: http.StatusForbidden}
	require.Error(t, s.Login(ctx, core.Credentials{Login: "bob", Password: "bad"}))
	assert.True(t, s.State().IsAuthenticated)
	assert.Equal(t, "tok", s.Token())
}

func TestLoginValidation(t *testing.T) {
	s := newStore(&fakeAuthAPI{}, &fakeProbe{}, NewMemorySessions())
	err := s.Login(context.Background(), core.Credentials{Login: "anna"})
	assert.True(t, apperr.IsKind(err, apperr.KindClient))
	assert.Equal(t, StatusFailed, s.State().Status)
	s.ClearError()
	assert.Nil(t, s.State().Error)
}

func TestSignupDoesNotAuthenticate(t *testing.T) {
	s := newStore(&fakeAuthAPI{}, &fakeProbe{}, NewMemorySessions())
	u, err := s.Signup(context.Background(), core.SignupInfo{Login: "bob", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Login)
	assert.False(t, s.State().IsAuthenticated)
	assert.Equal(t, StatusSucceeded, s.State().Status)
}

func TestLogoutAlwaysClearsLocally(t *testing.T) {
	api := &fakeAuthAPI{logoutErr: errors.New("network down"), logoutTok: make(chan string, 1)}
	sessions := NewMemorySessions()
	s := newStore(api, &fakeProbe{}, sessions)
	require.NoError(t, s.Login(context.Background(), core.Credentials{Login: "anna", Password: "pw"}))

	require.NoError(t, s.Logout(context.Background()))
	st := s.State()
	assert.False(t, st.IsAuthenticated)
	assert.Nil(t, st.User)
	assert.Empty(t, s.Token())
	_, ok, _ := sessions.Load(context.Background())
	assert.False(t, ok)

	s.Wait()
	assert.Equal(t, "tok", <-api.logoutTok, "remote logout carries the old token")
}

func TestAgainstMemoryBackend(t *testing.T) {
	tokens := &Tokens{}
	backend := memory.New(tokens, nil)
	api := backend.API()
	sessions := NewMemorySessions()
	s := New(Config{API: api.Auth, Probe: api.Balance, Sessions: sessions, Tokens: tokens})
	ctx := context.Background()

	_, err := s.Signup(ctx, core.SignupInfo{Login: "anna", Password: "pw", Name: "Anna"})
	require.NoError(t, err)
	require.NoError(t, s.Login(ctx, core.Credentials{Login: "anna", Password: "pw"}))

	// a fresh process restores the session
	tokens.Set("")
	restored := New(Config{API: api.Auth, Probe: api.Balance, Sessions: sessions, Tokens: tokens})
	require.NoError(t, restored.InitAuth(ctx))
	assert.True(t, restored.IsAuthenticated())
	assert.Equal(t, "Anna", restored.State().User.DisplayName())

	require.NoError(t, s.Logout(ctx))
	s.Wait()

	// the server forgot the token, so a restore with it is rejected
	require.NoError(t, sessions.Save(ctx, core.Session{Token: "stale"}))
	require.Error(t, s.InitAuth(ctx))
	assert.Equal(t, StatusFailed, s.State().Status)
}
