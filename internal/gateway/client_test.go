package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
)

type fakeAPI struct {
	mu       sync.Mutex
	credits  []core.Credit
	nextID   int64
	headers  []http.Header
	balance  func(w http.ResponseWriter)
	loginErr bool
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAPI) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.headers = append(f.headers, req.Header.Clone())
			f.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/Balance", func(w http.ResponseWriter, _ *http.Request) {
		if f.balance != nil {
			f.balance(w)
			return
		}
		writeJSON(w, 200, map[string]any{"Balance": map[string]any{"total": 1500.5, "income": 2000, "expenses": "499.50"}})
	})
	r.Get("/Credits", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, 200, map[string]any{"Credits": f.credits})
	})
	r.Post("/Credits", func(w http.ResponseWriter, req *http.Request) {
		var in core.CreditInput
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeJSON(w, 400, map[string]any{"error": "bad body", "status": 400})
			return
		}
		f.mu.Lock()
		f.nextID++
		c := core.Credit{ID: f.nextID, Amount: in.Amount, Description: in.Description, Date: in.Date}
		f.credits = append(f.credits, c)
		f.mu.Unlock()
		writeJSON(w, 201, map[string]any{"Credit": c})
	})
	r.Put("/Credit/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		writeJSON(w, 404, map[string]any{"error": "credit not found", "status": 404, "id": id})
	})
	r.Delete("/Credit/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/CurrentGoal", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{"error": "no current goal found", "status": 404})
	})
	r.Put("/CurrentGoal/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		writeJSON(w, 200, map[string]any{"CurrentGoal": core.Goal{ID: id, Name: "Car"}})
	})
	r.Get("/Reminder", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{"Reminder": nil})
	})
	r.Post("/login", func(w http.ResponseWriter, req *http.Request) {
		var creds core.Credentials
		_ = json.NewDecoder(req.Body).Decode(&creds)
		if creds.Password != "secret" {
			writeJSON(w, 403, map[string]any{"error": "forbidden", "status": 403})
			return
		}
		writeJSON(w, 200, map[string]any{"token": "tok-1", "User": core.UserInfo{ID: 7, Login: creds.Login, Name: "Anna"}})
	})
	r.Post("/signup", func(w http.ResponseWriter, req *http.Request) {
		var info core.SignupInfo
		_ = json.NewDecoder(req.Body).Decode(&info)
		writeJSON(w, 200, map[string]any{"User": core.UserInfo{ID: 8, Login: info.Login, Name: info.Name}})
	})
	r.Post("/logout", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{})
	})
	return r
}

func newTestClient(t *testing.T, f *fakeAPI, tokens TokenSource) *API {
	t.Helper()
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, tokens, nil, nil).API()
}

func TestEnvelopeDecoding(t *testing.T) {
	api := newTestClient(t, &fakeAPI{}, StaticToken("abc"))

	bal, err := api.Balance.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(150050), bal.Total.Cents)
	assert.Equal(t, int64(49950), bal.Expenses.Cents)

	rem, err := api.Reminders.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, rem)
	assert.Empty(t, rem)
}

func TestCollectionRoundTrip(t *testing.T) {
	f := &fakeAPI{}
	api := newTestClient(t, f, StaticToken("abc"))
	ctx := context.Background()

	created, err := api.Credits.Create(ctx, core.CreditInput{Amount: core.Money{Cents: 100000}, Description: "salary", Date: core.NewDate(2025, 3, 1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)

	list, err := api.Credits.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "salary", list[0].Description)

	require.NoError(t, api.Credits.Delete(ctx, 1))
}

func TestAPIWiresEndpoints(t *testing.T) {
	api := New(Config{BaseURL: "http://example.invalid"}, nil, nil, nil).API()

	credits, ok := api.Credits.(*Endpoint[core.Credit, core.CreditInput])
	require.True(t, ok)
	assert.Equal(t, "Credits", credits.name)
	assert.Equal(t, "Credit", credits.singular)

	goals, ok := api.Goals.(*Endpoint[core.Goal, core.GoalInput])
	require.True(t, ok)
	assert.Equal(t, "Goals", goals.name)
	assert.Equal(t, "Goal", goals.singular)
}

func TestErrorNormalization(t *testing.T) {
	f := &fakeAPI{}
	api := newTestClient(t, f, StaticToken("abc"))
	ctx := context.Background()

	_, err := api.Credits.Update(ctx, 9, core.CreditInput{Amount: core.Money{Cents: 1}})
	var re *apperr.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "credit not found", re.Message)
	assert.Equal(t, 404, re.Status)

	// failure reported inside a 200 body
	_, err = api.CurrentGoal.Get(ctx)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "no current goal found", re.Message)
	assert.Equal(t, 404, re.Status)

	f.balance = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}
	_, err = api.Balance.Get(ctx)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 502, re.Status)
	assert.Equal(t, "upstream down", re.Message)

	f.balance = func(w http.ResponseWriter) {
		writeJSON(w, 200, map[string]any{"Other": 1})
	}
	_, err = api.Balance.Get(ctx)
	var te *apperr.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, errors.Is(err, errMissingKey))
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	api := New(Config{BaseURL: url, Timeout: time.Second}, nil, nil, nil).API()
	_, err := api.Balance.Get(context.Background())
	var te *apperr.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestHeaders(t *testing.T) {
	f := &fakeAPI{}
	api := newTestClient(t, f, StaticToken("abc"))
	ctx := context.Background()

	_, err := api.Balance.Get(ctx)
	require.NoError(t, err)
	_, err = api.Auth.Login(ctx, core.Credentials{Login: "anna", Password: "secret"})
	require.NoError(t, err)

	require.Len(t, f.headers, 2)
	assert.Equal(t, "Bearer abc", f.headers[0].Get("Authorization"))
	assert.NotEmpty(t, f.headers[0].Get(HeaderRequestID))
	assert.Empty(t, f.headers[1].Get("Authorization"), "login is anonymous")
	assert.NotEqual(t, f.headers[0].Get(HeaderRequestID), f.headers[1].Get(HeaderRequestID))
}

func TestNoTokenNoHeader(t *testing.T) {
	f := &fakeAPI{}
	api := newTestClient(t, f, nil)
	_, err := api.Balance.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.headers[0].Get("Authorization"))
}

func TestAuthEndpoints(t *testing.T) {
	api := newTestClient(t, &fakeAPI{}, nil)
	ctx := context.Background()

	res, err := api.Auth.Login(ctx, core.Credentials{Login: "anna", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, "Anna", res.User.Name)

	_, err = api.Auth.Login(ctx, core.Credentials{Login: "anna", Password: "wrong"})
	assert.Equal(t, 403, apperr.StatusOf(err))

	user, err := api.Auth.Signup(ctx, core.SignupInfo{Login: "bob", Password: "x", Name: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Login)

	assert.NoError(t, api.Auth.Logout(ctx))
}

func TestSelectCurrentGoal(t *testing.T) {
	api := newTestClient(t, &fakeAPI{}, StaticToken("abc"))
	g, err := api.CurrentGoal.Select(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), g.ID)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer((&fakeAPI{}).router())
	t.Cleanup(srv.Close)
	api := New(Config{BaseURL: srv.URL, RateLimit: 0.001, Burst: 1}, nil, nil, nil).API()

	_, err := api.Balance.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = api.Balance.Get(ctx)
	var te *apperr.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestContextTokenOverride(t *testing.T) {
	f := &fakeAPI{}
	api := newTestClient(t, f, StaticToken(""))
	require.NoError(t, api.Auth.Logout(WithToken(context.Background(), "pinned")))
	assert.Equal(t, "Bearer pinned", f.headers[0].Get("Authorization"))
}
