package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/apperr"
	"fintrack/internal/auth"
	"fintrack/internal/core"
	"fintrack/internal/gateway/memory"
	"fintrack/internal/store"
)

type recorder struct {
	mu        sync.Mutex
	resources []core.Resource
	err       error
}

func (r *recorder) Announce(_ context.Context, resource core.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = append(r.resources, resource)
	return r.err
}

type fixture struct {
	backend *memory.Store
	auth    *auth.Store
	stores  *store.Set
	orch    *Orchestrator
}

func setup(t *testing.T, signIn bool) *fixture {
	t.Helper()
	tokens := &auth.Tokens{}
	backend := memory.New(tokens, []core.CategoryInput{{Name: "Food", Limit: core.Money{Cents: 5000}}})
	api := backend.API()
	a := auth.New(auth.Config{API: api.Auth, Probe: api.Balance, Tokens: tokens})
	set := store.NewSet(api)

	_, err := backend.Register(core.SignupInfo{Login: "anna", Password: "pw"})
	require.NoError(t, err)
	if signIn {
		require.NoError(t, a.Login(context.Background(), core.Credentials{Login: "anna", Password: "pw"}))
	}
	backend.ResetCalls()
	return &fixture{backend: backend, auth: a, stores: set, orch: New(a, set, nil)}
}

func TestRequiresSession(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	_, err := f.orch.AddIncome(ctx, core.CreditInput{Amount: core.Money{Cents: 100}})
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))
	assert.Error(t, f.orch.DeleteSpending(ctx, 1))
	_, err = f.orch.CreateGoal(ctx, core.GoalInput{Name: "Car", Target: core.Money{Cents: 100}})
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))

	for _, r := range core.DataResources() {
		assert.Zero(t, f.backend.Calls(r))
	}
	assert.Nil(t, f.stores.Credits.State().Error)
}

func TestAddIncomeRefreshesDependents(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()

	rec, err := f.orch.AddIncome(ctx, core.CreditInput{Amount: core.Money{Cents: 1000}})
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)

	bal, ok := f.stores.Balance.Data()
	require.True(t, ok)
	assert.Equal(t, int64(1000), bal.Total.Cents)

	for _, r := range IncomeDependents {
		assert.Equal(t, 1, f.backend.Calls(r), "resource %s", r)
	}
	assert.Zero(t, f.backend.Calls(core.ResourceSpending))
	assert.Zero(t, f.backend.Calls(core.ResourceCategory))
}

func TestIncomeUpdateAndDelete(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()

	rec, err := f.orch.AddIncome(ctx, core.CreditInput{Amount: core.Money{Cents: 1000}})
	require.NoError(t, err)

	_, err = f.orch.UpdateIncome(ctx, rec.ID, core.CreditInput{Amount: core.Money{Cents: 2500}})
	require.NoError(t, err)
	bal, _ := f.stores.Balance.Data()
	assert.Equal(t, int64(2500), bal.Total.Cents)

	require.NoError(t, f.orch.DeleteIncome(ctx, rec.ID))
	bal, _ = f.stores.Balance.Data()
	assert.Zero(t, bal.Total.Cents)
	credits, _ := f.stores.Credits.Data()
	assert.Empty(t, credits)
}

func TestFailedWriteSkipsRefresh(t *testing.T) {
	f := setup(t, true)

	_, err := f.orch.AddIncome(context.Background(), core.CreditInput{Amount: core.Money{Cents: 0}})
	require.Error(t, err)
	assert.False(t, store.IsStale(err))

	for _, r := range core.DataResources() {
		assert.Zero(t, f.backend.Calls(r), "resource %s", r)
	}
	assert.NotNil(t, f.stores.Credits.State().Error)
}

func TestRefreshFailureKeepsWrite(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.backend.Fail(core.ResourceBalance, &apperr.RemoteError{Message: "boom", Status: http.StatusInternalServerError})

	rec, err := f.orch.AddIncome(ctx, core.CreditInput{Amount: core.Money{Cents: 1000}})
	require.Error(t, err)

	var stale *store.StaleError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, core.ResourceBalance, stale.Store)
	assert.Equal(t, apperr.KindServer, stale.Err.Kind)
	assert.NotZero(t, rec.ID, "the committed record is still returned")

	// the other dependents were refreshed regardless
	assert.Equal(t, 1, f.backend.Calls(core.ResourceReminder))

	require.NoError(t, f.stores.Credits.FetchAll(ctx))
	credits, _ := f.stores.Credits.Data()
	require.Len(t, credits, 1)
	assert.Equal(t, rec.ID, credits[0].ID)
}

func TestSpendingRefreshesCategories(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()

	require.NoError(t, f.stores.Categories.FetchAll(ctx))
	cats, _ := f.stores.Categories.Data()
	require.Len(t, cats, 1)

	sp, err := f.orch.AddSpending(ctx, core.SpendingInput{Amount: core.Money{Cents: 700}, CategoryID: cats[0].ID})
	require.NoError(t, err)

	cats, _ = f.stores.Categories.Data()
	assert.Equal(t, int64(700), cats[0].Spent.Cents)
	bal, _ := f.stores.Balance.Data()
	assert.Equal(t, int64(-700), bal.Total.Cents)

	_, err = f.orch.UpdateSpending(ctx, sp.ID, core.SpendingInput{Amount: core.Money{Cents: 300}, CategoryID: cats[0].ID})
	require.NoError(t, err)
	cats, _ = f.stores.Categories.Data()
	assert.Equal(t, int64(300), cats[0].Spent.Cents)

	require.NoError(t, f.orch.DeleteSpending(ctx, sp.ID))
	cats, _ = f.stores.Categories.Data()
	assert.Zero(t, cats[0].Spent.Cents)
}

func TestGoalOperationsRefreshCurrentGoal(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	deadline := core.NewDate(2030, 1, 1)

	g, err := f.orch.CreateGoal(ctx, core.GoalInput{Name: "Car", Target: core.Money{Cents: 100000}, Deadline: deadline})
	require.NoError(t, err)

	cur, ok := f.stores.CurrentGoal.Data()
	require.True(t, ok)
	assert.Equal(t, g.ID, cur.ID)
	assert.Zero(t, f.backend.Calls(core.ResourceBalance))

	_, err = f.orch.UpdateGoal(ctx, g.ID, core.GoalInput{Name: "Bike", Target: core.Money{Cents: 50000}, Deadline: deadline})
	require.NoError(t, err)
	cur, _ = f.stores.CurrentGoal.Data()
	assert.Equal(t, "Bike", cur.Name)

	require.NoError(t, f.orch.DeleteGoal(ctx, g.ID))
	_, ok = f.stores.CurrentGoal.Data()
	assert.False(t, ok)
	assert.Nil(t, f.stores.CurrentGoal.State().Error)
}

func TestNotifier(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	rec := &recorder{err: errors.New("broker down")}
	f.orch.SetNotifier(rec)

	_, err := f.orch.AddIncome(ctx, core.CreditInput{Amount: core.Money{Cents: 10}})
	require.NoError(t, err, "announce failures are not surfaced")

	_, err = f.orch.AddSpending(ctx, core.SpendingInput{Amount: core.Money{Cents: 10}})
	require.Error(t, err)

	assert.Equal(t, []core.Resource{core.ResourceCredit}, rec.resources)
}

// endingSession is signed in for the first check only, as if the user
// signed out while the write was in flight.
type endingSession struct {
	mu    sync.Mutex
	calls int
}

func (s *endingSession) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.calls == 1
}

func TestSessionEndedDuringWriteSkipsRefresh(t *testing.T) {
	f := setup(t, true)
	orch := New(&endingSession{}, f.stores, nil)
	rec := &recorder{}
	orch.SetNotifier(rec)

	credit, err := orch.AddIncome(context.Background(), core.CreditInput{Amount: core.Money{Cents: 1000}})
	require.NoError(t, err)
	assert.NotZero(t, credit.ID)

	for _, r := range IncomeDependents {
		assert.Zero(t, f.backend.Calls(r), "resource %s", r)
	}
	assert.Empty(t, rec.resources)
}
