package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
)

type fakeCredits struct {
	mu        sync.Mutex
	items     []core.Credit
	lists     atomic.Int32
	listErr   error
	writeErr  error
	writeGate *gate
	listGate  *gate
}

func (f *fakeCredits) List(ctx context.Context) ([]core.Credit, error) {
	f.lists.Add(1)
	if f.listGate != nil {
		if err := f.listGate.wait(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]core.Credit{}, f.items...), nil
}

func (f *fakeCredits) Create(ctx context.Context, in core.CreditInput) (core.Credit, error) {
	if f.writeGate != nil {
		if err := f.writeGate.wait(ctx); err != nil {
			return core.Credit{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return core.Credit{}, f.writeErr
	}
	c := core.Credit{ID: int64(len(f.items) + 1), Amount: in.Amount}
	f.items = append(f.items, c)
	return c, nil
}

func (f *fakeCredits) Update(_ context.Context, id int64, in core.CreditInput) (core.Credit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Amount = in.Amount
			return f.items[i], nil
		}
	}
	return core.Credit{}, &apperr.RemoteError{Message: "credit not found", Status: 404}
}

func (f *fakeCredits) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return &apperr.RemoteError{Message: "credit not found", Status: 404}
}

func TestCreateResyncs(t *testing.T) {
	api := &fakeCredits{}
	s := NewCollection(core.ResourceCredit, api)
	ctx := context.Background()

	rec, err := s.Create(ctx, core.CreditInput{Amount: core.Money{Cents: 1000}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)

	st := s.State()
	require.NotNil(t, st.Data)
	assert.Len(t, *st.Data, 1)
	assert.False(t, st.Loading)
	assert.Equal(t, int32(1), api.lists.Load())

	_, err = s.Update(ctx, 1, core.CreditInput{Amount: core.Money{Cents: 2000}})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), (*s.State().Data)[0].Amount.Cents)

	require.NoError(t, s.Delete(ctx, 1))
	assert.Empty(t, *s.State().Data)
	assert.Equal(t, int32(3), api.lists.Load())
}

func TestFailedWriteSkipsResync(t *testing.T) {
	api := &fakeCredits{writeErr: &apperr.RemoteError{Message: "invalid amount", Status: 400}}
	s := NewCollection(core.ResourceCredit, api)

	_, err := s.Create(context.Background(), core.CreditInput{Amount: core.Money{Cents: 1}})
	info, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, 400, info.Status)
	assert.Equal(t, "Сумма должна быть больше нуля", info.Message)

	st := s.State()
	assert.False(t, st.Loading)
	assert.Same(t, info, st.Error)
	assert.Zero(t, api.lists.Load())
}

func TestInvalidInputNeverReachesServer(t *testing.T) {
	api := &fakeCredits{}
	s := NewCollection(core.ResourceCredit, api)
	_, err := s.Create(context.Background(), core.CreditInput{})
	assert.True(t, apperr.IsKind(err, apperr.KindClient))
	assert.Empty(t, api.items)
	assert.False(t, s.State().Loading)
}

func TestResyncFailureReturnsStale(t *testing.T) {
	api := &fakeCredits{listErr: &apperr.TransportError{Err: context.DeadlineExceeded}}
	s := NewCollection(core.ResourceCredit, api)

	rec, err := s.Create(context.Background(), core.CreditInput{Amount: core.Money{Cents: 500}})
	require.Error(t, err)
	var stale *StaleError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, core.ResourceCredit, stale.Store)
	assert.True(t, apperr.IsKind(err, apperr.KindTransport))
	assert.Equal(t, int64(1), rec.ID, "the committed record is still returned")
	assert.Len(t, api.items, 1)
}

func TestLoadingHeldDuringWrite(t *testing.T) {
	g := newGate()
	api := &fakeCredits{writeGate: g}
	s := NewCollection(core.ResourceCredit, api)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := s.Create(ctx, core.CreditInput{Amount: core.Money{Cents: 100}})
		done <- err
	}()
	waitEntered(t, g)
	assert.True(t, s.State().Loading)

	// A fetch requested while only the write is outstanding is a no-op.
	require.NoError(t, s.FetchAll(ctx))
	assert.Zero(t, api.lists.Load())

	close(g.release)
	require.NoError(t, <-done)
	assert.False(t, s.State().Loading)
	assert.Equal(t, int32(1), api.lists.Load())
}

func TestResyncIgnoresFetchStartedBeforeWrite(t *testing.T) {
	lg := newGate()
	api := &fakeCredits{listGate: lg}
	s := NewCollection(core.ResourceCredit, api)
	ctx := context.Background()

	fetchDone := make(chan error, 1)
	go func() { fetchDone <- s.FetchAll(ctx) }()
	waitEntered(t, lg)

	writeDone := make(chan error, 1)
	go func() {
		_, err := s.Create(ctx, core.CreditInput{Amount: core.Money{Cents: 100}})
		writeDone <- err
	}()

	// The write commits while the old fetch is still open; release it and
	// the fresh fetch the resync starts afterwards.
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.items) == 1
	}, 2*time.Second, 5*time.Millisecond)
	close(lg.release)

	require.NoError(t, <-fetchDone)
	require.NoError(t, <-writeDone)
	assert.Equal(t, int32(2), api.lists.Load())
	require.NotNil(t, s.State().Data)
	assert.Len(t, *s.State().Data, 1)
}

func TestCustomResync(t *testing.T) {
	api := &fakeCredits{}
	var called bool
	s := NewCollection(core.ResourceCredit, api, WithResync(ResyncFunc(func(context.Context, func(context.Context) error) error {
		called = true
		return nil
	})))
	_, err := s.Create(context.Background(), core.CreditInput{Amount: core.Money{Cents: 1}})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Zero(t, api.lists.Load())
}

func TestResetDuringWriteStaysReset(t *testing.T) {
	g := newGate()
	api := &fakeCredits{writeGate: g}
	s := NewCollection(core.ResourceCredit, api)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := s.Create(ctx, core.CreditInput{Amount: core.Money{Cents: 100}})
		done <- err
	}()
	waitEntered(t, g)

	s.Reset()
	close(g.release)
	require.NoError(t, <-done)

	st := s.State()
	assert.Nil(t, st.Data)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Error)
	assert.Zero(t, api.lists.Load(), "no resync after reset")
	assert.Len(t, api.items, 1, "the server write itself is kept")
}
