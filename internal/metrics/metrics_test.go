package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveFetch("balance", "ok", time.Second)
	c.SetLoading("balance", true)
	c.ObserveWrite("credit", "create", nil)
	c.ObserveEffect("e", "balance", "fetch")
	c.ObserveRequest("GET", "Balance", 200, time.Millisecond)
	c.SetAuthStatus("idle", []string{"idle"})
	c.ObserveInvalidation("credit", "received")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollectorRecords(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	c.ObserveFetch("balance", "ok", 10*time.Millisecond)
	c.ObserveFetch("balance", "ok", 10*time.Millisecond)
	c.ObserveWrite("credit", "create", errors.New("x"))
	c.SetLoading("credit", true)
	c.SetAuthStatus("succeeded", []string{"idle", "succeeded"})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.fetchTotal.WithLabelValues("balance", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.writeTotal.WithLabelValues("credit", "create", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loading.WithLabelValues("credit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.authStatus.WithLabelValues("idle")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fintrack_store_fetch_total")
}

func TestNewTwiceOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	require.NoError(t, err)
	b, err := New(reg)
	require.NoError(t, err)

	b.ObserveEffect("credit-changed", "balance", "fetch")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.effectTotal.WithLabelValues("credit-changed", "balance", "fetch")))
}
