// Package metrics exposes Prometheus collectors for the stores, the
// coordinator and the gateway. A nil *Collector is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fintrack"

// Collector owns every metric of the process.
type Collector struct {
	gatherer prometheus.Gatherer

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	loading       *prometheus.GaugeVec
	writeTotal    *prometheus.CounterVec
	effectTotal   *prometheus.CounterVec
	requestTotal  *prometheus.CounterVec
	requestTime   *prometheus.HistogramVec
	authStatus    *prometheus.GaugeVec
	invalidations *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a private registry,
// which keeps tests independent of the global default registerer.
func New(reg prometheus.Registerer) (*Collector, error) {
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	} else {
		gatherer = prometheus.DefaultGatherer
	}

	c := &Collector{gatherer: gatherer}

	c.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "fetch_total",
		Help:      "Store fetches by result (ok|error|absent|stale)",
	}, []string{"store", "result"})

	c.fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "fetch_duration_seconds",
		Help:      "Latency of store fetches",
		Buckets:   prometheus.DefBuckets,
	}, []string{"store"})

	c.loading = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "loading",
		Help:      "1 while the store has a request in flight",
	}, []string{"store"})

	c.writeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "write_total",
		Help:      "Store writes by operation and result",
	}, []string{"store", "op", "result"})

	c.effectTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "effects_total",
		Help:      "Effects dispatched by the coordinator",
	}, []string{"edge", "target", "effect"})

	c.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "API requests by method, resource and status",
	}, []string{"method", "resource", "status"})

	c.requestTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Latency of API requests",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "resource"})

	c.authStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "status",
		Help:      "1 for the current auth status, 0 otherwise",
	}, []string{"status"})

	c.invalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "invalidations_total",
		Help:      "Invalidation messages by direction (published|received|ignored)",
	}, []string{"resource", "direction"})

	var err error
	if c.fetchTotal, err = register(reg, c.fetchTotal); err != nil {
		return nil, err
	}
	if c.fetchDuration, err = register(reg, c.fetchDuration); err != nil {
		return nil, err
	}
	if c.loading, err = register(reg, c.loading); err != nil {
		return nil, err
	}
	if c.writeTotal, err = register(reg, c.writeTotal); err != nil {
		return nil, err
	}
	if c.effectTotal, err = register(reg, c.effectTotal); err != nil {
		return nil, err
	}
	if c.requestTotal, err = register(reg, c.requestTotal); err != nil {
		return nil, err
	}
	if c.requestTime, err = register(reg, c.requestTime); err != nil {
		return nil, err
	}
	if c.authStatus, err = register(reg, c.authStatus); err != nil {
		return nil, err
	}
	if c.invalidations, err = register(reg, c.invalidations); err != nil {
		return nil, err
	}
	return c, nil
}

// register adds collector to reg; when an identical collector is already
// registered the existing one is returned so both users share samples.
func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

// Handler serves the collected metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveFetch records one completed fetch.
func (c *Collector) ObserveFetch(store, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.fetchTotal.WithLabelValues(store, result).Inc()
	c.fetchDuration.WithLabelValues(store).Observe(d.Seconds())
}

// SetLoading mirrors a store's Loading flag.
func (c *Collector) SetLoading(store string, loading bool) {
	if c == nil {
		return
	}
	v := 0.0
	if loading {
		v = 1
	}
	c.loading.WithLabelValues(store).Set(v)
}

// ObserveWrite records a create, update or delete.
func (c *Collector) ObserveWrite(store, op string, err error) {
	if c == nil {
		return
	}
	c.writeTotal.WithLabelValues(store, op, result(err)).Inc()
}

// ObserveEffect records one coordinator effect.
func (c *Collector) ObserveEffect(edge, target, effect string) {
	if c == nil {
		return
	}
	c.effectTotal.WithLabelValues(edge, target, effect).Inc()
}

// ObserveRequest records one API round trip. status is 0 for transport failures.
func (c *Collector) ObserveRequest(method, resource string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.requestTotal.WithLabelValues(method, resource, strconv.Itoa(status)).Inc()
	c.requestTime.WithLabelValues(method, resource).Observe(d.Seconds())
}

// SetAuthStatus flips the auth status gauge to the given status.
func (c *Collector) SetAuthStatus(current string, all []string) {
	if c == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		c.authStatus.WithLabelValues(s).Set(v)
	}
}

// ObserveInvalidation counts feed traffic.
func (c *Collector) ObserveInvalidation(resource, direction string) {
	if c == nil {
		return
	}
	c.invalidations.WithLabelValues(resource, direction).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
