package obs

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry         *prometheus.Registry
	lookups          *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchErrors   *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	waitersResolved  prometheus.Counter
	queueDepth       prometheus.Gauge
	cacheEntries     prometheus.Gauge
	breakerOpen      prometheus.Gauge
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocode_lookups_total",
		Help: "Total lookups by how they were answered",
	}, []string{"source"})

	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocode_dispatches_total",
		Help: "Total outbound geocoder calls",
	}, []string{"kind", "result"})

	dispatchErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocode_dispatch_errors_total",
		Help: "Total failed outbound geocoder calls",
	}, []string{"category"})

	dispatchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geocode_dispatch_duration_seconds",
		Help:    "Outbound geocoder call duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	waitersResolved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geocode_waiters_resolved_total",
		Help: "Total queued callers answered by a deferred dispatch",
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geocode_queue_depth",
		Help: "Callers queued behind the busy dispatch slot",
	})

	cacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geocode_cache_entries",
		Help: "Resolved keys held in the cache",
	})

	breakerOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geocode_breaker_open",
		Help: "Upstream breaker open state",
	})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocode_requests_total",
		Help: "Total inbound requests",
	}, []string{"transport", "status_class"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geocode_request_duration_seconds",
		Help:    "Inbound request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport"})

	registry.MustRegister(lookups, dispatches, dispatchErrors, dispatchDuration, waitersResolved, queueDepth, cacheEntries, breakerOpen, requests, requestDuration)

	return &Metrics{
		registry:         registry,
		lookups:          lookups,
		dispatches:       dispatches,
		dispatchErrors:   dispatchErrors,
		dispatchDuration: dispatchDuration,
		waitersResolved:  waitersResolved,
		queueDepth:       queueDepth,
		cacheEntries:     cacheEntries,
		breakerOpen:      breakerOpen,
		requests:         requests,
		requestDuration:  requestDuration,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ProtectedHandler requires "Authorization: Bearer <token>" when token is
// non-empty.
func (m *Metrics) ProtectedHandler(token string) http.Handler {
	next := m.Handler()
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Metrics) RecordLookup(source string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.lookups.WithLabelValues(defaultString(source, "unknown")).Inc()
}

func (m *Metrics) RecordDispatch(kind string, category string, duration time.Duration) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	kind = defaultString(kind, "unknown")
	result := "ok"
	if category != "" {
		result = "error"
		m.dispatchErrors.WithLabelValues(category).Inc()
	}
	m.dispatches.WithLabelValues(kind, result).Inc()
	m.dispatchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordWaitersResolved(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.waitersResolved.Add(float64(count))
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) SetCacheEntries(count int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(count))
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1.0
	}
	m.breakerOpen.Set(value)
}

func (m *Metrics) ObserveRequest(transport string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	transport = defaultString(transport, "unknown")
	m.requests.WithLabelValues(transport, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

func statusClass(status int) string {
	if status <= 0 {
		return "unknown"
	}
	class := status / 100
	return fmt.Sprintf("%dxx", class)
}
