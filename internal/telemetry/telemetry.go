// Package telemetry exposes the daemon's Prometheus metrics: requests
// served, cache hit/miss behavior, refresh outcomes, and token-bucket
// rejections. Metrics are ambient infrastructure, not a named operation in
// the proxy's wire protocol, so this package is free-standing and simply
// observed by the other packages that need it. Only the request and
// refresh metrics are recorded by other packages: the cache-hit and
// quota-rejection collectors are registered, but nothing in this module
// increments them.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the daemon registers. The zero value is
// not usable; construct with New or NewWithRegistry.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	CacheHitsTotal  *prometheus.CounterVec
	QuotaRejections *prometheus.CounterVec
}

// New creates a Metrics instance registered against the default
// Prometheus registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a custom
// registerer, for tests that want an isolated registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_proxy_requests_total",
				Help: "Total number of requests handled, by method and status.",
			},
			[]string{"method", "status"},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_proxy_cache_refresh_total",
				Help: "Total number of cache refresh attempts, by outcome.",
			},
			[]string{"outcome"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accounts_proxy_cache_refresh_duration_seconds",
				Help:    "Duration of cache refresh calls to the upstream API.",
				Buckets: prometheus.DefBuckets,
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_proxy_cache_hits_total",
				Help: "Total cache lookups, by hit or miss.",
			},
			[]string{"result"},
		),
		QuotaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_proxy_quota_rejections_total",
				Help: "Total requests rejected by a token bucket, by bucket name.",
			},
			[]string{"bucket"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.RequestsTotal, m.RefreshTotal, m.RefreshDuration, m.CacheHitsTotal, m.QuotaRejections,
	} {
		registerer.MustRegister(c)
	}
	return m
}

// ObserveRequest records one handled request. Safe to call on a nil
// *Metrics (a no-op), so tests that don't care about metrics don't need to
// construct one.
func (m *Metrics) ObserveRequest(method, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, status).Inc()
}

// ObserveRefresh records the outcome and duration of a cache refresh.
func (m *Metrics) ObserveRefresh(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Inc()
	m.RefreshDuration.Observe(seconds)
}

// ObserveQuotaRejection records a token bucket rejection.
func (m *Metrics) ObserveQuotaRejection(bucket string) {
	if m == nil {
		return
	}
	m.QuotaRejections.WithLabelValues(bucket).Inc()
}
