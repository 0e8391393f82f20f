package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Role synchronization metrics
	RoleSyncsTotal     *prometheus.CounterVec
	RoleSyncOutboxSize prometheus.Gauge
	RoleDriftDetected  prometheus.Counter

	// Identity provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Business metrics
	ListingsTotal      prometheus.Gauge
	ActiveUsersTotal   prometheus.Gauge
	CreditApplications prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openlot_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "openlot_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RoleSyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openlot_role_syncs_total",
				Help: "Role synchronization attempts by outcome",
			},
			[]string{"outcome"},
		),
		RoleSyncOutboxSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "openlot_role_sync_outbox_size",
				Help: "Pending external role sync intents",
			},
		),
		RoleDriftDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "openlot_role_drift_detected_total",
				Help: "Users whose local and provider roles disagreed",
			},
		),
		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openlot_identity_provider_requests_total",
				Help: "Identity provider API calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "openlot_identity_provider_request_duration_seconds",
				Help:    "Identity provider API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openlot_cache_hits_total",
				Help: "Cache hits by cache name",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openlot_cache_misses_total",
				Help: "Cache misses by cache name",
			},
			[]string{"cache"},
		),
		ListingsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "openlot_listings_total",
				Help: "Number of published listings",
			},
		),
		ActiveUsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "openlot_active_users_total",
				Help: "Number of active user accounts",
			},
		),
		CreditApplications: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "openlot_credit_applications_total",
				Help: "Credit applications received",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RoleSyncsTotal,
		m.RoleSyncOutboxSize,
		m.RoleDriftDetected,
		m.ProviderRequestsTotal,
		m.ProviderRequestDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ListingsTotal,
		m.ActiveUsersTotal,
		m.CreditApplications,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments HTTP handlers with request count and duration
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
