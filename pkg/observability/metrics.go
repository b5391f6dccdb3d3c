package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the service.
//
// All recording helpers are nil-safe so packages can take an optional
// *Metrics without guarding every call.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission resolution metrics
	PermissionResolutionsTotal   *prometheus.CounterVec
	PermissionResolutionDuration *prometheus.HistogramVec
	PermissionCacheHitsTotal     *prometheus.CounterVec
	PermissionCacheMissesTotal   prometheus.Counter

	// Audit trail metrics
	AuditAppendsTotal       *prometheus.CounterVec
	AuditAppendDuration     prometheus.Histogram
	AuditQueueDepth         prometheus.Gauge
	AuditVerificationsTotal *prometheus.CounterVec

	// Monitoring metrics
	AlertsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataroom_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		PermissionResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_permission_resolutions_total",
				Help: "Total number of effective permission resolutions",
			},
			[]string{"resource_kind", "source"},
		),
		PermissionResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataroom_permission_resolution_duration_seconds",
				Help:    "Effective permission resolution duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"resource_kind"},
		),
		PermissionCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_permission_cache_hits_total",
				Help: "Permission cache hits by tier",
			},
			[]string{"tier"},
		),
		PermissionCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dataroom_permission_cache_misses_total",
				Help: "Permission cache misses",
			},
		),

		AuditAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_audit_appends_total",
				Help: "Audit chain append attempts by status",
			},
			[]string{"status"},
		),
		AuditAppendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dataroom_audit_append_duration_seconds",
				Help:    "Audit chain append duration in seconds, including queueing",
				Buckets: prometheus.DefBuckets,
			},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dataroom_audit_queue_depth",
				Help: "Audit events waiting for the chain writer",
			},
		),
		AuditVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_audit_verifications_total",
				Help: "Audit chain verifications by result",
			},
			[]string{"result"},
		),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_alerts_total",
				Help: "Suspicious activity alerts raised by rule",
			},
			[]string{"rule"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionResolutionsTotal,
		m.PermissionResolutionDuration,
		m.PermissionCacheHitsTotal,
		m.PermissionCacheMissesTotal,
		m.AuditAppendsTotal,
		m.AuditAppendDuration,
		m.AuditQueueDepth,
		m.AuditVerificationsTotal,
		m.AlertsTotal,
	)

	return m
}

// ObserveResolution records one permission resolution
func (m *Metrics) ObserveResolution(kind, source string, d time.Duration) {
	if m == nil {
		return
	}
	m.PermissionResolutionsTotal.WithLabelValues(kind, source).Inc()
	m.PermissionResolutionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// CacheHit records a permission cache hit on the given tier ("local" or "redis")
func (m *Metrics) CacheHit(tier string) {
	if m == nil {
		return
	}
	m.PermissionCacheHitsTotal.WithLabelValues(tier).Inc()
}

// CacheMiss records a permission cache miss
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.PermissionCacheMissesTotal.Inc()
}

// ObserveAppend records an audit append outcome
func (m *Metrics) ObserveAppend(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.AuditAppendsTotal.WithLabelValues(status).Inc()
	m.AuditAppendDuration.Observe(d.Seconds())
}

// SetAuditQueueDepth reports the current writer backlog
func (m *Metrics) SetAuditQueueDepth(n int) {
	if m == nil {
		return
	}
	m.AuditQueueDepth.Set(float64(n))
}

// ObserveVerification records a chain verification result
// ("valid", "broken" or "error")
func (m *Metrics) ObserveVerification(result string) {
	if m == nil {
		return
	}
	m.AuditVerificationsTotal.WithLabelValues(result).Inc()
}

// AlertRaised records an alert for the named rule
func (m *Metrics) AlertRaised(rule string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(rule).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Routes are labelled with
// the mux path template so ids do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// MetricsHandler returns the /metrics handler for the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
