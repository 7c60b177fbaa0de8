package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the prometheus registry and every metric family the service
// emits. It is constructed once in main and injected; nothing in this package
// registers collectors globally.
type Recorder struct {
	registry    *prometheus.Registry
	serviceName string

	// RequestCounter counts all HTTP requests with labels
	RequestCounter *prometheus.CounterVec

	// RequestDurationHistogram records request duration in seconds
	RequestDurationHistogram *prometheus.HistogramVec

	// StatusCodeCategoryCounter counts responses by status category
	StatusCodeCategoryCounter *prometheus.CounterVec

	// AuthErrorCounter counts authentication errors by type
	AuthErrorCounter *prometheus.CounterVec

	// AuthOperationCounter counts authentication operations
	AuthOperationCounter *prometheus.CounterVec

	// TenantOperationCounter counts tenant operations
	TenantOperationCounter *prometheus.CounterVec

	// DBOperationDuration records database operation durations in seconds
	DBOperationDuration *prometheus.HistogramVec

	// RateLimitRejectionCounter counts requests rejected by the rate limiter
	RateLimitRejectionCounter *prometheus.CounterVec

	// AuditFailureCounter counts audit records that could not be written
	AuditFailureCounter prometheus.Counter

	// ActiveTokensGauge tracks issued authentication tokens
	ActiveTokensGauge prometheus.Gauge

	// InfoGauge carries service build information
	InfoGauge *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry. The prefix becomes
// the prometheus namespace for every family.
func NewRecorder(prefix, serviceName, version string) *Recorder {
	r := &Recorder{
		registry:    prometheus.NewRegistry(),
		serviceName: serviceName,

		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prefix,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDurationHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: prefix,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "method", "path", "status"},
		),
		StatusCodeCategoryCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prefix,
				Name:      "http_status_category_total",
				Help:      "Total number of responses by status category (2xx, 4xx, 5xx)",
			},
			[]string{"service", "category", "method", "path"},
		),
		AuthErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prefix,
				Name:      "auth_errors_total",
				Help:      "Total number of authentication errors",
			},
			[]string{"type"},
		),
		AuthOperationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prefix,
				Name:      "auth_operations_total",
				Help:      "Total number of authentication operations",
			},
			[]string{"operation"},
		),
		TenantOperationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prefix,
				Name:      "tenant_operations_total",
				Help:      "Total number of tenant operations",
			},
			[]string{"operation"},
		),
		DBOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: prefix,
				Name:      "db_operation_duration_seconds",
				Help:      "Duration of database operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		RateLimitRejectionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prefix,
				Name:      "rate_limit_rejections_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),
		AuditFailureCounter: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: prefix,
				Name:      "audit_failures_total",
				Help:      "Total number of audit log entries that failed to persist",
			},
		),
		ActiveTokensGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: prefix,
				Name:      "active_tokens",
				Help:      "Number of currently active authentication tokens",
			},
		),
		InfoGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: prefix,
				Name:      "service_info",
				Help:      "Information about the service",
			},
			[]string{"version"},
		),
	}

	r.registry.MustRegister(
		r.RequestCounter,
		r.RequestDurationHistogram,
		r.StatusCodeCategoryCounter,
		r.AuthErrorCounter,
		r.AuthOperationCounter,
		r.TenantOperationCounter,
		r.DBOperationDuration,
		r.RateLimitRejectionCounter,
		r.AuditFailureCounter,
		r.ActiveTokensGauge,
		r.InfoGauge,
	)

	r.InfoGauge.With(prometheus.Labels{"version": version}).Set(1)

	return r
}

// Registry returns the recorder's registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an HTTP handler exposing the recorder's metrics
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// incrementStatusCounter increments the appropriate status counter based on the HTTP status code
func (r *Recorder) incrementStatusCounter(status int, method, path string) {
	category := ""

	if status >= 200 && status < 300 {
		category = "2xx"
	} else if status >= 400 && status < 500 {
		category = "4xx"
	} else if status >= 500 && status < 600 {
		category = "5xx"
	}

	if category != "" {
		r.StatusCodeCategoryCounter.WithLabelValues(r.serviceName, category, method, path).Inc()
	}
}

// Middleware creates an Echo middleware function that records HTTP request metrics
func (r *Recorder) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			// Record metrics after the request is processed
			status := c.Response().Status
			method := c.Request().Method
			path := c.Path()
			statusStr := strconv.Itoa(status)

			r.RequestCounter.WithLabelValues(r.serviceName, method, path, statusStr).Inc()
			r.incrementStatusCounter(status, method, path)

			duration := time.Since(start).Seconds()
			r.RequestDurationHistogram.WithLabelValues(r.serviceName, method, path, statusStr).Observe(duration)

			return err
		}
	}
}

// TrackDBOperation measures database operation durations
func (r *Recorder) TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		r.DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// RecordAuthError records an authentication error by type
func (r *Recorder) RecordAuthError(errorType string) {
	r.AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordAuthOperation records an authentication operation by type
func (r *Recorder) RecordAuthOperation(operation string) {
	r.AuthOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordTenantOperation records a tenant operation
func (r *Recorder) RecordTenantOperation(operation string) {
	r.TenantOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordRateLimitRejection records a request rejected by the rate limiter
func (r *Recorder) RecordRateLimitRejection(scope string) {
	r.RateLimitRejectionCounter.With(prometheus.Labels{"scope": scope}).Inc()
}

// RecordAuditFailure records an audit entry that failed to persist
func (r *Recorder) RecordAuditFailure() {
	r.AuditFailureCounter.Inc()
}

// IncreaseActiveTokens increments the active tokens gauge
func (r *Recorder) IncreaseActiveTokens() {
	r.ActiveTokensGauge.Inc()
}

// DecreaseActiveTokens decrements the active tokens gauge
func (r *Recorder) DecreaseActiveTokens() {
	r.ActiveTokensGauge.Dec()
}
