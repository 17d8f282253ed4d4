package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database/Repository Metrics
var (
	// DBOperations tracks total database operations
	DBOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_db_operations_total",
			Help: "Total database operations by repository, operation, and status",
		},
		[]string{"repo", "operation", "status"},
	)

	// DBDuration tracks database operation latency
	DBDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "gatehouse_db_operation_duration_ms",
			Help:                            "Database operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBRowsAffected tracks rows affected or returned by operations
	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "gatehouse_db_rows_affected",
			Help:                            "Number of rows affected by database operations",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBErrors tracks database errors by type
	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_db_errors_total",
			Help: "Total database errors by repository, operation, and error type",
		},
		[]string{"repo", "operation", "error_type"},
	)
)

// Ephemeral store metrics
var (
	// EphemeralOperations tracks ephemeral store calls
	EphemeralOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_ephemeral_operations_total",
			Help: "Total ephemeral store operations by backend, operation, and status",
		},
		[]string{"backend", "operation", "status"},
	)

	// EphemeralDuration tracks ephemeral store latency
	EphemeralDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "gatehouse_ephemeral_operation_duration_ms",
			Help:                            "Ephemeral store operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"backend", "operation"},
	)
)

// Auth metrics
var (
	// AuthOperations tracks auth service operations by outcome
	AuthOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_auth_operations_total",
			Help: "Total auth operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// AuthDuration tracks auth service latency
	AuthDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "gatehouse_auth_operation_duration_ms",
			Help:                            "Auth operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"operation"},
	)

	// RateLimitDecisions tracks limiter verdicts
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_ratelimit_decisions_total",
			Help: "Rate limiter decisions by endpoint class and decision",
		},
		[]string{"endpoint", "decision"},
	)

	// EmailsSent tracks outbound email attempts
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_emails_sent_total",
			Help: "Outbound emails by template and status",
		},
		[]string{"template", "status"},
	)
)

// HTTP Handler Metrics
var (
	// HTTPRequests tracks HTTP requests
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks HTTP request duration
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "gatehouse_http_request_duration_ms",
			Help:                            "HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "route"},
	)

	// HTTPActiveRequests tracks in-flight HTTP requests
	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatehouse_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)
)
