package metrics

import (
	"strconv"
	"strings"
	"time"
)

// RecordDBOperation records database operation metrics consistently
// repo: repository name (e.g., "user", "refresh_token")
// operation: operation name (e.g., "create", "get_by_hash", "rotate")
// duration: time taken for the operation
// rowsAffected: number of rows affected/returned (-1 if not applicable)
// err: error from the operation (nil if successful)
func RecordDBOperation(repo, operation string, duration time.Duration, rowsAffected int64, err error) {
	ms := float64(duration.Milliseconds())
	DBDuration.WithLabelValues(repo, operation).Observe(ms)

	if rowsAffected >= 0 {
		DBRowsAffected.WithLabelValues(repo, operation).Observe(float64(rowsAffected))
	}

	status := "success"
	if err != nil {
		status = "error"
		DBErrors.WithLabelValues(repo, operation, classifyDBError(err)).Inc()
	}
	DBOperations.WithLabelValues(repo, operation, status).Inc()
}

// RecordEphemeralOperation records an ephemeral store call.
// A miss is reported separately from an error.
func RecordEphemeralOperation(backend, operation string, duration time.Duration, miss bool, err error) {
	EphemeralDuration.WithLabelValues(backend, operation).Observe(float64(duration.Milliseconds()))

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case miss:
		status = "miss"
	}
	EphemeralOperations.WithLabelValues(backend, operation, status).Inc()
}

// RecordAuthOperation records the outcome of an auth service call
func RecordAuthOperation(operation, outcome string, duration time.Duration) {
	AuthDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
	AuthOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordRateLimit records a limiter decision
func RecordRateLimit(endpoint string, allowed bool) {
	decision := "allow"
	if !allowed {
		decision = "deny"
	}
	RateLimitDecisions.WithLabelValues(endpoint, decision).Inc()
}

// RecordEmail records an outbound email attempt
func RecordEmail(template string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	EmailsSent.WithLabelValues(template, status).Inc()
}

// RecordHTTPRequest records a finished HTTP request
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPDuration.WithLabelValues(method, route).Observe(float64(duration.Milliseconds()))
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// classifyDBError categorizes database errors for metrics
func classifyDBError(err error) string {
	if err == nil {
		return "none"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "duplicate") || strings.Contains(errStr, "unique constraint") ||
		strings.Contains(errStr, "already"):
		return "duplicate"
	case strings.Contains(errStr, "not found") || strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "connect"):
		return "connection"
	case strings.Contains(errStr, "foreign key") || strings.Contains(errStr, "fk_"):
		return "foreign_key"
	case strings.Contains(errStr, "constraint"):
		return "constraint"
	case strings.Contains(errStr, "deadlock"):
		return "deadlock"
	case strings.Contains(errStr, "serialization"):
		return "serialization"
	default:
		return "other"
	}
}
