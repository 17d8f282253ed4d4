package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/gatehouse/internal/auth"
	"github.com/devilmonastery/gatehouse/internal/pkg/logger"
	"github.com/devilmonastery/gatehouse/internal/pkg/metrics"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logging emits one structured line per request and records HTTP metrics
type Logging struct {
	trustForwarded bool
}

// NewLogging creates the request logging middleware
func NewLogging(trustForwarded bool) *Logging {
	return &Logging{trustForwarded: trustForwarded}
}

// LogRequest is a mux middleware; it runs after route matching so the route
// template is available for metric labels.
func (l *Logging) LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip probes to reduce noise
		if isProbe(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		metrics.HTTPActiveRequests.Inc()
		defer metrics.HTTPActiveRequests.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Subrouter middleware (authentication) runs after this one and
		// reports the user back through the holder.
		holder := &userHolder{}
		next.ServeHTTP(wrapped, r.WithContext(withUserHolder(r.Context(), holder)))

		duration := time.Since(start)
		metrics.RecordHTTPRequest(r.Method, routeTemplate(r), wrapped.statusCode, duration)

		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Int64("duration_ms", duration.Milliseconds()),
			slog.Int64("bytes", wrapped.written),
			slog.String("client_ip", ClientIP(r, l.trustForwarded)),
			slog.String("user_agent", r.UserAgent()),
		}
		if holder.user != nil {
			attrs = append(attrs, slog.String("user_id", holder.user.UserID))
		}

		log := logger.FromContext(r.Context())
		switch {
		case wrapped.statusCode >= http.StatusInternalServerError:
			log.Error("http request", attrs...)
		case wrapped.statusCode >= http.StatusBadRequest:
			log.Warn("http request", attrs...)
		default:
			log.Info("http request", attrs...)
		}
	})
}

// routeTemplate returns the matched mux route so metric labels stay bounded
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func isProbe(path string) bool {
	return path == "/health" || path == "/readiness" || path == "/metrics"
}

type userHolder struct {
	user *auth.UserContext
}
