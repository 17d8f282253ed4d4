package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/devilmonastery/gatehouse/server/internal/http/respond"
)

// ReadinessCheck is one dependency probed by /readiness
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

const readinessTimeout = 2 * time.Second

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness returns the GET /readiness handler. Any failing check turns the
// response into a 503.
func Readiness(checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				slog.Warn("readiness check failed", slog.String("check", c.Name), slog.String("error", err.Error()))
				results[c.Name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[c.Name] = "ok"
		}

		state := "ready"
		if status != http.StatusOK {
			state = "not ready"
		}
		respond.JSON(w, status, map[string]any{"status": state, "checks": results})
	}
}
