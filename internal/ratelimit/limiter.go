// Package ratelimit implements dual-window abuse control over the ephemeral
// store. Each (identifier, endpoint) pair has an hourly counter and a burst
// counter; a request is denied when either has reached its ceiling.
//
// Check and Record are separate steps. Two concurrent requests can both pass
// Check before either records, so a burst may exceed the ceiling by the
// number of requests in flight at the boundary.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devilmonastery/gatehouse/internal/config"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/pkg/metrics"
)

// HourlyWindow is the fixed lifetime of the hourly counter
const HourlyWindow = time.Hour

// Decision is the outcome of a check
type Decision struct {
	Allowed bool
	// Window names the exhausted counter ("hourly" or "burst") when denied
	Window string
}

// Limiter gates endpoints by client identifier
type Limiter struct {
	store repositories.EphemeralStore
	log   *slog.Logger
}

// New creates a limiter over store
func New(store repositories.EphemeralStore) *Limiter {
	return &Limiter{
		store: store,
		log:   slog.Default().With(slog.String("component", "ratelimit")),
	}
}

func hourlyKey(identifier, endpoint string) string {
	return fmt.Sprintf("rl:%s:%s:hour", endpoint, identifier)
}

func burstKey(identifier, endpoint string) string {
	return fmt.Sprintf("rl:%s:%s:burst", endpoint, identifier)
}

// Check reports whether another request from identifier to endpoint fits
// under both ceilings. It does not count the request.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string, cfg config.RateLimitConfig) (Decision, error) {
	hourly, err := l.store.Count(ctx, hourlyKey(identifier, endpoint))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read hourly counter: %w", err)
	}
	if hourly >= int64(cfg.HourlyLimit) {
		return Decision{Allowed: false, Window: "hourly"}, nil
	}

	burst, err := l.store.Count(ctx, burstKey(identifier, endpoint))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read burst counter: %w", err)
	}
	if burst >= int64(cfg.BurstLimit) {
		return Decision{Allowed: false, Window: "burst"}, nil
	}

	return Decision{Allowed: true}, nil
}

// Record counts one request against both windows. Each window starts at the
// first request recorded into it and resets when its key expires.
func (l *Limiter) Record(ctx context.Context, identifier, endpoint string, cfg config.RateLimitConfig) error {
	if _, err := l.store.Incr(ctx, hourlyKey(identifier, endpoint), HourlyWindow); err != nil {
		return fmt.Errorf("failed to record hourly counter: %w", err)
	}
	if _, err := l.store.Incr(ctx, burstKey(identifier, endpoint), cfg.BurstWindow); err != nil {
		return fmt.Errorf("failed to record burst counter: %w", err)
	}
	return nil
}

// Allow runs Check and, when allowed, Record. A store failure allows the
// request: the limiter reduces abuse but is not an authentication boundary.
func (l *Limiter) Allow(ctx context.Context, identifier, endpoint string, cfg config.RateLimitConfig) bool {
	decision, err := l.Check(ctx, identifier, endpoint, cfg)
	if err != nil {
		l.log.Warn("rate limit check failed, allowing request",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		metrics.RecordRateLimit(endpoint, true)
		return true
	}

	if !decision.Allowed {
		l.log.Info("rate limit exceeded",
			slog.String("endpoint", endpoint),
			slog.String("identifier", identifier),
			slog.String("window", decision.Window))
		metrics.RecordRateLimit(endpoint, false)
		return false
	}

	if err := l.Record(ctx, identifier, endpoint, cfg); err != nil {
		l.log.Warn("rate limit record failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
	}
	metrics.RecordRateLimit(endpoint, true)
	return true
}
