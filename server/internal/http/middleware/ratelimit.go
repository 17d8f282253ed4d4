package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/devilmonastery/gatehouse/internal/config"
	"github.com/devilmonastery/gatehouse/server/internal/http/respond"
)

// Limiter decides whether an attempt may proceed and counts it
type Limiter interface {
	Allow(ctx context.Context, identifier, endpoint string, cfg config.RateLimitConfig) bool
}

// RateLimiter applies per-client limits to endpoint classes
type RateLimiter struct {
	limiter        Limiter
	trustForwarded bool
}

// NewRateLimiter creates the rate limiting middleware factory
func NewRateLimiter(limiter Limiter, trustForwarded bool) *RateLimiter {
	return &RateLimiter{limiter: limiter, trustForwarded: trustForwarded}
}

// Limit returns a middleware that counts requests against the endpoint class
// keyed by client IP. A rejected request never reaches the handler.
func (rl *RateLimiter) Limit(endpoint string, cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, rl.trustForwarded)
			if !rl.limiter.Allow(r.Context(), ip, endpoint, cfg) {
				retry := int(cfg.BurstWindow.Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				respond.Message(w, http.StatusTooManyRequests, "too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
