package repositories

import (
	"context"
	"time"
)

// EphemeralStore is a TTL-capable key-value store shared by all server
// instances. It holds OAuth PKCE state and rate-limit counters.
type EphemeralStore interface {
	// Set stores value under key for ttl
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Take returns and deletes the value under key in one step.
	// Returns ErrKeyNotFound if the key is missing or expired.
	Take(ctx context.Context, key string) (string, error)

	// Count returns the integer counter under key, zero when missing
	Count(ctx context.Context, key string) (int64, error)

	// Incr increments the counter under key and returns the new value.
	// The ttl is applied when the counter is created, so a window starts at
	// its first hit and ends when the key expires.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	HealthChecker
}
