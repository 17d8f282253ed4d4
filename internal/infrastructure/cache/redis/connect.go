// Package redis implements the ephemeral store on Redis, shared by every
// server instance.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devilmonastery/gatehouse/internal/config"
)

var (
	// ErrInvalidURL is returned when the connection URL cannot be parsed
	ErrInvalidURL = errors.New("invalid redis connection url")
	// ErrNotReady is returned when every connection attempt failed
	ErrNotReady = errors.New("redis is not ready")
)

// Connect dials Redis and pings it, retrying RetryAttempts times with
// RetryInterval between attempts, all within ConnectTimeout
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}

	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for i := range attempts {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrNotReady, lastErr)
}
