package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/gatehouse/internal/config"
	"github.com/devilmonastery/gatehouse/internal/infrastructure/cache/memory"
	"github.com/devilmonastery/gatehouse/internal/infrastructure/cache/redis"
)

func TestLimiter_BurstLimitOne(t *testing.T) {
	ctx := context.Background()
	l := New(memory.NewStore())
	cfg := config.RateLimitConfig{HourlyLimit: 100, BurstLimit: 1, BurstWindow: 5 * time.Minute}

	assert.True(t, l.Allow(ctx, "10.0.0.1", "login", cfg))
	assert.False(t, l.Allow(ctx, "10.0.0.1", "login", cfg))

	// Other identifiers and other endpoints have their own counters
	assert.True(t, l.Allow(ctx, "10.0.0.2", "login", cfg))
	assert.True(t, l.Allow(ctx, "10.0.0.1", "register", cfg))
}

func TestLimiter_HourlyCeiling(t *testing.T) {
	ctx := context.Background()
	l := New(memory.NewStore())
	cfg := config.RateLimitConfig{HourlyLimit: 3, BurstLimit: 10, BurstWindow: time.Minute}

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(ctx, "id", "reset", cfg), "request %d", i+1)
	}
	d, err := l.Check(ctx, "id", "reset", cfg)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "hourly", d.Window)
}

func TestLimiter_CheckDoesNotCount(t *testing.T) {
	ctx := context.Background()
	l := New(memory.NewStore())
	cfg := config.RateLimitConfig{HourlyLimit: 1, BurstLimit: 1, BurstWindow: time.Minute}

	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "id", "api", cfg)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	require.NoError(t, l.Record(ctx, "id", "api", cfg))
	d, err := l.Check(ctx, "id", "api", cfg)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "hourly", d.Window)
}

func TestLimiter_BurstWindowResetsOnRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := New(redis.NewStore(client, "test:"))
	cfg := config.RateLimitConfig{HourlyLimit: 100, BurstLimit: 2, BurstWindow: 5 * time.Minute}

	assert.True(t, l.Allow(ctx, "ip", "login", cfg))
	assert.True(t, l.Allow(ctx, "ip", "login", cfg))
	assert.False(t, l.Allow(ctx, "ip", "login", cfg))

	mr.FastForward(5 * time.Minute)
	assert.True(t, l.Allow(ctx, "ip", "login", cfg))
	assert.Equal(t, "3", mustGet(t, mr, "test:rl:login:ip:hour"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

type brokenStore struct{ memory.Store }

func (b *brokenStore) Count(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestLimiter_FailsOpen(t *testing.T) {
	l := New(&brokenStore{})
	cfg := config.RateLimitConfig{HourlyLimit: 1, BurstLimit: 1, BurstWindow: time.Minute}
	assert.True(t, l.Allow(context.Background(), "id", "login", cfg))
	assert.True(t, l.Allow(context.Background(), "id", "login", cfg))
}
