package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/gatehouse/internal/config"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "gh:"), mr
}

func TestStore_SetTake(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.Set(ctx, "oauth_state:abc", "payload", time.Minute))
	assert.True(t, mr.Exists("gh:oauth_state:abc"))

	v, err := s.Take(ctx, "oauth_state:abc")
	require.NoError(t, err)
	assert.Equal(t, "payload", v)

	_, err = s.Take(ctx, "oauth_state:abc")
	assert.ErrorIs(t, err, repositories.ErrKeyNotFound)
}

func TestStore_TakeAfterExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := s.Take(ctx, "k")
	assert.ErrorIs(t, err, repositories.ErrKeyNotFound)
}

func TestStore_IncrAppliesTTLOnFirstHit(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	n, err := s.Incr(ctx, "rl:login:1.2.3.4:hour", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, time.Hour, mr.TTL("gh:rl:login:1.2.3.4:hour"))

	mr.FastForward(30 * time.Minute)
	n, err = s.Incr(ctx, "rl:login:1.2.3.4:hour", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 30*time.Minute, mr.TTL("gh:rl:login:1.2.3.4:hour"), "later hits must not extend the window")

	count, err := s.Count(ctx, "rl:login:1.2.3.4:hour")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	mr.FastForward(31 * time.Minute)
	count, err = s.Count(ctx, "rl:login:1.2.3.4:hour")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Count(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, s.HealthCheck(ctx))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), config.RedisConfig{
		URL:            "redis://" + mr.Addr() + "/0",
		RetryAttempts:  2,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	_ = client.Close()

	_, err = Connect(context.Background(), config.RedisConfig{URL: "::not a url", ConnectTimeout: time.Second})
	assert.ErrorIs(t, err, ErrInvalidURL)
}
