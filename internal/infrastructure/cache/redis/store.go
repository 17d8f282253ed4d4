package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/pkg/metrics"
)

// incrWithTTL creates the counter with its expiry in one atomic step, so a
// crash between INCR and PEXPIRE cannot leave a counter that never resets
var incrWithTTL = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Store implements repositories.EphemeralStore on Redis
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ repositories.EphemeralStore = (*Store)(nil)

// NewStore wraps a connected client. Every key is stored under prefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Set stores value under key for ttl
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := s.client.Set(ctx, s.key(key), value, ttl).Err()
	metrics.RecordEphemeralOperation("redis", "set", time.Since(start), false, err)
	return err
}

// Take returns and deletes the value under key with GETDEL
func (s *Store) Take(ctx context.Context, key string) (string, error) {
	start := time.Now()
	value, err := s.client.GetDel(ctx, s.key(key)).Result()
	miss := errors.Is(err, redis.Nil)
	if miss {
		err = nil
	}
	metrics.RecordEphemeralOperation("redis", "take", time.Since(start), miss, err)
	if miss {
		return "", repositories.ErrKeyNotFound
	}
	return value, err
}

// Count returns the integer counter under key, zero when missing
func (s *Store) Count(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.client.Get(ctx, s.key(key)).Int64()
	miss := errors.Is(err, redis.Nil)
	if miss {
		err = nil
	}
	metrics.RecordEphemeralOperation("redis", "count", time.Since(start), miss, err)
	return n, err
}

// Incr increments the counter under key, setting ttl when it is created
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	start := time.Now()
	n, err := incrWithTTL.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	metrics.RecordEphemeralOperation("redis", "incr", time.Since(start), false, err)
	return n, err
}

// HealthCheck pings Redis
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
