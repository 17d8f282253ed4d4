// Package memory implements the ephemeral store in process memory. It is
// only correct for a single server instance.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/pkg/metrics"
)

// sweepEvery is the number of writes between full scans for expired keys
const sweepEvery = 1024

type entry struct {
	value     string
	expiresAt time.Time
}

// Store implements repositories.EphemeralStore with a mutex-guarded map
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	writes  int
	now     func() time.Time
}

var _ repositories.EphemeralStore = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// get returns a live entry. Caller holds s.mu.
func (s *Store) get(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

// put stores an entry and occasionally drops expired ones. Caller holds s.mu.
func (s *Store) put(key string, e entry) {
	s.entries[key] = e
	s.writes++
	if s.writes%sweepEvery == 0 {
		now := s.now()
		for k, v := range s.entries {
			if !now.Before(v.expiresAt) {
				delete(s.entries, k)
			}
		}
	}
}

// Set stores value under key for ttl
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	s.mu.Lock()
	s.put(key, entry{value: value, expiresAt: s.now().Add(ttl)})
	s.mu.Unlock()
	metrics.RecordEphemeralOperation("memory", "set", time.Since(start), false, nil)
	return nil
}

// Take returns and deletes the value under key
func (s *Store) Take(ctx context.Context, key string) (string, error) {
	start := time.Now()
	s.mu.Lock()
	e, ok := s.get(key)
	delete(s.entries, key)
	s.mu.Unlock()
	metrics.RecordEphemeralOperation("memory", "take", time.Since(start), !ok, nil)
	if !ok {
		return "", repositories.ErrKeyNotFound
	}
	return e.value, nil
}

// Count returns the integer counter under key, zero when missing
func (s *Store) Count(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	s.mu.Lock()
	e, ok := s.get(key)
	s.mu.Unlock()
	metrics.RecordEphemeralOperation("memory", "count", time.Since(start), !ok, nil)
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(e.value, 10, 64)
}

// Incr increments the counter under key, setting ttl when it is created
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(key)
	var n int64
	if ok {
		var err error
		if n, err = strconv.ParseInt(e.value, 10, 64); err != nil {
			return 0, err
		}
	} else {
		e.expiresAt = s.now().Add(ttl)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.put(key, e)
	metrics.RecordEphemeralOperation("memory", "incr", time.Since(start), false, nil)
	return n, nil
}

// HealthCheck always succeeds
func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}
