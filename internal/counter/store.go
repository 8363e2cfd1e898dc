// Package counter provides expiring counters used for webhook rate limiting and
// outbound delivery de-duplication. Redis backs them in multi-replica
// deployments; a process-local store is used otherwise.
package counter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// Store is an expiring key/counter store.
type Store interface {
	// Increment adds one to key and returns the new value. ttl applies when the key is created.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current value, zero when absent or expired.
	Get(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
	// Claim sets key only if it does not exist yet. It reports whether this caller won.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type memoryEntry struct {
	value   int64
	expires time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: utils.Now}
}

func (s *MemoryStore) live(key string, now time.Time) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expires.IsZero() && !now.Before(e.expires) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.live(key, now)
	if !ok {
		e = memoryEntry{}
		if ttl > 0 {
			e.expires = now.Add(ttl)
		}
	}
	e.value++
	s.entries[key] = e
	return e.value, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := s.live(key, s.now())
	return e.value, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, ok := s.live(key, now); ok {
		return false, nil
	}
	e := memoryEntry{value: 1}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	s.entries[key] = e
	return true, nil
}

// RedisStore is a Store shared between replicas.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. Every key is namespaced with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient builds a client and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", apperrors.ErrDatabase, addr, err)
	}
	return client, nil
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := s.key(key)
	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: redis incr: %w", apperrors.ErrDatabase, err)
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, k, ttl).Err(); err != nil {
			return n, fmt.Errorf("%w: redis expire: %w", apperrors.ErrDatabase, err)
		}
	}
	return n, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, s.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: redis get: %w", apperrors.ErrDatabase, err)
	}
	return n, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis setnx: %w", apperrors.ErrDatabase, err)
	}
	return ok, nil
}
