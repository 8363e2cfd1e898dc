package counter

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// RateLimiter approximates a sliding window with two adjacent fixed buckets:
// the previous bucket is weighted by how much of it still overlaps the window.
type RateLimiter struct {
	store Store
	now   func() time.Time
}

func NewRateLimiter(store Store) *RateLimiter {
	return &RateLimiter{store: store, now: utils.Now}
}

// Allow records one request for key and reports whether it fits in limit per window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}

	now := r.now()
	size := window.Nanoseconds()
	bucket := now.UnixNano() / size
	currKey := fmt.Sprintf("rl:%s:%d", key, bucket)
	prevKey := fmt.Sprintf("rl:%s:%d", key, bucket-1)

	curr, err := r.store.Increment(ctx, currKey, 2*window)
	if err != nil {
		return false, err
	}
	prev, err := r.store.Get(ctx, prevKey)
	if err != nil {
		return false, err
	}

	elapsed := float64(now.UnixNano()-bucket*size) / float64(size)
	estimate := float64(prev)*(1-elapsed) + float64(curr)
	return estimate <= float64(limit), nil
}

// Deduper remembers keys for a while so a side effect happens at most once.
type Deduper struct {
	store Store
	ttl   time.Duration
}

func NewDeduper(store Store, ttl time.Duration) *Deduper {
	return &Deduper{store: store, ttl: ttl}
}

// First reports whether key is seen for the first time within the window.
func (d *Deduper) First(ctx context.Context, key string) (bool, error) {
	return d.store.Claim(ctx, "dedup:"+key, d.ttl)
}

// Forget releases key, e.g. after the guarded side effect failed.
func (d *Deduper) Forget(ctx context.Context, key string) error {
	return d.store.Reset(ctx, "dedup:"+key)
}
