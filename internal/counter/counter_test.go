package counter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryStore_IncrementExpires(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clock.Now
	ctx := context.Background()

	n, err := s.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = s.Increment(ctx, "k", time.Minute)
	assert.Equal(t, int64(2), n)

	clock.Advance(time.Minute)
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, v)

	n, _ = s.Increment(ctx, "k", time.Minute)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Reset(ctx, "k"))
	v, _ = s.Get(ctx, "k")
	assert.Zero(t, v)
}

func TestMemoryStore_Claim(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clock.Now
	ctx := context.Background()

	ok, err := s.Claim(ctx, "x", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.Claim(ctx, "x", time.Hour)
	assert.False(t, ok)

	clock.Advance(time.Hour)
	ok, _ = s.Claim(ctx, "x", time.Hour)
	assert.True(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clock.Now
	rl := NewRateLimiter(store)
	rl.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "hook:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := rl.Allow(ctx, "hook:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// other identities are independent
	ok, _ = rl.Allow(ctx, "hook:5.6.7.8", 3, time.Minute)
	assert.True(t, ok)

	// two full windows later the history no longer counts
	clock.Advance(2 * time.Minute)
	ok, _ = rl.Allow(ctx, "hook:1.2.3.4", 3, time.Minute)
	assert.True(t, ok)
}

func TestRateLimiter_DisabledLimit(t *testing.T) {
	rl := NewRateLimiter(NewMemoryStore())
	ok, err := rl.Allow(context.Background(), "k", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeduper(t *testing.T) {
	d := NewDeduper(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	first, err := d.First(ctx, "exec-1:outbound")
	require.NoError(t, err)
	assert.True(t, first)

	first, _ = d.First(ctx, "exec-1:outbound")
	assert.False(t, first)

	require.NoError(t, d.Forget(ctx, "exec-1:outbound"))
	first, _ = d.First(ctx, "exec-1:outbound")
	assert.True(t, first)
}
