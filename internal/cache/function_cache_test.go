package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

func TestFunctionCache_GetPut(t *testing.T) {
	c := NewFunctionCache("acme", 2, time.Minute)

	_, ok := c.Get("k1")
	assert.False(t, ok)

	fn := &model.Function{ID: "fn-1"}
	c.Put("k1", fn)
	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Same(t, fn, got)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
	assert.Equal(t, 1, stats.Size)
}

func TestFunctionCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewFunctionCache("acme", 2, time.Minute)
	c.Put("k1", &model.Function{ID: "fn-1"})
	c.Put("k2", &model.Function{ID: "fn-2"})
	_, _ = c.Get("k1")
	c.Put("k3", &model.Function{ID: "fn-3"})

	_, ok := c.Get("k2")
	assert.False(t, ok)
	_, ok = c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.GetStats().Evictions)
}

func TestFunctionCache_Expires(t *testing.T) {
	c := NewFunctionCache("acme", 10, 20*time.Millisecond)
	c.Put("k1", &model.Function{ID: "fn-1"})

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestFunctionCache_Invalidate(t *testing.T) {
	c := NewFunctionCache("acme", 0, 0)
	c.Put("k1", &model.Function{ID: "fn-1"})
	c.Invalidate("k1")

	_, ok := c.Get("k1")
	assert.False(t, ok)

	c.Put("k2", &model.Function{ID: "fn-2"})
	c.Purge()
	assert.Zero(t, c.GetStats().Size)
}
