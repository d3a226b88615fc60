package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheBasicOperations(t *testing.T) {
	c := New(3, time.Minute)

	c.Set("a", 1, 8)
	c.Set("b", 2, 8)
	c.Set("c", 3, 8)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 3, c.Len())
}

func TestCacheEviction(t *testing.T) {
	c := New(3, time.Minute)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0)

	// Touch "a" so "b" becomes least recently used.
	c.Get("a")
	c.Set("d", 4, 0)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(10, 10*time.Millisecond)

	c.Set("k", "v", 0)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry should have expired")
}

func TestCacheCategoryTTL(t *testing.T) {
	c := New(10, time.Minute)
	c.SetCategoryTTL("pending_videos", 5*time.Millisecond)

	c.Set("pending_videos:tiktok", []int{1}, 0)
	c.Set("creator:alice", []int{2}, 0)

	time.Sleep(15 * time.Millisecond)
	_, ok := c.Get("pending_videos:tiktok")
	assert.False(t, ok)
	_, ok = c.Get("creator:alice")
	assert.True(t, ok)
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c := New(10, time.Minute)

	c.Set("creator:alice:posts", 1, 0)
	c.Set("creator:alice:stats", 2, 0)
	c.Set("creator:bob:posts", 3, 0)
	c.Set("global_stats", 4, 0)

	removed := c.Invalidate("creator:alice")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("creator:alice:posts")
	assert.False(t, ok)
	_, ok = c.Get("creator:bob:posts")
	assert.True(t, ok)
	_, ok = c.Get("global_stats")
	assert.True(t, ok)
}

func TestCacheStatsAccounting(t *testing.T) {
	c := New(10, time.Minute)

	c.Set("x", 1, 100)
	c.Get("x")
	c.Get("x")
	c.Get("missing")
	c.Invalidate("x")
	// Every lookup matching an invalidated pattern records a miss first.
	c.Get("x")

	st := c.Stats()
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(2), st.Misses)
	assert.Equal(t, st.Hits+st.Misses, int64(4))
	assert.Equal(t, int64(1), st.Invalidations)
	assert.InDelta(t, 0.5, st.HitRate, 0.001)
	assert.Equal(t, int64(0), st.ApproxBytes)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(100, time.Minute)
	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 500; j++ {
				key := "k" + string(rune('a'+n))
				c.Set(key, j, 8)
				c.Get(key)
				if j%100 == 0 {
					c.Invalidate(key)
				}
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		<-done
	}
}
