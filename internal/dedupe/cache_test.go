// ABOUTME: Tests for the request replay cache.
// ABOUTME: Validates TTL expiry, size-limited eviction, cleanup, and concurrency safety.

package dedupe

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache[string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := New[string](ttl, maxSize)
	cache.now = clock.Now
	t.Cleanup(cache.Close)
	return cache, clock
}

func TestCache_GetMissing(t *testing.T) {
	cache, _ := newTestCache(t, DefaultTTL, 100)

	v, ok := cache.Get("never-seen")
	assert.False(t, ok)
	assert.Empty(t, v)
	assert.False(t, cache.Check("never-seen"))
}

func TestCache_PutThenGet(t *testing.T) {
	cache, _ := newTestCache(t, DefaultTTL, 100)

	cache.Put("req-1", "answer-1")
	v, ok := cache.Get("req-1")
	require.True(t, ok)
	assert.Equal(t, "answer-1", v)
}

func TestCache_Expires(t *testing.T) {
	cache, clock := newTestCache(t, time.Minute, 100)

	cache.Put("req-1", "answer")
	clock.Advance(59 * time.Second)
	assert.True(t, cache.Check("req-1"))

	clock.Advance(time.Second)
	assert.False(t, cache.Check("req-1"), "entry expires at exactly the TTL")
}

func TestCache_PutRefreshes(t *testing.T) {
	cache, clock := newTestCache(t, time.Minute, 100)

	cache.Put("req-1", "first")
	clock.Advance(40 * time.Second)
	cache.Put("req-1", "second")
	clock.Advance(40 * time.Second)

	v, ok := cache.Get("req-1")
	require.True(t, ok, "refreshed entry outlives the original TTL")
	assert.Equal(t, "second", v)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_EvictionOrder(t *testing.T) {
	cache, _ := newTestCache(t, DefaultTTL, 3)

	cache.Put("first", "1")
	cache.Put("second", "2")
	cache.Put("third", "3")
	cache.Put("fourth", "4")

	assert.False(t, cache.Check("first"), "first should be evicted")
	assert.True(t, cache.Check("second"))
	assert.True(t, cache.Check("fourth"))

	// Refreshing "second" moves it to the back, so "third" goes next.
	cache.Put("second", "2b")
	cache.Put("fifth", "5")
	assert.False(t, cache.Check("third"))
	assert.True(t, cache.Check("second"))
	assert.Equal(t, 3, cache.Len())
}

func TestCache_Cleanup(t *testing.T) {
	cache, clock := newTestCache(t, time.Minute, 100)

	cache.Put("a", "1")
	cache.Put("b", "2")
	clock.Advance(30 * time.Second)
	cache.Put("c", "3")
	clock.Advance(45 * time.Second)

	cache.runCleanup()
	assert.Equal(t, 1, cache.Len(), "only the unexpired entry survives cleanup")
	assert.True(t, cache.Check("c"))
}

func TestCache_Concurrent(t *testing.T) {
	cache := New[int](DefaultTTL, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range 100 {
				key := strconv.Itoa(id) + "-" + strconv.Itoa(j%10)
				cache.Put(key, j)
				cache.Get(key)
			}
		}(i)
	}
	wg.Wait()

	cache.Put("final", 1)
	assert.True(t, cache.Check("final"))
}

func TestCache_Close(t *testing.T) {
	cache := New[string](DefaultTTL, 10)
	cache.Put("before-close", "v")

	cache.Close()
	cache.Close()

	assert.True(t, cache.Check("before-close"), "reads still work after Close")
}
