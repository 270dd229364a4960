package build

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDigestCache_LRU(t *testing.T) {
	t.Run("LRU eviction order", func(t *testing.T) {
		// each entry is 2 + 6 = 8 bytes
		cache := NewDigestCache(40, 0)
		for i := 1; i <= 5; i++ {
			cache.Set(fmt.Sprintf("k%d", i), fmt.Sprintf("hash-%d", i))
		}
		for i := 1; i <= 5; i++ {
			_, found := cache.Get(fmt.Sprintf("k%d", i))
			assert.True(t, found, "k%d should be present", i)
		}

		cache.Set("k6", "hash-6")

		_, found := cache.Get("k1")
		assert.False(t, found, "k1 should be evicted as LRU")
		for i := 2; i <= 6; i++ {
			_, found := cache.Get(fmt.Sprintf("k%d", i))
			assert.True(t, found, "k%d should still be present", i)
		}
		assert.Equal(t, int64(1), cache.Stats().Evictions)
	})

	t.Run("access refreshes recency", func(t *testing.T) {
		cache := NewDigestCache(32, 0)
		for i := 1; i <= 4; i++ {
			cache.Set(fmt.Sprintf("k%d", i), fmt.Sprintf("hash-%d", i))
		}

		cache.Get("k1")
		cache.Set("k5", "hash-5")

		_, found := cache.Get("k1")
		assert.True(t, found)
		_, found = cache.Get("k2")
		assert.False(t, found, "k2 became least recently used")
	})

	t.Run("update replaces value and size", func(t *testing.T) {
		cache := NewDigestCache(100, 0)
		cache.Set("k", "short")
		cache.Set("k", "a-longer-hash")

		hash, found := cache.Get("k")
		assert.True(t, found)
		assert.Equal(t, "a-longer-hash", hash)
		assert.Equal(t, 1, cache.Len())
		assert.Equal(t, int64(len("k")+len("a-longer-hash")), cache.Stats().Size)
	})
}

func TestDigestCache_TTL(t *testing.T) {
	cache := NewDigestCache(100, 10*time.Millisecond)
	cache.Set("k", "v")

	_, found := cache.Get("k")
	assert.True(t, found)

	time.Sleep(20 * time.Millisecond)
	_, found = cache.Get("k")
	assert.False(t, found)
	assert.Equal(t, 0, cache.Len())
}

func TestDigestCache_DeleteAndClear(t *testing.T) {
	cache := NewDigestCache(0, 0)
	cache.Set("a", "1")
	cache.Set("b", "2")

	cache.Delete("a")
	_, found := cache.Get("a")
	assert.False(t, found)

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
	stats := cache.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Equal(t, int64(DefaultDigestCacheSize), stats.MaxSize)
}

func TestDigestCache_HitRate(t *testing.T) {
	cache := NewDigestCache(100, 0)
	cache.Set("a", "1")
	cache.Get("a")
	cache.Get("a")
	cache.Get("a")
	cache.Get("missing")

	stats := cache.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.75, stats.HitRate, 0.0001)
}

func TestDigestCache_Concurrent(t *testing.T) {
	cache := NewDigestCache(1024, 0)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i%20)
				cache.Set(key, "h")
				cache.Get(key)
			}
		}(w)
	}
	wg.Wait()

	stats := cache.Stats()
	assert.LessOrEqual(t, stats.Size, stats.MaxSize)
}
