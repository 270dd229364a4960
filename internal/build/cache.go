// Package build compiles a source tree into hashed server and client
// artifacts.
//
// The pipeline is driven by a Session, which owns the FileMap, the
// persisted cache index and the metrics for one build. Files are compiled
// either one by one (FileCompiler, fanned out by DirectoryCompiler) or all
// at once with shared chunks extracted (CodeSplittingCompiler).
package build

import (
	"sync"
	"sync/atomic"
	"time"
)

// DigestCache is an LRU cache of content hashes keyed by file metadata.
// It lets repeated hash requests for unchanged files skip reading them.
type DigestCache struct {
	entries     map[string]*digestEntry
	mutex       sync.Mutex
	maxSize     int64
	currentSize int64
	ttl         time.Duration
	// LRU list with sentinel head and tail
	head *digestEntry
	tail *digestEntry
	// statistics, updated atomically
	hits      int64
	misses    int64
	evictions int64
}

type digestEntry struct {
	key       string
	hash      string
	size      int64
	createdAt time.Time
	prev      *digestEntry
	next      *digestEntry
}

// DigestCacheStats is a snapshot of cache usage.
type DigestCacheStats struct {
	Entries   int
	Size      int64
	MaxSize   int64
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// DefaultDigestCacheSize bounds the memory held by cached digests.
const DefaultDigestCacheSize = 8 * 1024 * 1024

// NewDigestCache creates a cache holding at most maxSize bytes of keys and
// hashes. A zero ttl keeps entries until evicted.
func NewDigestCache(maxSize int64, ttl time.Duration) *DigestCache {
	if maxSize <= 0 {
		maxSize = DefaultDigestCacheSize
	}
	cache := &DigestCache{
		entries: make(map[string]*digestEntry),
		maxSize: maxSize,
		ttl:     ttl,
		head:    &digestEntry{},
		tail:    &digestEntry{},
	}
	cache.head.next = cache.tail
	cache.tail.prev = cache.head
	return cache
}

// Get returns the hash stored under key.
func (dc *DigestCache) Get(key string) (string, bool) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	entry, exists := dc.entries[key]
	if !exists {
		atomic.AddInt64(&dc.misses, 1)
		return "", false
	}

	if dc.ttl > 0 && time.Since(entry.createdAt) > dc.ttl {
		dc.remove(entry)
		atomic.AddInt64(&dc.misses, 1)
		return "", false
	}

	dc.moveToFront(entry)
	atomic.AddInt64(&dc.hits, 1)
	return entry.hash, true
}

// Set stores hash under key, evicting least recently used entries when the
// cache is full.
func (dc *DigestCache) Set(key, hash string) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	size := int64(len(key) + len(hash))

	if existing, exists := dc.entries[key]; exists {
		dc.currentSize += size - existing.size
		existing.hash = hash
		existing.size = size
		existing.createdAt = time.Now()
		dc.moveToFront(existing)
		return
	}

	dc.evictIfNeeded(size)

	entry := &digestEntry{
		key:       key,
		hash:      hash,
		size:      size,
		createdAt: time.Now(),
	}
	dc.entries[key] = entry
	dc.currentSize += size
	dc.addToFront(entry)
}

// Delete removes key from the cache.
func (dc *DigestCache) Delete(key string) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if entry, exists := dc.entries[key]; exists {
		dc.remove(entry)
	}
}

// Clear drops every entry and resets the statistics.
func (dc *DigestCache) Clear() {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	dc.entries = make(map[string]*digestEntry)
	dc.currentSize = 0
	dc.head.next = dc.tail
	dc.tail.prev = dc.head

	atomic.StoreInt64(&dc.hits, 0)
	atomic.StoreInt64(&dc.misses, 0)
	atomic.StoreInt64(&dc.evictions, 0)
}

// Len returns the number of cached digests.
func (dc *DigestCache) Len() int {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()
	return len(dc.entries)
}

// Stats returns a snapshot of the cache statistics.
func (dc *DigestCache) Stats() DigestCacheStats {
	dc.mutex.Lock()
	entries, size := len(dc.entries), dc.currentSize
	dc.mutex.Unlock()

	hits := atomic.LoadInt64(&dc.hits)
	misses := atomic.LoadInt64(&dc.misses)
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	return DigestCacheStats{
		Entries:   entries,
		Size:      size,
		MaxSize:   dc.maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadInt64(&dc.evictions),
		HitRate:   rate,
	}
}

func (dc *DigestCache) evictIfNeeded(newSize int64) {
	for dc.currentSize+newSize > dc.maxSize && dc.tail.prev != dc.head {
		dc.remove(dc.tail.prev)
		atomic.AddInt64(&dc.evictions, 1)
	}
}

func (dc *DigestCache) remove(entry *digestEntry) {
	dc.unlink(entry)
	delete(dc.entries, entry.key)
	dc.currentSize -= entry.size
}

func (dc *DigestCache) addToFront(entry *digestEntry) {
	entry.prev = dc.head
	entry.next = dc.head.next
	dc.head.next.prev = entry
	dc.head.next = entry
}

func (dc *DigestCache) unlink(entry *digestEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (dc *DigestCache) moveToFront(entry *digestEntry) {
	dc.unlink(entry)
	dc.addToFront(entry)
}
