package build

import (
	"sync"
	"time"
)

// BuildMetrics accumulates counters across the builds of one session.
type BuildMetrics struct {
	builds        int64
	files         int64
	compiled      int64
	failed        int64
	cacheHits     int64
	chunks        int64
	totalDuration time.Duration
	lastDuration  time.Duration
	mutex         sync.RWMutex
}

// MetricsSnapshot is a point-in-time copy of BuildMetrics.
type MetricsSnapshot struct {
	Builds          int64
	Files           int64
	Compiled        int64
	Failed          int64
	CacheHits       int64
	Chunks          int64
	TotalDuration   time.Duration
	AverageDuration time.Duration
	LastDuration    time.Duration
}

// NewBuildMetrics creates a new build metrics tracker
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

// RecordBatch adds the counters of one directory build.
func (bm *BuildMetrics) RecordBatch(result *BatchResult) {
	if result == nil {
		return
	}
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.builds++
	bm.files += int64(result.Files)
	bm.compiled += int64(result.Compiled)
	bm.failed += int64(result.Failed)
	bm.cacheHits += int64(result.Cached)
	bm.chunks += int64(result.Chunks)
	bm.totalDuration += result.Duration
	bm.lastDuration = result.Duration
}

// RecordFile adds a single-file compilation.
func (bm *BuildMetrics) RecordFile(result FileResult, duration time.Duration, err error) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.builds++
	bm.files++
	bm.totalDuration += duration
	bm.lastDuration = duration

	switch {
	case err != nil:
		bm.failed++
	case result.Cached:
		bm.cacheHits++
	default:
		bm.compiled++
	}
}

// GetSnapshot returns a snapshot of current metrics
func (bm *BuildMetrics) GetSnapshot() MetricsSnapshot {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	snapshot := MetricsSnapshot{
		Builds:        bm.builds,
		Files:         bm.files,
		Compiled:      bm.compiled,
		Failed:        bm.failed,
		CacheHits:     bm.cacheHits,
		Chunks:        bm.chunks,
		TotalDuration: bm.totalDuration,
		LastDuration:  bm.lastDuration,
	}
	if bm.builds > 0 {
		snapshot.AverageDuration = bm.totalDuration / time.Duration(bm.builds)
	}
	return snapshot
}

// Reset resets all metrics
func (bm *BuildMetrics) Reset() {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.builds = 0
	bm.files = 0
	bm.compiled = 0
	bm.failed = 0
	bm.cacheHits = 0
	bm.chunks = 0
	bm.totalDuration = 0
	bm.lastDuration = 0
}

// GetCacheHitRate returns the cache hit rate as a percentage
func (bm *BuildMetrics) GetCacheHitRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	if bm.files == 0 {
		return 0.0
	}

	return float64(bm.cacheHits) / float64(bm.files) * 100.0
}

// GetSuccessRate returns the success rate as a percentage
func (bm *BuildMetrics) GetSuccessRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	if bm.files == 0 {
		return 0.0
	}

	return float64(bm.files-bm.failed) / float64(bm.files) * 100.0
}
