package build

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/forge/internal/hashing"
)

// SourceHasher computes content hashes of source files with a two-tier
// lookup: file metadata (path, modification time, size) is checked against
// the digest cache first, and the file is only read on a miss.
type SourceHasher struct {
	// cache maps metadata keys to content hashes
	cache *DigestCache
	// calc computes the content hash on a miss
	calc *hashing.Calculator
}

// NewSourceHasher creates a hasher backed by cache. A nil cache gets a
// default-sized one.
func NewSourceHasher(cache *DigestCache, calc *hashing.Calculator) *SourceHasher {
	if cache == nil {
		cache = NewDigestCache(DefaultDigestCacheSize, 0)
	}
	if calc == nil {
		calc = hashing.Default()
	}
	return &SourceHasher{cache: cache, calc: calc}
}

// Calculator returns the hash function used for file contents.
func (h *SourceHasher) Calculator() *hashing.Calculator {
	return h.calc
}

// Hash returns the content hash of the file at path.
func (h *SourceHasher) Hash(path string) (string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if stat.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	metadataKey := fmt.Sprintf("%s:%d:%d", path, stat.ModTime().UnixNano(), stat.Size())
	if hash, found := h.cache.Get(metadataKey); found {
		return hash, nil
	}

	hash, err := h.calc.HashFile(path)
	if err != nil {
		return "", err
	}
	h.cache.Set(metadataKey, hash)
	return hash, nil
}

// HashBatch hashes many files with bounded parallelism and returns
// path → hash for the files that could be read.
func (h *SourceHasher) HashBatch(ctx context.Context, paths []string) map[string]string {
	results := make(map[string]string, len(paths))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, p := range paths {
		p := p
		g.Go(func() error {
			hash, err := h.Hash(p)
			if err != nil {
				return nil
			}
			mu.Lock()
			results[p] = hash
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Invalidate forgets the cached digest of path for its current metadata.
func (h *SourceHasher) Invalidate(path string) {
	stat, err := os.Stat(path)
	if err != nil {
		return
	}
	h.cache.Delete(fmt.Sprintf("%s:%d:%d", path, stat.ModTime().UnixNano(), stat.Size()))
}

// Stats returns digest cache statistics.
func (h *SourceHasher) Stats() DigestCacheStats {
	return h.cache.Stats()
}
