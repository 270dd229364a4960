package build

import (
	"context"
	goerrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/conneroisu/forge/internal/errors"
	"github.com/conneroisu/forge/internal/logging"
)

// CacheIndexFile is the name of the persisted cache index in the out dir.
const CacheIndexFile = ".forge-cache.cbor"

// cacheIndexVersion changes whenever the record layout does.
const cacheIndexVersion = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core deterministic encoding keeps identical indexes byte-identical.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("build: cbor encoder: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("build: cbor decoder: " + err.Error())
	}
}

// CacheRecord remembers the artifact produced for one source hash in one
// output directory.
type CacheRecord struct {
	Source     string            `cbor:"1,keyasint"`
	SourceHash string            `cbor:"2,keyasint"`
	OutDir     string            `cbor:"3,keyasint"`
	Name       string            `cbor:"4,keyasint"`
	Inputs     map[string]string `cbor:"5,keyasint,omitempty"`
	BuiltAt    int64             `cbor:"6,keyasint"`
}

type cacheIndexFile struct {
	Version     int                 `cbor:"1,keyasint"`
	Fingerprint string              `cbor:"2,keyasint"`
	Records     []CacheRecord       `cbor:"3,keyasint"`
	Chunks      map[string][]string `cbor:"4,keyasint,omitempty"`
}

// CacheIndex is the session-owned record store behind cache lookups. It is
// only mutated by the build orchestrator.
type CacheIndex struct {
	mu          sync.RWMutex
	path        string
	fingerprint string
	records     map[string]CacheRecord
	chunks      map[string][]string
}

// NewCacheIndex creates an empty index persisted at path. Records are only
// valid for builds with the same fingerprint.
func NewCacheIndex(path, fingerprint string) *CacheIndex {
	return &CacheIndex{
		path:        path,
		fingerprint: fingerprint,
		records:     make(map[string]CacheRecord),
		chunks:      make(map[string][]string),
	}
}

// LoadCacheIndex reads the index at path. A missing file, a different
// fingerprint or an older layout yields an empty index.
func LoadCacheIndex(path, fingerprint string) (*CacheIndex, error) {
	index := NewCacheIndex(path, fingerprint)

	data, err := os.ReadFile(path)
	if goerrors.Is(err, fs.ErrNotExist) {
		return index, nil
	}
	if err != nil {
		return index, errors.NewCacheIOError(path, err)
	}

	var file cacheIndexFile
	if err := decMode.Unmarshal(data, &file); err != nil {
		return index, errors.NewCacheIOError(path, fmt.Errorf("decode cache index: %w", err))
	}
	if file.Version != cacheIndexVersion || file.Fingerprint != fingerprint {
		return index, nil
	}

	for _, rec := range file.Records {
		index.records[recordKey(rec.Source, rec.OutDir, rec.SourceHash)] = rec
	}
	for dir, names := range file.Chunks {
		index.chunks[dir] = names
	}
	return index, nil
}

func recordKey(source, outDir, sourceHash string) string {
	return source + "\x00" + outDir + "\x00" + sourceHash
}

// Path returns where the index is persisted.
func (ci *CacheIndex) Path() string {
	return ci.path
}

// Fingerprint returns the build fingerprint the records belong to.
func (ci *CacheIndex) Fingerprint() string {
	return ci.fingerprint
}

// Record stores rec, replacing any record for the same key.
func (ci *CacheIndex) Record(rec CacheRecord) {
	if rec.BuiltAt == 0 {
		rec.BuiltAt = time.Now().Unix()
	}
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.records[recordKey(rec.Source, rec.OutDir, rec.SourceHash)] = rec
}

// Lookup returns the record for (source, outDir, sourceHash).
func (ci *CacheIndex) Lookup(source, outDir, sourceHash string) (CacheRecord, bool) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	rec, ok := ci.records[recordKey(source, outDir, sourceHash)]
	return rec, ok
}

// Forget drops every record of source.
func (ci *CacheIndex) Forget(source string) int {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	removed := 0
	for key, rec := range ci.records {
		if rec.Source == source {
			delete(ci.records, key)
			removed++
		}
	}
	return removed
}

// Records returns all records ordered by source and output directory.
func (ci *CacheIndex) Records() []CacheRecord {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	records := make([]CacheRecord, 0, len(ci.records))
	for _, rec := range ci.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Source != records[j].Source {
			return records[i].Source < records[j].Source
		}
		if records[i].OutDir != records[j].OutDir {
			return records[i].OutDir < records[j].OutDir
		}
		return records[i].SourceHash < records[j].SourceHash
	})
	return records
}

// Len returns the number of records.
func (ci *CacheIndex) Len() int {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return len(ci.records)
}

// SetChunks remembers the chunk files of the last split build in dir and
// returns the previous list.
func (ci *CacheIndex) SetChunks(dir string, names []string) []string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	ci.mu.Lock()
	defer ci.mu.Unlock()
	previous := ci.chunks[dir]
	ci.chunks[dir] = sorted
	return previous
}

// Chunks returns the chunk files recorded for dir.
func (ci *CacheIndex) Chunks(dir string) []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return append([]string(nil), ci.chunks[dir]...)
}

// Clear drops every record and chunk list.
func (ci *CacheIndex) Clear() {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.records = make(map[string]CacheRecord)
	ci.chunks = make(map[string][]string)
}

// Save writes the index to its path atomically.
func (ci *CacheIndex) Save() error {
	file := cacheIndexFile{
		Version:     cacheIndexVersion,
		Fingerprint: ci.fingerprint,
		Records:     ci.Records(),
	}
	ci.mu.RLock()
	if len(ci.chunks) > 0 {
		file.Chunks = make(map[string][]string, len(ci.chunks))
		for dir, names := range ci.chunks {
			file.Chunks[dir] = names
		}
	}
	ci.mu.RUnlock()

	data, err := encMode.Marshal(file)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeWriteArtifact, "encode cache index", err)
	}

	if err := os.MkdirAll(filepath.Dir(ci.path), 0o755); err != nil {
		return errors.NewCacheIOError(ci.path, err)
	}
	tmp := ci.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewCacheIOError(ci.path, err)
	}
	if err := os.Rename(tmp, ci.path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewCacheIOError(ci.path, err)
	}
	return nil
}

// CacheManager answers "has this source already been compiled into this
// output directory?" without writing anything.
type CacheManager struct {
	hasher *SourceHasher
	index  *CacheIndex
	logger logging.Logger
}

// NewCacheManager creates a manager over the session's hasher and index.
func NewCacheManager(hasher *SourceHasher, index *CacheIndex, logger logging.Logger) *CacheManager {
	if hasher == nil {
		hasher = NewSourceHasher(nil, nil)
	}
	if index == nil {
		index = NewCacheIndex("", "")
	}
	return &CacheManager{
		hasher: hasher,
		index:  index,
		logger: logging.OrNop(logger).WithComponent("cache"),
	}
}

// Index returns the record store.
func (cm *CacheManager) Index() *CacheIndex {
	return cm.index
}

// Hasher returns the source hasher.
func (cm *CacheManager) Hasher() *SourceHasher {
	return cm.hasher
}

// SourceHash returns the content hash of the file at path.
func (cm *CacheManager) SourceHash(path string) (string, error) {
	return cm.hasher.Hash(path)
}

// CheckBuildCache returns the recorded artifact name for sourceHash in
// outDir. It is a hit only when the artifact still exists and every
// recorded dependency still hashes to its recorded value. Probe failures
// other than "not found" are logged and count as a miss.
func (cm *CacheManager) CheckBuildCache(ctx context.Context, sourcePath, outDir, sourceHash string) (string, bool) {
	rec, ok := cm.index.Lookup(sourcePath, outDir, sourceHash)
	if !ok {
		return "", false
	}

	artifact := filepath.Join(outDir, rec.Name)
	if _, err := os.Stat(artifact); err != nil {
		if !goerrors.Is(err, fs.ErrNotExist) {
			cm.logger.Warn(ctx, errors.NewCacheIOError(artifact, err), "Cache probe failed, recompiling",
				"source", sourcePath)
		}
		return "", false
	}

	for dep, want := range rec.Inputs {
		got, err := cm.hasher.Hash(dep)
		if err != nil {
			if !goerrors.Is(err, fs.ErrNotExist) {
				cm.logger.Warn(ctx, errors.NewCacheIOError(dep, err), "Cache probe failed, recompiling",
					"source", sourcePath)
			}
			return "", false
		}
		if got != want {
			cm.logger.Debug(ctx, "Dependency changed", "source", sourcePath, "dependency", dep)
			return "", false
		}
	}

	return rec.Name, true
}
