package build

import (
	"context"
	goerrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/forge/internal/errors"
	"github.com/conneroisu/forge/internal/hashing"
	"github.com/conneroisu/forge/internal/importmap"
	"github.com/conneroisu/forge/internal/logging"
	"github.com/conneroisu/forge/internal/pathutil"
	"github.com/conneroisu/forge/internal/resolve"
	"github.com/conneroisu/forge/internal/transform"
	"github.com/conneroisu/forge/internal/version"
)

// DefaultExtensions are the code file extensions compiled by default.
var DefaultExtensions = []string{".tsx", ".ts", ".jsx", ".js"}

// DefaultAssetExtensions are copied verbatim under their content hash.
var DefaultAssetExtensions = []string{
	".css", ".svg", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".ico",
	".woff", ".woff2", ".ttf", ".json", ".txt",
}

// Options configures a Session.
type Options struct {
	// Root is the project root. Source keys are relative to it.
	Root   string
	SrcDir string
	OutDir string
	// Extensions lists every file extension to compile; code extensions
	// are bundled, the rest are copied.
	Extensions    []string
	UseCache      bool
	Parallel      bool
	CodeSplitting bool
	Targets       []resolve.Target

	HashAlgorithm        hashing.Algorithm
	HashLength           int
	MaxRewriteIterations int
	// Timeout bounds a whole build. Zero means no limit.
	Timeout time.Duration

	Bundler    BundlerOptions
	CDNBase    string
	UIPackages []string
	UIVersion  string

	// ManifestFormat is "json" or "yaml".
	ManifestFormat string
}

// DefaultOptions returns options for a project rooted at root with sources
// in root/src and output in root/dist.
func DefaultOptions(root string) Options {
	return Options{
		Root:                 root,
		SrcDir:               filepath.Join(root, "src"),
		OutDir:               filepath.Join(root, "dist"),
		Extensions:           append(append([]string(nil), DefaultExtensions...), DefaultAssetExtensions...),
		UseCache:             true,
		Parallel:             true,
		Targets:              []resolve.Target{resolve.Server, resolve.Client},
		HashAlgorithm:        hashing.SHA256,
		HashLength:           hashing.DefaultLength,
		MaxRewriteIterations: DefaultMaxRewriteIterations,
		Bundler:              DefaultBundlerOptions(),
		CDNBase:              resolve.DefaultCDNBase,
		UIPackages:           append([]string(nil), resolve.DefaultUIPackages...),
		UIVersion:            resolve.DefaultUIVersion,
		ManifestFormat:       "json",
	}
}

// ManifestPath returns where the FileMap manifest is written.
func (o Options) ManifestPath() string {
	if strings.EqualFold(o.ManifestFormat, "yaml") {
		return filepath.Join(o.OutDir, ManifestYAML)
	}
	return filepath.Join(o.OutDir, ManifestJSON)
}

// CacheIndexPath returns where the cache index is persisted.
func (o Options) CacheIndexPath() string {
	return filepath.Join(o.OutDir, CacheIndexFile)
}

// Session owns the state of consecutive builds of one project: the FileMap,
// the cache index, metrics and the failures of the last build. Builds are
// serialized; results are applied on the goroutine that called Build.
type Session struct {
	opts   Options
	logger logging.Logger

	engine    *resolve.Engine
	hasher    *SourceHasher
	cache     *CacheManager
	index     *CacheIndex
	fileMap   *FileMap
	files     *FileCompiler
	splitter  *CodeSplittingCompiler
	directory *DirectoryCompiler
	metrics   *BuildMetrics
	collector *errors.ErrorCollector

	// retired holds identifiers superseded during the current build.
	retired map[string]bool
	mu      sync.Mutex
}

// NewSession prepares a session, loading the previous cache index and
// FileMap from the output directory when present.
func NewSession(opts Options, imports *importmap.ImportMap, logger logging.Logger) (*Session, error) {
	logger = logging.OrNop(logger).WithComponent("session")
	if imports == nil {
		imports = importmap.Empty()
	}

	if err := normalize(&opts); err != nil {
		return nil, err
	}

	calc, err := hashing.New(opts.HashAlgorithm, opts.HashLength)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeUnknownHashAlgo, err.Error())
	}

	fingerprint := calc.HashString(strings.Join([]string{
		version.GetVersion(),
		string(opts.HashAlgorithm),
		fmt.Sprint(opts.HashLength),
		opts.CDNBase,
		strings.Join(opts.UIPackages, ","),
		opts.UIVersion,
		opts.Bundler.Fingerprint(),
		imports.Fingerprint(),
	}, "\n"))

	ctx := context.Background()
	index, err := LoadCacheIndex(opts.CacheIndexPath(), fingerprint)
	if err != nil {
		logger.Warn(ctx, err, "Ignoring unreadable cache index", "path", opts.CacheIndexPath())
	}

	fileMap, err := ReadFileMap(opts.ManifestPath())
	if err != nil {
		logger.Warn(ctx, err, "Ignoring unreadable file map", "path", opts.ManifestPath())
		fileMap = NewFileMap()
	}

	engine := resolve.New(resolve.Options{
		ImportMap:  imports,
		CDNBase:    opts.CDNBase,
		UIPackages: opts.UIPackages,
		UIVersion:  opts.UIVersion,
		Logger:     logger,
	})
	hasher := NewSourceHasher(NewDigestCache(DefaultDigestCacheSize, 0), calc)
	cache := NewCacheManager(hasher, index, logger)
	stripper := transform.NewStripper(opts.Bundler.ServerOnlyExports)

	files := NewFileCompiler(FileCompilerConfig{
		Root:     opts.Root,
		Engine:   engine,
		Cache:    cache,
		Stripper: stripper,
		Bundler:  opts.Bundler,
		Logger:   logger,
	})
	splitter := NewCodeSplittingCompiler(SplitterConfig{
		Root:          opts.Root,
		Engine:        engine,
		Stripper:      stripper,
		Hasher:        calc,
		Bundler:       opts.Bundler,
		MaxIterations: opts.MaxRewriteIterations,
		Logger:        logger,
	})

	return &Session{
		opts:      opts,
		logger:    logger,
		engine:    engine,
		hasher:    hasher,
		cache:     cache,
		index:     index,
		fileMap:   fileMap,
		files:     files,
		splitter:  splitter,
		directory: NewDirectoryCompiler(files, splitter, logger),
		metrics:   NewBuildMetrics(),
		collector: errors.NewErrorCollector(),
		retired:   make(map[string]bool),
	}, nil
}

func normalize(opts *Options) error {
	if opts.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return errors.NewIOError(errors.ErrCodeInvalidBuildInput, "cannot determine project root", err)
		}
		opts.Root = wd
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeInvalidBuildInput, "invalid project root", err)
	}
	opts.Root = root
	if opts.SrcDir == "" {
		opts.SrcDir = "src"
	}
	if opts.OutDir == "" {
		opts.OutDir = "dist"
	}
	opts.SrcDir = pathutil.Absolute(root, opts.SrcDir)
	opts.OutDir = pathutil.Absolute(root, opts.OutDir)

	if len(opts.Extensions) == 0 {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig, "no file extensions configured")
	}
	if len(opts.Targets) == 0 {
		opts.Targets = []resolve.Target{resolve.Server, resolve.Client}
	}
	if opts.HashAlgorithm == "" {
		opts.HashAlgorithm = hashing.SHA256
	}
	if opts.HashLength == 0 {
		opts.HashLength = hashing.DefaultLength
	}
	if opts.MaxRewriteIterations <= 0 {
		opts.MaxRewriteIterations = DefaultMaxRewriteIterations
	}
	if opts.Bundler.JSXImportSource == "" {
		opts.Bundler.JSXImportSource = resolve.DefaultUIPackages[0]
	}
	if opts.Bundler.ServerOnlyExports == nil {
		opts.Bundler.ServerOnlyExports = append([]string(nil), transform.DefaultServerOnlyExports...)
	}
	return nil
}

// Options returns the normalized options.
func (s *Session) Options() Options { return s.opts }

// FileMap returns the session's FileMap.
func (s *Session) FileMap() *FileMap { return s.fileMap }

// CacheIndex returns the session's cache record store.
func (s *Session) CacheIndex() *CacheIndex { return s.index }

// Metrics returns the accumulated build metrics.
func (s *Session) Metrics() *BuildMetrics { return s.metrics }

// Errors returns the failures of the last build.
func (s *Session) Errors() *errors.ErrorCollector { return s.collector }

// Engine returns the import resolution engine.
func (s *Session) Engine() *resolve.Engine { return s.engine }

// Build compiles the source directory. Per-file failures are collected in
// Errors and leave the FileMap untouched for those files; the returned
// error is reserved for failures of the whole build.
func (s *Session) Build(ctx context.Context) (*BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	s.collector.Clear()
	s.retired = make(map[string]bool)
	perf := logging.StartOperation(s.logger, "build")

	req := DirectoryRequest{
		SrcDir:        s.opts.SrcDir,
		OutDir:        s.opts.OutDir,
		Extensions:    s.opts.Extensions,
		UseCache:      s.opts.UseCache,
		Parallel:      s.opts.Parallel,
		CodeSplitting: s.opts.CodeSplitting,
		Targets:       s.opts.Targets,
		Exclude:       []string{s.opts.OutDir},
	}

	result, err := s.directory.CompileDirectory(ctx, req, s.collector, s.apply, s.recordChunks)
	s.metrics.RecordBatch(result)
	if err != nil {
		perf.EndWithError(ctx, err)
		return result, err
	}

	s.prune(ctx)
	s.retire(ctx)

	if err := s.Save(); err != nil {
		perf.EndWithError(ctx, err)
		return result, err
	}

	perf.End(ctx, "files", result.Files, "compiled", result.Compiled, "cached", result.Cached,
		"failed", result.Failed, "chunks", result.Chunks)
	return result, nil
}

// CompileFile compiles a single source file for the session's targets and
// records it in the FileMap.
func (s *Session) CompileFile(ctx context.Context, path string, useCache bool) (FileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.retired = make(map[string]bool)
	res, err := s.files.CompileFile(ctx, path, s.opts.OutDir, useCache, s.opts.Targets)
	s.metrics.RecordFile(res, time.Since(start), err)
	if err != nil {
		return res, err
	}

	s.apply([]FileResult{res})
	s.retire(ctx)
	return res, nil
}

// apply records finished results. It runs on the build goroutine only.
func (s *Session) apply(results []FileResult) {
	for _, res := range results {
		for _, a := range res.Artifacts {
			if previous, replaced := s.fileMap.Set(res.Path, a.Target, a.HashName); replaced {
				s.retired[previous] = true
			}
			if a.Cached || res.SourceHash == "" {
				continue
			}
			s.index.Record(CacheRecord{
				Source:     res.Path,
				SourceHash: res.SourceHash,
				OutDir:     filepath.Dir(a.OutputPath),
				Name:       a.HashName,
				Inputs:     a.Inputs,
			})
		}
	}
}

// recordChunks remembers the chunks of a split build and retires the ones
// of the previous build that were not emitted again.
func (s *Session) recordChunks(target resolve.Target, chunks []Artifact) {
	dir := filepath.Join(s.opts.OutDir, string(target))
	names := make([]string, len(chunks))
	current := make(map[string]bool, len(chunks))
	for i, c := range chunks {
		names[i] = c.HashName
		current[c.HashName] = true
	}
	for _, old := range s.index.SetChunks(dir, names) {
		if !current[old] {
			s.retired[pathutil.TargetKey(string(target), old)] = true
		}
	}
}

// prune drops FileMap entries whose source file no longer exists.
func (s *Session) prune(ctx context.Context) {
	for _, key := range s.fileMap.Keys() {
		source, _ := SourceOf(key)
		if _, err := os.Stat(filepath.Join(s.opts.Root, filepath.FromSlash(source))); !goerrors.Is(err, fs.ErrNotExist) {
			continue
		}
		if id, ok := s.fileMap.Remove(key); ok {
			s.retired[id] = true
			s.index.Forget(source)
			s.logger.Debug(ctx, "Pruned deleted source", "source", source, "artifact", id)
		}
	}
}

// retire deletes superseded artifacts that nothing references any more.
func (s *Session) retire(ctx context.Context) {
	live := s.liveArtifacts()
	for id := range s.retired {
		if live[id] {
			continue
		}
		p := filepath.Join(s.opts.OutDir, filepath.FromSlash(id))
		if err := os.Remove(p); err != nil && !goerrors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(ctx, err, "Cannot remove superseded artifact", "artifact", id)
			continue
		}
		s.logger.Debug(ctx, "Removed superseded artifact", "artifact", id)
	}
	s.retired = make(map[string]bool)
}

// liveArtifacts returns the identifiers referenced by the FileMap and the
// chunk lists of the last split builds.
func (s *Session) liveArtifacts() map[string]bool {
	live := make(map[string]bool)
	for _, id := range s.fileMap.Entries() {
		live[id] = true
	}
	for _, target := range []resolve.Target{resolve.Server, resolve.Client} {
		for _, name := range s.index.Chunks(filepath.Join(s.opts.OutDir, string(target))) {
			live[pathutil.TargetKey(string(target), name)] = true
		}
	}
	return live
}

// Save persists the cache index and writes the FileMap manifest.
func (s *Session) Save() error {
	if err := pathutil.EnsureDir(s.opts.OutDir); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteArtifact, "cannot create output directory", err)
	}
	if err := s.index.Save(); err != nil {
		return err
	}
	if err := s.fileMap.WriteManifest(s.opts.ManifestPath()); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteArtifact, "cannot write file map", err)
	}
	return nil
}

// CleanOrphans removes files in the target directories that neither the
// FileMap nor the last split builds reference. It returns the removed
// identifiers.
func (s *Session) CleanOrphans(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.liveArtifacts()
	var removed []string
	for _, target := range []resolve.Target{resolve.Server, resolve.Client} {
		dir := filepath.Join(s.opts.OutDir, string(target))
		entries, err := os.ReadDir(dir)
		if goerrors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, errors.NewIOError(errors.ErrCodeWriteArtifact, "cannot list "+dir, err)
		}
		for _, entry := range entries {
			id := pathutil.TargetKey(string(target), entry.Name())
			if entry.IsDir() || live[id] {
				continue
			}
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return removed, errors.NewIOError(errors.ErrCodeWriteArtifact, "cannot remove "+id, err)
			}
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	s.logger.Info(ctx, "Removed orphaned artifacts", "count", len(removed))
	return removed, nil
}

// ClearCache drops every cache record and deletes the persisted index.
func (s *Session) ClearCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.Clear()
	if err := os.Remove(s.index.Path()); err != nil && !goerrors.Is(err, fs.ErrNotExist) {
		return errors.NewCacheIOError(s.index.Path(), err)
	}
	return nil
}

// CacheStats describes the persisted and in-memory caches.
type CacheStats struct {
	IndexPath   string
	Records     int
	Chunks      int
	FileMapSize int
	Digests     DigestCacheStats
}

// CacheStats returns a snapshot of cache usage.
func (s *Session) CacheStats() CacheStats {
	chunks := 0
	for _, target := range []resolve.Target{resolve.Server, resolve.Client} {
		chunks += len(s.index.Chunks(filepath.Join(s.opts.OutDir, string(target))))
	}
	return CacheStats{
		IndexPath:   s.index.Path(),
		Records:     s.index.Len(),
		Chunks:      chunks,
		FileMapSize: s.fileMap.Len(),
		Digests:     s.hasher.Stats(),
	}
}
