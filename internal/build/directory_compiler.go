package build

import (
	"context"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/forge/internal/errors"
	"github.com/conneroisu/forge/internal/logging"
	"github.com/conneroisu/forge/internal/pathutil"
	"github.com/conneroisu/forge/internal/resolve"
)

// Concurrency bounds.
const (
	minConcurrency = 4
	maxConcurrency = 20
)

// DirectoryRequest describes one directory build.
type DirectoryRequest struct {
	SrcDir string
	OutDir string
	// Extensions selects the files to compile, e.g. ".tsx" or ".png".
	Extensions    []string
	UseCache      bool
	Parallel      bool
	CodeSplitting bool
	Targets       []resolve.Target
	// Exclude lists directories that are never walked, such as the output
	// directory when it lives inside the source tree.
	Exclude []string
}

// BatchResult summarizes a directory build.
type BatchResult struct {
	Files       int
	Compiled    int
	Cached      int
	Failed      int
	Chunks      int
	Batches     int
	Concurrency int
	// Iterations is the number of rewrite passes per target in split mode.
	Iterations map[resolve.Target]int
	Duration   time.Duration
	Failures   []errors.FileFailure
}

// ApplyFunc receives the results of a batch on the calling goroutine once
// every file in the batch has finished.
type ApplyFunc func(results []FileResult)

// ChunkFunc receives the chunks written by a split build.
type ChunkFunc func(target resolve.Target, chunks []Artifact)

// DirectoryCompiler walks a source tree and compiles every matching file.
type DirectoryCompiler struct {
	files    *FileCompiler
	splitter *CodeSplittingCompiler
	cpus     int
	logger   logging.Logger
}

// NewDirectoryCompiler creates a directory compiler over the given
// single-file and split compilers.
func NewDirectoryCompiler(files *FileCompiler, splitter *CodeSplittingCompiler, logger logging.Logger) *DirectoryCompiler {
	return &DirectoryCompiler{
		files:    files,
		splitter: splitter,
		cpus:     runtime.NumCPU(),
		logger:   logging.OrNop(logger).WithComponent("directory-compiler"),
	}
}

// Concurrency returns the batch size for entries files on a host with cpus
// cores: twice the core count, at least four, at most twenty and never more
// than the number of files.
func Concurrency(cpus, entries int) int {
	if cpus <= 0 {
		cpus = 1
	}
	c := 2 * cpus
	if c < minConcurrency {
		c = minConcurrency
	}
	upper := entries
	if upper > maxConcurrency {
		upper = maxConcurrency
	}
	if c > upper {
		c = upper
	}
	if c < 1 {
		c = 1
	}
	return c
}

// Walk returns the files under srcDir whose extension is in exts, sorted.
// Hidden directories, node_modules and excluded directories are skipped.
func Walk(srcDir string, exts []string, exclude ...string) ([]string, error) {
	wanted := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		wanted[ext] = true
	}
	skip := make(map[string]bool, len(exclude))
	for _, dir := range exclude {
		skip[filepath.Clean(dir)] = true
	}

	var files []string
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == srcDir {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || name == "node_modules" || skip[filepath.Clean(p)] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if wanted[strings.ToLower(filepath.Ext(p))] {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadSource, "cannot walk "+srcDir, err)
	}

	sort.Strings(files)
	return files, nil
}

// CompileDirectory compiles every file of req. Per-file failures are
// recorded in collector and do not stop the build; failed files are never
// passed to apply. The returned error is reserved for failures of the
// whole build: walking the tree, timeouts and rewrite divergence.
func (dc *DirectoryCompiler) CompileDirectory(
	ctx context.Context,
	req DirectoryRequest,
	collector *errors.ErrorCollector,
	apply ApplyFunc,
	onChunks ChunkFunc,
) (*BatchResult, error) {
	start := time.Now()
	perf := logging.StartOperation(dc.logger, "compile directory")

	files, err := Walk(req.SrcDir, req.Extensions, req.Exclude...)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}

	result := &BatchResult{Files: len(files), Iterations: make(map[resolve.Target]int)}
	dc.logger.Info(ctx, "Compiling directory", "src", req.SrcDir, "files", len(files),
		"split", req.CodeSplitting, "cache", req.UseCache)

	// warm the digest cache for every file in one bounded pass
	dc.files.cache.Hasher().HashBatch(ctx, files)

	queue := files
	if req.CodeSplitting {
		var code []string
		queue = nil
		for _, f := range files {
			if pathutil.IsCode(f) {
				code = append(code, f)
			} else {
				queue = append(queue, f)
			}
		}
		if err := dc.compileSplit(ctx, req, code, result, collector, apply, onChunks); err != nil {
			perf.EndWithError(ctx, err)
			return result, err
		}
	}

	if err := dc.compileBatches(ctx, req, queue, result, collector, apply); err != nil {
		perf.EndWithError(ctx, err)
		return result, err
	}

	result.Duration = time.Since(start)
	result.Failures = collector.Failures()
	result.Failed = len(result.Failures)
	perf.End(ctx, "compiled", result.Compiled, "cached", result.Cached, "failed", result.Failed)
	return result, nil
}

// compileBatches fans files out in batches of Concurrency files, joining
// each batch before starting the next.
func (dc *DirectoryCompiler) compileBatches(
	ctx context.Context,
	req DirectoryRequest,
	files []string,
	result *BatchResult,
	collector *errors.ErrorCollector,
	apply ApplyFunc,
) error {
	if len(files) == 0 {
		return nil
	}

	size := 1
	if req.Parallel {
		size = Concurrency(dc.cpus, len(files))
	}
	result.Concurrency = size

	for start := 0; start < len(files); start += size {
		if err := ctx.Err(); err != nil {
			return timeoutError(err)
		}

		end := min(start+size, len(files))
		batch := files[start:end]
		results := make([]FileResult, len(batch))
		ok := make([]bool, len(batch))

		var g errgroup.Group
		for i, file := range batch {
			i, file := i, file
			g.Go(func() error {
				res, err := dc.files.CompileFile(ctx, file, req.OutDir, req.UseCache, req.Targets)
				if err != nil {
					collector.Add(dc.files.SourceKey(file), err)
					dc.logger.Warn(ctx, err, "File failed", "source", dc.files.SourceKey(file))
					return nil
				}
				results[i] = res
				ok[i] = true
				return nil
			})
		}
		_ = g.Wait()
		result.Batches++

		applied := make([]FileResult, 0, len(batch))
		for i, res := range results {
			if !ok[i] {
				continue
			}
			if res.Cached {
				result.Cached++
			} else {
				result.Compiled++
			}
			applied = append(applied, res)
		}
		if apply != nil {
			apply(applied)
		}
	}
	return nil
}

// compileSplit runs one split build per target, concurrently. Entry results
// of both targets are merged per source before being applied.
func (dc *DirectoryCompiler) compileSplit(
	ctx context.Context,
	req DirectoryRequest,
	code []string,
	result *BatchResult,
	collector *errors.ErrorCollector,
	apply ApplyFunc,
	onChunks ChunkFunc,
) error {
	if len(code) == 0 {
		return nil
	}

	splits := make([]*SplitResult, len(req.Targets))
	var mu sync.Mutex
	failed := false

	g, gctx := errgroup.WithContext(ctx)
	for i, target := range req.Targets {
		i, target := i, target
		g.Go(func() error {
			res, err := dc.splitter.Compile(gctx, code, req.OutDir, target)
			if err == nil {
				splits[i] = res
				return nil
			}
			if errors.IsDivergenceError(err) {
				return err
			}
			dc.logger.Error(ctx, err, "Split build failed", "target", target)
			mu.Lock()
			defer mu.Unlock()
			if !failed {
				for _, f := range code {
					collector.Add(dc.files.SourceKey(f), err)
				}
				failed = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return timeoutError(err)
	}

	merged := make(map[string]*FileResult)
	var order []string
	for _, split := range splits {
		if split == nil {
			continue
		}
		result.Chunks += len(split.Chunks)
		result.Iterations[split.Target] = split.Iterations
		for _, entry := range split.Entries {
			existing, ok := merged[entry.Path]
			if !ok {
				e := entry
				merged[entry.Path] = &e
				order = append(order, entry.Path)
				continue
			}
			existing.Artifacts = append(existing.Artifacts, entry.Artifacts...)
		}
	}
	if failed {
		// an entry is only recorded when every target produced it
		return nil
	}
	if onChunks != nil {
		for _, split := range splits {
			onChunks(split.Target, split.Chunks)
		}
	}

	sort.Strings(order)
	applied := make([]FileResult, 0, len(order))
	for _, p := range order {
		applied = append(applied, *merged[p])
	}
	result.Compiled += len(applied)
	if apply != nil {
		apply(applied)
	}
	return nil
}

func timeoutError(err error) error {
	return errors.NewInternalError(errors.ErrCodeBuildTimeout, "build cancelled", err)
}
