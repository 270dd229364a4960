package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/forge/internal/errors"
	"github.com/conneroisu/forge/internal/hashing"
	"github.com/conneroisu/forge/internal/logging"
	"github.com/conneroisu/forge/internal/pathutil"
	"github.com/conneroisu/forge/internal/resolve"
	"github.com/conneroisu/forge/internal/transform"
)

// FileCompilerConfig wires a FileCompiler to the session's shared state.
type FileCompilerConfig struct {
	// Root is the absolute project root. Source keys are relative to it.
	Root     string
	Engine   *resolve.Engine
	Cache    *CacheManager
	Stripper *transform.Stripper
	Bundler  BundlerOptions
	Logger   logging.Logger
}

// FileCompiler compiles one source file into one artifact per target.
// It never touches the FileMap; results are applied by the orchestrator.
type FileCompiler struct {
	root     string
	engine   *resolve.Engine
	cache    *CacheManager
	stripper *transform.Stripper
	hasher   *hashing.Calculator
	bundler  BundlerOptions
	logger   logging.Logger
}

// NewFileCompiler creates a compiler. Nil collaborators get defaults.
func NewFileCompiler(cfg FileCompilerConfig) *FileCompiler {
	if cfg.Engine == nil {
		cfg.Engine = resolve.New(resolve.Options{Logger: cfg.Logger})
	}
	if cfg.Cache == nil {
		cfg.Cache = NewCacheManager(nil, nil, cfg.Logger)
	}
	if cfg.Stripper == nil {
		cfg.Stripper = transform.NewStripper(cfg.Bundler.ServerOnlyExports)
	}
	return &FileCompiler{
		root:     cfg.Root,
		engine:   cfg.Engine,
		cache:    cfg.Cache,
		stripper: cfg.Stripper,
		hasher:   cfg.Cache.Hasher().Calculator(),
		bundler:  cfg.Bundler,
		logger:   logging.OrNop(cfg.Logger).WithComponent("file-compiler"),
	}
}

// SourceKey returns the FileMap key of a source path: relative to the
// project root with forward slashes.
func (fc *FileCompiler) SourceKey(path string) string {
	abs := pathutil.Absolute(fc.root, path)
	rel, err := filepath.Rel(fc.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// CompileFile compiles sourcePath for each target into outDir/<target>.
// With useCache, targets whose artifact is still valid are not rebuilt.
// Any failure is tagged with the source key.
func (fc *FileCompiler) CompileFile(
	ctx context.Context,
	sourcePath, outDir string,
	useCache bool,
	targets []resolve.Target,
) (FileResult, error) {
	abs := pathutil.Absolute(fc.root, sourcePath)
	key := fc.SourceKey(abs)

	result := FileResult{Path: key, Role: RoleAsset}
	if pathutil.IsCode(abs) {
		result.Role = RoleEntry
	}

	sourceHash, err := fc.cache.SourceHash(abs)
	if err != nil {
		return result, errors.WrapCompile(key,
			errors.NewIOError(errors.ErrCodeReadSource, "cannot read source", err))
	}
	result.SourceHash = sourceHash

	allCached := len(targets) > 0
	for _, target := range targets {
		targetDir := filepath.Join(outDir, string(target))

		if useCache {
			if name, ok := fc.cache.CheckBuildCache(ctx, key, targetDir, sourceHash); ok {
				fc.logger.Debug(ctx, "Cache hit", "source", key, "target", target, "name", name)
				result.Artifacts = append(result.Artifacts, Artifact{
					Target:     target,
					Role:       result.Role,
					HashName:   name,
					OutputPath: filepath.Join(targetDir, name),
					Hash:       pathutil.HashFromName(name),
					Cached:     true,
				})
				continue
			}
		}
		allCached = false

		var artifact Artifact
		if result.Role == RoleAsset {
			artifact, err = fc.copyAsset(abs, targetDir, target, sourceHash)
		} else {
			artifact, err = fc.bundle(ctx, abs, key, targetDir, target)
		}
		if err != nil {
			return result, errors.WrapCompile(key, err)
		}
		result.Artifacts = append(result.Artifacts, artifact)
	}
	result.Cached = allCached

	return result, nil
}

// bundle runs the bundler for one entry and target and writes the output
// under its content hash.
func (fc *FileCompiler) bundle(
	ctx context.Context,
	abs, key, targetDir string,
	target resolve.Target,
) (Artifact, error) {
	trace := resolve.NewTrace()

	opts := fc.bundler.buildOptions(fc.root, target)
	opts.EntryPoints = []string{abs}
	opts.Outdir = targetDir
	opts.Plugins = plugins(ctx, fc.engine, fc.stripper, trace, []string{abs}, target)

	result := api.Build(opts)
	if err := trace.Err(); err != nil {
		return Artifact{}, err
	}
	if len(result.Errors) > 0 {
		return Artifact{}, errors.NewBundlingError(key, bundleMessages(result.Errors))
	}

	var content []byte
	found := false
	for _, out := range result.OutputFiles {
		if strings.HasSuffix(out.Path, ".js") {
			content = out.Contents
			found = true
			continue
		}
		fc.logger.Debug(ctx, "Ignoring secondary output", "source", key, "output", out.Path)
	}
	if !found {
		return Artifact{}, errors.NewBundlingError(key, []string{"bundler produced no JavaScript output"})
	}

	hash := fc.hasher.Hash(content)
	name := pathutil.HashedName(hash, abs)
	outputPath := filepath.Join(targetDir, name)
	if err := writeArtifact(outputPath, content); err != nil {
		return Artifact{}, err
	}

	meta, err := ParseMetafile(result.Metafile)
	if err != nil {
		return Artifact{}, errors.NewBundlingError(key, []string{err.Error()})
	}

	fc.logger.Debug(ctx, "Compiled", "source", key, "target", target, "name", name,
		"externals", len(trace.Externals()))

	return Artifact{
		Target:     target,
		Role:       RoleEntry,
		HashName:   name,
		OutputPath: outputPath,
		Hash:       hash,
		Size:       int64(len(content)),
		Inputs:     fc.dependencyHashes(meta, abs),
	}, nil
}

// dependencyHashes hashes every bundled input except the entry itself.
func (fc *FileCompiler) dependencyHashes(meta *Metafile, entry string) map[string]string {
	inputs := make(map[string]string)
	for _, dep := range meta.InputFiles(fc.root) {
		if dep == entry {
			continue
		}
		hash, err := fc.cache.SourceHash(dep)
		if err != nil {
			continue
		}
		inputs[dep] = hash
	}
	return inputs
}

// copyAsset copies a non-code file verbatim under its content hash.
func (fc *FileCompiler) copyAsset(abs, targetDir string, target resolve.Target, hash string) (Artifact, error) {
	name := pathutil.HashedName(hash, abs)
	outputPath := filepath.Join(targetDir, name)

	info, err := os.Stat(abs)
	if err != nil {
		return Artifact{}, errors.NewIOError(errors.ErrCodeReadSource, "cannot read asset", err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		if err := copyFile(abs, outputPath); err != nil {
			return Artifact{}, errors.NewIOError(errors.ErrCodeWriteArtifact, "cannot copy asset", err)
		}
	}

	return Artifact{
		Target:     target,
		Role:       RoleAsset,
		HashName:   name,
		OutputPath: outputPath,
		Hash:       hash,
		Size:       info.Size(),
	}, nil
}

// writeArtifact writes content-addressed output. An existing file with the
// same name already holds the same bytes.
func writeArtifact(path string, content []byte) error {
	if info, err := os.Stat(path); err == nil && info.Size() == int64(len(content)) {
		return nil
	}
	if err := pathutil.WriteFile(path, content); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteArtifact, "cannot write "+path, err)
	}
	return nil
}
