package build

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/forge/internal/errors"
	"github.com/conneroisu/forge/internal/hashing"
	"github.com/conneroisu/forge/internal/logging"
	"github.com/conneroisu/forge/internal/pathutil"
	"github.com/conneroisu/forge/internal/resolve"
	"github.com/conneroisu/forge/internal/transform"
)

// DefaultMaxRewriteIterations bounds the reference rewrite loop.
const DefaultMaxRewriteIterations = 10

// chunkNames is the bundler's naming pattern for shared chunks.
const chunkNames = "chunk-[hash]"

// SplitterConfig wires a CodeSplittingCompiler.
type SplitterConfig struct {
	Root          string
	Engine        *resolve.Engine
	Stripper      *transform.Stripper
	Hasher        *hashing.Calculator
	Bundler       BundlerOptions
	MaxIterations int
	Logger        logging.Logger
}

// CodeSplittingCompiler bundles many entries at once, extracting shared
// code into chunks, and rewrites cross-file references until every file
// points at the final name of the file it imports.
type CodeSplittingCompiler struct {
	root          string
	engine        *resolve.Engine
	stripper      *transform.Stripper
	hasher        *hashing.Calculator
	bundler       BundlerOptions
	maxIterations int
	logger        logging.Logger
}

// SplitResult is the outcome of one split build for one target.
type SplitResult struct {
	Target resolve.Target
	// Entries holds one result per requested entry, keyed by source.
	Entries []FileResult
	Chunks  []Artifact
	// Files is the number of files written.
	Files int
	// Iterations is the number of rewrite passes, including the final
	// pass that changed nothing.
	Iterations int
}

// NewCodeSplittingCompiler creates a compiler. Nil collaborators get
// defaults.
func NewCodeSplittingCompiler(cfg SplitterConfig) *CodeSplittingCompiler {
	if cfg.Engine == nil {
		cfg.Engine = resolve.New(resolve.Options{Logger: cfg.Logger})
	}
	if cfg.Stripper == nil {
		cfg.Stripper = transform.NewStripper(cfg.Bundler.ServerOnlyExports)
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hashing.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxRewriteIterations
	}
	return &CodeSplittingCompiler{
		root:          cfg.Root,
		engine:        cfg.Engine,
		stripper:      cfg.Stripper,
		hasher:        cfg.Hasher,
		bundler:       cfg.Bundler,
		maxIterations: cfg.MaxIterations,
		logger:        logging.OrNop(cfg.Logger).WithComponent("code-splitter"),
	}
}

// splitFile is one emitted file while references are being fixed.
type splitFile struct {
	// output is the path the bundler gave the file.
	output  string
	role    Role
	source  string
	content []byte
	name    string
	refs    []*splitRef
}

// splitRef is one import of a sibling file. spec is the specifier text
// currently present in the importing file and offsets are the byte offsets
// where it appears as an import source.
type splitRef struct {
	to      *splitFile
	spec    string
	offsets []int
}

// Compile bundles entries for target into outDir/<target>. Nothing is
// written unless the reference rewrite converges.
func (c *CodeSplittingCompiler) Compile(
	ctx context.Context,
	entries []string,
	outDir string,
	target resolve.Target,
) (*SplitResult, error) {
	result := &SplitResult{Target: target}
	if len(entries) == 0 {
		return result, nil
	}

	perf := logging.StartOperation(c.logger, "split "+string(target))
	targetDir := filepath.Join(pathutil.Absolute(c.root, outDir), string(target))

	abs := make([]string, len(entries))
	for i, e := range entries {
		abs[i] = pathutil.Absolute(c.root, e)
	}
	sort.Strings(abs)

	trace := resolve.NewTrace()
	opts := c.bundler.buildOptions(c.root, target)
	opts.EntryPoints = abs
	opts.Splitting = true
	opts.Outdir = targetDir
	opts.Outbase = c.root
	opts.ChunkNames = chunkNames
	opts.Plugins = plugins(ctx, c.engine, c.stripper, trace, abs, target)

	built := api.Build(opts)
	if err := trace.Err(); err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}
	if len(built.Errors) > 0 {
		err := errors.NewBundlingError(c.messageFile(built.Errors), bundleMessages(built.Errors))
		perf.EndWithError(ctx, err)
		return nil, err
	}

	meta, err := ParseMetafile(built.Metafile)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, errors.NewInternalError(errors.ErrCodeBundleFailed, "invalid bundler metadata", err)
	}

	files, err := c.classify(built.OutputFiles, abs, targetDir)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}
	if err := c.link(files, meta); err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}

	iterations, err := c.rewrite(ctx, files)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}
	result.Iterations = iterations

	written := make(map[string]bool, len(files))
	for _, f := range files {
		if written[f.name] {
			continue
		}
		written[f.name] = true
		if err := writeArtifact(filepath.Join(targetDir, f.name), f.content); err != nil {
			perf.EndWithError(ctx, err)
			return nil, err
		}
	}
	result.Files = len(written)

	for _, f := range files {
		artifact := Artifact{
			Target:     target,
			Role:       f.role,
			HashName:   f.name,
			OutputPath: filepath.Join(targetDir, f.name),
			Size:       int64(len(f.content)),
		}
		if f.role == RoleChunk {
			result.Chunks = append(result.Chunks, artifact)
			continue
		}
		artifact.Hash = pathutil.HashFromName(f.name)
		result.Entries = append(result.Entries, FileResult{
			Path:      f.source,
			Role:      RoleEntry,
			Artifacts: []Artifact{artifact},
		})
	}

	perf.End(ctx, "entries", len(result.Entries), "chunks", len(result.Chunks), "iterations", iterations)
	return result, nil
}

// classify assigns every emitted JavaScript file exactly one role. A file
// whose path relative to the output directory, minus its extension, equals
// an entry's path relative to the project root, minus its extension, is an
// Entry. Everything else is a Chunk. An output outside targetDir is an
// internal error.
func (c *CodeSplittingCompiler) classify(outputs []api.OutputFile, entries []string, targetDir string) ([]*splitFile, error) {
	stems := make(map[string]string, len(entries))
	for _, e := range entries {
		rel, err := filepath.Rel(c.root, e)
		if err != nil {
			return nil, errors.NewInternalError(errors.ErrCodeBundleFailed,
				fmt.Sprintf("entry %s is not under %s", e, c.root), err)
		}
		key := filepath.ToSlash(rel)
		stems[pathutil.StripExt(key)] = key
	}

	files := make([]*splitFile, 0, len(outputs))
	for _, out := range outputs {
		if !strings.HasSuffix(out.Path, ".js") {
			continue
		}
		rel, err := filepath.Rel(targetDir, out.Path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, errors.NewInternalError(errors.ErrCodeBundleFailed,
				fmt.Sprintf("bundler output %s is outside %s", out.Path, targetDir), err)
		}
		rel = filepath.ToSlash(rel)

		f := &splitFile{
			output:  filepath.Clean(out.Path),
			content: out.Contents,
		}
		if source, ok := stems[pathutil.StripExt(rel)]; ok {
			f.role = RoleEntry
			f.source = source
			f.name = c.hasher.Hash(f.content) + ".js"
		} else {
			f.role = RoleChunk
			f.name = path.Base(rel)
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].output < files[j].output })
	return files, nil
}

// Classify reports the role of each output path (relative to the output
// directory) for the given entry paths (relative to the project root).
func Classify(outputs, entries []string) map[string]Role {
	stems := make(map[string]bool, len(entries))
	for _, e := range entries {
		stems[pathutil.StripExt(filepath.ToSlash(e))] = true
	}
	roles := make(map[string]Role, len(outputs))
	for _, out := range outputs {
		if stems[pathutil.StripExt(filepath.ToSlash(out))] {
			roles[out] = RoleEntry
		} else {
			roles[out] = RoleChunk
		}
	}
	return roles
}

// link builds the reference graph from the bundler's metadata. The initial
// specifier of each edge is the relative path the bundler emitted.
func (c *CodeSplittingCompiler) link(files []*splitFile, meta *Metafile) error {
	byOutput := make(map[string]*splitFile, len(files))
	for _, f := range files {
		byOutput[f.output] = f
	}

	for from, targets := range meta.References(c.root) {
		f, ok := byOutput[filepath.Clean(from)]
		if !ok {
			continue
		}
		seen := make(map[*splitFile]bool, len(targets))
		for _, t := range targets {
			to, ok := byOutput[filepath.Clean(t)]
			if !ok || seen[to] {
				continue
			}
			seen[to] = true

			spec := pathutil.RelativeSpecifier(filepath.Dir(f.output), to.output)
			offsets := referenceOffsets(f.content, spec)
			if len(offsets) == 0 {
				return errors.NewInternalError(errors.ErrCodeBundleFailed,
					fmt.Sprintf("reference %q not found in %s", spec, filepath.Base(f.output)), nil)
			}
			f.refs = append(f.refs, &splitRef{to: to, spec: spec, offsets: offsets})
		}
		sort.Slice(f.refs, func(i, j int) bool { return f.refs[i].to.output < f.refs[j].to.output })
	}
	return nil
}

// rewrite relabels references until a pass changes nothing. Files are
// visited dependencies first, so an acyclic graph settles in one pass and
// is confirmed by the next.
func (c *CodeSplittingCompiler) rewrite(ctx context.Context, files []*splitFile) (int, error) {
	order := dependencyOrder(files)

	var pending []string
	for iteration := 1; iteration <= c.maxIterations; iteration++ {
		pending = rewritePass(order, c.hasher)
		if len(pending) == 0 {
			return iteration, nil
		}
		c.logger.Debug(ctx, "Rewrite pass changed files", "iteration", iteration, "changed", len(pending))
	}

	return c.maxIterations, errors.NewDivergenceError(c.maxIterations, pending)
}

// rewritePass points every reference at the current name of its target and
// renames entries whose content changed. It returns the names of the files
// that changed.
func rewritePass(order []*splitFile, hasher *hashing.Calculator) []string {
	var changed []string
	for _, f := range order {
		renames := make(map[*splitRef]string)
		for _, ref := range f.refs {
			if want := "./" + ref.to.name; ref.spec != want {
				renames[ref] = want
			}
		}
		if len(renames) == 0 {
			continue
		}
		f.content = applyRenames(f.content, f.refs, renames)
		changed = append(changed, f.name)
		if f.role == RoleEntry {
			f.name = hasher.Hash(f.content) + ".js"
		}
	}
	return changed
}

// dependencyOrder returns files with every file after the files it imports,
// as far as cycles allow.
func dependencyOrder(files []*splitFile) []*splitFile {
	order := make([]*splitFile, 0, len(files))
	visited := make(map[*splitFile]bool, len(files))

	var visit func(f *splitFile)
	visit = func(f *splitFile) {
		if visited[f] {
			return
		}
		visited[f] = true
		for _, ref := range f.refs {
			visit(ref.to)
		}
		order = append(order, f)
	}
	for _, f := range files {
		visit(f)
	}
	return order
}

var specifierQuotes = []byte{'"', '\''}

// referenceOffsets returns the offset of every occurrence of spec that is
// the source of an import or export statement or of a dynamic import.
// Equal string literals elsewhere in the file are not references.
func referenceOffsets(content []byte, spec string) []int {
	var offsets []int
	for _, q := range specifierQuotes {
		needle := quoted(q, spec)
		for from := 0; ; {
			i := bytes.Index(content[from:], needle)
			if i < 0 {
				break
			}
			i += from
			if importSourceAt(content, i) {
				offsets = append(offsets, i+1)
			}
			from = i + len(needle)
		}
	}
	sort.Ints(offsets)
	return offsets
}

// importSourceAt reports whether the string literal opening at quote follows
// `from`, a bare `import` or `import(`.
func importSourceAt(content []byte, quote int) bool {
	j := skipSpaceBack(content, quote)
	if j > 0 && content[j-1] == '(' {
		return endsWithWord(content, skipSpaceBack(content, j-1), "import")
	}
	return endsWithWord(content, j, "from") || endsWithWord(content, j, "import")
}

func skipSpaceBack(content []byte, i int) int {
	for i > 0 {
		switch content[i-1] {
		case ' ', '\t', '\n', '\r':
			i--
		default:
			return i
		}
	}
	return i
}

func endsWithWord(content []byte, end int, word string) bool {
	start := end - len(word)
	if start < 0 || string(content[start:end]) != word {
		return false
	}
	if start == 0 {
		return true
	}
	c := content[start-1]
	return !(c == '_' || c == '$' || c == '.' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9'))
}

// applyRenames writes the new specifier of each renamed ref over its
// recorded ranges and shifts the offsets of every ref to match the result.
func applyRenames(content []byte, refs []*splitRef, renames map[*splitRef]string) []byte {
	type site struct {
		ref *splitRef
		i   int
	}
	var sites []site
	for _, ref := range refs {
		for i := range ref.offsets {
			sites = append(sites, site{ref, i})
		}
	}
	sort.Slice(sites, func(a, b int) bool {
		return sites[a].ref.offsets[sites[a].i] < sites[b].ref.offsets[sites[b].i]
	})

	out := make([]byte, 0, len(content))
	last := 0
	for _, s := range sites {
		pos := s.ref.offsets[s.i]
		spec := s.ref.spec
		if renamed, ok := renames[s.ref]; ok {
			spec = renamed
		}
		out = append(out, content[last:pos]...)
		s.ref.offsets[s.i] = len(out)
		out = append(out, spec...)
		last = pos + len(s.ref.spec)
	}
	out = append(out, content[last:]...)

	for ref, spec := range renames {
		ref.spec = spec
	}
	return out
}

func quoted(q byte, s string) []byte {
	b := make([]byte, 0, len(s)+2)
	b = append(b, q)
	b = append(b, s...)
	return append(b, q)
}

// messageFile returns the file named by the first located diagnostic.
func (c *CodeSplittingCompiler) messageFile(msgs []api.Message) string {
	for _, msg := range msgs {
		if msg.Location != nil && msg.Location.File != "" {
			return filepath.ToSlash(msg.Location.File)
		}
	}
	return ""
}
