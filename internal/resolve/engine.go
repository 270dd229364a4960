// Package resolve decides, for every import met while bundling, whether the
// imported module is bundled inline or left external, and which specifier
// replaces it for the server or client target.
//
// Resolution is an ordered chain of strategies; each one either claims the
// specifier or passes it on:
//
//  1. UI runtime pin (render library and its subpackages)
//  2. relative or absolute paths
//  3. directory aliases from the import map
//  4. explicit protocol specifiers (npm:, jsr:, http:, https:)
//  5. exact import map entries
//  6. subpaths of mapped packages
//  7. runtime module resolution
//
// Protocol specifiers are matched before any import map lookup.
package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/forge/internal/errors"
	"github.com/conneroisu/forge/internal/importmap"
	"github.com/conneroisu/forge/internal/logging"
	"github.com/conneroisu/forge/internal/pathutil"
)

// DefaultUIVersion is the render library version used when the import map
// does not pin one.
const DefaultUIVersion = "10.24.3"

// DefaultUIPackages are the render library packages that must resolve to a
// single runtime instance on the server.
var DefaultUIPackages = []string{"preact"}

// Target is the environment an artifact is built for.
type Target string

const (
	Server Target = "server"
	Client Target = "client"
)

// ParseTarget validates a target name.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case Server, Client:
		return Target(s), nil
	default:
		return "", fmt.Errorf("unknown target %q", s)
	}
}

// Request is one import to resolve.
type Request struct {
	Specifier string
	// Importer is the absolute path of the importing file.
	Importer string
	// ResolveDir is the directory relative specifiers are resolved against;
	// it defaults to the importer's directory.
	ResolveDir string
	Target     Target
}

func (r Request) dir() string {
	if r.ResolveDir != "" {
		return r.ResolveDir
	}
	return filepath.Dir(r.Importer)
}

// Resolution is the outcome of resolving a Request.
type Resolution struct {
	// Path is an absolute file path for bundled modules or the replacement
	// specifier for external ones.
	Path     string
	External bool
	// Strategy names the rule that produced the resolution.
	Strategy string
}

// ModuleResolver performs host runtime resolution for specifiers no rule
// recognises.
type ModuleResolver interface {
	ResolveModule(ctx context.Context, req Request) (Resolution, error)
}

// Strategy is one rule of the resolution chain. It returns ok=false to pass
// the request to the next rule.
type Strategy struct {
	Name    string
	Resolve func(ctx context.Context, req Request) (res Resolution, ok bool, err error)
}

// Options configure an Engine.
type Options struct {
	ImportMap       *importmap.ImportMap
	CDNBase         string
	UIPackages      []string
	UIVersion       string
	ProbeExtensions []string
	Logger          logging.Logger
}

// Engine resolves imports with a fixed strategy chain. It holds no mutable
// state and may be shared between concurrent builds.
type Engine struct {
	imports    *importmap.ImportMap
	cdnBase    string
	uiPackages []string
	uiVersion  string
	exts       []string
	logger     logging.Logger
	chain      []Strategy
}

// New returns an Engine for the given options.
func New(opts Options) *Engine {
	e := &Engine{
		imports:    opts.ImportMap,
		cdnBase:    opts.CDNBase,
		uiPackages: opts.UIPackages,
		uiVersion:  opts.UIVersion,
		exts:       opts.ProbeExtensions,
		logger:     logging.OrNop(opts.Logger).WithComponent("resolver"),
	}
	if e.imports == nil {
		e.imports = importmap.Empty()
	}
	if e.cdnBase == "" {
		e.cdnBase = DefaultCDNBase
	}
	if len(e.uiPackages) == 0 {
		e.uiPackages = DefaultUIPackages
	}
	if e.uiVersion == "" {
		e.uiVersion = DefaultUIVersion
	}
	if len(e.exts) == 0 {
		e.exts = pathutil.DefaultProbeExtensions
	}

	e.chain = []Strategy{
		{Name: "runtime-pin", Resolve: e.resolveRuntimePin},
		{Name: "relative", Resolve: e.resolveRelative},
		{Name: "alias", Resolve: e.resolveAlias},
		{Name: "protocol", Resolve: e.resolveProtocol},
		{Name: "import-map", Resolve: e.resolveMapped},
		{Name: "parent-subpath", Resolve: e.resolveParent},
	}
	return e
}

// Strategies returns the rules in the order they are tried.
func (e *Engine) Strategies() []Strategy {
	out := make([]Strategy, len(e.chain))
	copy(out, e.chain)
	return out
}

// ImportMap returns the map the engine resolves against.
func (e *Engine) ImportMap() *importmap.ImportMap {
	return e.imports
}

// Resolve runs the chain for req. Specifiers no rule claims are handed to
// fallback; with a nil fallback they fail with a resolution error.
func (e *Engine) Resolve(ctx context.Context, req Request, fallback ModuleResolver) (Resolution, error) {
	for _, s := range e.chain {
		res, ok, err := s.Resolve(ctx, req)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			res.Strategy = s.Name
			e.logger.Debug(ctx, "resolved import",
				"specifier", req.Specifier,
				"importer", req.Importer,
				"target", string(req.Target),
				"strategy", s.Name,
				"path", res.Path,
				"external", res.External)
			return res, nil
		}
	}

	if fallback == nil {
		return Resolution{}, errors.NewResolutionError(req.Specifier, req.Importer, nil)
	}
	res, err := fallback.ResolveModule(ctx, req)
	if err != nil {
		return Resolution{}, errors.NewResolutionError(req.Specifier, req.Importer, err)
	}
	if !res.External {
		if _, ok := importmap.ParseProtocol(res.Path); ok {
			res.External = true
		}
	}
	res.Strategy = "runtime"
	return res, nil
}

// isUIPackage reports whether spec names a render library package and
// returns that package.
func (e *Engine) isUIPackage(spec string) (string, bool) {
	for _, pkg := range e.uiPackages {
		if spec == pkg || strings.HasPrefix(spec, pkg+"/") {
			return pkg, true
		}
	}
	return "", false
}

// resolveRuntimePin keeps render library imports on one version: the
// import map entry when present, else DefaultUIVersion.
func (e *Engine) resolveRuntimePin(ctx context.Context, req Request) (Resolution, bool, error) {
	pkg, ok := e.isUIPackage(req.Specifier)
	if !ok {
		return Resolution{}, false, nil
	}

	if target, found := e.imports.Lookup(req.Specifier); found && target.Kind != importmap.KindAlias {
		res, err := e.fromMapTarget(req, target, "")
		return res, true, err
	}
	if _, target, sub, found := e.imports.LookupParent(req.Specifier); found {
		res, err := e.fromMapTarget(req, target, sub)
		return res, true, err
	}

	sub := strings.TrimPrefix(strings.TrimPrefix(req.Specifier, pkg), "/")
	pinned := joinSubpath("npm:"+pkg+"@"+e.uiVersion, sub)
	res, err := e.external(pinned, req)
	return res, true, err
}

func (e *Engine) resolveRelative(_ context.Context, req Request) (Resolution, bool, error) {
	spec := req.Specifier
	if !pathutil.IsRelativeSpecifier(spec) && !filepath.IsAbs(spec) {
		return Resolution{}, false, nil
	}

	base := filepath.Join(req.dir(), filepath.FromSlash(spec))
	if filepath.IsAbs(spec) {
		base = filepath.Clean(spec)
	}
	res, err := e.local(req, base)
	return res, true, err
}

func (e *Engine) resolveAlias(_ context.Context, req Request) (Resolution, bool, error) {
	_, target, rest, ok := e.imports.LookupAlias(req.Specifier)
	if !ok {
		return Resolution{}, false, nil
	}
	if target.IsExternal() {
		res, err := e.external(target.Spec+rest, req)
		return res, true, err
	}
	res, err := e.local(req, filepath.Join(target.Path, filepath.FromSlash(rest)))
	return res, true, err
}

func (e *Engine) resolveProtocol(_ context.Context, req Request) (Resolution, bool, error) {
	if strings.HasPrefix(req.Specifier, "node:") {
		return Resolution{Path: req.Specifier, External: true}, true, nil
	}
	if _, ok := importmap.ParseProtocol(req.Specifier); !ok {
		return Resolution{}, false, nil
	}
	res, err := e.external(req.Specifier, req)
	return res, true, err
}

func (e *Engine) resolveMapped(_ context.Context, req Request) (Resolution, bool, error) {
	target, ok := e.imports.Lookup(req.Specifier)
	if !ok || target.Kind == importmap.KindAlias {
		return Resolution{}, false, nil
	}
	res, err := e.fromMapTarget(req, target, "")
	return res, true, err
}

func (e *Engine) resolveParent(_ context.Context, req Request) (Resolution, bool, error) {
	_, target, sub, ok := e.imports.LookupParent(req.Specifier)
	if !ok {
		return Resolution{}, false, nil
	}
	res, err := e.fromMapTarget(req, target, sub)
	return res, true, err
}

// fromMapTarget resolves a non-alias import map target, optionally extended
// by a subpath. Local targets are bundled; a local file target's directory is
// the base for subpaths.
func (e *Engine) fromMapTarget(req Request, target importmap.Target, sub string) (Resolution, error) {
	if target.IsExternal() {
		return e.external(joinSubpath(target.Spec, sub), req)
	}
	if sub == "" {
		return e.local(req, target.Path)
	}
	base := target.Path
	if info, err := os.Stat(base); err == nil && !info.IsDir() {
		base = filepath.Dir(base)
	}
	return e.local(req, filepath.Join(base, filepath.FromSlash(sub)))
}

// local probes extensions for a bundled file.
func (e *Engine) local(req Request, p string) (Resolution, error) {
	found, ok := pathutil.ProbeExtensions(p, e.exts)
	if !ok {
		return Resolution{}, errors.NewMissingFileError(req.Specifier, req.Importer, p)
	}
	return Resolution{Path: found}, nil
}

// external translates an external specifier for the request's target.
// Servers keep npm: and jsr: specifiers for the host runtime; clients get
// CDN URLs. http(s) URLs are kept verbatim on both targets.
func (e *Engine) external(spec string, req Request) (Resolution, error) {
	protocol, ok := importmap.ParseProtocol(spec)
	if !ok {
		return Resolution{}, errors.NewResolutionError(req.Specifier, req.Importer,
			fmt.Errorf("unsupported external specifier %q", spec))
	}
	if protocol == importmap.ProtocolHTTP || protocol == importmap.ProtocolHTTPS || req.Target != Client {
		return Resolution{Path: spec, External: true}, nil
	}

	ref, err := ParsePackageRef(spec)
	if err != nil {
		return Resolution{}, errors.NewResolutionError(req.Specifier, req.Importer, err)
	}
	return Resolution{Path: ref.CDNURL(e.cdnBase), External: true}, nil
}
