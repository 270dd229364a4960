package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

// fallbackMarker tags resolutions the plugin delegates back to esbuild so
// that its own OnResolve callback lets them through.
type fallbackMarker struct{}

// Trace records what the plugin did during one build: the externals it
// emitted and the resolution errors it hit. It is safe for concurrent use
// by esbuild's resolver goroutines.
type Trace struct {
	mu        sync.Mutex
	externals map[string]string
	errs      []error
}

// NewTrace returns an empty Trace.
func NewTrace() *Trace {
	return &Trace{externals: make(map[string]string)}
}

func (t *Trace) external(spec, path string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.externals[spec] = path
	t.mu.Unlock()
}

func (t *Trace) fail(err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.errs = append(t.errs, err)
	t.mu.Unlock()
}

// Externals returns specifier → emitted path for every external import.
func (t *Trace) Externals() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.externals))
	for k, v := range t.externals {
		out[k] = v
	}
	return out
}

// ExternalSpecifiers returns the external specifiers in sorted order.
func (t *Trace) ExternalSpecifiers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	specs := make([]string, 0, len(t.externals))
	for k := range t.externals {
		specs = append(specs, k)
	}
	sort.Strings(specs)
	return specs
}

// Err returns the first resolution error, or nil.
func (t *Trace) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.errs) == 0 {
		return nil
	}
	return t.errs[0]
}

// Errs returns every recorded resolution error.
func (t *Trace) Errs() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]error(nil), t.errs...)
}

// esbuildResolver adapts PluginBuild.Resolve to ModuleResolver.
type esbuildResolver struct {
	build api.PluginBuild
	kind  api.ResolveKind
}

func (r esbuildResolver) ResolveModule(_ context.Context, req Request) (Resolution, error) {
	result := r.build.Resolve(req.Specifier, api.ResolveOptions{
		Importer:   req.Importer,
		ResolveDir: req.dir(),
		Kind:       r.kind,
		PluginData: fallbackMarker{},
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			msgs = append(msgs, m.Text)
		}
		return Resolution{}, errors.New(strings.Join(msgs, "; "))
	}
	if result.Path == "" {
		return Resolution{}, fmt.Errorf("no module found for %q", req.Specifier)
	}
	return Resolution{Path: result.Path, External: result.External}, nil
}

// Plugin returns an esbuild plugin that resolves every import of a build
// for target through the engine. Entry points are left to esbuild. The
// optional trace collects externals and errors.
func (e *Engine) Plugin(ctx context.Context, target Target, trace *Trace) api.Plugin {
	return api.Plugin{
		Name: "forge-resolve-" + string(target),
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if args.Kind == api.ResolveEntryPoint {
					return api.OnResolveResult{}, nil
				}
				if _, ok := args.PluginData.(fallbackMarker); ok {
					return api.OnResolveResult{}, nil
				}

				req := Request{
					Specifier:  args.Path,
					Importer:   args.Importer,
					ResolveDir: args.ResolveDir,
					Target:     target,
				}
				res, err := e.Resolve(ctx, req, esbuildResolver{build: build, kind: args.Kind})
				if err != nil {
					trace.fail(err)
					return api.OnResolveResult{
						Errors: []api.Message{{Text: err.Error()}},
					}, nil
				}

				if res.External {
					trace.external(args.Path, res.Path)
					return api.OnResolveResult{Path: res.Path, External: true}, nil
				}
				return api.OnResolveResult{Path: res.Path, Namespace: "file"}, nil
			})
		},
	}
}
