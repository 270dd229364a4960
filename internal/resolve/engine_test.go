package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/forge/internal/errors"
	"github.com/conneroisu/forge/internal/importmap"
)

// fakeResolver stands in for the host runtime resolver.
type fakeResolver struct {
	results map[string]Resolution
	calls   []string
}

func (f *fakeResolver) ResolveModule(_ context.Context, req Request) (Resolution, error) {
	f.calls = append(f.calls, req.Specifier)
	if res, ok := f.results[req.Specifier]; ok {
		return res, nil
	}
	return Resolution{}, fmt.Errorf("module %q not found", req.Specifier)
}

func writeFixture(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	writeFixture(t, root, map[string]string{
		"src/pages/index.tsx":         "export default 1",
		"src/components/Button.tsx":   "export const Button = 1",
		"src/components/Button.ts":    "export const Button = 2",
		"src/components/Icon.ts":      "export const Icon = 1",
		"src/lib/format.ts":           "export const f = 1",
		"src/lib/widgets/index.tsx":   "export const w = 1",
		"vendor/lib/mod.ts":           "export const m = 1",
		"vendor/lib/extra.ts":         "export const e = 1",
		"vendor/local-only/helper.ts": "export const h = 1",
	})

	m, err := importmap.New(map[string]string{
		"@components/":            "./src/components/",
		"$std/":                   "https://deno.land/std@0.224.0/",
		"left-pad":                "npm:left-pad@1.3.0",
		"@std/path":               "jsr:@std/path@^1.0.0",
		"lib":                     "./vendor/lib/mod.ts",
		"helper":                  "./vendor/local-only/helper.ts",
		"npm:shadowed@1.0.0":      "./vendor/lib/mod.ts",
		"preact-render-to-string": "npm:preact-render-to-string@6.5.11",
	}, root)
	require.NoError(t, err)

	return New(Options{ImportMap: m}), root
}

func TestResolveStrategies(t *testing.T) {
	engine, root := newTestEngine(t)
	importer := filepath.Join(root, "src", "pages", "index.tsx")

	testCases := []struct {
		name     string
		spec     string
		target   Target
		path     string
		external bool
		strategy string
	}{
		{"relative tsx wins", "../components/Button", Server, filepath.Join(root, "src/components/Button.tsx"), false, "relative"},
		{"relative ts probe", "../components/Icon", Client, filepath.Join(root, "src/components/Icon.ts"), false, "relative"},
		{"relative exact", "../lib/format.ts", Server, filepath.Join(root, "src/lib/format.ts"), false, "relative"},
		{"relative directory index", "../lib/widgets", Server, filepath.Join(root, "src/lib/widgets/index.tsx"), false, "relative"},
		{"alias local", "@components/Button", Client, filepath.Join(root, "src/components/Button.tsx"), false, "alias"},
		{"alias external prefix", "$std/path/mod.ts", Client, "https://deno.land/std@0.224.0/path/mod.ts", true, "alias"},
		{"npm server verbatim", "npm:left-pad@1.3.0", Server, "npm:left-pad@1.3.0", true, "protocol"},
		{"npm client cdn", "npm:left-pad@1.3.0", Client, "https://esm.sh/left-pad@1.3.0", true, "protocol"},
		{"jsr client subpath", "jsr:@std/path@^1.0.0/join", Client, "https://esm.sh/jsr/@std/path@1.0.0/join", true, "protocol"},
		{"https verbatim", "https://esm.sh/zod@3", Client, "https://esm.sh/zod@3", true, "protocol"},
		{"node builtin", "node:path", Server, "node:path", true, "protocol"},
		{"protocol wins over map", "npm:shadowed@1.0.0", Client, "https://esm.sh/shadowed@1.0.0", true, "protocol"},
		{"map server", "left-pad", Server, "npm:left-pad@1.3.0", true, "import-map"},
		{"map client", "left-pad", Client, "https://esm.sh/left-pad@1.3.0", true, "import-map"},
		{"map local", "helper", Client, filepath.Join(root, "vendor/local-only/helper.ts"), false, "import-map"},
		{"parent external subpath", "@std/path/posix", Client, "https://esm.sh/jsr/@std/path@1.0.0/posix", true, "parent-subpath"},
		{"parent external server", "@std/path/posix", Server, "jsr:@std/path@^1.0.0/posix", true, "parent-subpath"},
		{"parent local subpath", "lib/extra", Server, filepath.Join(root, "vendor/lib/extra.ts"), false, "parent-subpath"},
		{"ui pin default server", "preact/hooks", Server, "npm:preact@" + DefaultUIVersion + "/hooks", true, "runtime-pin"},
		{"ui pin default client", "preact", Client, "https://esm.sh/preact@" + DefaultUIVersion, true, "runtime-pin"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := engine.Resolve(context.Background(), Request{
				Specifier: tc.spec,
				Importer:  importer,
				Target:    tc.target,
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.path, res.Path)
			assert.Equal(t, tc.external, res.External)
			assert.Equal(t, tc.strategy, res.Strategy)
		})
	}
}

func TestRuntimePinFollowsImportMap(t *testing.T) {
	m, err := importmap.New(map[string]string{
		"preact": "npm:preact@10.19.0",
	}, "/project")
	require.NoError(t, err)
	engine := New(Options{ImportMap: m})

	req := Request{Specifier: "preact/jsx-runtime", Importer: "/project/src/a.tsx", Target: Server}
	res, err := engine.Resolve(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "npm:preact@10.19.0/jsx-runtime", res.Path)

	req.Target = Client
	res, err = engine.Resolve(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://esm.sh/preact@10.19.0/jsx-runtime", res.Path)
}

func TestResolveMissingFiles(t *testing.T) {
	engine, root := newTestEngine(t)
	importer := filepath.Join(root, "src", "pages", "index.tsx")

	for _, spec := range []string{"./missing", "@components/Nope", "lib/absent"} {
		t.Run(spec, func(t *testing.T) {
			_, err := engine.Resolve(context.Background(), Request{Specifier: spec, Importer: importer, Target: Server}, nil)
			require.Error(t, err)
			assert.True(t, errors.IsResolutionError(err))
		})
	}
}

func TestResolveRuntimeFallback(t *testing.T) {
	engine, root := newTestEngine(t)
	importer := filepath.Join(root, "src", "pages", "index.tsx")
	local := filepath.Join(root, "node_modules", "tiny", "index.js")

	fallback := &fakeResolver{results: map[string]Resolution{
		"tiny":   {Path: local},
		"remote": {Path: "npm:remote@2.0.0"},
	}}

	res, err := engine.Resolve(context.Background(), Request{Specifier: "tiny", Importer: importer, Target: Server}, fallback)
	require.NoError(t, err)
	assert.Equal(t, local, res.Path)
	assert.False(t, res.External)
	assert.Equal(t, "runtime", res.Strategy)

	res, err = engine.Resolve(context.Background(), Request{Specifier: "remote", Importer: importer, Target: Server}, fallback)
	require.NoError(t, err)
	assert.True(t, res.External)

	_, err = engine.Resolve(context.Background(), Request{Specifier: "ghost", Importer: importer, Target: Client}, fallback)
	require.Error(t, err)
	assert.True(t, errors.IsResolutionError(err))
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, err.Error(), importer)

	_, err = engine.Resolve(context.Background(), Request{Specifier: "ghost", Importer: importer, Target: Client}, nil)
	assert.True(t, errors.IsResolutionError(err))

	// mapped and relative specifiers never reach the fallback
	assert.Equal(t, []string{"tiny", "remote", "ghost"}, fallback.calls)
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("client")
	require.NoError(t, err)
	assert.Equal(t, Client, target)

	_, err = ParseTarget("both")
	assert.Error(t, err)
}

func TestStrategiesOrder(t *testing.T) {
	engine := New(Options{})
	var names []string
	for _, s := range engine.Strategies() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"runtime-pin", "relative", "alias", "protocol", "import-map", "parent-subpath"}, names)
}

func BenchmarkResolveMapped(b *testing.B) {
	m, err := importmap.New(map[string]string{
		"left-pad":  "npm:left-pad@1.3.0",
		"@std/path": "jsr:@std/path@^1.0.0",
	}, "/project")
	require.NoError(b, err)
	engine := New(Options{ImportMap: m})
	req := Request{Specifier: "@std/path/join", Importer: "/project/a.ts", Target: Client}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = engine.Resolve(context.Background(), req, nil)
	}
}
