package resolve

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/forge/internal/errors"
	"github.com/conneroisu/forge/internal/importmap"
)

func bundle(t *testing.T, root, entry string, engine *Engine, target Target) (api.BuildResult, *Trace) {
	t.Helper()
	trace := NewTrace()
	result := api.Build(api.BuildOptions{
		EntryPoints:   []string{entry},
		Bundle:        true,
		Write:         false,
		Format:        api.FormatESModule,
		Outdir:        filepath.Join(root, "out"),
		AbsWorkingDir: root,
		LogLevel:      api.LogLevelSilent,
		Plugins:       []api.Plugin{engine.Plugin(context.Background(), target, trace)},
	})
	return result, trace
}

func TestPluginClientCDNExternal(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, map[string]string{
		"src/pad.ts": "import leftPad from \"npm:left-pad@1.3.0\";\nexport const padded = leftPad(\"x\", 3);\n",
	})

	result, trace := bundle(t, root, filepath.Join(root, "src", "pad.ts"), New(Options{}), Client)
	require.Empty(t, result.Errors)
	require.Len(t, result.OutputFiles, 1)

	out := string(result.OutputFiles[0].Contents)
	assert.Contains(t, out, "https://esm.sh/left-pad@1.3.0")
	assert.NotContains(t, out, "npm:left-pad")
	assert.Equal(t, []string{"npm:left-pad@1.3.0"}, trace.ExternalSpecifiers())
	assert.NoError(t, trace.Err())
}

func TestPluginBundlesAlias(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, map[string]string{
		"src/components/Button.tsx": "export const buttonLabel = \"alias-inlined-marker\";\n",
		"src/app.ts":                "import { buttonLabel } from \"@components/Button\";\nexport const label = buttonLabel;\n",
	})
	m, err := importmap.New(map[string]string{"@components/": "./src/components/"}, root)
	require.NoError(t, err)

	result, trace := bundle(t, root, filepath.Join(root, "src", "app.ts"), New(Options{ImportMap: m}), Server)
	require.Empty(t, result.Errors)
	require.Len(t, result.OutputFiles, 1)

	out := string(result.OutputFiles[0].Contents)
	assert.Contains(t, out, "alias-inlined-marker")
	assert.NotContains(t, out, "@components/Button")
	assert.Empty(t, trace.ExternalSpecifiers())
}

func TestPluginRecordsResolutionErrors(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, map[string]string{
		"src/broken.ts": "import { x } from \"./does-not-exist\";\nexport const y = x;\n",
	})

	result, trace := bundle(t, root, filepath.Join(root, "src", "broken.ts"), New(Options{}), Server)
	require.NotEmpty(t, result.Errors)

	err := trace.Err()
	require.Error(t, err)
	assert.True(t, errors.IsResolutionError(err))
	assert.Contains(t, err.Error(), "./does-not-exist")
}
