package main

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/forge/internal/build"
	"github.com/conneroisu/forge/internal/config"
)

var chunkRef = regexp.MustCompile(`["'](\./[^"'/]+\.js)["']`)

func writeProject(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func projectFiles() map[string]string {
	return map[string]string{
		"deno.json": `{
  "imports": {
    "@components/": "./src/components/",
    "left-pad": "npm:left-pad@1.3.0"
  }
}`,
		"src/components/Button.tsx": `export function Button(props: { label: string }) {
  return <button class="btn">{props.label}</button>;
}
`,
		"src/shared/format.ts": `export function format(s: string): string {
  return "[" + s + "]";
}
`,
		"src/pages/home.tsx": `import pad from "left-pad";
import { Button } from "@components/Button";
import { format } from "../shared/format.ts";

export function loader() {
  return readSessionSecret();
}

function readSessionSecret() {
  return "session-secret-value";
}

export default function Home() {
  return <Button label={format(pad("home", 8))} />;
}
`,
		"src/pages/about.tsx": `import { Button } from "@components/Button";
import { format } from "../shared/format.ts";

export default function About() {
  return <Button label={format("about")} />;
}
`,
	}
}

func loadSession(t *testing.T, root string, settings map[string]interface{}) *build.Session {
	t.Helper()

	v := viper.New()
	v.Set("build.root", root)
	v.Set("log.level", "silent")
	for key, value := range settings {
		v.Set(key, value)
	}

	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)

	imports, manifest, err := cfg.LoadImportMap()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "deno.json"), manifest)

	opts, err := cfg.SessionOptions()
	require.NoError(t, err)

	session, err := build.NewSession(opts, imports, nil)
	require.NoError(t, err)
	return session
}

func readArtifact(t *testing.T, root, id string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "dist", filepath.FromSlash(id)))
	require.NoError(t, err)
	return string(data)
}

func TestIntegration_DualTargetBuild(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, projectFiles())

	session := loadSession(t, root, nil)
	result, err := session.Build(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Failed, session.Errors().Summary())
	assert.Equal(t, 4, result.Files)

	manifest, err := build.ReadFileMap(filepath.Join(root, "dist", "filemap.json"))
	require.NoError(t, err)
	assert.Equal(t, 8, manifest.Len())

	serverID, ok := manifest.Get("src/pages/home.tsx")
	require.True(t, ok)
	clientID, ok := manifest.Get("src/pages/home.tsx.client")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(serverID, "server/"))
	assert.True(t, strings.HasPrefix(clientID, "client/"))

	server := readArtifact(t, root, serverID)
	client := readArtifact(t, root, clientID)

	// Protocol imports stay external on the server and go to the CDN on
	// the client
	assert.Contains(t, server, "npm:left-pad@1.3.0")
	assert.Contains(t, client, "https://esm.sh/left-pad@1.3.0")
	assert.NotContains(t, client, "npm:")

	// Aliased and relative modules are inlined
	assert.Contains(t, client, `"btn"`)
	assert.Contains(t, client, `"["`)
	assert.NotContains(t, client, "@components/")

	// Server-only exports never reach the browser
	assert.Contains(t, server, "session-secret-value")
	assert.NotContains(t, client, "session-secret-value")
	assert.NotEqual(t, server, client)

	// Rebuilding with a fresh session is fully cached and stable
	again := loadSession(t, root, nil)
	result, err = again.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Cached)
	assert.Zero(t, result.Compiled)

	stableID, _ := again.FileMap().Get("src/pages/home.tsx.client")
	assert.Equal(t, clientID, stableID)
}

func TestIntegration_CodeSplittingBuild(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, projectFiles())

	session := loadSession(t, root, map[string]interface{}{
		"build.code_splitting": true,
		"build.target":         "client",
	})
	result, err := session.Build(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Failed, session.Errors().Summary())
	assert.GreaterOrEqual(t, result.Chunks, 1)

	clientDir := filepath.Join(root, "dist", "client")
	entries, err := os.ReadDir(clientDir)
	require.NoError(t, err)

	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(clientDir, entry.Name()))
		require.NoError(t, err)
		for _, m := range chunkRef.FindAllStringSubmatch(string(data), -1) {
			assert.FileExists(t, filepath.Join(clientDir, m[1]), "%s references %s", entry.Name(), m[1])
		}
		assert.NotContains(t, string(data), "session-secret-value", entry.Name())
	}

	for _, page := range []string{"src/pages/home.tsx", "src/pages/about.tsx"} {
		id, ok := session.FileMap().Get(page + ".client")
		require.True(t, ok, page)
		assert.Regexp(t, `^client/[0-9a-f]{15}\.js$`, id)
	}

	removed, err := session.CleanOrphans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, removed, "chunks of the last split build are live")
}
