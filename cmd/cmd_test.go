package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupProject switches into a fresh project directory holding files and
// resets the global configuration.
func setupProject(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		os.Chdir(oldDir)
		viper.Reset()
	})

	viper.Reset()
	viper.Set("log.level", "silent")
	return dir
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&out)
	return cmd, &out
}

func simpleProject() map[string]string {
	return map[string]string{
		"src/pages/index.tsx": "import { format } from \"../util.ts\";\nexport const view = () => <h1>{format(1)}</h1>;\n",
		"src/util.ts":         "export function format(n: number): string {\n  return `#${n}`;\n}\n",
	}
}

func TestRunBuild(t *testing.T) {
	dir := setupProject(t, simpleProject())

	cmd, out := testCommand()
	require.NoError(t, runBuild(cmd, nil))

	assert.Contains(t, out.String(), "Built 2 files")
	assert.Contains(t, out.String(), "2 compiled, 0 cached, 0 failed")
	assert.FileExists(t, filepath.Join(dir, "dist", "filemap.json"))
	assert.FileExists(t, filepath.Join(dir, "dist", ".forge-cache.cbor"))

	// Second run is served from the cache
	cmd, out = testCommand()
	require.NoError(t, runBuild(cmd, nil))
	assert.Contains(t, out.String(), "0 compiled, 2 cached")
}

func TestRunBuildReportsFailures(t *testing.T) {
	files := simpleProject()
	files["src/broken.ts"] = "import { x } from \"./missing\";\nexport const y = x;\n"
	setupProject(t, files)

	cmd, out := testCommand()
	err := runBuild(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 files failed")
	assert.Contains(t, out.String(), "src/broken.ts")
	assert.Contains(t, out.String(), "[resolution]")
}

func TestRunBuildWithUnresolvableImportMapEntry(t *testing.T) {
	files := simpleProject()
	files["deno.json"] = `{"imports": {"react": "preact/compat", "@/": "./src/"}}`
	dir := setupProject(t, files)

	cmd, out := testCommand()
	require.NoError(t, runBuild(cmd, nil))
	assert.Contains(t, out.String(), "Built 2 files")
	assert.FileExists(t, filepath.Join(dir, "dist", "filemap.json"))
}

func TestRunBuildWithReport(t *testing.T) {
	setupProject(t, simpleProject())
	viper.Set("build.target", "client")

	buildReport = true
	defer func() { buildReport = false }()

	cmd, out := testCommand()
	require.NoError(t, runBuild(cmd, nil))

	output := out.String()
	assert.Contains(t, output, "ARTIFACT")
	assert.Contains(t, output, "src/pages/index.tsx")
	assert.Regexp(t, `TOTAL\s+2 artifacts`, output)
	assert.NotContains(t, output, "server/")
}

func TestApplyBuildFlags(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	flags := pflag.NewFlagSet("build", pflag.ContinueOnError)
	flags.String("target", "both", "")
	flags.Bool("no-cache", false, "")
	flags.Bool("sequential", false, "")
	flags.String("out", "", "")
	flags.Bool("split", false, "")
	require.NoError(t, flags.Parse([]string{"--no-cache", "--target", "client", "--split"}))

	applyBuildFlags(flags)

	assert.False(t, viper.GetBool("build.use_cache"))
	assert.Equal(t, "client", viper.GetString("build.target"))
	assert.True(t, viper.GetBool("build.code_splitting"))
	// untouched flags leave configuration alone
	assert.False(t, viper.IsSet("build.parallel"))
	assert.False(t, viper.IsSet("build.out_dir"))
}

func TestCacheCommands(t *testing.T) {
	dir := setupProject(t, simpleProject())

	cmd, _ := testCommand()
	require.NoError(t, runBuild(cmd, nil))

	stale := filepath.Join(dir, "dist", "server", "stale.js")
	require.NoError(t, os.WriteFile(stale, []byte("export {};"), 0o644))

	cmd, out := testCommand()
	require.NoError(t, runCacheStat(cmd, nil))
	assert.Contains(t, out.String(), "Records:")
	assert.Contains(t, out.String(), "FileMap entries:  4")

	cmd, out = testCommand()
	require.NoError(t, runCacheClean(cmd, nil))
	assert.Contains(t, out.String(), "removed server/stale.js")
	assert.Contains(t, out.String(), "Removed 1 orphaned artifact(s)")
	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(dir, "dist", ".forge-cache.cbor"))

	cacheCleanIndex = true
	defer func() { cacheCleanIndex = false }()

	cmd, out = testCommand()
	require.NoError(t, runCacheClean(cmd, nil))
	assert.Contains(t, out.String(), "Removed 0 orphaned artifact(s)")
	assert.Contains(t, out.String(), "Cache index cleared")
	assert.NoFileExists(t, filepath.Join(dir, "dist", ".forge-cache.cbor"))
}

func TestNewSessionRejectsInvalidConfig(t *testing.T) {
	setupProject(t, simpleProject())
	viper.Set("build.target", "edge")

	cmd, _ := testCommand()
	err := runBuild(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestVersionCommand(t *testing.T) {
	defer func() {
		versionFormat = "text"
		versionShort = false
	}()

	t.Run("default", func(t *testing.T) {
		versionFormat = "text"
		cmd, out := testCommand()
		cmd.Flags().Bool("detailed", false, "")
		require.NoError(t, runVersionCommand(cmd, nil))
		assert.Contains(t, out.String(), "forge ")
		assert.Contains(t, out.String(), "Bundler: esbuild")
	})

	t.Run("json", func(t *testing.T) {
		versionFormat = "json"
		cmd, out := testCommand()
		require.NoError(t, runVersionCommand(cmd, nil))

		var info map[string]interface{}
		require.NoError(t, json.Unmarshal(out.Bytes(), &info))
		assert.Contains(t, info, "version")
		assert.Contains(t, info, "bundler")
		assert.Contains(t, info, "is_release")
	})

	t.Run("unsupported format", func(t *testing.T) {
		versionFormat = "xml"
		cmd, _ := testCommand()
		err := runVersionCommand(cmd, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported format")
	})
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
