package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/forge/internal/logging"
)

func TestCacheIndexSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, CacheIndexFile)

	index := NewCacheIndex(path, "fp-1")
	index.Record(CacheRecord{
		Source:     "src/a.ts",
		SourceHash: "aaaaaaaaaaaaaaa",
		OutDir:     "/out/server",
		Name:       "bbbbbbbbbbbbbbb.js",
		Inputs:     map[string]string{"/p/src/dep.ts": "ccccccccccccccc"},
	})
	index.SetChunks("/out/client", []string{"chunk-B.js", "chunk-A.js"})
	require.NoError(t, index.Save())

	loaded, err := LoadCacheIndex(path, "fp-1")
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	rec, ok := loaded.Lookup("src/a.ts", "/out/server", "aaaaaaaaaaaaaaa")
	require.True(t, ok)
	assert.Equal(t, "bbbbbbbbbbbbbbb.js", rec.Name)
	assert.Equal(t, "ccccccccccccccc", rec.Inputs["/p/src/dep.ts"])
	assert.NotZero(t, rec.BuiltAt)
	assert.Equal(t, []string{"chunk-A.js", "chunk-B.js"}, loaded.Chunks("/out/client"))

	_, ok = loaded.Lookup("src/a.ts", "/out/client", "aaaaaaaaaaaaaaa")
	assert.False(t, ok, "records are per output directory")
}

func TestCacheIndexDeterministicEncoding(t *testing.T) {
	dir := t.TempDir()
	build := func(name string) []byte {
		index := NewCacheIndex(filepath.Join(dir, name), "fp")
		for _, src := range []string{"src/b.ts", "src/a.ts", "src/c.ts"} {
			index.Record(CacheRecord{Source: src, SourceHash: "h", OutDir: "/o", Name: "n.js", BuiltAt: 1})
		}
		require.NoError(t, index.Save())
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, build("one.cbor"), build("two.cbor"))
}

func TestLoadCacheIndexDiscardsStaleFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), CacheIndexFile)
	index := NewCacheIndex(path, "old")
	index.Record(CacheRecord{Source: "a", SourceHash: "h", OutDir: "/o", Name: "n.js"})
	require.NoError(t, index.Save())

	loaded, err := LoadCacheIndex(path, "new")
	require.NoError(t, err)
	assert.Zero(t, loaded.Len())
	assert.Equal(t, "new", loaded.Fingerprint())
}

func TestLoadCacheIndexMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	loaded, err := LoadCacheIndex(filepath.Join(dir, "absent.cbor"), "fp")
	require.NoError(t, err)
	assert.Zero(t, loaded.Len())

	corrupt := filepath.Join(dir, "corrupt.cbor")
	require.NoError(t, os.WriteFile(corrupt, []byte{0xff, 0x00, 0x13}, 0o644))
	loaded, err = LoadCacheIndex(corrupt, "fp")
	require.Error(t, err)
	assert.NotNil(t, loaded)
	assert.Zero(t, loaded.Len())
}

func TestCacheIndexForget(t *testing.T) {
	index := NewCacheIndex("", "")
	index.Record(CacheRecord{Source: "a", SourceHash: "1", OutDir: "/s", Name: "x.js"})
	index.Record(CacheRecord{Source: "a", SourceHash: "1", OutDir: "/c", Name: "y.js"})
	index.Record(CacheRecord{Source: "b", SourceHash: "2", OutDir: "/s", Name: "z.js"})

	assert.Equal(t, 2, index.Forget("a"))
	assert.Equal(t, 1, index.Len())
	assert.Equal(t, "b", index.Records()[0].Source)
}

func TestCheckBuildCache(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	outDir := filepath.Join(root, "dist", "server")
	dep := filepath.Join(root, "src", "dep.ts")
	require.NoError(t, os.MkdirAll(filepath.Dir(dep), 0o755))
	require.NoError(t, os.WriteFile(dep, []byte("export const d = 1;\n"), 0o644))

	manager := NewCacheManager(nil, NewCacheIndex(filepath.Join(root, CacheIndexFile), "fp"), nil)
	depHash, err := manager.SourceHash(dep)
	require.NoError(t, err)

	_, hit := manager.CheckBuildCache(ctx, "src/a.ts", outDir, "srchash")
	assert.False(t, hit, "no record")

	manager.Index().Record(CacheRecord{
		Source:     "src/a.ts",
		SourceHash: "srchash",
		OutDir:     outDir,
		Name:       "0123456789abcde.js",
		Inputs:     map[string]string{dep: depHash},
	})

	_, hit = manager.CheckBuildCache(ctx, "src/a.ts", outDir, "srchash")
	assert.False(t, hit, "artifact missing from disk")

	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "0123456789abcde.js"), []byte("x"), 0o644))

	name, hit := manager.CheckBuildCache(ctx, "src/a.ts", outDir, "srchash")
	assert.True(t, hit)
	assert.Equal(t, "0123456789abcde.js", name)

	_, hit = manager.CheckBuildCache(ctx, "src/a.ts", outDir, "otherhash")
	assert.False(t, hit, "different source hash")

	require.NoError(t, os.Remove(dep))
	_, hit = manager.CheckBuildCache(ctx, "src/a.ts", outDir, "srchash")
	assert.False(t, hit, "dependency removed")
}

func TestCheckBuildCacheNeverWrites(t *testing.T) {
	root := t.TempDir()
	manager := NewCacheManager(nil, NewCacheIndex(filepath.Join(root, CacheIndexFile), "fp"), nil)

	_, _ = manager.CheckBuildCache(context.Background(), "src/a.ts", filepath.Join(root, "out"), "h")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckBuildCacheProbeFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// The recorded output directory is a regular file, so probing the
	// artifact fails with ENOTDIR rather than "not found".
	outDir := filepath.Join(root, "dist")
	require.NoError(t, os.WriteFile(outDir, []byte("not a directory"), 0o644))

	var logs bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelWarn,
		Format: "text",
		Output: &logs,
	})
	manager := NewCacheManager(nil, NewCacheIndex(filepath.Join(root, CacheIndexFile), "fp"), logger)
	manager.Index().Record(CacheRecord{
		Source:     "src/a.ts",
		SourceHash: "srchash",
		OutDir:     outDir,
		Name:       "0123456789abcde.js",
	})

	name, hit := manager.CheckBuildCache(ctx, "src/a.ts", outDir, "srchash")
	assert.False(t, hit)
	assert.Empty(t, name)

	output := logs.String()
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "Cache probe failed, recompiling")
	assert.Contains(t, output, "ERR_CACHE_PROBE")
	assert.Contains(t, output, "not a directory")
}
