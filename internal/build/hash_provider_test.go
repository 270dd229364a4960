package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/forge/internal/hashing"
)

func TestSourceHasherMemoizesByMetadata(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.ts")
	require.NoError(t, os.WriteFile(p, []byte("export const a = 1;\n"), 0o644))

	hasher := NewSourceHasher(nil, nil)

	first, err := hasher.Hash(p)
	require.NoError(t, err)
	assert.Equal(t, hashing.Default().HashString("export const a = 1;\n"), first)

	second, err := hasher.Hash(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats := hasher.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestSourceHasherSeesContentChanges(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.ts")
	require.NoError(t, os.WriteFile(p, []byte("export const a = 1;\n"), 0o644))

	hasher := NewSourceHasher(nil, nil)
	before, err := hasher.Hash(p)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("export const a = 22;\n"), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(p, later, later))

	after, err := hasher.Hash(p)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestSourceHasherErrors(t *testing.T) {
	hasher := NewSourceHasher(nil, nil)

	_, err := hasher.Hash(filepath.Join(t.TempDir(), "missing.ts"))
	assert.True(t, os.IsNotExist(err))

	_, err = hasher.Hash(t.TempDir())
	assert.Error(t, err)
}

func TestSourceHasherBatch(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.ts", "b.ts", "c.ts"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
		paths = append(paths, p)
	}
	paths = append(paths, filepath.Join(dir, "missing.ts"))

	hasher := NewSourceHasher(nil, nil)
	hashes := hasher.HashBatch(context.Background(), paths)

	assert.Len(t, hashes, 3)
	assert.Equal(t, hashing.Default().HashString("b.ts"), hashes[paths[1]])
	assert.Equal(t, 3, hasher.Stats().Entries)
}

func TestSourceHasherInvalidate(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.ts")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	hasher := NewSourceHasher(nil, nil)
	_, err := hasher.Hash(p)
	require.NoError(t, err)
	require.Equal(t, 1, hasher.Stats().Entries)

	hasher.Invalidate(p)
	assert.Equal(t, 0, hasher.Stats().Entries)
}
