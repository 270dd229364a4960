package build

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/forge/internal/resolve"
)

func TestFileMapSetReplacesIdentifier(t *testing.T) {
	m := NewFileMap()

	prev, replaced := m.Set("src/a.tsx", resolve.Server, "111111111111111.js")
	assert.False(t, replaced)
	assert.Empty(t, prev)

	prev, replaced = m.Set("src/a.tsx", resolve.Server, "111111111111111.js")
	assert.False(t, replaced, "same identifier is not a replacement")
	assert.Empty(t, prev)

	prev, replaced = m.Set("src/a.tsx", resolve.Server, "222222222222222.js")
	assert.True(t, replaced)
	assert.Equal(t, "server/111111111111111.js", prev)

	v, ok := m.Lookup("src/a.tsx", resolve.Server)
	require.True(t, ok)
	assert.Equal(t, "server/222222222222222.js", v)
	assert.Equal(t, 1, m.Len())
	assert.False(t, m.References("server/111111111111111.js"))
}

func TestFileMapClientKey(t *testing.T) {
	m := NewFileMap()
	m.Set("src/a.tsx", resolve.Server, "aaa.js")
	m.Set("src/a.tsx", resolve.Client, "bbb.js")

	assert.Equal(t, []string{"src/a.tsx", "src/a.tsx.client"}, m.Keys())

	v, ok := m.Get("src/a.tsx.client")
	require.True(t, ok)
	assert.Equal(t, "client/bbb.js", v)

	source, target := SourceOf("src/a.tsx.client")
	assert.Equal(t, "src/a.tsx", source)
	assert.Equal(t, resolve.Client, target)

	removed, ok := m.Remove("src/a.tsx.client")
	assert.True(t, ok)
	assert.Equal(t, "client/bbb.js", removed)
	assert.Equal(t, 1, m.Len())
}

func TestFileMapManifestRoundTrip(t *testing.T) {
	m := NewFileMap()
	m.Set("src/pages/index.tsx", resolve.Server, "3f2a9c0d1b4e5f6.js")
	m.Set("src/pages/index.tsx", resolve.Client, "9d8e7f6a5b4c3d2.js")
	m.Set("src/logo.png", resolve.Server, "0a1b2c3d4e5f607.png")

	for _, name := range []string{ManifestJSON, ManifestYAML} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, m.WriteManifest(path))

			loaded, err := ReadFileMap(path)
			require.NoError(t, err)
			assert.Equal(t, m.Entries(), loaded.Entries())
		})
	}
}

func TestFileMapWriteJSONSorted(t *testing.T) {
	m := NewFileMap()
	m.Set("src/b.ts", resolve.Server, "b.js")
	m.Set("src/a.ts", resolve.Server, "a.js")

	var buf bytes.Buffer
	require.NoError(t, m.WriteJSON(&buf))
	assert.Equal(t, "{\n  \"src/a.ts\": \"server/a.js\",\n  \"src/b.ts\": \"server/b.js\"\n}\n", buf.String())
}

func TestReadFileMapMissing(t *testing.T) {
	m, err := ReadFileMap(filepath.Join(t.TempDir(), ManifestJSON))
	require.NoError(t, err)
	assert.Zero(t, m.Len())
}
