package build

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/forge/internal/resolve"
)

func TestReport(t *testing.T) {
	out := t.TempDir()
	payload := strings.Repeat("export const repeated = 'compressible';\n", 200)
	writeTree(t, out, map[string]string{
		"server/aaaaaaaaaaaaaaa.js": payload,
		"client/bbbbbbbbbbbbbbb.js": "export{};",
		"client/chunk-XYZ.js":       "export const c = 1;",
		"filemap.json":              "{}",
	})

	m := NewFileMap()
	m.Set("src/a.ts", resolve.Server, "aaaaaaaaaaaaaaa.js")
	m.Set("src/a.ts", resolve.Client, "bbbbbbbbbbbbbbb.js")

	reports, err := Report(out, m, []resolve.Target{resolve.Server, resolve.Client})
	require.NoError(t, err)
	require.Len(t, reports, 3)

	ids := make([]string, len(reports))
	for i, r := range reports {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"client/bbbbbbbbbbbbbbb.js", "client/chunk-XYZ.js", "server/aaaaaaaaaaaaaaa.js"}, ids)

	assert.Equal(t, "src/a.ts", reports[0].Source)
	assert.Empty(t, reports[1].Source, "chunks have no source")

	server := reports[2]
	assert.Equal(t, resolve.Server, server.Target)
	assert.Equal(t, int64(len(payload)), server.Size)
	assert.Positive(t, server.GzipSize)
	assert.Less(t, server.GzipSize, server.Size)
	assert.Positive(t, server.ZstdSize)
	assert.Less(t, server.ZstdSize, server.Size)
}

func TestReportMissingTargetDirectory(t *testing.T) {
	reports, err := Report(filepath.Join(t.TempDir(), "dist"), nil, []resolve.Target{resolve.Server})
	require.NoError(t, err)
	assert.Empty(t, reports)
}
