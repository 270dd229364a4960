package build

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/forge/internal/errors"
	"github.com/conneroisu/forge/internal/resolve"
)

func TestConcurrency(t *testing.T) {
	testCases := []struct {
		name     string
		cpus     int
		entries  int
		expected int
	}{
		{"single core floors at four", 1, 100, 4},
		{"two cores", 2, 100, 4},
		{"four cores doubles", 4, 100, 8},
		{"many cores caps at twenty", 16, 100, 20},
		{"never more than entries", 8, 3, 3},
		{"no entries", 8, 0, 1},
		{"unknown cpu count", 0, 10, 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Concurrency(tc.cpus, tc.entries))
		})
	}
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/b.ts":                  "",
		"src/a.tsx":                 "",
		"src/nested/c.js":           "",
		"src/logo.PNG":              "",
		"src/readme.md":             "",
		"src/.hidden.ts":            "",
		"src/.cache/x.ts":           "",
		"src/node_modules/pkg/i.js": "",
		"src/dist/old.js":           "",
	})
	src := filepath.Join(root, "src")

	files, err := Walk(src, []string{".tsx", ".ts", "js", ".png"}, filepath.Join(src, "dist"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(src, "a.tsx"),
		filepath.Join(src, "b.ts"),
		filepath.Join(src, "logo.PNG"),
		filepath.Join(src, "nested", "c.js"),
	}, files)
}

func TestWalkMissingDirectory(t *testing.T) {
	_, err := Walk(filepath.Join(t.TempDir(), "absent"), []string{".ts"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeIO, errors.KindOf(err))
}

func TestCompileDirectoryCollectsFailures(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"src/broken.ts": "import { x } from \"./nowhere\";\nexport const y = x;\n",
		"src/icon.svg":  "<svg/>",
	}
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		files["src/pages/"+name+".ts"] = "export const page = \"" + name + "\";\n"
	}
	writeTree(t, root, files)

	session := newTestSession(t, root, nil, nil)
	var batches [][]FileResult
	collector := errors.NewErrorCollector()
	req := DirectoryRequest{
		SrcDir:     filepath.Join(root, "src"),
		OutDir:     filepath.Join(root, "dist"),
		Extensions: []string{".ts", ".svg"},
		UseCache:   false,
		Parallel:   true,
		Targets:    []resolve.Target{resolve.Server, resolve.Client},
	}

	dc := session.directory
	dc.cpus = 1 // batches of four
	result, err := dc.CompileDirectory(context.Background(), req, collector,
		func(results []FileResult) { batches = append(batches, results) }, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, result.Files)
	assert.Equal(t, 7, result.Compiled)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 4, result.Concurrency)
	assert.Equal(t, 2, result.Batches)
	assert.Len(t, batches, 2)

	failures := collector.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "src/broken.ts", failures[0].Path)
	assert.Equal(t, errors.ErrorTypeResolution, failures[0].Kind)

	for _, batch := range batches {
		for _, res := range batch {
			assert.NotEqual(t, "src/broken.ts", res.Path)
			assert.Len(t, res.Artifacts, 2)
		}
	}
}

func TestCompileDirectorySequential(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.ts": "export const a = 1;\n",
		"src/b.ts": "export const b = 2;\n",
	})
	session := newTestSession(t, root, nil, nil)

	req := DirectoryRequest{
		SrcDir:     filepath.Join(root, "src"),
		OutDir:     filepath.Join(root, "dist"),
		Extensions: []string{".ts"},
		Targets:    []resolve.Target{resolve.Server},
	}
	result, err := session.directory.CompileDirectory(context.Background(), req, errors.NewErrorCollector(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Concurrency)
	assert.Equal(t, 2, result.Batches)
	assert.Equal(t, 2, result.Compiled)
}

func TestCompileDirectoryCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"src/a.ts": "export const a = 1;\n"})
	session := newTestSession(t, root, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := DirectoryRequest{
		SrcDir:     filepath.Join(root, "src"),
		OutDir:     filepath.Join(root, "dist"),
		Extensions: []string{".ts"},
		Parallel:   true,
		Targets:    []resolve.Target{resolve.Server},
	}
	_, err := session.directory.CompileDirectory(ctx, req, errors.NewErrorCollector(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeInternal, errors.KindOf(err))
	assert.Contains(t, err.Error(), errors.ErrCodeBuildTimeout)
}
