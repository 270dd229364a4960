package build

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
)

// Import kinds that create a reference between emitted files.
const (
	importStatement = "import-statement"
	dynamicImport   = "dynamic-import"
)

// Metafile is the subset of the bundler's build metadata used here.
// Paths are relative to the build's working directory.
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput describes one source file read by the bundler.
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
}

// MetafileOutput describes one emitted file.
type MetafileOutput struct {
	Bytes      int              `json:"bytes"`
	Imports    []MetafileImport `json:"imports"`
	Exports    []string         `json:"exports"`
	EntryPoint string           `json:"entryPoint,omitempty"`
}

// MetafileImport is one import edge.
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// ParseMetafile decodes the bundler's metafile JSON.
func ParseMetafile(data string) (*Metafile, error) {
	if data == "" {
		return &Metafile{}, nil
	}
	var meta Metafile
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("decode metafile: %w", err)
	}
	return &meta, nil
}

// InputFiles returns the absolute paths of the files read during the build,
// sorted. Virtual inputs with a namespace prefix are skipped.
func (m *Metafile) InputFiles(workDir string) []string {
	files := make([]string, 0, len(m.Inputs))
	for p := range m.Inputs {
		if isVirtualInput(p) {
			continue
		}
		files = append(files, filepath.Join(workDir, filepath.FromSlash(p)))
	}
	sort.Strings(files)
	return files
}

// References returns, per emitted file, the emitted files it imports.
// Both keys and values are absolute paths.
func (m *Metafile) References(workDir string) map[string][]string {
	refs := make(map[string][]string, len(m.Outputs))
	for out, meta := range m.Outputs {
		from := filepath.Join(workDir, filepath.FromSlash(out))
		var targets []string
		for _, imp := range meta.Imports {
			if imp.External {
				continue
			}
			if imp.Kind != importStatement && imp.Kind != dynamicImport {
				continue
			}
			targets = append(targets, filepath.Join(workDir, filepath.FromSlash(imp.Path)))
		}
		sort.Strings(targets)
		refs[from] = targets
	}
	return refs
}

// isVirtualInput reports paths like "ns:name" that do not live on disk.
func isVirtualInput(p string) bool {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case ':':
			// keep Windows drive letters
			return i != 1
		case '/', '\\':
			return false
		}
	}
	return false
}
