package importmap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// DefaultManifests are probed in order when no manifest is configured.
var DefaultManifests = []string{"deno.json", "deno.jsonc", "import_map.json"}

// Manifest is the subset of a project manifest the build reads.
type Manifest struct {
	Imports         map[string]string `json:"imports"`
	ImportMap       string            `json:"importMap"`
	CompilerOptions struct {
		JSXImportSource string `json:"jsxImportSource"`
	} `json:"compilerOptions"`

	// Path is the file the manifest was read from.
	Path string `json:"-"`
}

// ReadManifest parses a JSON or JSONC manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	manifest.Path = path
	return &manifest, nil
}

// FindManifest returns the first candidate that exists under root.
func FindManifest(root string, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		candidates = DefaultManifests
	}
	for _, name := range candidates {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, name)
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// Load reads the manifest at path and builds its import map. When the
// manifest has no inline "imports" but names a separate "importMap" file,
// that file is read instead.
func Load(path string) (*ImportMap, error) {
	manifest, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(path)
	if len(manifest.Imports) == 0 && manifest.ImportMap != "" {
		external := manifest.ImportMap
		if !filepath.IsAbs(external) {
			external = filepath.Join(baseDir, filepath.FromSlash(external))
		}
		linked, err := ReadManifest(external)
		if err != nil {
			return nil, err
		}
		return New(linked.Imports, filepath.Dir(external))
	}

	return New(manifest.Imports, baseDir)
}

// LoadFromRoot finds a manifest under root and loads it. A project without a
// manifest gets an empty map.
func LoadFromRoot(root, configured string) (*ImportMap, string, error) {
	var candidates []string
	if configured != "" {
		candidates = []string{configured}
	}
	path, ok := FindManifest(root, candidates)
	if !ok {
		if configured != "" {
			return nil, "", fmt.Errorf("import map manifest %s not found", configured)
		}
		return Empty(), "", nil
	}
	m, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	return m, path, nil
}
