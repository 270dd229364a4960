package build

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/forge/internal/pathutil"
	"github.com/conneroisu/forge/internal/resolve"
)

// Manifest file names written next to the target directories.
const (
	ManifestJSON = "filemap.json"
	ManifestYAML = "filemap.yaml"
)

// FileMap maps source paths to their current artifact, e.g.
//
//	src/pages/index.tsx        → server/3f2a9c0d1b4e5f6.js
//	src/pages/index.tsx.client → client/9d8e7f6a5b4c3d2.js
//
// A (path, target) pair always maps to exactly one identifier.
type FileMap struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewFileMap creates an empty map.
func NewFileMap() *FileMap {
	return &FileMap{entries: make(map[string]string)}
}

// FileMapKey returns the key under which the artifact of path for target is
// recorded.
func FileMapKey(path string, target resolve.Target) string {
	if target == resolve.Client {
		return pathutil.ClientKey(path)
	}
	return path
}

// SourceOf returns the source path and target encoded in a key.
func SourceOf(key string) (string, resolve.Target) {
	if pathutil.IsClientKey(key) {
		return strings.TrimSuffix(key, pathutil.ClientSuffix), resolve.Client
	}
	return key, resolve.Server
}

// Set records name as the artifact of path for target and returns the
// identifier it superseded, if any.
func (m *FileMap) Set(path string, target resolve.Target, name string) (string, bool) {
	key := FileMapKey(path, target)
	value := pathutil.TargetKey(string(target), name)

	m.mu.Lock()
	defer m.mu.Unlock()
	previous, ok := m.entries[key]
	m.entries[key] = value
	if !ok || previous == value {
		return "", false
	}
	return previous, true
}

// Get returns the identifier recorded under key.
func (m *FileMap) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

// Lookup returns the identifier of path for target.
func (m *FileMap) Lookup(path string, target resolve.Target) (string, bool) {
	return m.Get(FileMapKey(path, target))
}

// Remove deletes key and returns the identifier it held.
func (m *FileMap) Remove(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	delete(m.entries, key)
	return v, ok
}

// References reports whether any key maps to value.
func (m *FileMap) References(value string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.entries {
		if v == value {
			return true
		}
	}
	return false
}

// Keys returns all keys sorted.
func (m *FileMap) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns a copy of the mapping.
func (m *FileMap) Entries() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of entries.
func (m *FileMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// WriteJSON writes the mapping as an indented JSON object with sorted keys.
func (m *FileMap) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(m.Entries())
}

// WriteYAML writes the mapping as a YAML document.
func (m *FileMap) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m.Entries()); err != nil {
		return err
	}
	return enc.Close()
}

// WriteManifest writes the mapping to path, choosing the format from the
// file extension.
func (m *FileMap) WriteManifest(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = m.WriteYAML(f)
	} else {
		err = m.WriteJSON(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadFileMap loads a manifest written by WriteManifest. A missing file
// yields an empty map.
func ReadFileMap(path string) (*FileMap, error) {
	data, err := os.ReadFile(path)
	if goerrors.Is(err, fs.ErrNotExist) {
		return NewFileMap(), nil
	}
	if err != nil {
		return nil, err
	}

	entries := make(map[string]string)
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = yaml.Unmarshal(data, &entries)
	} else {
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("parse file map %s: %w", path, err)
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	return &FileMap{entries: entries}, nil
}
