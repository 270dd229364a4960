// Package importmap models the package-specifier → location mapping read
// from a project manifest (deno.json / deno.jsonc / import_map.json).
//
// A target is either a local path (bundled), an external specifier using the
// npm:, jsr:, http: or https: protocol, or a directory-style alias whose key
// ends in "/". Alias keys always end in "/" and non-alias keys never do.
// A bare value such as "react": "preact/compat" is resolved through the map
// itself.
package importmap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conneroisu/forge/internal/hashing"
)

// Kind classifies an import map target.
type Kind int

const (
	KindLocal Kind = iota
	KindExternal
	KindAlias
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindExternal:
		return "external"
	case KindAlias:
		return "alias"
	default:
		return "unknown"
	}
}

// Protocol is the scheme of an external specifier.
type Protocol string

const (
	ProtocolNone  Protocol = ""
	ProtocolNPM   Protocol = "npm"
	ProtocolJSR   Protocol = "jsr"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// ParseProtocol returns the protocol spec starts with, if any.
func ParseProtocol(spec string) (Protocol, bool) {
	switch {
	case strings.HasPrefix(spec, "npm:"):
		return ProtocolNPM, true
	case strings.HasPrefix(spec, "jsr:"):
		return ProtocolJSR, true
	case strings.HasPrefix(spec, "https://"):
		return ProtocolHTTPS, true
	case strings.HasPrefix(spec, "http://"):
		return ProtocolHTTP, true
	default:
		return ProtocolNone, false
	}
}

// Target is the resolution target of one import map entry.
type Target struct {
	Kind Kind
	// Path is the absolute local path for KindLocal, or the absolute base
	// directory for a local KindAlias.
	Path string
	// Protocol and Spec are set for external targets, including aliases
	// whose base is an external prefix.
	Protocol Protocol
	Spec     string
	// Raw is the value as written in the manifest.
	Raw string
}

// IsExternal reports whether the target is resolved outside the bundle.
func (t Target) IsExternal() bool {
	return t.Protocol != ProtocolNone
}

// SkippedEntry is a manifest entry with a bare value that could not be
// resolved through the rest of the map.
type SkippedEntry struct {
	Specifier string
	Value     string
	Err       error
}

// ImportMap is an immutable, validated import map.
type ImportMap struct {
	baseDir string
	entries map[string]Target
	// aliases holds alias keys sorted longest first.
	aliases []string
	skipped []SkippedEntry
}

// New builds an import map from raw key → value pairs. Relative values are
// resolved against baseDir. Bare values are looked up in the map; those that
// resolve nowhere are left out and reported by Skipped.
func New(entries map[string]string, baseDir string) (*ImportMap, error) {
	m := &ImportMap{
		baseDir: baseDir,
		entries: make(map[string]Target, len(entries)),
	}

	var bare []string
	for key, value := range entries {
		if key == "" {
			return nil, fmt.Errorf("import map: empty specifier")
		}
		if isBareEntry(key, value) {
			bare = append(bare, key)
			continue
		}
		target, err := classify(key, value, baseDir)
		if err != nil {
			return nil, err
		}
		m.entries[key] = target
		if target.Kind == KindAlias {
			m.aliases = append(m.aliases, key)
		}
	}

	sort.Slice(m.aliases, func(i, j int) bool {
		if len(m.aliases[i]) != len(m.aliases[j]) {
			return len(m.aliases[i]) > len(m.aliases[j])
		}
		return m.aliases[i] < m.aliases[j]
	})

	sort.Strings(bare)
	resolved := make(map[string]Target, len(bare))
	for _, key := range bare {
		target, err := m.resolveBare(entries, key)
		if err != nil {
			m.skipped = append(m.skipped, SkippedEntry{Specifier: key, Value: entries[key], Err: err})
			continue
		}
		resolved[key] = target
	}
	for key, target := range resolved {
		m.entries[key] = target
	}

	return m, nil
}

// isBareEntry reports whether a non-alias key maps to a package specifier
// rather than a path or an external URL.
func isBareEntry(key, value string) bool {
	if value == "" || strings.HasSuffix(key, "/") || strings.HasSuffix(value, "/") {
		return false
	}
	if _, external := ParseProtocol(value); external {
		return false
	}
	return !isPathValue(value)
}

// resolveBare follows the bare value of key through entries until it reaches
// a classified entry, an alias or an external parent package.
func (m *ImportMap) resolveBare(entries map[string]string, key string) (Target, error) {
	raw := entries[key]
	value := raw
	seen := map[string]bool{key: true}

	for {
		if t, ok := m.entries[value]; ok && t.Kind != KindAlias {
			t.Raw = raw
			return t, nil
		}
		if next, ok := entries[value]; ok && isBareEntry(value, next) {
			if seen[value] {
				return Target{}, fmt.Errorf("import map: %q maps through a cycle at %q", key, value)
			}
			seen[value] = true
			value = next
			continue
		}
		if _, t, rest, ok := m.LookupAlias(value); ok {
			if t.IsExternal() {
				return Target{Kind: KindExternal, Protocol: t.Protocol, Spec: t.Spec + rest, Raw: raw}, nil
			}
			return Target{Kind: KindLocal, Path: filepath.Join(t.Path, filepath.FromSlash(rest)), Raw: raw}, nil
		}
		if _, t, sub, ok := m.LookupParent(value); ok && t.IsExternal() {
			return Target{Kind: KindExternal, Protocol: t.Protocol, Spec: t.Spec + "/" + sub, Raw: raw}, nil
		}
		return Target{}, fmt.Errorf("import map: %q maps to %q, which is not mapped", key, raw)
	}
}

// Empty returns a map without entries.
func Empty() *ImportMap {
	m, _ := New(nil, "")
	return m
}

func classify(key, value, baseDir string) (Target, error) {
	isAlias := strings.HasSuffix(key, "/")
	protocol, external := ParseProtocol(value)

	if isAlias {
		if !strings.HasSuffix(value, "/") {
			return Target{}, fmt.Errorf("import map: alias %q must map to a value ending in \"/\", got %q", key, value)
		}
		if external {
			return Target{Kind: KindAlias, Protocol: protocol, Spec: value, Raw: value}, nil
		}
		if !isPathValue(value) {
			return Target{}, fmt.Errorf("import map: alias %q has unsupported target %q", key, value)
		}
		return Target{Kind: KindAlias, Path: localPath(baseDir, value), Raw: value}, nil
	}

	if external {
		return Target{Kind: KindExternal, Protocol: protocol, Spec: value, Raw: value}, nil
	}
	if !isPathValue(value) {
		return Target{}, fmt.Errorf("import map: %q has unsupported target %q", key, value)
	}
	if strings.HasSuffix(value, "/") {
		return Target{}, fmt.Errorf("import map: non-alias %q must not map to a directory value %q", key, value)
	}
	return Target{Kind: KindLocal, Path: localPath(baseDir, value), Raw: value}, nil
}

func isPathValue(value string) bool {
	return strings.HasPrefix(value, "./") || strings.HasPrefix(value, "../") || filepath.IsAbs(value)
}

func localPath(baseDir, value string) string {
	p := filepath.FromSlash(value)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(baseDir, p))
}

// Skipped returns the bare-valued entries New left out, sorted by specifier.
func (m *ImportMap) Skipped() []SkippedEntry {
	return m.skipped
}

// BaseDir returns the directory relative targets were resolved against.
func (m *ImportMap) BaseDir() string {
	return m.baseDir
}

// Len returns the number of entries.
func (m *ImportMap) Len() int {
	return len(m.entries)
}

// Keys returns the specifiers in sorted order.
func (m *ImportMap) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the exact entry for spec.
func (m *ImportMap) Lookup(spec string) (Target, bool) {
	t, ok := m.entries[spec]
	return t, ok
}

// LookupAlias finds the longest alias key that prefixes spec and returns the
// remainder after the prefix.
func (m *ImportMap) LookupAlias(spec string) (key string, target Target, rest string, ok bool) {
	for _, prefix := range m.aliases {
		if strings.HasPrefix(spec, prefix) {
			return prefix, m.entries[prefix], strings.TrimPrefix(spec, prefix), true
		}
	}
	return "", Target{}, "", false
}

// LookupParent finds the longest mapped, non-alias parent package of a
// subpath specifier ("pkg/sub" falls back to "pkg").
func (m *ImportMap) LookupParent(spec string) (key string, target Target, sub string, ok bool) {
	for i := strings.LastIndex(spec, "/"); i > 0; i = strings.LastIndex(spec[:i], "/") {
		parent := spec[:i]
		if strings.HasPrefix(parent, "@") && !strings.Contains(parent, "/") {
			break
		}
		if t, found := m.entries[parent]; found && t.Kind != KindAlias {
			return parent, t, spec[i+1:], true
		}
	}
	return "", Target{}, "", false
}

// Fingerprint is a stable digest of every entry; it changes whenever the
// mapping changes.
func (m *ImportMap) Fingerprint() string {
	var b strings.Builder
	for _, k := range m.Keys() {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m.entries[k].Raw)
		b.WriteByte('\n')
	}
	return hashing.Default().HashString(b.String())
}

// Exists reports whether the local path of a target exists on disk.
func (t Target) Exists() bool {
	if t.Path == "" {
		return false
	}
	_, err := os.Stat(t.Path)
	return err == nil
}
