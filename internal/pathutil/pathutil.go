// Package pathutil holds the pure path and naming helpers shared by the
// resolver and the compilers.
package pathutil

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ClientSuffix distinguishes the client variant of a source path in a
// FileMap.
const ClientSuffix = ".client"

// DefaultProbeExtensions are tried, in order, when an import names a file
// without its extension.
var DefaultProbeExtensions = []string{".tsx", ".ts"}

// codeExtensions are bundled; everything else is copied as an asset.
var codeExtensions = map[string]bool{
	".tsx": true,
	".ts":  true,
	".jsx": true,
	".js":  true,
	".mts": true,
	".mjs": true,
}

// Absolute returns the cleaned absolute form of p, resolving relative paths
// against base.
func Absolute(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	if base == "" {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(base, p))
}

// IsCode reports whether p is a source file the bundler should compile.
func IsCode(p string) bool {
	return codeExtensions[strings.ToLower(filepath.Ext(p))]
}

// StripExt removes the final extension of p.
func StripExt(p string) string {
	return strings.TrimSuffix(p, path.Ext(p))
}

// HashedName returns the output filename for a hash. Code artifacts always
// become .js; assets keep their original extension.
func HashedName(hash, sourcePath string) string {
	if IsCode(sourcePath) {
		return hash + ".js"
	}
	return hash + filepath.Ext(sourcePath)
}

// HashFromName returns the hash part of a hashed filename.
func HashFromName(name string) string {
	return StripExt(path.Base(filepath.ToSlash(name)))
}

// TargetKey prefixes name with its target directory, e.g. "client/abc.js".
func TargetKey(target, name string) string {
	return target + "/" + name
}

// ClientKey returns the FileMap key for the client variant of path.
func ClientKey(p string) string {
	return p + ClientSuffix
}

// IsClientKey reports whether key names a client variant.
func IsClientKey(key string) bool {
	return strings.HasSuffix(key, ClientSuffix)
}

// IsRelativeSpecifier reports whether spec starts with ./ or ../.
func IsRelativeSpecifier(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || spec == "." || spec == ".."
}

// RelativeSpecifier returns the import specifier that reaches to from a file
// located in fromDir, always starting with ./ or ../.
func RelativeSpecifier(fromDir, to string) string {
	rel, err := filepath.Rel(fromDir, to)
	if err != nil {
		rel = to
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "../") {
		rel = "./" + rel
	}
	return rel
}

// ProbeExtensions returns the first existing file among p itself, p with
// each extension appended, and index files inside p when p is a directory.
func ProbeExtensions(p string, exts []string) (string, bool) {
	if len(exts) == 0 {
		exts = DefaultProbeExtensions
	}
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		return p, true
	}
	for _, ext := range exts {
		candidate := p + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		for _, ext := range exts {
			candidate := filepath.Join(p, "index"+ext)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	return "", false
}

// EnsureDir creates dir and its parents if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// WriteFile ensures the parent directory of p exists and writes data.
func WriteFile(p string, data []byte) error {
	if err := EnsureDir(filepath.Dir(p)); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}
