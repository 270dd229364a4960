// Package validation checks user-supplied paths, file extensions and URLs
// before they reach the build.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ValidatePath rejects empty paths and paths carrying shell metacharacters.
// Relative paths that climb out of the project root are allowed; the build
// resolves them against the root.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains a null byte")
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\""}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}
	return nil
}

// ValidateExtension checks that ext looks like ".tsx": a leading dot and no
// separators or spaces.
func ValidateExtension(ext string) error {
	if len(ext) < 2 || !strings.HasPrefix(ext, ".") {
		return fmt.Errorf("extension %q must start with a dot", ext)
	}
	if strings.ContainsAny(ext, "/\\ ") {
		return fmt.Errorf("extension %q contains a separator or space", ext)
	}
	// Files are matched on filepath.Ext, which never yields ".d.ts"
	if filepath.Ext(ext) != ext {
		return fmt.Errorf("extension %q must contain a single dot", ext)
	}
	return nil
}

// ValidateURL validates a CDN base URL. Only http and https are accepted,
// and the URL must name a host and carry no query or fragment since module
// paths are appended to it.
func ValidateURL(rawURL string) error {
	if strings.ContainsAny(rawURL, " \n\r") {
		return fmt.Errorf("URL contains whitespace")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %q (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("URL must not carry a query or fragment")
	}
	return nil
}

// IsSecureURL reports whether rawURL uses https.
func IsSecureURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	return err == nil && parsed.Scheme == "https"
}
