package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		expectErr bool
	}{
		{name: "relative dir", path: "src", expectErr: false},
		{name: "nested dir", path: "public/build", expectErr: false},
		{name: "parent dir", path: "../shared", expectErr: false},
		{name: "absolute dir", path: "/tmp/project/dist", expectErr: false},
		{name: "empty", path: "", expectErr: true},
		{name: "command separator", path: "src; rm -rf /", expectErr: true},
		{name: "pipe", path: "src|cat", expectErr: true},
		{name: "variable", path: "$HOME/src", expectErr: true},
		{name: "backtick", path: "`whoami`", expectErr: true},
		{name: "null byte", path: "src\x00", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateExtension(t *testing.T) {
	for _, ext := range []string{".ts", ".tsx", ".JSX", ".svg"} {
		assert.NoError(t, ValidateExtension(ext), ext)
	}
	for _, ext := range []string{"", ".", "ts", ".d.ts", "./ts", ". ts", `.t\s`} {
		assert.Error(t, ValidateExtension(ext), ext)
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		expectErr bool
	}{
		{name: "default CDN", url: "https://esm.sh", expectErr: false},
		{name: "CDN with path", url: "https://cdn.example.com/npm", expectErr: false},
		{name: "local mirror", url: "http://localhost:8080", expectErr: false},
		{name: "missing scheme", url: "esm.sh", expectErr: true},
		{name: "file scheme", url: "file:///tmp/mirror", expectErr: true},
		{name: "javascript scheme", url: "javascript:alert(1)", expectErr: true},
		{name: "no host", url: "https://", expectErr: true},
		{name: "query", url: "https://esm.sh?bundle", expectErr: true},
		{name: "fragment", url: "https://esm.sh#x", expectErr: true},
		{name: "space", url: "https://esm .sh", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsSecureURL(t *testing.T) {
	assert.True(t, IsSecureURL("https://esm.sh"))
	assert.False(t, IsSecureURL("http://localhost:8080"))
	assert.False(t, IsSecureURL("::"))
}
