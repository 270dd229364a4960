package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/forge/internal/importmap"
)

func TestParsePackageRef(t *testing.T) {
	testCases := []struct {
		spec     string
		expected PackageRef
	}{
		{"npm:left-pad@1.3.0", PackageRef{Protocol: importmap.ProtocolNPM, Name: "left-pad", Version: "1.3.0"}},
		{"npm:preact@10.24.3/hooks", PackageRef{Protocol: importmap.ProtocolNPM, Name: "preact", Version: "10.24.3", Subpath: "hooks"}},
		{"npm:@preact/signals@1.3.0", PackageRef{Protocol: importmap.ProtocolNPM, Name: "@preact/signals", Version: "1.3.0"}},
		{"npm:/lodash", PackageRef{Protocol: importmap.ProtocolNPM, Name: "lodash"}},
		{"jsr:@std/path@^1.0.0", PackageRef{Protocol: importmap.ProtocolJSR, Name: "@std/path", Version: "^1.0.0"}},
		{"jsr:@std/path@~1.0.0/posix/join", PackageRef{Protocol: importmap.ProtocolJSR, Name: "@std/path", Version: "~1.0.0", Subpath: "posix/join"}},
	}

	for _, tc := range testCases {
		t.Run(tc.spec, func(t *testing.T) {
			ref, err := ParsePackageRef(tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ref)
		})
	}
}

func TestParsePackageRefErrors(t *testing.T) {
	for _, spec := range []string{"preact", "https://esm.sh/x", "jsr:path@1", "npm:@scope", "npm:@scope/"} {
		t.Run(spec, func(t *testing.T) {
			_, err := ParsePackageRef(spec)
			assert.Error(t, err)
		})
	}
}

func TestCDNURL(t *testing.T) {
	testCases := []struct {
		spec     string
		expected string
	}{
		{"npm:left-pad@1.3.0", "https://esm.sh/left-pad@1.3.0"},
		{"npm:preact@10.24.3/hooks", "https://esm.sh/preact@10.24.3/hooks"},
		{"npm:@preact/signals@^1.3.0", "https://esm.sh/@preact/signals@^1.3.0"},
		{"jsr:@std/path@^1.0.0", "https://esm.sh/jsr/@std/path@^1.0.0"},
		{"jsr:@std/path@^1.0.0/join", "https://esm.sh/jsr/@std/path@1.0.0/join"},
		{"jsr:@std/path@~1.0.0/join", "https://esm.sh/jsr/@std/path@1.0.0/join"},
	}

	for _, tc := range testCases {
		t.Run(tc.spec, func(t *testing.T) {
			ref, err := ParsePackageRef(tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ref.CDNURL(""))
		})
	}

	ref, err := ParsePackageRef("npm:left-pad@1.3.0")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/left-pad@1.3.0", ref.CDNURL("https://cdn.example.com/"))
	assert.Equal(t, "npm:left-pad@1.3.0", ref.String())
}
