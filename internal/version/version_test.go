package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionUsesLinkerValue(t *testing.T) {
	original := Version
	defer func() { Version = original }()

	Version = "v1.2.3"
	assert.Equal(t, "v1.2.3", GetVersion())
	assert.True(t, IsRelease())
}

func TestGetShortVersion(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	defer func() { Version, GitCommit = origVersion, origCommit }()

	Version = "v0.4.0"
	GitCommit = "abcdef0123456789"
	assert.Equal(t, "v0.4.0 (abcdef0)", GetShortVersion())
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("unknown").IsZero())
	assert.True(t, parseTime("not a time").IsZero())
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), parseTime("2025-03-01T12:00:00Z"))
}

func TestGetDetailedVersion(t *testing.T) {
	detailed := GetDetailedVersion()
	assert.Contains(t, detailed, "Version: ")
	assert.Contains(t, detailed, "Go: ")
	assert.Contains(t, detailed, "Bundler: esbuild ")
}
