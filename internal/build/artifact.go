package build

import (
	"fmt"
	"strings"

	"github.com/conneroisu/forge/internal/resolve"
)

// Role classifies an emitted file.
type Role int

const (
	// RoleEntry is an output corresponding 1:1 to a requested module.
	RoleEntry Role = iota
	// RoleChunk holds code shared by several entries.
	RoleChunk
	// RoleAsset is a non-code file copied verbatim.
	RoleAsset
)

func (r Role) String() string {
	switch r {
	case RoleEntry:
		return "entry"
	case RoleChunk:
		return "chunk"
	case RoleAsset:
		return "asset"
	default:
		return "unknown"
	}
}

// TargetsBoth selects the server and the client target.
const TargetsBoth = "both"

// ParseTargets expands a target selector ("server", "client" or "both").
func ParseTargets(s string) ([]resolve.Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", TargetsBoth:
		return []resolve.Target{resolve.Server, resolve.Client}, nil
	case string(resolve.Server):
		return []resolve.Target{resolve.Server}, nil
	case string(resolve.Client):
		return []resolve.Target{resolve.Client}, nil
	default:
		return nil, fmt.Errorf("unknown target %q (expected server, client or both)", s)
	}
}

// Artifact is one file written for one target.
type Artifact struct {
	Target resolve.Target
	Role   Role
	// HashName is the output filename, e.g. "3f2a9c0d1b4e5f6.js".
	HashName string
	// OutputPath is the absolute path of the written file.
	OutputPath string
	// Hash is the content hash of the written bytes. Empty for chunks.
	Hash string
	Size int64
	// Inputs maps dependency files bundled into the artifact to their
	// content hash at compile time.
	Inputs map[string]string
	Cached bool
}

// Key returns the FileMap value for the artifact.
func (a Artifact) Key() string {
	return string(a.Target) + "/" + a.HashName
}

// FileResult is the outcome of compiling one source file.
type FileResult struct {
	// Path is the source path relative to the project root, slash separated.
	Path string
	// SourceHash is the content hash of the source file.
	SourceHash string
	Role       Role
	Artifacts  []Artifact
	// Cached is true when every requested target was served from cache.
	Cached bool
}

// Artifact returns the artifact produced for target.
func (r FileResult) Artifact(target resolve.Target) (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Target == target {
			return a, true
		}
	}
	return Artifact{}, false
}

// HashName returns the output filename of the first artifact.
func (r FileResult) HashName() string {
	if len(r.Artifacts) == 0 {
		return ""
	}
	return r.Artifacts[0].HashName
}

// OutputPath returns the output path of the first artifact.
func (r FileResult) OutputPath() string {
	if len(r.Artifacts) == 0 {
		return ""
	}
	return r.Artifacts[0].OutputPath
}
