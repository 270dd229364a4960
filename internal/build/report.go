package build

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/conneroisu/forge/internal/resolve"
)

// ArtifactReport describes one file in an output directory.
type ArtifactReport struct {
	// ID is the FileMap-style identifier, e.g. "client/3f2a9c0d1b4e5f6.js".
	ID     string
	Target resolve.Target
	// Source is the source path that maps to the file, empty for chunks
	// and orphans.
	Source   string
	Size     int64
	GzipSize int64
	ZstdSize int64
}

// countingWriter discards bytes and counts them.
type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

var gzipWriters = newGzipPool(gzip.DefaultCompression)

// gzipSize returns the size of data after gzip compression at the default
// level.
func gzipSize(data []byte) (int64, error) {
	var cw countingWriter
	zw := gzipWriters.Get(&cw)
	defer gzipWriters.Put(zw)
	if _, err := zw.Write(data); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	return cw.n, nil
}

// zstdEncoder is shared; EncodeAll is safe for concurrent use.
var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func zstdSize(data []byte) int64 {
	return int64(len(zstdEncoder.EncodeAll(data, nil)))
}

// Report lists every artifact under outDir for targets with raw and
// compressed sizes, ordered by identifier.
func Report(outDir string, fileMap *FileMap, targets []resolve.Target) ([]ArtifactReport, error) {
	sources := make(map[string]string)
	if fileMap != nil {
		for key, id := range fileMap.Entries() {
			source, _ := SourceOf(key)
			sources[id] = source
		}
	}

	var reports []ArtifactReport
	for _, target := range targets {
		dir := filepath.Join(outDir, string(target))
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			gz, err := gzipSize(data)
			if err != nil {
				return nil, err
			}
			id := string(target) + "/" + entry.Name()
			reports = append(reports, ArtifactReport{
				ID:       id,
				Target:   target,
				Source:   sources[id],
				Size:     int64(len(data)),
				GzipSize: gz,
				ZstdSize: zstdSize(data),
			})
		}
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })
	return reports, nil
}
