//go:build property

package watcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties validates batching invariants of the debouncer
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Property: a flush emits exactly one event per distinct path, sorted
	properties.Property("flush deduplicates by path", prop.ForAll(
		func(indices []int) bool {
			d := NewDebouncer(time.Hour)
			distinct := map[string]bool{}
			for _, i := range indices {
				path := fmt.Sprintf("src/file%d.ts", i)
				distinct[path] = true
				d.pending = append(d.pending, ChangeEvent{Path: path, Type: EventTypeModified})
			}

			d.flush()
			if len(indices) == 0 {
				return len(d.output) == 0
			}

			batch := <-d.output
			if len(batch) != len(distinct) {
				return false
			}
			for i := 1; i < len(batch); i++ {
				if batch[i-1].Path >= batch[i].Path {
					return false
				}
			}
			return len(d.pending) == 0
		},
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	// Property: the last event recorded for a path is the one delivered
	properties.Property("last event wins", prop.ForAll(
		func(types []int) bool {
			if len(types) == 0 {
				return true
			}
			d := NewDebouncer(time.Hour)
			for _, ty := range types {
				d.pending = append(d.pending, ChangeEvent{Path: "src/a.ts", Type: EventType(ty)})
			}
			d.flush()
			batch := <-d.output
			return len(batch) == 1 && batch[0].Type == EventType(types[len(types)-1])
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
