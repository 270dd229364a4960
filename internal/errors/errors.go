package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileFailure records one source file that failed during a batch.
type FileFailure struct {
	Path      string
	Kind      ErrorType
	Err       error
	Timestamp time.Time
}

// ErrorCollector collects per-file failures so that one bad file does not
// abort an otherwise successful batch.
type ErrorCollector struct {
	failures []FileFailure
	mutex    sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		failures: make([]FileFailure, 0),
	}
}

// Add records a failure for path. Nil errors are ignored.
func (ec *ErrorCollector) Add(path string, err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures = append(ec.failures, FileFailure{
		Path:      path,
		Kind:      KindOf(err),
		Err:       err,
		Timestamp: time.Now(),
	})
}

// Failures returns a copy of the collected failures ordered by path.
func (ec *ErrorCollector) Failures() []FileFailure {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]FileFailure, len(ec.failures))
	copy(result, ec.failures)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Path < result[j].Path
	})
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.failures) > 0
}

// Len returns the number of collected failures.
func (ec *ErrorCollector) Len() int {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.failures)
}

// HasFatal reports whether any collected failure is not recoverable.
func (ec *ErrorCollector) HasFatal() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	for _, f := range ec.failures {
		if !IsRecoverable(f.Err) {
			return true
		}
	}
	return false
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures = ec.failures[:0]
}

// Summary renders one line per failed file naming the error kind.
func (ec *ErrorCollector) Summary() string {
	failures := ec.Failures()
	if len(failures) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s) failed:\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(&b, "  %s [%s] %v\n", f.Path, f.Kind, f.Err)
	}
	return b.String()
}

// Err joins every collected failure into one error, or returns nil.
func (ec *ErrorCollector) Err() error {
	failures := ec.Failures()
	if len(failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}
