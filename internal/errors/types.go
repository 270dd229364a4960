package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of build errors.
type ErrorType string

const (
	ErrorTypeResolution ErrorType = "resolution"
	ErrorTypeBundling   ErrorType = "bundling"
	ErrorTypeCacheIO    ErrorType = "cache_io"
	ErrorTypeDivergence ErrorType = "fixed_point_divergence"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes used across the build pipeline.
const (
	ErrCodeUnresolvedImport  = "ERR_UNRESOLVED_IMPORT"
	ErrCodeMissingFile       = "ERR_MISSING_FILE"
	ErrCodeBundleFailed      = "ERR_BUNDLE_FAILED"
	ErrCodeCacheProbe        = "ERR_CACHE_PROBE"
	ErrCodeRewriteDiverged   = "ERR_REWRITE_DIVERGED"
	ErrCodeReadSource        = "ERR_READ_SOURCE"
	ErrCodeWriteArtifact     = "ERR_WRITE_ARTIFACT"
	ErrCodeInvalidImportMap  = "ERR_INVALID_IMPORT_MAP"
	ErrCodeInvalidConfig     = "ERR_INVALID_CONFIG"
	ErrCodeCompileFailed     = "ERR_COMPILE_FAILED"
	ErrCodeUnknownHashAlgo   = "ERR_UNKNOWN_HASH_ALGORITHM"
	ErrCodeBuildTimeout      = "ERR_BUILD_TIMEOUT"
	ErrCodeInvalidBuildInput = "ERR_INVALID_BUILD_INPUT"
)

// BuildError is a structured error carrying the classification and the
// source location that produced it.
type BuildError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	FilePath    string
	Specifier   string
	Importer    string
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath+":")
	}

	parts = append(parts, e.Message)

	if e.Specifier != "" {
		detail := fmt.Sprintf("%q", e.Specifier)
		if e.Importer != "" {
			detail += " imported from " + e.Importer
		}
		parts = append(parts, detail)
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so sentinel comparisons work with errors.Is.
func (e *BuildError) Is(target error) bool {
	var t *BuildError
	if errors.As(target, &t) {
		return e.Type == t.Type && (t.Code == "" || e.Code == t.Code)
	}

	return false
}

// WithContext adds context information to the error.
func (e *BuildError) WithContext(key string, value interface{}) *BuildError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithFile attaches the offending source path.
func (e *BuildError) WithFile(path string) *BuildError {
	e.FilePath = path

	return e
}

// NewResolutionError reports an import specifier that could not be
// classified or whose target does not exist.
func NewResolutionError(specifier, importer string, cause error) *BuildError {
	return &BuildError{
		Type:        ErrorTypeResolution,
		Code:        ErrCodeUnresolvedImport,
		Message:     "cannot resolve import",
		Cause:       cause,
		Specifier:   specifier,
		Importer:    importer,
		Recoverable: true,
	}
}

// NewMissingFileError reports a specifier whose target file does not exist
// after extension probing.
func NewMissingFileError(specifier, importer, probed string) *BuildError {
	return &BuildError{
		Type:        ErrorTypeResolution,
		Code:        ErrCodeMissingFile,
		Message:     "no file found at " + probed,
		Specifier:   specifier,
		Importer:    importer,
		Recoverable: true,
	}
}

// NewBundlingError reports bundler diagnostics for an entry.
func NewBundlingError(entry string, messages []string) *BuildError {
	return &BuildError{
		Type:        ErrorTypeBundling,
		Code:        ErrCodeBundleFailed,
		Message:     strings.Join(messages, "; "),
		FilePath:    entry,
		Recoverable: true,
	}
}

// NewCacheIOError reports a cache probe failure other than "not found".
// Callers treat it as a miss.
func NewCacheIOError(path string, cause error) *BuildError {
	return &BuildError{
		Type:        ErrorTypeCacheIO,
		Code:        ErrCodeCacheProbe,
		Message:     "cache probe failed",
		Cause:       cause,
		FilePath:    path,
		Recoverable: true,
	}
}

// NewDivergenceError reports that reference rewriting did not reach a fixed
// point within the iteration bound.
func NewDivergenceError(iterations int, pending []string) *BuildError {
	return &BuildError{
		Type: ErrorTypeDivergence,
		Code: ErrCodeRewriteDiverged,
		Message: fmt.Sprintf("chunk references did not converge after %d iterations (still changing: %s)",
			iterations, strings.Join(pending, ", ")),
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *BuildError {
	return &BuildError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// WrapCompile tags err with the source path that failed to compile. Errors
// that already carry a classification keep it; anything else becomes an
// internal compile failure.
func WrapCompile(path string, err error) error {
	if err == nil {
		return nil
	}

	var be *BuildError
	if errors.As(err, &be) {
		if be.FilePath == "" {
			be.FilePath = path
		}
		return be
	}

	return &BuildError{
		Type:        ErrorTypeInternal,
		Code:        ErrCodeCompileFailed,
		Message:     "compilation failed",
		Cause:       err,
		FilePath:    path,
		Recoverable: true,
	}
}

// KindOf returns the classification of err, or ErrorTypeInternal when err
// carries none.
func KindOf(err error) ErrorType {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Type
	}

	return ErrorTypeInternal
}

// IsResolutionError checks if an error is an import resolution failure.
func IsResolutionError(err error) bool {
	return hasType(err, ErrorTypeResolution)
}

// IsBundlingError checks if an error came from the bundler.
func IsBundlingError(err error) bool {
	return hasType(err, ErrorTypeBundling)
}

// IsCacheIOError checks if an error is a cache probe failure.
func IsCacheIOError(err error) bool {
	return hasType(err, ErrorTypeCacheIO)
}

// IsDivergenceError checks if an error is a fixed-point divergence.
func IsDivergenceError(err error) bool {
	return hasType(err, ErrorTypeDivergence)
}

// IsRecoverable checks if a batch may continue after err.
func IsRecoverable(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Recoverable
	}

	return false
}

func hasType(err error, t ErrorType) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Type == t
	}

	return false
}
