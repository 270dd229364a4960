package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conneroisu/forge/internal/build"
	"github.com/conneroisu/forge/internal/hashing"
	"github.com/conneroisu/forge/internal/logging"
	"github.com/conneroisu/forge/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
	}
	write("Validation errors", vr.Errors)
	write("Validation warnings", vr.Warnings)

	return builder.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateBuildConfigDetails(&config.Build, result)
	validateRuntimeConfigDetails(&config.Runtime, result)
	validateWatchConfigDetails(&config.Watch, result)
	validateLogConfigDetails(&config.Log, result)

	result.Valid = !result.HasErrors()
	return result
}

func validateBuildConfigDetails(config *BuildConfig, result *ValidationResult) {
	if err := validation.ValidatePath(config.SrcDir); err != nil {
		result.fail("build.src_dir", config.SrcDir, err.Error())
	}
	if err := validation.ValidatePath(config.OutDir); err != nil {
		result.fail("build.out_dir", config.OutDir, err.Error())
	}
	if config.SrcDir != "" && filepath.Clean(config.SrcDir) == filepath.Clean(config.OutDir) {
		result.fail("build.out_dir", config.OutDir, "output directory must differ from the source directory")
	}

	if len(config.Extensions) == 0 && len(config.AssetExtensions) == 0 {
		result.fail("build.extensions", config.Extensions, "no file extensions configured",
			"Use the defaults: "+strings.Join(build.DefaultExtensions, ", "))
	}
	for _, ext := range append(append([]string(nil), config.Extensions...), config.AssetExtensions...) {
		if err := validation.ValidateExtension(ext); err != nil {
			result.fail("build.extensions", ext, err.Error())
		}
	}

	if _, err := build.ParseTargets(config.Target); err != nil {
		result.fail("build.target", config.Target, err.Error(), "Use server, client or both")
	}

	switch strings.ToLower(config.HashAlgorithm) {
	case string(hashing.SHA256), string(hashing.BLAKE3):
	default:
		result.fail("build.hash_algorithm", config.HashAlgorithm,
			fmt.Sprintf("unknown hash algorithm %q", config.HashAlgorithm), "Use sha256 or blake3")
	}

	if config.HashLength < hashing.MinLength || config.HashLength > hashing.MaxLength {
		result.fail("build.hash_length", config.HashLength,
			fmt.Sprintf("hash length %d outside [%d, %d]", config.HashLength, hashing.MinLength, hashing.MaxLength))
	} else if config.HashLength < 12 {
		result.warn("build.hash_length", config.HashLength, "short hashes raise the chance of name collisions")
	}

	if config.MaxRewriteIterations <= 0 {
		result.fail("build.max_rewrite_iterations", config.MaxRewriteIterations,
			"iteration cap must be positive",
			fmt.Sprintf("The default is %d", build.DefaultMaxRewriteIterations))
	}

	if config.Timeout < 0 {
		result.fail("build.timeout", config.Timeout, "timeout cannot be negative")
	}

	switch strings.ToLower(config.ManifestFormat) {
	case "json", "yaml":
	default:
		result.fail("build.manifest_format", config.ManifestFormat,
			fmt.Sprintf("unsupported manifest format %q", config.ManifestFormat), "Use json or yaml")
	}

	if !config.CodeSplitting && config.MaxRewriteIterations != build.DefaultMaxRewriteIterations && config.MaxRewriteIterations > 0 {
		result.warn("build.max_rewrite_iterations", config.MaxRewriteIterations,
			"only used when code_splitting is enabled")
	}
}

func validateRuntimeConfigDetails(config *RuntimeConfig, result *ValidationResult) {
	if len(config.UIPackages) == 0 {
		result.fail("runtime.ui_packages", config.UIPackages, "at least one UI package is required")
	}
	if config.UIVersion == "" {
		result.fail("runtime.ui_version", config.UIVersion, "UI runtime version is required")
	}
	if err := validation.ValidateURL(config.CDNBase); err != nil {
		result.fail("runtime.cdn_base", config.CDNBase, "CDN base must be an http(s) URL: "+err.Error(),
			"The default is https://esm.sh")
	} else if !validation.IsSecureURL(config.CDNBase) {
		result.warn("runtime.cdn_base", config.CDNBase, "CDN base is not served over https")
	}
}

func validateWatchConfigDetails(config *WatchConfig, result *ValidationResult) {
	if config.Debounce < 0 {
		result.fail("watch.debounce", config.Debounce, "debounce cannot be negative")
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.fail("log.level", config.Level, err.Error(), "Use debug, info, warn or error")
	}
	switch config.Format {
	case "", "text", "json":
	default:
		result.fail("log.format", config.Format, fmt.Sprintf("unsupported log format %q", config.Format))
	}
}
