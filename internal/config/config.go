// Package config provides configuration management for forge using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration system supports a .forge.yml file, environment variable
// overrides with the FORGE_ prefix and validation. It covers the build
// pipeline (source and output directories, targets, caching, code
// splitting, hashing), import map discovery, the UI runtime used for
// JSX and CDN translation, watch mode and logging.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/forge/internal/build"
	"github.com/conneroisu/forge/internal/errors"
	"github.com/conneroisu/forge/internal/hashing"
	"github.com/conneroisu/forge/internal/importmap"
	"github.com/conneroisu/forge/internal/logging"
	"github.com/conneroisu/forge/internal/resolve"
	"github.com/conneroisu/forge/internal/transform"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// FORGE_BUILD_OUT_DIR.
const EnvPrefix = "FORGE"

type Config struct {
	Build     BuildConfig     `mapstructure:"build" yaml:"build"`
	ImportMap ImportMapConfig `mapstructure:"import_map" yaml:"import_map"`
	Runtime   RuntimeConfig   `mapstructure:"runtime" yaml:"runtime"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type BuildConfig struct {
	Root                 string            `mapstructure:"root" yaml:"root"`
	SrcDir               string            `mapstructure:"src_dir" yaml:"src_dir"`
	OutDir               string            `mapstructure:"out_dir" yaml:"out_dir"`
	Extensions           []string          `mapstructure:"extensions" yaml:"extensions"`
	AssetExtensions      []string          `mapstructure:"asset_extensions" yaml:"asset_extensions"`
	UseCache             bool              `mapstructure:"use_cache" yaml:"use_cache"`
	Parallel             bool              `mapstructure:"parallel" yaml:"parallel"`
	CodeSplitting        bool              `mapstructure:"code_splitting" yaml:"code_splitting"`
	Target               string            `mapstructure:"target" yaml:"target"`
	HashAlgorithm        string            `mapstructure:"hash_algorithm" yaml:"hash_algorithm"`
	HashLength           int               `mapstructure:"hash_length" yaml:"hash_length"`
	MaxRewriteIterations int               `mapstructure:"max_rewrite_iterations" yaml:"max_rewrite_iterations"`
	Timeout              time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Minify               bool              `mapstructure:"minify" yaml:"minify"`
	Sourcemap            bool              `mapstructure:"sourcemap" yaml:"sourcemap"`
	ESTarget             string            `mapstructure:"es_target" yaml:"es_target"`
	Define               map[string]string `mapstructure:"define" yaml:"define"`
	ServerOnlyExports    []string          `mapstructure:"server_only_exports" yaml:"server_only_exports"`
	ManifestFormat       string            `mapstructure:"manifest_format" yaml:"manifest_format"`
}

type ImportMapConfig struct {
	// Manifest is the import map file relative to the root. Empty means
	// the first of deno.json, deno.jsonc and import_map.json that exists.
	Manifest string `mapstructure:"manifest" yaml:"manifest"`
}

type RuntimeConfig struct {
	UIPackages      []string `mapstructure:"ui_packages" yaml:"ui_packages"`
	UIVersion       string   `mapstructure:"ui_version" yaml:"ui_version"`
	JSXImportSource string   `mapstructure:"jsx_import_source" yaml:"jsx_import_source"`
	CDNBase         string   `mapstructure:"cdn_base" yaml:"cdn_base"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers the default of every key on v so that environment
// overrides apply to keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("build.root", ".")
	v.SetDefault("build.src_dir", "src")
	v.SetDefault("build.out_dir", "dist")
	v.SetDefault("build.extensions", build.DefaultExtensions)
	v.SetDefault("build.asset_extensions", build.DefaultAssetExtensions)
	v.SetDefault("build.use_cache", true)
	v.SetDefault("build.parallel", true)
	v.SetDefault("build.code_splitting", false)
	v.SetDefault("build.target", build.TargetsBoth)
	v.SetDefault("build.hash_algorithm", string(hashing.SHA256))
	v.SetDefault("build.hash_length", hashing.DefaultLength)
	v.SetDefault("build.max_rewrite_iterations", build.DefaultMaxRewriteIterations)
	v.SetDefault("build.timeout", time.Duration(0))
	v.SetDefault("build.minify", false)
	v.SetDefault("build.sourcemap", false)
	v.SetDefault("build.es_target", "es2022")
	v.SetDefault("build.server_only_exports", transform.DefaultServerOnlyExports)
	v.SetDefault("build.manifest_format", "json")

	v.SetDefault("import_map.manifest", "")

	v.SetDefault("runtime.ui_packages", resolve.DefaultUIPackages)
	v.SetDefault("runtime.ui_version", resolve.DefaultUIVersion)
	v.SetDefault("runtime.jsx_import_source", "")
	v.SetDefault("runtime.cdn_base", resolve.DefaultCDNBase)

	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("watch.ignore", []string{"node_modules", ".git"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v, applies defaults and validates
// the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "cannot decode configuration: "+err.Error())
	}

	// Handle slices set via viper from env vars or flags (workaround for viper
	// returning a single comma separated string)
	for key, dst := range map[string]*[]string{
		"build.extensions":          &config.Build.Extensions,
		"build.asset_extensions":    &config.Build.AssetExtensions,
		"build.server_only_exports": &config.Build.ServerOnlyExports,
		"runtime.ui_packages":       &config.Runtime.UIPackages,
		"watch.ignore":              &config.Watch.Ignore,
	} {
		*dst = splitList(v.GetStringSlice(key))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports the first configuration error, if any.
func (c *Config) Validate() error {
	result := ValidateConfigWithDetails(c)
	if !result.HasErrors() {
		return nil
	}
	first := result.Errors[0]
	return errors.NewConfigError(errors.ErrCodeInvalidConfig, fmt.Sprintf("%s: %s", first.Field, first.Message)).
		WithContext("errors", len(result.Errors))
}

// RootDir returns the absolute project root.
func (c *Config) RootDir() (string, error) {
	root := c.Build.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.NewIOError(errors.ErrCodeInvalidBuildInput, "invalid project root "+root, err)
	}
	return abs, nil
}

// SessionOptions translates the configuration into build session options.
func (c *Config) SessionOptions() (build.Options, error) {
	root, err := c.RootDir()
	if err != nil {
		return build.Options{}, err
	}
	targets, err := build.ParseTargets(c.Build.Target)
	if err != nil {
		return build.Options{}, errors.NewConfigError(errors.ErrCodeInvalidConfig, err.Error())
	}

	opts := build.DefaultOptions(root)
	opts.SrcDir = c.Build.SrcDir
	opts.OutDir = c.Build.OutDir
	opts.Extensions = append(append([]string(nil), c.Build.Extensions...), c.Build.AssetExtensions...)
	opts.UseCache = c.Build.UseCache
	opts.Parallel = c.Build.Parallel
	opts.CodeSplitting = c.Build.CodeSplitting
	opts.Targets = targets
	opts.HashAlgorithm = hashing.Algorithm(strings.ToLower(c.Build.HashAlgorithm))
	opts.HashLength = c.Build.HashLength
	opts.MaxRewriteIterations = c.Build.MaxRewriteIterations
	opts.Timeout = c.Build.Timeout
	opts.ManifestFormat = c.Build.ManifestFormat

	opts.Bundler.Minify = c.Build.Minify
	opts.Bundler.SourceMaps = c.Build.Sourcemap
	opts.Bundler.Target = c.Build.ESTarget
	opts.Bundler.Define = c.Build.Define
	opts.Bundler.ServerOnlyExports = c.Build.ServerOnlyExports

	opts.CDNBase = c.Runtime.CDNBase
	opts.UIPackages = c.Runtime.UIPackages
	opts.UIVersion = c.Runtime.UIVersion
	opts.Bundler.JSXImportSource = c.Runtime.JSXImportSource
	if opts.Bundler.JSXImportSource == "" && len(opts.UIPackages) > 0 {
		opts.Bundler.JSXImportSource = opts.UIPackages[0]
	}
	return opts, nil
}

// LoadImportMap loads the configured import map manifest from the project
// root. It returns the manifest path used, empty when the project has none.
func (c *Config) LoadImportMap() (*importmap.ImportMap, string, error) {
	root, err := c.RootDir()
	if err != nil {
		return nil, "", err
	}
	m, path, err := importmap.LoadFromRoot(root, c.ImportMap.Manifest)
	if err != nil {
		return nil, path, errors.NewConfigError(errors.ErrCodeInvalidConfig, err.Error())
	}
	return m, path, nil
}

// LoggerConfig returns the logging configuration.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	if c.Log.Format != "" {
		cfg.Format = c.Log.Format
	}
	return cfg
}
