package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/forge/internal/resolve"
	"github.com/conneroisu/forge/internal/transform"
)

// BundlerOptions configures the bundler for both targets.
type BundlerOptions struct {
	Minify     bool              `json:"minify"`
	SourceMaps bool              `json:"source_maps"`
	Target     string            `json:"target"` // "es2020", "es2022", "esnext"
	Define     map[string]string `json:"define,omitempty"`
	// JSXImportSource is the package providing the automatic JSX runtime.
	JSXImportSource string `json:"jsx_import_source"`
	// ServerOnlyExports are the export names stripped from client builds.
	ServerOnlyExports []string `json:"server_only_exports"`
}

// DefaultBundlerOptions returns the options used when none are configured.
func DefaultBundlerOptions() BundlerOptions {
	return BundlerOptions{
		Target:            "es2022",
		JSXImportSource:   resolve.DefaultUIPackages[0],
		ServerOnlyExports: append([]string(nil), transform.DefaultServerOnlyExports...),
	}
}

// Fingerprint returns a stable description of the options that affect
// bundler output.
func (o BundlerOptions) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "minify=%t;sourcemap=%t;target=%s;jsx=%s;", o.Minify, o.SourceMaps, o.Target, o.JSXImportSource)
	fmt.Fprintf(&b, "server-only=%s;", strings.Join(o.ServerOnlyExports, ","))
	for _, k := range sortedKeys(o.Define) {
		fmt.Fprintf(&b, "define:%s=%s;", k, o.Define[k])
	}
	return b.String()
}

// buildOptions returns the esbuild options shared by single-file and
// split builds for target.
func (o BundlerOptions) buildOptions(workDir string, target resolve.Target) api.BuildOptions {
	opts := api.BuildOptions{
		Bundle:            true,
		Write:             false,
		Format:            api.FormatESModule,
		Platform:          platformFor(target),
		Target:            esTarget(o.Target),
		AbsWorkingDir:     workDir,
		Metafile:          true,
		LogLevel:          api.LogLevelSilent,
		JSX:               api.JSXAutomatic,
		JSXImportSource:   o.JSXImportSource,
		MinifyWhitespace:  o.Minify,
		MinifyIdentifiers: o.Minify,
		MinifySyntax:      o.Minify,
		Define:            o.Define,
		Charset:           api.CharsetUTF8,
	}
	if o.SourceMaps {
		// Inline maps keep the artifact a single file whose hash covers them.
		opts.Sourcemap = api.SourceMapInline
	}
	return opts
}

func platformFor(target resolve.Target) api.Platform {
	if target == resolve.Client {
		return api.PlatformBrowser
	}
	return api.PlatformNeutral
}

func esTarget(s string) api.Target {
	switch strings.ToLower(s) {
	case "es2015":
		return api.ES2015
	case "es2016":
		return api.ES2016
	case "es2017":
		return api.ES2017
	case "es2018":
		return api.ES2018
	case "es2019":
		return api.ES2019
	case "es2020":
		return api.ES2020
	case "es2021":
		return api.ES2021
	case "es2022", "":
		return api.ES2022
	default:
		return api.ESNext
	}
}

// loaderFor picks the esbuild loader for source files served by a plugin.
func loaderFor(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx":
		return api.LoaderTSX
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

// stripPlugin serves entry modules with their server-only exports removed.
// Every other module loads normally.
func stripPlugin(entries map[string]bool, stripper *transform.Stripper) api.Plugin {
	return api.Plugin{
		Name: "forge-strip-server-only",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: `\.[cm]?[jt]sx?$`, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					if !entries[args.Path] {
						return api.OnLoadResult{}, nil
					}
					src, err := os.ReadFile(args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					stripped, _ := stripper.Strip(src)
					contents := string(stripped)
					return api.OnLoadResult{
						Contents:   &contents,
						Loader:     loaderFor(args.Path),
						ResolveDir: filepath.Dir(args.Path),
					}, nil
				})
		},
	}
}

// plugins returns the plugin chain for a build of entries for target.
func plugins(
	ctx context.Context,
	engine *resolve.Engine,
	stripper *transform.Stripper,
	trace *resolve.Trace,
	entries []string,
	target resolve.Target,
) []api.Plugin {
	var chain []api.Plugin
	if target == resolve.Client && stripper != nil {
		set := make(map[string]bool, len(entries))
		for _, e := range entries {
			set[e] = true
		}
		chain = append(chain, stripPlugin(set, stripper))
	}
	return append(chain, engine.Plugin(ctx, target, trace))
}

// bundleMessages renders esbuild diagnostics as "file:line:col: text".
func bundleMessages(msgs []api.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location != nil {
			out = append(out, fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text))
			continue
		}
		out = append(out, msg.Text)
	}
	return out
}

// copyFile copies src to dst, creating dst's directory first.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer source.Close()

	dest, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return dest.Close()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
