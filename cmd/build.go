package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/forge/internal/build"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile the source tree into hashed server and client artifacts",
	Long: `Compile every source file under the source directory for the selected
targets. Artifacts are written as <out>/<target>/<hash>.js and recorded in
the FileMap manifest. Unchanged files are served from the build cache.

Examples:
  forge build                          # Build both targets
  forge build --target client          # Client build only
  forge build --split                  # Extract shared chunks
  forge build --no-cache --sequential  # Clean, one-file-at-a-time build
  forge build --report                 # Print artifact sizes`,
	RunE: runBuild,
}

var buildReport bool

// buildFlagKeys maps build flags onto configuration keys. Only flags the
// user set are applied, so the config file and environment still win over
// flag defaults.
var buildFlagKeys = map[string]string{
	"target":          "build.target",
	"split":           "build.code_splitting",
	"out":             "build.out_dir",
	"src":             "build.src_dir",
	"manifest-format": "build.manifest_format",
	"minify":          "build.minify",
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringP("target", "t", build.TargetsBoth, "Build target (server, client, both)")
	buildCmd.Flags().Bool("no-cache", false, "Ignore the build cache and recompile every file")
	buildCmd.Flags().Bool("split", false, "Enable code splitting")
	buildCmd.Flags().Bool("sequential", false, "Compile one file at a time")
	buildCmd.Flags().StringP("out", "o", "", "Output directory")
	buildCmd.Flags().String("src", "", "Source directory")
	buildCmd.Flags().String("manifest-format", "", "FileMap manifest format (json, yaml)")
	buildCmd.Flags().Bool("minify", false, "Minify output")
	buildCmd.Flags().BoolVar(&buildReport, "report", false, "Print a size report of the written artifacts")
}

// applyBuildFlags copies explicitly set flags into the global configuration.
func applyBuildFlags(flags *pflag.FlagSet) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "no-cache":
			viper.Set("build.use_cache", f.Value.String() != "true")
		case "sequential":
			viper.Set("build.parallel", f.Value.String() != "true")
		default:
			if key, ok := buildFlagKeys[f.Name]; ok {
				viper.Set(key, f.Value.String())
			}
		}
	})
}

func runBuild(cmd *cobra.Command, args []string) error {
	applyBuildFlags(cmd.Flags())

	ctx := cmd.Context()
	session, cfg, _, err := newSession(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	color.New(color.FgCyan, color.Bold).Fprintf(out, "Building %s -> %s (%s)\n",
		cfg.Build.SrcDir, cfg.Build.OutDir, cfg.Build.Target)

	result, err := session.Build(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	printBatchResult(out, result)

	if buildReport {
		opts := session.Options()
		reports, err := build.Report(opts.OutDir, session.FileMap(), opts.Targets)
		if err != nil {
			return fmt.Errorf("failed to build report: %w", err)
		}
		printReport(out, reports)
	}

	if session.Errors().HasErrors() {
		return fmt.Errorf("%d of %d files failed", result.Failed, result.Files)
	}
	return nil
}

// printBatchResult writes a one-line summary followed by any failures.
func printBatchResult(w io.Writer, result *build.BatchResult) {
	if result == nil {
		return
	}

	status := color.New(color.FgGreen, color.Bold)
	if result.Failed > 0 {
		status = color.New(color.FgRed, color.Bold)
	}
	status.Fprintf(w, "Built %d files", result.Files)
	fmt.Fprintf(w, " (%d compiled, %d cached, %d failed", result.Compiled, result.Cached, result.Failed)
	if result.Chunks > 0 {
		fmt.Fprintf(w, ", %d chunks", result.Chunks)
	}
	fmt.Fprintf(w, ") in %v\n", result.Duration.Round(time.Millisecond))

	for _, failure := range result.Failures {
		color.New(color.FgRed).Fprintf(w, "  ✗ %s", failure.Path)
		fmt.Fprintf(w, " [%s] %v\n", failure.Kind, failure.Err)
	}
}

func printReport(w io.Writer, reports []build.ArtifactReport) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No artifacts written.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ARTIFACT\tSOURCE\tSIZE\tGZIP\tZSTD")
	fmt.Fprintln(tw, "--------\t------\t----\t----\t----")

	var size, gz, zst int64
	for _, r := range reports {
		source := r.Source
		if source == "" {
			source = "(chunk)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, source,
			formatBytes(r.Size), formatBytes(r.GzipSize), formatBytes(r.ZstdSize))
		size += r.Size
		gz += r.GzipSize
		zst += r.ZstdSize
	}
	fmt.Fprintf(tw, "TOTAL\t%d artifacts\t%s\t%s\t%s\n", len(reports),
		formatBytes(size), formatBytes(gz), formatBytes(zst))
	tw.Flush()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
