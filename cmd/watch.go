package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conneroisu/forge/internal/build"
	"github.com/conneroisu/forge/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Build, then rebuild whenever a source file changes",
	Long: `Run a full build, then watch the source directory and rebuild after
every quiet period of the configured debounce delay. New directories are
picked up as they are created. Build failures are reported and the watcher
keeps running until interrupted.

Examples:
  forge watch                   # Watch the configured source directory
  forge watch --verbose         # Print every changed path`,
	RunE: runWatch,
}

var watchVerbose bool

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Verbose output")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	session, cfg, logger, err := newSession(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	opts := session.Options()

	result, err := session.Build(ctx)
	if err != nil {
		// The initial build may fail while the user is mid-edit
		fmt.Fprintf(os.Stderr, "Initial build failed: %v\n", err)
	}
	printBatchResult(out, result)

	fileWatcher, err := watcher.NewFileWatcher(cfg.Watch.Debounce, logger, cfg.Watch.Ignore...)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fileWatcher.Stop()

	fileWatcher.AddFilter(watcher.ExtensionFilter(opts.Extensions))
	fileWatcher.AddFilter(watcher.ExcludeDirFilter(opts.OutDir))
	fileWatcher.AddFilter(watcher.NoHiddenFilter)
	fileWatcher.AddFilter(watcher.NoNodeModulesFilter)
	fileWatcher.AddFilter(watcher.NoGitFilter)
	fileWatcher.AddHandler(watcher.BuildHandler(session, logger, watchReporter(out)))

	if err := fileWatcher.AddRecursive(opts.SrcDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", opts.SrcDir, err)
	}
	if err := fileWatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	color.New(color.FgCyan, color.Bold).Fprintf(out, "Watching %s (debounce %v). Press Ctrl+C to stop.\n",
		cfg.Build.SrcDir, cfg.Watch.Debounce)

	<-ctx.Done()
	fmt.Fprintln(out, "Stopping watcher...")
	return nil
}

func watchReporter(w io.Writer) watcher.ReportFunc {
	return func(events []watcher.ChangeEvent, result *build.BatchResult, err error) {
		stamp := time.Now().Format("15:04:05")
		if watchVerbose {
			fmt.Fprintf(w, "[%s] File changes detected:\n", stamp)
			for _, event := range events {
				fmt.Fprintf(w, "   %s: %s\n", event.Type, event.Path)
			}
		} else {
			fmt.Fprintf(w, "[%s] %d file(s) changed\n", stamp, len(events))
		}

		if err != nil {
			color.New(color.FgRed, color.Bold).Fprintf(w, "Rebuild failed: %v\n", err)
			return
		}
		printBatchResult(w, result)
	}
}
