package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clean the build cache",
	Long: `Inspect and clean the persisted build cache and the output directory.

Examples:
  forge cache stat              # Show cache index and FileMap usage
  forge cache clean             # Remove artifacts no longer in the FileMap
  forge cache clean --index     # Also drop the cache index`,
}

var cacheStatCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show cache usage",
	Args:  cobra.NoArgs,
	RunE:  runCacheStat,
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove orphaned artifacts",
	Args:  cobra.NoArgs,
	RunE:  runCacheClean,
}

var cacheCleanIndex bool

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatCmd)
	cacheCmd.AddCommand(cacheCleanCmd)

	cacheCleanCmd.Flags().BoolVar(&cacheCleanIndex, "index", false, "Also clear the cache index so the next build recompiles everything")
}

func runCacheStat(cmd *cobra.Command, args []string) error {
	session, _, _, err := newSession(cmd.Context())
	if err != nil {
		return err
	}

	stats := session.CacheStats()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Cache index:\t%s\n", stats.IndexPath)
	fmt.Fprintf(tw, "Records:\t%d\n", stats.Records)
	fmt.Fprintf(tw, "Chunks:\t%d\n", stats.Chunks)
	fmt.Fprintf(tw, "FileMap entries:\t%d\n", stats.FileMapSize)
	fmt.Fprintf(tw, "Manifest:\t%s\n", session.Options().ManifestPath())
	return tw.Flush()
}

func runCacheClean(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	session, _, _, err := newSession(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	removed, err := session.CleanOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to clean output directory: %w", err)
	}
	for _, id := range removed {
		fmt.Fprintf(out, "  removed %s\n", id)
	}
	color.New(color.FgGreen, color.Bold).Fprintf(out, "Removed %d orphaned artifact(s)\n", len(removed))

	if cacheCleanIndex {
		if err := session.ClearCache(); err != nil {
			return fmt.Errorf("failed to clear cache index: %w", err)
		}
		fmt.Fprintln(out, "Cache index cleared")
	}
	return nil
}
