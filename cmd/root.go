// Configuration System:
//
//	The CLI supports configuration through multiple sources with clear precedence:
//	1. Command-line flags (--config, --out, etc.) - highest priority
//	2. FORGE_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (FORGE_BUILD_OUT_DIR, etc.)
//	4. Configuration files (.forge.yml) - lowest priority
//
// Environment Variables:
//
//	FORGE_CONFIG_FILE: Path to custom configuration file
//	FORGE_BUILD_OUT_DIR: Override the output directory
//	FORGE_BUILD_CODE_SPLITTING: Enable/disable code splitting
//	And many more following the FORGE_<SECTION>_<OPTION> pattern

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/forge/internal/build"
	"github.com/conneroisu/forge/internal/config"
	"github.com/conneroisu/forge/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "A dual-target build pipeline for TypeScript and JSX projects",
	Long: `Forge compiles a source tree into content-hashed artifacts for two
targets: a server build that keeps protocol imports (npm:, jsr:) for the
runtime to fetch, and a client build that rewrites them to CDN URLs and
strips server-only exports.

Key Features:
  • Import map aliases, protocol and bare specifier resolution
  • Persistent build cache keyed by source and dependency hashes
  • Batched parallel compilation
  • Code splitting with stable, content-hashed chunk references
  • Watch mode

Quick Start:
  forge build                     Build src/ into dist/
  forge build --split --report    Build with shared chunks and print sizes
  forge watch                     Rebuild on change
  forge cache stat                Inspect the build cache`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// The command context is cancelled on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .forge.yml, can also use FORGE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig initializes the configuration system with support for multiple config sources.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. FORGE_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .forge.yml in current directory
//
// The function also enables automatic environment variable binding for all
// configuration values with the FORGE_ prefix (e.g., FORGE_BUILD_OUT_DIR=public).
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("FORGE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".forge")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing or malformed config file falls back to defaults
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newSession loads the configuration and import map and opens a build
// session for the project.
func newSession(ctx context.Context) (*build.Session, *config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.LoggerConfig())

	imports, manifest, err := cfg.LoadImportMap()
	if err != nil {
		return nil, cfg, logger, fmt.Errorf("failed to load import map: %w", err)
	}
	if manifest != "" {
		logger.Debug(ctx, "Loaded import map", "manifest", manifest, "entries", imports.Len())
	}
	for _, skipped := range imports.Skipped() {
		logger.Warn(ctx, skipped.Err, "Skipping import map entry",
			"specifier", skipped.Specifier, "value", skipped.Value)
	}

	opts, err := cfg.SessionOptions()
	if err != nil {
		return nil, cfg, logger, err
	}
	session, err := build.NewSession(opts, imports, logger)
	if err != nil {
		return nil, cfg, logger, err
	}
	return session, cfg, logger, nil
}
