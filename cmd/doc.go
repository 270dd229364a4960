// Package cmd provides the command-line interface for forge.
//
// This package implements all CLI commands using the Cobra framework.
//
// # Available Commands
//
//   - build: compile the source tree into hashed server and client artifacts
//   - watch: build once, then rebuild on every debounced change
//   - cache stat: show cache index, FileMap and digest cache usage
//   - cache clean: remove orphaned artifacts and optionally the cache index
//   - version: show version and build information
//
// # Command Examples
//
//	// Build both targets with the persisted cache
//	forge build
//
//	// Client-only build with code splitting and a size report
//	forge build --target client --split --report
//
//	// Rebuild from scratch, one file at a time
//	forge build --no-cache --sequential
//
//	// Watch the source tree
//	forge watch
//
// # Configuration Integration
//
// Commands respect configuration from multiple sources in order of precedence:
//
//  1. Command-line flags (highest priority)
//  2. Environment variables (FORGE_*)
//  3. Configuration file (.forge.yml)
//  4. Default values (lowest priority)
//
// # Error Handling
//
// A build that finishes with failed files prints one line per failure and
// exits non-zero. Whole-build failures, such as a rewrite that does not
// converge, abort without updating the manifest.
package cmd
