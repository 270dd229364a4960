// Package internal contains the core implementation packages for forge.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - build: FileMap, build cache, file, directory and code-splitting compilers, sessions
//   - config: Configuration loading and validation
//   - errors: Classified build errors and per-file failure collection
//   - hashing: Content hashes and hashed artifact names
//   - importmap: Import map loading from deno.json style manifests
//   - logging: Structured logging on log/slog
//   - pathutil: Root-relative keys and path helpers
//   - resolve: Specifier resolution for the server and client targets
//   - transform: Server-only export stripping for client sources
//   - validation: Path, extension and URL checks for user input
//   - version: Build and bundler version information
//   - watcher: File system monitoring with debouncing
//
// # Data Flow
//
// The watcher or the CLI asks a build.Session to build. The session walks
// the source directory and compiles files in batches through the
// FileCompiler, or through the CodeSplittingCompiler when code splitting is
// on. Each file is resolved and bundled once per target, the output is named
// after its content hash and the FileMap records where it went. The cache
// index and the FileMap manifest are written at the end of every build.
//
// # Testing Strategy
//
// Every package has unit tests built on testify. Property tests use gopter
// and run with the property build tag:
//
//	go test -tags property ./internal/...
package internal
