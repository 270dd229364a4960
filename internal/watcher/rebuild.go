package watcher

import (
	"context"

	"github.com/conneroisu/forge/internal/build"
	"github.com/conneroisu/forge/internal/logging"
)

// Builder runs a full build. *build.Session satisfies it.
type Builder interface {
	Build(ctx context.Context) (*build.BatchResult, error)
}

// ReportFunc receives the outcome of a rebuild.
type ReportFunc func(events []ChangeEvent, result *build.BatchResult, err error)

// BuildHandler returns a handler that rebuilds once per debounced batch.
// A failed build is reported and logged but does not stop the watcher.
func BuildHandler(b Builder, logger logging.Logger, report ReportFunc) ChangeHandler {
	logger = logging.OrNop(logger).WithComponent("rebuild")
	return func(ctx context.Context, events []ChangeEvent) error {
		logger.Info(ctx, "Rebuilding", "changes", len(events))
		result, err := b.Build(ctx)
		if err != nil {
			logger.Error(ctx, err, "Rebuild failed")
		}
		if report != nil {
			report(events, result, err)
		}
		return nil
	}
}
