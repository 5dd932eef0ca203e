package observability

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FlushTelemetry stops the given pipelines (tracing) and syncs the logger.
// Prometheus is pull-based and needs no flush. Call during graceful shutdown
// after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, shutdowns ...ShutdownFunc) error {
	var errs []error
	for _, shutdown := range shutdowns {
		if shutdown == nil {
			continue
		}
		if err := shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
