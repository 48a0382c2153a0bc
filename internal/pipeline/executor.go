package pipeline

import (
	"context"
	"fmt"
	"time"

	"vmforge/internal/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Execute runs the steps sequentially. Between steps the context is
// re-checked: an interrupted pipeline stops without running the remaining
// steps and without reporting an error, since interruption is resolved by
// the step that observed it. When a step fails, its recovery hook (if any)
// runs before the error is propagated with the step's name attached.
func Execute(ctx context.Context, steps []Step) error {
	start := time.Now()
	runID := uuid.NewString()
	logging.Logger().Info("starting pipeline",
		zap.String("run_id", runID),
		zap.Int("steps", len(steps)))

	for i, step := range steps {
		if ctx.Err() != nil {
			logging.Logger().Warn("pipeline interrupted, skipping remaining steps",
				zap.String("run_id", runID),
				zap.String("next_step", step.Name()),
				zap.Int("completed", i))
			return nil
		}

		stepStart := time.Now()
		logging.Logger().Info("executing step",
			zap.String("run_id", runID),
			zap.String("step", step.Name()),
			zap.Int("index", i+1),
			zap.Int("total", len(steps)))

		if err := step.Run(ctx); err != nil {
			if r, ok := step.(Recoverer); ok {
				r.Recover(ctx, err)
			}
			return fmt.Errorf("step %q failed: %w", step.Name(), err)
		}

		logging.Logger().Info("step completed",
			zap.String("run_id", runID),
			zap.String("step", step.Name()),
			zap.Duration("elapsed", time.Since(stepStart).Round(time.Millisecond)))
	}

	logging.Logger().Info("pipeline completed",
		zap.String("run_id", runID),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	return nil
}
