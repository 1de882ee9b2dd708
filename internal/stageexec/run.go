// Package stageexec wraps the execution of one pipeline stage with the
// standard start/complete/failure logging and duration metrics.
package stageexec

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quill/internal/logging"
	"quill/internal/metrics"
	"quill/internal/services"
)

// Options controls how a stage is executed and reported.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Stage   string
	// Degradable stages log failures as warnings and report success to the
	// caller.
	Degradable bool
	// Impact describes what is lost when a degradable stage fails.
	Impact string
}

// Func is the body of a stage. It receives the stage-scoped context and logger.
type Func func(ctx context.Context, logger *slog.Logger) error

// Run executes fn as the named stage.
func Run(ctx context.Context, opts Options, fn Func) error {
	stageCtx := services.WithStage(ctx, opts.Stage)
	logger := logging.WithContext(stageCtx, opts.Logger)

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	started := time.Now()
	err := fn(stageCtx, logger)
	elapsed := time.Since(started)
	opts.Metrics.ObserveStage(opts.Stage, elapsed)

	if err == nil {
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("duration", elapsed),
		)
		return nil
	}

	if opts.Degradable && !errors.Is(err, context.Canceled) {
		impact := opts.Impact
		if impact == "" {
			impact = "run continued without " + opts.Stage + " output"
		}
		logging.WarnWithContext(logger, "stage degraded", "stage_degraded",
			logging.String(logging.FieldErrorHint, hintFor(err)),
			logging.String(logging.FieldImpact, impact),
			logging.ErrorKind(err),
			logging.Duration("duration", elapsed),
			logging.Error(err),
		)
		return nil
	}

	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String(logging.FieldErrorHint, hintFor(err)),
		logging.ErrorKind(err),
		logging.Duration("duration", elapsed),
		logging.Error(err),
	)
	return err
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, services.ErrConfiguration):
		return "check config.toml and credentials"
	case errors.Is(err, services.ErrMalformedOutput):
		return "model returned unusable output; retry or adjust the prompt catalog"
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "upstream timed out; retry later or raise the timeout"
	case errors.Is(err, services.ErrExternalService):
		return "upstream API failed; check its status and quota"
	default:
		return "check logs for details"
	}
}
