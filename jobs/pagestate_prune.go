package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-uistate/internal/jobs"
	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate/storage"
)

// PageStatePruneJob removes page-state snapshots of sessions that went quiet.
type PageStatePruneJob struct {
	Pruner    storage.Pruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewPageStatePruneJob wires dependencies for the prune handler. pruner may
// be nil for media that expire on their own.
func NewPageStatePruneJob(pruner storage.Pruner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *PageStatePruneJob {
	return &PageStatePruneJob{Pruner: pruner, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle processes TaskPageStatePrune tasks.
func (j *PageStatePruneJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil {
		return errors.New("pagestate prune: handler not configured")
	}
	retention, err := decodeRetention(t, j.Retention)
	if err != nil {
		return fmt.Errorf("pagestate prune: %v: %w", err, asynq.SkipRetry)
	}
	logger := loggerFor(j.Logger, TaskPageStatePrune)
	if j.Pruner == nil {
		logger.Info("medium expires on its own, nothing to prune")
		return nil
	}
	if retention <= 0 {
		return fmt.Errorf("pagestate prune: retention must be positive: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskPageStatePrune)
	defer func() { err = tracker.End(err) }()

	removed, err := j.Pruner.Prune(ctx, retention)
	if err != nil {
		logger.Error("prune page state", slog.Any("error", err))
		return err
	}
	j.Metrics.AddRemoved(TaskPageStatePrune, removed)
	logger.Info("pruned page state", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return nil
}

func loggerFor(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
