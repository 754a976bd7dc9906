package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-uistate/internal/jobs"
)

// TrashPurger permanently deletes trashed records older than retention.
// Implemented by payables.Service.
type TrashPurger interface {
	PurgeTrash(ctx context.Context, retention time.Duration) (int64, error)
}

// TrashPurgeJob empties the payables trash of stale installments.
type TrashPurgeJob struct {
	Purger    TrashPurger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewTrashPurgeJob wires dependencies for the purge handler.
func NewTrashPurgeJob(purger TrashPurger, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *TrashPurgeJob {
	return &TrashPurgeJob{Purger: purger, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle processes TaskPayablesTrashPurge tasks.
func (j *TrashPurgeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Purger == nil {
		return errors.New("trash purge: handler not configured")
	}
	retention, err := decodeRetention(t, j.Retention)
	if err != nil {
		return fmt.Errorf("trash purge: %v: %w", err, asynq.SkipRetry)
	}
	if retention <= 0 {
		return fmt.Errorf("trash purge: retention must be positive: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskPayablesTrashPurge)
	defer func() { err = tracker.End(err) }()

	removed, err := j.Purger.PurgeTrash(ctx, retention)
	if err != nil {
		loggerFor(j.Logger, TaskPayablesTrashPurge).Error("purge trash", slog.Any("error", err))
		return err
	}
	j.Metrics.AddRemoved(TaskPayablesTrashPurge, removed)
	return nil
}
