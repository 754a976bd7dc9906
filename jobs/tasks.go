package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPageStatePrune drops page-state snapshots not saved within the retention.
	TaskPageStatePrune = "pagestate:prune"
	// TaskPayablesTrashPurge permanently deletes installments trashed before the retention.
	TaskPayablesTrashPurge = "payables:trash_purge"
)

// RetentionPayload carries an optional retention override. Zero means the
// job's configured default.
type RetentionPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewPageStatePruneTask constructs an Asynq task for pruning page state.
func NewPageStatePruneTask(retention time.Duration) (*asynq.Task, error) {
	return newRetentionTask(TaskPageStatePrune, retention)
}

// NewTrashPurgeTask constructs an Asynq task for purging the payables trash.
func NewTrashPurgeTask(retention time.Duration) (*asynq.Task, error) {
	return newRetentionTask(TaskPayablesTrashPurge, retention)
}

// NewTask builds the task registered under name.
func NewTask(name string, retention time.Duration) (*asynq.Task, error) {
	switch name {
	case TaskPageStatePrune, TaskPayablesTrashPurge:
		return newRetentionTask(name, retention)
	default:
		return nil, &UnknownTaskError{Name: name}
	}
}

// UnknownTaskError reports a task name no handler is registered for.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return "jobs: unknown task " + e.Name
}

func newRetentionTask(name string, retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(RetentionPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

func decodeRetention(t *asynq.Task, fallback time.Duration) (time.Duration, error) {
	var payload RetentionPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return 0, err
		}
	}
	if payload.Retention <= 0 {
		return fallback, nil
	}
	return payload.Retention, nil
}
