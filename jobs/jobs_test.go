package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-uistate/internal/jobs"
)

type fakePruner struct {
	olderThan time.Duration
	removed   int64
	err       error
}

func (f *fakePruner) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.removed, f.err
}

type fakePurger struct {
	retention time.Duration
	err       error
}

func (f *fakePurger) PurgeTrash(_ context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return 2, f.err
}

func TestPageStatePruneUsesConfiguredRetention(t *testing.T) {
	pruner := &fakePruner{removed: 3}
	job := NewPageStatePruneJob(pruner, 90*24*time.Hour, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewPageStatePruneTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 90*24*time.Hour, pruner.olderThan)

	task, err = NewPageStatePruneTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, pruner.olderThan)
}

func TestPageStatePruneWithoutPruner(t *testing.T) {
	job := NewPageStatePruneJob(nil, time.Hour, nil, nil)
	task, err := NewPageStatePruneTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestPageStatePruneSkipsRetryOnBadPayload(t *testing.T) {
	job := NewPageStatePruneJob(&fakePruner{}, time.Hour, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskPageStatePrune, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPageStatePrunePropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	job := NewPageStatePruneJob(&fakePruner{err: boom}, time.Hour, nil, nil)
	task, err := NewPageStatePruneTask(0)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestTrashPurge(t *testing.T) {
	purger := &fakePurger{}
	job := NewTrashPurgeJob(purger, 30*24*time.Hour, nil, nil)
	task, err := NewTrashPurgeTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 30*24*time.Hour, purger.retention)

	zero := NewTrashPurgeJob(purger, 0, nil, nil)
	require.ErrorIs(t, zero.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestNewTaskRejectsUnknownName(t *testing.T) {
	_, err := NewTask("mail:send", 0)
	var unknown *UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "mail:send", unknown.Name)

	task, err := NewTask(TaskPayablesTrashPurge, time.Minute)
	require.NoError(t, err)
	require.Equal(t, TaskPayablesTrashPurge, task.Type())
	var payload RetentionPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, time.Minute, payload.Retention)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", h.MountRoutes)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rec
	}

	rec := serve(NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 4, Retry: 1}}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":4,"active":0,"retry":1,"scheduled":0}`, rec.Body.String())

	rec = serve(NewHandler(stubInspector{err: errors.New("down")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)
}
