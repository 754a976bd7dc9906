package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-uistate/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-uistate/internal/jobs"
	"github.com/odyssey-erp/odyssey-uistate/internal/payables"
	"github.com/odyssey-erp/odyssey-uistate/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := app.OpenPostgres(ctx, cfg)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	backend, err := app.OpenPageStateBackend(ctx, cfg, redisClient, pool)
	if err != nil {
		logger.Error("open page-state backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("page-state backend close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	// The worker never registers undo actions, so the service gets no undoer.
	payablesService := payables.NewService(payables.NewRepository(pool), nil, logger)

	pruneJob := jobs.NewPageStatePruneJob(backend.Pruner, cfg.PageStateRetention, logger, metrics)
	purgeJob := jobs.NewTrashPurgeJob(payablesService, cfg.TrashRetention, logger, metrics)

	pruneTask, err := jobs.NewPageStatePruneTask(0)
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}
	purgeTask, err := jobs.NewTrashPurgeTask(0)
	if err != nil {
		logger.Error("build trash purge task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPageStatePrune, Handler: pruneJob.Handle},
			{Type: jobs.TaskPayablesTrashPurge, Handler: purgeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 3 * * *", Task: pruneTask},
			{Spec: "45 3 * * *", Task: purgeTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
