package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-uistate/internal/app"
	"github.com/odyssey-erp/odyssey-uistate/internal/observability"
	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
	"github.com/odyssey-erp/odyssey-uistate/internal/payables"
	"github.com/odyssey-erp/odyssey-uistate/internal/shared"
	"github.com/odyssey-erp/odyssey-uistate/internal/undo"
	"github.com/odyssey-erp/odyssey-uistate/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := app.OpenPostgres(ctx, cfg)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	backend, err := app.OpenPageStateBackend(ctx, cfg, redisClient, dbpool)
	if err != nil {
		logger.Error("open page-state backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("page-state backend close", slog.Any("error", err))
		}
	}()
	logger.Info("page-state backend ready", slog.String("backend", backend.Name))

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	pageStates := pagestate.NewManager(pagestate.ManagerConfig{
		Media:    backend.Factory,
		Logger:   logger.With(slog.String("component", "pagestate")),
		Observer: metrics,
		IdleTTL:  cfg.SessionTTL,
	})
	metrics.TrackSessions(pageStates.Sessions)
	go pageStates.Run(ctx)

	repo := payables.NewRepository(dbpool)
	undoManager := undo.NewManager(undo.Config{
		Store:       repo,
		Notifier:    undo.MultiNotifier{undo.FlashNotifier{}, undo.NewPublisher(redisClient, logger)},
		Recorder:    metrics,
		Logger:      logger.With(slog.String("component", "undo")),
		Timeout:     cfg.UndoTimeout,
		RedoTimeout: cfg.RedoTimeout,
	})
	defer undoManager.Close()
	payablesService := payables.NewService(repo, undoManager, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		PageStates:       pageStates,
		PageStateHandler: pagestate.NewHandler(logger, pageStates, csrfManager),
		UndoHandler:      undo.NewHandler(logger, undoManager),
		PayablesHandler:  payables.NewHandler(logger, payablesService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	// Registries whose last save failed get one more attempt.
	if err := pageStates.Flush(shutdownCtx); err != nil {
		logger.Warn("flush page state", slog.Any("error", err))
	}
}
