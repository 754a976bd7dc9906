package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-uistate/internal/app"
	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate/storage"
	"github.com/odyssey-erp/odyssey-uistate/jobs"
)

// Triggerer enqueues maintenance tasks. Implemented by jobs.Client.
type Triggerer interface {
	Trigger(ctx context.Context, name string, retention time.Duration) (*asynq.TaskInfo, error)
}

// Env resolves the resources commands run against. Tests swap it for
// in-memory fakes.
type Env struct {
	// OpenBackend returns the page-state backend and a release func.
	OpenBackend func(ctx context.Context) (*storage.Backend, func(), error)
	// OpenJobs returns a job client and a release func.
	OpenJobs func(ctx context.Context) (Triggerer, func(), error)
}

// Execute runs the CLI against the environment-configured deployment.
func Execute() error {
	root := NewRootCommand(configEnv())
	root.SilenceErrors = true
	root.SilenceUsage = true
	return root.Execute()
}

// NewRootCommand assembles the command tree over env.
func NewRootCommand(env Env) *cobra.Command {
	root := &cobra.Command{
		Use:   "uistatectl",
		Short: "Inspect and maintain persisted UI page state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
	}
	root.AddCommand(
		newExportCommand(env),
		newImportCommand(env),
		newClearCommand(env),
		newKeysCommand(env),
		newPruneCommand(env),
		newJobsCommand(env),
	)
	return root
}

func configEnv() Env {
	loadConfig := func() (*app.Config, error) {
		cfg, err := app.LoadConfig()
		if err != nil {
			return nil, err
		}
		slog.SetDefault(app.NewLogger(cfg))
		return cfg, nil
	}
	return Env{
		OpenBackend: func(ctx context.Context) (*storage.Backend, func(), error) {
			cfg, err := loadConfig()
			if err != nil {
				return nil, nil, err
			}
			var (
				client *redis.Client
				pool   *pgxpool.Pool
			)
			switch cfg.PageStateBackend {
			case storage.BackendRedis:
				if client, err = app.OpenRedis(ctx, cfg); err != nil {
					return nil, nil, err
				}
			case storage.BackendPostgres:
				if pool, err = app.OpenPostgres(ctx, cfg); err != nil {
					return nil, nil, err
				}
			}
			release := func() {
				if client != nil {
					_ = client.Close()
				}
				if pool != nil {
					pool.Close()
				}
			}
			backend, err := app.OpenPageStateBackend(ctx, cfg, client, pool)
			if err != nil {
				release()
				return nil, nil, err
			}
			return backend, func() {
				_ = backend.Close()
				release()
			}, nil
		},
		OpenJobs: func(ctx context.Context) (Triggerer, func(), error) {
			cfg, err := loadConfig()
			if err != nil {
				return nil, nil, err
			}
			client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			if err != nil {
				return nil, nil, err
			}
			return client, func() { _ = client.Close() }, nil
		},
	}
}

var errSessionRequired = errors.New("--session is required")
