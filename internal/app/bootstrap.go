package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate/storage"
	"github.com/odyssey-erp/odyssey-uistate/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-uistate/internal/platform/db"
)

// OpenRedis connects to the configured Redis instance.
func OpenRedis(ctx context.Context, cfg *Config) (*redis.Client, error) {
	return cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
}

// OpenPostgres connects the configured Postgres pool.
func OpenPostgres(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	return db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
}

// OpenPageStateBackend opens the configured page-state medium. pool is only
// required by the postgres backend and client only by the redis one.
func OpenPageStateBackend(ctx context.Context, cfg *Config, client *redis.Client, pool *pgxpool.Pool) (*storage.Backend, error) {
	opts := storage.Options{
		Name:       cfg.PageStateBackend,
		Redis:      client,
		RedisTTL:   cfg.SessionTTL,
		SQLitePath: cfg.PageStateSQLitePath,
		FileDir:    cfg.PageStateFileDir,
	}
	if pool != nil {
		opts.Postgres = pool
	}
	if opts.Name == storage.BackendPostgres && pool == nil {
		return nil, errors.New("app: postgres page-state backend requires a database pool")
	}
	backend, err := storage.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("app: open page-state backend: %w", err)
	}
	return backend, nil
}
