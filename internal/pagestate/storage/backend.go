package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
)

// Backend names accepted by Open.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendFile     = "file"
	BackendMemory   = "memory"
)

// Pruner drops snapshots that have not been saved for a while.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Options selects and configures a backend.
type Options struct {
	Name       string
	Redis      *redis.Client
	RedisTTL   time.Duration
	Postgres   PGX
	SQLitePath string
	FileDir    string
}

// Backend is an opened medium plus its optional maintenance hooks.
type Backend struct {
	Name    string
	Factory pagestate.MediumFactory
	// Pruner is nil for media that expire on their own (Redis) or live in memory.
	Pruner Pruner
	close  func() error
}

// Close releases resources held by the backend.
func (b *Backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// Open builds the backend named in opts.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	switch opts.Name {
	case BackendRedis, "":
		if opts.Redis == nil {
			return nil, fmt.Errorf("storage: redis backend requires a client")
		}
		return &Backend{Name: BackendRedis, Factory: NewRedis(opts.Redis, DefaultKeyPrefix, opts.RedisTTL).Factory()}, nil
	case BackendPostgres:
		if opts.Postgres == nil {
			return nil, fmt.Errorf("storage: postgres backend requires a pool")
		}
		pg := NewPostgres(opts.Postgres)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return &Backend{Name: BackendPostgres, Factory: pg.Factory(), Pruner: pg}, nil
	case BackendSQLite:
		lite, err := OpenSQLite(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: BackendSQLite, Factory: lite.Factory(), Pruner: lite, close: lite.Close}, nil
	case BackendFile:
		f, err := NewFile(opts.FileDir)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: BackendFile, Factory: f.Factory(), Pruner: f}, nil
	case BackendMemory:
		return &Backend{Name: BackendMemory, Factory: NewMemory().Factory()}, nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", opts.Name)
	}
}
