package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
)

// PGX is the subset of *pgxpool.Pool the Postgres medium needs.
type PGX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const postgresSchema = `CREATE TABLE IF NOT EXISTS ui_page_states (
	session_id TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Postgres stores session snapshots in the ui_page_states table.
type Postgres struct {
	db PGX
}

// NewPostgres constructs the Postgres medium.
func NewPostgres(db PGX) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates ui_page_states when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("storage/postgres: ensure schema: %w", err)
	}
	return nil
}

// Factory returns the per-session medium.
func (p *Postgres) Factory() pagestate.MediumFactory {
	return func(sessionID string) pagestate.Medium {
		return postgresSlot{store: p, sessionID: sessionID}
	}
}

// Prune deletes snapshots not saved since olderThan ago.
func (p *Postgres) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM ui_page_states WHERE updated_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("storage/postgres: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a session snapshot.
func (p *Postgres) Delete(ctx context.Context, sessionID string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM ui_page_states WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("storage/postgres: delete: %w", err)
	}
	return nil
}

type postgresSlot struct {
	store     *Postgres
	sessionID string
}

func (s postgresSlot) Load(ctx context.Context) (string, bool, error) {
	var raw string
	err := s.store.db.QueryRow(ctx, `SELECT payload FROM ui_page_states WHERE session_id = $1`, s.sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage/postgres: load: %w", err)
	}
	return raw, true, nil
}

func (s postgresSlot) Save(ctx context.Context, raw string) error {
	_, err := s.store.db.Exec(ctx, `INSERT INTO ui_page_states (session_id, payload, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (session_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`, s.sessionID, raw)
	if err != nil {
		return fmt.Errorf("storage/postgres: save: %w", err)
	}
	return nil
}
