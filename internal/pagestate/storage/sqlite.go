package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS ui_page_states (
	session_id TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite stores session snapshots in a local SQLite database, for single
// node deployments without Redis or Postgres.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: open: %w", err)
	}
	// modernc sqlite serializes writers; one connection keeps :memory: shared too
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage/sqlite: ensure schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Factory returns the per-session medium.
func (s *SQLite) Factory() pagestate.MediumFactory {
	return func(sessionID string) pagestate.Medium {
		return sqliteSlot{store: s, sessionID: sessionID}
	}
}

// Prune deletes snapshots not saved since olderThan ago.
func (s *SQLite) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ui_page_states WHERE updated_at < ?`, s.now().Add(-olderThan).Unix())
	if err != nil {
		return 0, fmt.Errorf("storage/sqlite: prune: %w", err)
	}
	return res.RowsAffected()
}

type sqliteSlot struct {
	store     *SQLite
	sessionID string
}

func (s sqliteSlot) Load(ctx context.Context) (string, bool, error) {
	var raw string
	err := s.store.db.QueryRowContext(ctx, `SELECT payload FROM ui_page_states WHERE session_id = ?`, s.sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage/sqlite: load: %w", err)
	}
	return raw, true, nil
}

func (s sqliteSlot) Save(ctx context.Context, raw string) error {
	_, err := s.store.db.ExecContext(ctx, `INSERT INTO ui_page_states (session_id, payload, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.sessionID, raw, s.store.now().Unix())
	if err != nil {
		return fmt.Errorf("storage/sqlite: save: %w", err)
	}
	return nil
}
