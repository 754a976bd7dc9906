package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// File writes each session snapshot to <dir>/<session>.json. Writes go to a
// temporary file first and are renamed into place.
type File struct {
	dir string
}

// NewFile constructs the file medium, creating dir when missing.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("storage/file: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage/file: mkdir: %w", err)
	}
	return &File{dir: dir}, nil
}

// Factory returns the per-session medium.
func (f *File) Factory() pagestate.MediumFactory {
	return func(sessionID string) pagestate.Medium {
		return fileSlot{path: f.Path(sessionID)}
	}
}

// Path returns the snapshot path of a session.
func (f *File) Path(sessionID string) string {
	return filepath.Join(f.dir, unsafeName.ReplaceAllString(sessionID, "_")+".json")
}

// Prune removes snapshots not written since olderThan ago.
func (f *File) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("storage/file: read dir: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	var removed int64
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

type fileSlot struct {
	path string
}

func (s fileSlot) Load(ctx context.Context) (string, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage/file: read: %w", err)
	}
	return string(data), true, nil
}

func (s fileSlot) Save(ctx context.Context, raw string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".pagestate-*")
	if err != nil {
		return fmt.Errorf("storage/file: create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.WriteString(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage/file: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage/file: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("storage/file: rename: %w", err)
	}
	return nil
}
