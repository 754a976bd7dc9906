// Package storage provides the durable media page-state registries persist
// their snapshots into.
package storage

import (
	"context"
	"sync"

	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
)

// Memory keeps snapshots in process memory, keyed by session.
type Memory struct {
	mu    sync.Mutex
	slots map[string]string
	// SaveErr, when set, is returned by every Save.
	SaveErr error
}

// NewMemory constructs an empty Memory.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]string)}
}

// Factory returns the per-session medium.
func (m *Memory) Factory() pagestate.MediumFactory {
	return func(sessionID string) pagestate.Medium {
		return memorySlot{mem: m, key: sessionID}
	}
}

// Raw returns what is stored for the session.
func (m *Memory) Raw(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.slots[sessionID]
	return raw, ok
}

// Put stores raw for the session, bypassing SaveErr.
func (m *Memory) Put(sessionID, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[sessionID] = raw
}

type memorySlot struct {
	mem *Memory
	key string
}

func (s memorySlot) Load(ctx context.Context) (string, bool, error) {
	raw, ok := s.mem.Raw(s.key)
	return raw, ok, nil
}

func (s memorySlot) Save(ctx context.Context, raw string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if s.mem.SaveErr != nil {
		return s.mem.SaveErr
	}
	s.mem.slots[s.key] = raw
	return nil
}
