package pagestate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrEmptySession indicates a registry lookup without a session id.
var ErrEmptySession = errors.New("pagestate: session id required")

const (
	loadTimeout = 5 * time.Second
	// DefaultSweepInterval is how often Run looks for idle registries.
	DefaultSweepInterval = time.Minute
)

// MediumFactory returns the durable medium of one application session.
type MediumFactory func(sessionID string) Medium

// ManagerConfig collects the dependencies of a Manager.
type ManagerConfig struct {
	Media     MediumFactory
	Logger    *slog.Logger
	Observer  Observer
	Listeners []Listener
	// IdleTTL evicts registries not accessed for this long. Zero keeps them
	// for the life of the process. Usually the session TTL.
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Manager owns exactly one Registry per application session.
type Manager struct {
	media     MediumFactory
	logger    *slog.Logger
	observer  Observer
	listeners []Listener
	idleTTL   time.Duration
	sweep     time.Duration
	now       func() time.Time

	mu         sync.Mutex
	registries map[string]*Registry
	lastSeen   map[string]time.Time
	loads      singleflight.Group
}

// NewManager constructs a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		media:      cfg.Media,
		logger:     logger,
		observer:   cfg.Observer,
		listeners:  cfg.Listeners,
		idleTTL:    cfg.IdleTTL,
		sweep:      cfg.SweepInterval,
		now:        cfg.Now,
		registries: make(map[string]*Registry),
		lastSeen:   make(map[string]time.Time),
	}
	if m.sweep <= 0 {
		m.sweep = DefaultSweepInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Registry returns the session's registry, creating and loading it on first
// access. Concurrent first accesses share a single load.
func (m *Manager) Registry(ctx context.Context, sessionID string) (*Registry, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}
	if reg := m.lookup(sessionID); reg != nil {
		return reg, nil
	}
	v, err, _ := m.loads.Do(sessionID, func() (interface{}, error) {
		if reg := m.lookup(sessionID); reg != nil {
			return reg, nil
		}
		var medium Medium
		if m.media != nil {
			medium = m.media(sessionID)
		}
		reg := NewRegistry(NewStore(medium, m.logger.With(slog.String("session", sessionID)), m.observer))
		for _, l := range m.listeners {
			reg.Subscribe(l)
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		reg.Load(loadCtx)

		m.mu.Lock()
		m.registries[sessionID] = reg
		m.lastSeen[sessionID] = m.now()
		m.mu.Unlock()
		return reg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Registry), nil
}

// Evict flushes and forgets the session's registry, e.g. on logout.
func (m *Manager) Evict(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	reg, ok := m.registries[sessionID]
	delete(m.registries, sessionID)
	delete(m.lastSeen, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return reg.Flush(ctx)
}

// Flush re-saves every registry whose last save failed.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	dirty := make([]*Registry, 0, len(m.registries))
	for _, reg := range m.registries {
		if reg.Dirty() {
			dirty = append(dirty, reg)
		}
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, reg := range dirty {
		g.Go(func() error {
			return reg.Flush(gctx)
		})
	}
	return g.Wait()
}

// EvictIdle flushes and forgets registries not accessed within IdleTTL. It
// returns the number evicted; a registry whose flush fails is dropped all
// the same, its snapshot was already attempted on every mutation.
func (m *Manager) EvictIdle(ctx context.Context) (int, error) {
	if m.idleTTL <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.idleTTL)
	m.mu.Lock()
	idle := make([]*Registry, 0)
	for id, seen := range m.lastSeen {
		if seen.Before(cutoff) {
			idle = append(idle, m.registries[id])
			delete(m.registries, id)
			delete(m.lastSeen, id)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, reg := range idle {
		if err := reg.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return len(idle), errors.Join(errs...)
}

// Run evicts idle registries every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.EvictIdle(ctx)
			if err != nil {
				m.logger.Warn("pagestate idle flush failed", slog.Any("error", err))
			}
			if n > 0 {
				m.logger.Debug("pagestate registries evicted", slog.Int("count", n))
			}
		}
	}
}

// Sessions returns the number of live registries.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registries)
}

func (m *Manager) lookup(sessionID string) *Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := m.registries[sessionID]
	if reg != nil {
		m.lastSeen[sessionID] = m.now()
	}
	return reg
}
