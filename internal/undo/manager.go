package undo

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout     = 8 * time.Second
	DefaultRedoTimeout = 30 * time.Second
)

// Config wires a Manager.
type Config struct {
	Store       Store
	Notifier    Notifier
	Recorder    Recorder
	Logger      *slog.Logger
	Timeout     time.Duration
	RedoTimeout time.Duration
	Now         func() time.Time
}

// Pending is a pending action together with its countdown.
type Pending struct {
	Action
	ExpiresAt   time.Time `json:"expiresAt"`
	SecondsLeft int       `json:"secondsLeft"`
}

// Redoable is a reversed action that can be re-applied.
type Redoable struct {
	ID          string     `json:"id"`
	Type        ActionType `json:"type"`
	Data        Data       `json:"data"`
	CreatedAt   time.Time  `json:"timestamp"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	SecondsLeft int        `json:"secondsLeft"`
	sessionID   string
}

type entry struct {
	action   Action
	deadline time.Time
	timer    *time.Timer
}

type redoEntry struct {
	item  Redoable
	timer *time.Timer
	// gen changes every time the timer is armed; a stale timer leaves the
	// entry alone.
	gen uint64
}

// Manager keeps the window during which completed actions can be reversed.
// An action is either pending, reversed or expired, and leaves the pending
// set exactly once.
type Manager struct {
	store       Store
	notifier    Notifier
	recorder    Recorder
	logger      *slog.Logger
	timeout     time.Duration
	redoTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	pending map[string]*entry
	redo    map[string]*redoEntry
	closed  bool
}

// NewManager constructs a Manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		store:       cfg.Store,
		notifier:    cfg.Notifier,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		timeout:     cfg.Timeout,
		redoTimeout: cfg.RedoTimeout,
		now:         cfg.Now,
		pending:     make(map[string]*entry),
		redo:        make(map[string]*redoEntry),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.redoTimeout <= 0 {
		m.redoTimeout = DefaultRedoTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.notifier == nil {
		m.notifier = NotifierFunc(func(context.Context, Notification) {})
	}
	return m
}

// Timeout returns the undo window.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Add registers a completed action and starts its undo window.
func (m *Manager) Add(ctx context.Context, action Action) (Action, error) {
	if err := action.validate(); err != nil {
		return Action{}, err
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	action.CreatedAt = m.now()
	id := action.ID

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Action{}, fmt.Errorf("undo: manager closed")
	}
	if _, exists := m.pending[id]; exists {
		m.mu.Unlock()
		return Action{}, fmt.Errorf("%w: duplicate id %s", ErrInvalidAction, id)
	}
	e := &entry{action: action, deadline: action.CreatedAt.Add(m.timeout)}
	e.timer = time.AfterFunc(m.timeout, func() { m.expire(id) })
	m.pending[id] = e
	m.mu.Unlock()

	m.observe(action.Type, OutcomeCreated)
	m.notifier.Notify(ctx, Notification{
		Kind:      KindInfo,
		Title:     actionTitle(action.Type),
		Message:   actionDescription(action),
		SessionID: action.SessionID,
		ActionID:  id,
		Undoable:  true,
		ExpiresIn: m.timeout,
	})
	m.logger.Debug("undo action registered", slog.String("id", id), slog.String("type", string(action.Type)))
	return action, nil
}

// Undo reverses a pending action owned by sessionID. The action is removed
// from the pending set whether or not the reversal succeeds.
func (m *Manager) Undo(ctx context.Context, sessionID, id string) error {
	m.mu.Lock()
	e, ok := m.pending[id]
	if !ok || e.action.SessionID != sessionID {
		m.mu.Unlock()
		return ErrActionNotPending
	}
	delete(m.pending, id)
	e.timer.Stop()
	m.mu.Unlock()

	action := e.action
	if err := m.reverse(ctx, action); err != nil {
		m.logger.Error("undo reversal failed", slog.String("id", id), slog.String("type", string(action.Type)), slog.Any("error", err))
		m.observe(action.Type, OutcomeFailed)
		m.notifier.Notify(ctx, Notification{
			Kind:      KindError,
			Title:     "Undo failed",
			Message:   "The action could not be undone. Please try again.",
			SessionID: action.SessionID,
			ActionID:  id,
		})
		return fmt.Errorf("%w: %w", ErrReversalFailed, err)
	}

	m.observe(action.Type, OutcomeReversed)
	if action.CanRedo {
		m.pushRedo(action)
	}
	m.notifier.Notify(ctx, Notification{
		Kind:      KindSuccess,
		Title:     "Action undone",
		Message:   actionDescription(action),
		SessionID: action.SessionID,
		ActionID:  id,
	})
	return nil
}

// Redo re-applies a reversed action. A failed redo stays available until
// its window closes.
func (m *Manager) Redo(ctx context.Context, sessionID, id string) error {
	m.mu.Lock()
	re, ok := m.redo[id]
	if !ok || re.item.sessionID != sessionID {
		m.mu.Unlock()
		return ErrRedoNotAvailable
	}
	delete(m.redo, id)
	re.timer.Stop()
	m.mu.Unlock()

	if err := m.reapply(ctx, re.item); err != nil {
		m.logger.Error("redo failed", slog.String("id", id), slog.Any("error", err))
		m.observe(re.item.Type, OutcomeRedoFailed)
		m.restoreRedo(re)
		m.notifier.Notify(ctx, Notification{
			Kind:      KindError,
			Title:     "Redo failed",
			Message:   "The action could not be redone. Please try again.",
			SessionID: sessionID,
			ActionID:  id,
		})
		return fmt.Errorf("undo: redo %s: %w", id, err)
	}

	m.observe(re.item.Type, OutcomeRedone)
	m.notifier.Notify(ctx, Notification{
		Kind:      KindSuccess,
		Title:     "Action redone",
		Message:   "The action was applied again.",
		SessionID: sessionID,
		ActionID:  id,
	})
	return nil
}

// Pending lists a session's pending actions, oldest first.
func (m *Manager) Pending(sessionID string) []Pending {
	now := m.now()
	m.mu.Lock()
	out := make([]Pending, 0, len(m.pending))
	for _, e := range m.pending {
		if e.action.SessionID != sessionID {
			continue
		}
		out = append(out, Pending{Action: e.action, ExpiresAt: e.deadline, SecondsLeft: SecondsLeft(e.deadline, now)})
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Pending) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// RedoStack lists a session's redoable actions, oldest first.
func (m *Manager) RedoStack(sessionID string) []Redoable {
	now := m.now()
	m.mu.Lock()
	out := make([]Redoable, 0, len(m.redo))
	for _, re := range m.redo {
		if re.item.sessionID != sessionID {
			continue
		}
		item := re.item
		item.SecondsLeft = SecondsLeft(item.ExpiresAt, now)
		out = append(out, item)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Redoable) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Close stops every timer. Pending actions are dropped without reversal.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, e := range m.pending {
		e.timer.Stop()
		delete(m.pending, id)
	}
	for id, re := range m.redo {
		re.timer.Stop()
		delete(m.redo, id)
	}
}

// SecondsLeft is the countdown shown to the user, rounded up.
func SecondsLeft(deadline, now time.Time) int {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	e, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if ok {
		m.observe(e.action.Type, OutcomeExpired)
		m.logger.Debug("undo window closed", slog.String("id", id))
	}
}

func (m *Manager) reverse(ctx context.Context, action Action) error {
	if m.store == nil {
		return fmt.Errorf("undo: no store configured")
	}
	switch action.Type {
	case ActionMarkAsPaid:
		return m.store.RestorePayments(ctx, action.Original.Payments)
	case ActionDelete:
		return m.store.ClearDeleted(ctx, action.Data.ItemIDs)
	case ActionBulkEdit:
		return m.store.RestoreItems(ctx, action.Original.Items)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, action.Type)
	}
}

func (m *Manager) reapply(ctx context.Context, item Redoable) error {
	if m.store == nil {
		return fmt.Errorf("undo: no store configured")
	}
	switch item.Type {
	case ActionMarkAsPaid:
		return m.store.MarkPaid(ctx, item.Data.ItemIDs, m.now())
	case ActionDelete:
		return m.store.SoftDelete(ctx, item.Data.ItemIDs, m.now())
	case ActionBulkEdit:
		return m.store.ApplyChanges(ctx, item.Data.Updates)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, item.Type)
	}
}

func (m *Manager) pushRedo(action Action) {
	now := m.now()
	item := Redoable{
		ID:        "redo_" + uuid.NewString(),
		Type:      action.Type,
		Data:      action.Data,
		CreatedAt: now,
		ExpiresAt: now.Add(m.redoTimeout),
		sessionID: action.SessionID,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	re := &redoEntry{item: item}
	m.armRedo(re, m.redoTimeout)
	m.redo[item.ID] = re
}

func (m *Manager) restoreRedo(re *redoEntry) {
	remaining := re.item.ExpiresAt.Sub(m.now())
	if remaining <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.armRedo(re, remaining)
	m.redo[re.item.ID] = re
}

// armRedo starts re's expiry timer. Callers hold m.mu.
func (m *Manager) armRedo(re *redoEntry, after time.Duration) {
	re.gen++
	id, gen := re.item.ID, re.gen
	re.timer = time.AfterFunc(after, func() { m.dropRedo(id, gen) })
}

func (m *Manager) dropRedo(id string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if re, ok := m.redo[id]; ok && re.gen == gen {
		delete(m.redo, id)
	}
}

func (m *Manager) observe(t ActionType, outcome string) {
	if m.recorder != nil {
		m.recorder.ObserveUndo(string(t), outcome)
	}
}
