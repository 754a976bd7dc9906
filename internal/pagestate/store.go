package pagestate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Medium is the durable string-valued slot a registry snapshot lives in.
// ok reports whether anything was stored.
type Medium interface {
	Load(ctx context.Context) (raw string, ok bool, err error)
	Save(ctx context.Context, raw string) error
}

// Observer receives durability outcomes. Implemented by observability.Metrics.
type Observer interface {
	ObservePageStateLoad(outcome string)
	ObservePageStateSave(outcome string)
}

// Outcome labels reported to Observer.
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeError     = "error"
	OutcomeMalformed = "malformed"
)

// Store adapts a Medium to registry snapshots. Load and Save fail soft.
type Store struct {
	medium   Medium
	logger   *slog.Logger
	observer Observer
}

// NewStore constructs a Store. logger and observer may be nil.
func NewStore(medium Medium, logger *slog.Logger, observer Observer) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{medium: medium, logger: logger, observer: observer}
}

// Load returns the persisted snapshot, or an empty one when the medium is
// empty, unavailable or holds malformed data.
func (s *Store) Load(ctx context.Context) map[string]PageState {
	states := make(map[string]PageState)
	if s == nil || s.medium == nil {
		return states
	}
	raw, ok, err := s.medium.Load(ctx)
	if err != nil {
		s.logger.Warn("pagestate load failed", slog.Any("error", err))
		s.observe(true, OutcomeError)
		return states
	}
	if !ok || raw == "" {
		s.observe(true, OutcomeEmpty)
		return states
	}
	decoded, err := decodeSnapshot(raw)
	if err != nil {
		s.logger.Warn("pagestate snapshot malformed", slog.Any("error", err))
		s.observe(true, OutcomeMalformed)
		return states
	}
	s.observe(true, OutcomeOK)
	return decoded
}

// Save writes the full snapshot. Failures are logged and returned; the
// previous durable value is left as the medium had it.
func (s *Store) Save(ctx context.Context, states map[string]PageState) error {
	if s == nil || s.medium == nil {
		return nil
	}
	raw, err := encodeSnapshot(states)
	if err != nil {
		s.logger.Warn("pagestate snapshot encode failed", slog.Any("error", err))
		s.observe(false, OutcomeError)
		return err
	}
	if err := s.medium.Save(ctx, raw); err != nil {
		s.logger.Warn("pagestate save failed", slog.Any("error", err))
		s.observe(false, OutcomeError)
		return err
	}
	s.observe(false, OutcomeOK)
	return nil
}

func (s *Store) observe(load bool, outcome string) {
	if s.observer == nil {
		return
	}
	if load {
		s.observer.ObservePageStateLoad(outcome)
		return
	}
	s.observer.ObservePageStateSave(outcome)
}

func encodeSnapshot(states map[string]PageState) (string, error) {
	data, err := json.Marshal(states)
	if err != nil {
		return "", fmt.Errorf("pagestate: encode snapshot: %w", err)
	}
	return string(data), nil
}

// decodeSnapshot parses a snapshot and drops entries that decode empty.
func decodeSnapshot(raw string) (map[string]PageState, error) {
	var states map[string]PageState
	if err := json.Unmarshal([]byte(raw), &states); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	out := make(map[string]PageState, len(states))
	for key, state := range states {
		if key == "" || state.IsEmpty() {
			continue
		}
		out[key] = state
	}
	return out, nil
}
