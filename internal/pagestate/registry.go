package pagestate

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Change describes one registry mutation delivered to listeners.
type Change struct {
	Key     string
	State   PageState
	Cleared bool
	// All is set when the whole registry was replaced (ClearAll, Import).
	All bool
}

// Listener observes registry changes. It runs outside the registry lock.
type Listener func(Change)

// Registry holds the page states of one application session. It loads its
// snapshot from the Store once and writes the full snapshot back after every
// mutation. The in-memory map stays authoritative when a save fails.
type Registry struct {
	store *Store

	mu      sync.RWMutex
	loaded  bool
	states  map[string]PageState
	version uint64

	saveMu  sync.Mutex
	written uint64
	durable uint64

	subMu   sync.RWMutex
	subs    map[uint64]Listener
	nextSub uint64
}

// NewRegistry constructs a Registry backed by store. The snapshot is loaded
// lazily on first access.
func NewRegistry(store *Store) *Registry {
	return &Registry{
		store:  store,
		states: make(map[string]PageState),
		subs:   make(map[uint64]Listener),
	}
}

// Load forces the initial snapshot load. Later calls are no-ops.
func (r *Registry) Load(ctx context.Context) {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return
	}
	r.states = r.store.Load(ctx)
	r.loaded = true
}

// GetPageState returns the stored state for key, or an empty PageState.
func (r *Registry) GetPageState(ctx context.Context, key string) PageState {
	r.Load(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[key]
	if !ok {
		return PageState{}
	}
	return state.Clone()
}

// SetPageState shallow-merges patch into the state for key.
func (r *Registry) SetPageState(ctx context.Context, key string, patch Patch) error {
	return r.update(ctx, key, patch.apply)
}

// UpdateFilters merges filters entry by entry into the stored filters.
// A nil value removes that filter.
func (r *Registry) UpdateFilters(ctx context.Context, key string, filters map[string]any) error {
	return r.update(ctx, key, func(cur PageState) PageState {
		merged := cloneAnyMap(cur.Filters)
		if merged == nil {
			merged = make(map[string]any, len(filters))
		}
		for name, value := range filters {
			if value == nil {
				delete(merged, name)
				continue
			}
			merged[name] = cloneValue(value)
		}
		return Patch{Filters: merged}.apply(cur)
	})
}

// ReplaceFilters swaps the whole filters map.
func (r *Registry) ReplaceFilters(ctx context.Context, key string, filters map[string]any) error {
	if filters == nil {
		filters = map[string]any{}
	}
	return r.SetPageState(ctx, key, Patch{Filters: filters})
}

// UpdatePagination replaces the pagination.
func (r *Registry) UpdatePagination(ctx context.Context, key string, pagination Pagination) error {
	return r.SetPageState(ctx, key, Patch{Pagination: &pagination})
}

// UpdateSorting replaces the sorting.
func (r *Registry) UpdateSorting(ctx context.Context, key string, sorting Sorting) error {
	return r.SetPageState(ctx, key, Patch{Sorting: &sorting})
}

// UpdateSelection replaces the selected items. A nil slice clears them.
func (r *Registry) UpdateSelection(ctx context.Context, key string, items []string) error {
	if items == nil {
		items = []string{}
	}
	return r.SetPageState(ctx, key, Patch{SelectedItems: items})
}

// UpdateColumnSettings replaces column order and/or visibility; nil
// arguments are left untouched.
func (r *Registry) UpdateColumnSettings(ctx context.Context, key string, order []string, visibility map[string]bool) error {
	return r.SetPageState(ctx, key, Patch{ColumnOrder: order, ColumnVisibility: visibility})
}

func (r *Registry) UpdateViewMode(ctx context.Context, key, mode string) error {
	return r.SetPageState(ctx, key, Patch{ViewMode: &mode})
}

func (r *Registry) UpdateSelectedEntity(ctx context.Context, key, entityID string) error {
	return r.SetPageState(ctx, key, Patch{SelectedEntity: &entityID})
}

func (r *Registry) UpdateSelectedAccount(ctx context.Context, key, accountID string) error {
	return r.SetPageState(ctx, key, Patch{SelectedAccount: &accountID})
}

func (r *Registry) UpdateSelectedFilial(ctx context.Context, key, filialID string) error {
	return r.SetPageState(ctx, key, Patch{SelectedFilial: &filialID})
}

func (r *Registry) UpdateSearchTerm(ctx context.Context, key, term string) error {
	return r.SetPageState(ctx, key, Patch{SearchTerm: &term})
}

func (r *Registry) UpdateDateRange(ctx context.Context, key string, dateRange DateRange) error {
	return r.SetPageState(ctx, key, Patch{DateRange: &dateRange})
}

// UpdateCustomSetting sets one entry of customSettings, keeping the others.
func (r *Registry) UpdateCustomSetting(ctx context.Context, key, name string, value any) error {
	return r.update(ctx, key, func(cur PageState) PageState {
		settings := cloneAnyMap(cur.CustomSettings)
		if settings == nil {
			settings = make(map[string]any, 1)
		}
		settings[name] = cloneValue(value)
		return Patch{CustomSettings: settings}.apply(cur)
	})
}

// ClearPageState removes key entirely.
func (r *Registry) ClearPageState(ctx context.Context, key string) error {
	return r.update(ctx, key, func(PageState) PageState { return PageState{} })
}

// ClearAll drops every page state.
func (r *Registry) ClearAll(ctx context.Context) {
	r.replace(ctx, make(map[string]PageState), true)
}

// Export returns the registry snapshot as JSON.
func (r *Registry) Export(ctx context.Context) (string, error) {
	r.Load(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return encodeSnapshot(r.states)
}

// Import replaces the registry with a JSON snapshot. Malformed input is
// rejected and the current state kept.
func (r *Registry) Import(ctx context.Context, raw string) error {
	states, err := decodeSnapshot(raw)
	if err != nil {
		return err
	}
	r.replace(ctx, states, false)
	return nil
}

// Keys lists the page keys with stored state, sorted.
func (r *Registry) Keys(ctx context.Context) []string {
	r.Load(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := slices.AppendSeq(make([]string, 0, len(r.states)), maps.Keys(r.states))
	slices.Sort(keys)
	return keys
}

// Dirty reports whether the latest snapshot has not been saved successfully.
func (r *Registry) Dirty() bool {
	r.mu.RLock()
	version := r.version
	r.mu.RUnlock()
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	return r.durable < version
}

// Flush re-saves the current snapshot when the last save did not succeed.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.RLock()
	if !r.loaded {
		r.mu.RUnlock()
		return nil
	}
	version := r.version
	snapshot := cloneSnapshot(r.states)
	r.mu.RUnlock()

	r.saveMu.Lock()
	done := r.durable >= version
	r.saveMu.Unlock()
	if done {
		return nil
	}
	return r.persist(ctx, version, snapshot)
}

// Subscribe registers l for change notifications.
func (r *Registry) Subscribe(l Listener) (cancel func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = l
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) update(ctx context.Context, key string, fn func(PageState) PageState) error {
	if key == "" {
		return ErrEmptyKey
	}
	r.Load(ctx)

	r.mu.Lock()
	next := fn(r.states[key])
	cleared := next.IsEmpty()
	if cleared {
		delete(r.states, key)
		next = PageState{}
	} else {
		r.states[key] = next
	}
	r.version++
	version := r.version
	snapshot := cloneSnapshot(r.states)
	r.mu.Unlock()

	_ = r.persist(ctx, version, snapshot)
	r.notify(Change{Key: key, State: next.Clone(), Cleared: cleared})
	return nil
}

func (r *Registry) replace(ctx context.Context, states map[string]PageState, cleared bool) {
	r.mu.Lock()
	r.loaded = true
	r.states = states
	r.version++
	version := r.version
	snapshot := cloneSnapshot(r.states)
	r.mu.Unlock()

	_ = r.persist(ctx, version, snapshot)
	r.notify(Change{Cleared: cleared, All: true})
}

// persist saves snapshot unless a newer version was already written.
func (r *Registry) persist(ctx context.Context, version uint64, snapshot map[string]PageState) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if version < r.written {
		return nil
	}
	r.written = version
	if err := r.store.Save(ctx, snapshot); err != nil {
		return err
	}
	if version > r.durable {
		r.durable = version
	}
	return nil
}

func (r *Registry) notify(change Change) {
	r.subMu.RLock()
	listeners := make([]Listener, 0, len(r.subs))
	for _, l := range r.subs {
		listeners = append(listeners, l)
	}
	r.subMu.RUnlock()
	for _, l := range listeners {
		l(change)
	}
}
