package undo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type storeCall struct {
	method string
	ids    []string
}

type fakeStore struct {
	mu       sync.Mutex
	calls    []storeCall
	payments []PaymentSnapshot
	items    []ItemSnapshot
	changes  []ItemChange
	err      error
}

func (f *fakeStore) record(method string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{method: method, ids: append([]string(nil), ids...)})
	return f.err
}

func (f *fakeStore) RestorePayments(_ context.Context, payments []PaymentSnapshot) error {
	ids := make([]string, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.ID)
	}
	f.mu.Lock()
	f.payments = payments
	f.mu.Unlock()
	return f.record("RestorePayments", ids)
}

func (f *fakeStore) ClearDeleted(_ context.Context, ids []string) error {
	return f.record("ClearDeleted", ids)
}

func (f *fakeStore) RestoreItems(_ context.Context, items []ItemSnapshot) error {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
	return f.record("RestoreItems", ids)
}

func (f *fakeStore) MarkPaid(_ context.Context, ids []string, _ time.Time) error {
	return f.record("MarkPaid", ids)
}

func (f *fakeStore) SoftDelete(_ context.Context, ids []string, _ time.Time) error {
	return f.record("SoftDelete", ids)
}

func (f *fakeStore) ApplyChanges(_ context.Context, changes []ItemChange) error {
	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.ID)
	}
	f.mu.Lock()
	f.changes = changes
	f.mu.Unlock()
	return f.record("ApplyChanges", ids)
}

func (f *fakeStore) snapshot() []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storeCall(nil), f.calls...)
}

type notifications struct {
	mu   sync.Mutex
	list []Notification
}

func (n *notifications) Notify(_ context.Context, note Notification) {
	n.mu.Lock()
	n.list = append(n.list, note)
	n.mu.Unlock()
}

func (n *notifications) last() Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.list[len(n.list)-1]
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) ObserveUndo(actionType, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[actionType+"/"+outcome]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func newTestManager(t *testing.T, store *fakeStore, timeout time.Duration) (*Manager, *notifications, *countingRecorder) {
	t.Helper()
	notes := &notifications{}
	rec := &countingRecorder{}
	m := NewManager(Config{Store: store, Notifier: notes, Recorder: rec, Timeout: timeout, RedoTimeout: time.Minute})
	t.Cleanup(m.Close)
	return m, notes, rec
}

func deleteAction(session string, ids ...string) Action {
	return Action{Type: ActionDelete, SessionID: session, Data: Data{ItemIDs: ids}}
}

func TestUndoDeleteClearsDeletedOnce(t *testing.T) {
	store := &fakeStore{}
	m, notes, rec := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	action, err := m.Add(ctx, deleteAction("s1", "A", "B"))
	require.NoError(t, err)
	require.NotEmpty(t, action.ID)
	require.True(t, notes.last().Undoable)

	require.NoError(t, m.Undo(ctx, "s1", action.ID))
	require.Equal(t, []storeCall{{method: "ClearDeleted", ids: []string{"A", "B"}}}, store.snapshot())
	require.Empty(t, m.Pending("s1"))
	require.Equal(t, KindSuccess, notes.last().Kind)
	require.Equal(t, 1, rec.get("delete/reversed"))
}

func TestUndoTwiceReversesOnce(t *testing.T) {
	store := &fakeStore{}
	m, _, _ := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	action, err := m.Add(ctx, deleteAction("s1", "A"))
	require.NoError(t, err)
	require.NoError(t, m.Undo(ctx, "s1", action.ID))
	require.ErrorIs(t, m.Undo(ctx, "s1", action.ID), ErrActionNotPending)
	require.Len(t, store.snapshot(), 1)
}

func TestConcurrentUndoHasSingleWinner(t *testing.T) {
	store := &fakeStore{}
	m, _, _ := newTestManager(t, store, time.Minute)
	ctx := context.Background()
	action, err := m.Add(ctx, deleteAction("s1", "A"))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Undo(ctx, "s1", action.ID) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Len(t, store.snapshot(), 1)
}

func TestActionExpiresWithoutReversal(t *testing.T) {
	store := &fakeStore{}
	m, _, rec := newTestManager(t, store, 20*time.Millisecond)
	ctx := context.Background()

	action, err := m.Add(ctx, deleteAction("s1", "A"))
	require.NoError(t, err)
	require.Len(t, m.Pending("s1"), 1)

	require.Eventually(t, func() bool { return len(m.Pending("s1")) == 0 }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, m.Undo(ctx, "s1", action.ID), ErrActionNotPending)
	require.Empty(t, store.snapshot())
	require.Equal(t, 1, rec.get("delete/expired"))
}

func TestReversalFailureStillRemovesAction(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	m, notes, rec := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	action, err := m.Add(ctx, deleteAction("s1", "A"))
	require.NoError(t, err)

	err = m.Undo(ctx, "s1", action.ID)
	require.ErrorIs(t, err, ErrReversalFailed)
	require.Empty(t, m.Pending("s1"))
	require.Equal(t, KindError, notes.last().Kind)
	require.Equal(t, 1, rec.get("delete/failed"))
}

func TestUndoMarkAsPaidRestoresEachSnapshot(t *testing.T) {
	store := &fakeStore{}
	m, _, _ := newTestManager(t, store, time.Minute)
	ctx := context.Background()
	paidOn := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	payments := []PaymentSnapshot{
		{ID: "A", Status: "pendente"},
		{ID: "B", Status: "pago", PaidOn: &paidOn},
	}
	action, err := m.Add(ctx, Action{
		Type:      ActionMarkAsPaid,
		SessionID: "s1",
		Data:      Data{ItemIDs: []string{"A", "B"}},
		Original:  Original{Payments: payments},
	})
	require.NoError(t, err)
	require.NoError(t, m.Undo(ctx, "s1", action.ID))

	require.Equal(t, payments, store.payments)
	require.Equal(t, "RestorePayments", store.snapshot()[0].method)
}

func TestUndoBulkEditRestoresItems(t *testing.T) {
	store := &fakeStore{}
	m, _, _ := newTestManager(t, store, time.Minute)
	ctx := context.Background()
	category := "rent"
	items := []ItemSnapshot{
		{ID: "A", Category: &category, Status: "pendente", DueDate: time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)},
		{ID: "B", Status: "pendente", DueDate: time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)},
	}
	action, err := m.Add(ctx, Action{Type: ActionBulkEdit, SessionID: "s1", Original: Original{Items: items}})
	require.NoError(t, err)
	require.Equal(t, 2, action.Count())

	require.NoError(t, m.Undo(ctx, "s1", action.ID))
	require.Equal(t, items, store.items)
}

func TestUndoRequiresOwningSession(t *testing.T) {
	store := &fakeStore{}
	m, _, _ := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	action, err := m.Add(ctx, deleteAction("s1", "A"))
	require.NoError(t, err)
	require.Empty(t, m.Pending("s2"))
	require.ErrorIs(t, m.Undo(ctx, "s2", action.ID), ErrActionNotPending)
	require.Len(t, m.Pending("s1"), 1)
}

func TestAddRejectsIncompleteActions(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeStore{}, time.Minute)
	ctx := context.Background()

	_, err := m.Add(ctx, Action{Type: "archive", SessionID: "s1"})
	require.ErrorIs(t, err, ErrInvalidAction)
	_, err = m.Add(ctx, Action{Type: ActionDelete, SessionID: "s1"})
	require.ErrorIs(t, err, ErrInvalidAction)
	_, err = m.Add(ctx, Action{Type: ActionMarkAsPaid, SessionID: "s1", Data: Data{ItemIDs: []string{"A"}}})
	require.ErrorIs(t, err, ErrInvalidAction)
}

func TestRedoReappliesReversedAction(t *testing.T) {
	store := &fakeStore{}
	m, _, rec := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	action := deleteAction("s1", "A", "B")
	action.CanRedo = true
	added, err := m.Add(ctx, action)
	require.NoError(t, err)
	require.NoError(t, m.Undo(ctx, "s1", added.ID))

	stack := m.RedoStack("s1")
	require.Len(t, stack, 1)
	require.Equal(t, ActionDelete, stack[0].Type)

	require.NoError(t, m.Redo(ctx, "s1", stack[0].ID))
	calls := store.snapshot()
	require.Equal(t, storeCall{method: "SoftDelete", ids: []string{"A", "B"}}, calls[len(calls)-1])
	require.Empty(t, m.RedoStack("s1"))
	require.Equal(t, 1, rec.get("delete/redone"))
	require.ErrorIs(t, m.Redo(ctx, "s1", stack[0].ID), ErrRedoNotAvailable)
}

func TestFailedRedoStaysAvailable(t *testing.T) {
	store := &fakeStore{}
	m, _, _ := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	action := deleteAction("s1", "A")
	action.CanRedo = true
	added, err := m.Add(ctx, action)
	require.NoError(t, err)
	require.NoError(t, m.Undo(ctx, "s1", added.ID))

	store.mu.Lock()
	store.err = errors.New("db down")
	store.mu.Unlock()

	stack := m.RedoStack("s1")
	require.Len(t, stack, 1)
	require.Error(t, m.Redo(ctx, "s1", stack[0].ID))
	require.Len(t, m.RedoStack("s1"), 1)
}

func TestStaleRedoTimerKeepsRearmedEntry(t *testing.T) {
	store := &fakeStore{}
	m, _, _ := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	action := deleteAction("s1", "A")
	action.CanRedo = true
	added, err := m.Add(ctx, action)
	require.NoError(t, err)
	require.NoError(t, m.Undo(ctx, "s1", added.ID))

	id := m.RedoStack("s1")[0].ID
	m.mu.Lock()
	staleGen := m.redo[id].gen
	m.mu.Unlock()

	// a failed redo re-arms the entry; the timer armed before it fires late
	store.mu.Lock()
	store.err = errors.New("db down")
	store.mu.Unlock()
	require.Error(t, m.Redo(ctx, "s1", id))

	m.dropRedo(id, staleGen)
	require.Len(t, m.RedoStack("s1"), 1)

	m.mu.Lock()
	current := m.redo[id].gen
	m.mu.Unlock()
	m.dropRedo(id, current)
	require.Empty(t, m.RedoStack("s1"))
}

func TestActionsWithoutRedoSkipStack(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeStore{}, time.Minute)
	ctx := context.Background()
	added, err := m.Add(ctx, deleteAction("s1", "A"))
	require.NoError(t, err)
	require.NoError(t, m.Undo(ctx, "s1", added.ID))
	require.Empty(t, m.RedoStack("s1"))
}

func TestSecondsLeftRoundsUp(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 8, SecondsLeft(now.Add(8*time.Second), now))
	require.Equal(t, 8, SecondsLeft(now.Add(7200*time.Millisecond), now))
	require.Equal(t, 1, SecondsLeft(now.Add(time.Millisecond), now))
	require.Equal(t, 0, SecondsLeft(now.Add(-time.Second), now))
}

func TestPendingCountdownUsesClock(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m := NewManager(Config{Store: &fakeStore{}, Timeout: time.Hour, Now: clock})
	t.Cleanup(m.Close)

	_, err := m.Add(context.Background(), deleteAction("s1", "A"))
	require.NoError(t, err)

	mu.Lock()
	now = base.Add(59*time.Minute + 52*time.Second + 500*time.Millisecond)
	mu.Unlock()

	pending := m.Pending("s1")
	require.Len(t, pending, 1)
	require.Equal(t, 8, pending[0].SecondsLeft)
}
