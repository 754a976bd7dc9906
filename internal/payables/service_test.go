package payables

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-uistate/internal/undo"
)

type memoryRepo struct {
	mu    sync.Mutex
	items map[string]Installment
}

func newMemoryRepo(items ...Installment) *memoryRepo {
	repo := &memoryRepo{items: make(map[string]Installment)}
	for _, it := range items {
		repo.items[it.ID] = it
	}
	return repo
}

func (r *memoryRepo) get(id string) Installment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id]
}

func (r *memoryRepo) List(_ context.Context, filter ListFilter) ([]Installment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Installment
	for _, it := range r.items {
		if (it.DeletedAt != nil) != filter.OnlyTrash {
			continue
		}
		if filter.Status != "" && it.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(it.Supplier+" "+it.Description), strings.ToLower(filter.Search)) {
			continue
		}
		matched = append(matched, it)
	}
	slices.SortFunc(matched, func(a, b Installment) int { return cmp.Compare(a.ID, b.ID) })
	if filter.SortDesc {
		slices.Reverse(matched)
	}
	page, size := normalizePaging(filter.Page, filter.PageSize)
	start := min((page-1)*size, len(matched))
	end := min(start+size, len(matched))
	return matched[start:end], len(matched), nil
}

func (r *memoryRepo) Snapshot(_ context.Context, ids []string) ([]Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Installment
	for _, id := range ids {
		if it, ok := r.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *memoryRepo) MarkPaid(_ context.Context, ids []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		it, ok := r.items[id]
		if !ok || it.DeletedAt != nil {
			continue
		}
		day := at.Truncate(24 * time.Hour)
		it.Status, it.PaidOn, it.PaidAt = StatusPaid, &day, &at
		r.items[id] = it
	}
	return nil
}

func (r *memoryRepo) SoftDelete(_ context.Context, ids []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if it, ok := r.items[id]; ok && it.DeletedAt == nil {
			it.DeletedAt = &at
			r.items[id] = it
		}
	}
	return nil
}

func (r *memoryRepo) ClearDeleted(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if it, ok := r.items[id]; ok {
			it.DeletedAt = nil
			r.items[id] = it
		}
	}
	return nil
}

func (r *memoryRepo) RestorePayments(_ context.Context, payments []undo.PaymentSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range payments {
		it := r.items[p.ID]
		it.Status, it.PaidOn, it.PaidAt = Status(p.Status), p.PaidOn, p.PaidAt
		r.items[p.ID] = it
	}
	return nil
}

func (r *memoryRepo) RestoreItems(_ context.Context, items []undo.ItemSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, snap := range items {
		if _, ok := r.items[snap.ID]; !ok {
			return ErrNotFound
		}
	}
	for _, snap := range items {
		it := r.items[snap.ID]
		it.Category, it.Status, it.DueDate = snap.Category, Status(snap.Status), snap.DueDate
		it.PaymentMethod, it.Notes, it.Bank = snap.PaymentMethod, snap.Notes, snap.Bank
		it.PaidOn, it.PaidAt = snap.PaidOn, snap.PaidAt
		r.items[snap.ID] = it
	}
	return nil
}

func (r *memoryRepo) ApplyChanges(_ context.Context, changes []undo.ItemChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range changes {
		if _, ok := r.items[c.ID]; !ok {
			return ErrNotFound
		}
	}
	for _, c := range changes {
		it := r.items[c.ID]
		if c.Category != nil {
			it.Category = c.Category
		}
		if c.Status != nil {
			it.Status = Status(*c.Status)
		}
		if c.DueDate != nil {
			it.DueDate = *c.DueDate
		}
		if c.PaymentMethod != nil {
			it.PaymentMethod = c.PaymentMethod
		}
		if c.Notes != nil {
			it.Notes = c.Notes
		}
		if c.Bank != nil {
			it.Bank = c.Bank
		}
		r.items[c.ID] = it
	}
	return nil
}

func (r *memoryRepo) PermanentlyDelete(_ context.Context, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if it, ok := r.items[id]; ok && it.DeletedAt != nil {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) CountDeleted(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.DeletedAt != nil {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) PurgeDeletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, it := range r.items {
		if it.DeletedAt != nil && it.DeletedAt.Before(cutoff) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

func strPtr(s string) *string { return &s }

func fixtureInstallments() []Installment {
	paidOn := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	return []Installment{
		{ID: "A", Description: "Rent", Supplier: "Acme", Amount: 1200, Category: strPtr("rent"), Status: StatusPending, DueDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{ID: "B", Description: "Power", Supplier: "Volt", Amount: 310, Status: StatusOverdue, DueDate: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)},
		{ID: "C", Description: "Water", Supplier: "Aqua", Amount: 90, Status: StatusPaid, DueDate: time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC), PaidOn: &paidOn},
	}
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *undo.Manager) {
	t.Helper()
	repo := newMemoryRepo(fixtureInstallments()...)
	manager := undo.NewManager(undo.Config{Store: repo, Timeout: time.Minute})
	t.Cleanup(manager.Close)
	return NewService(repo, manager, nil), repo, manager
}

func TestMarkPaidUndoRestoresEachInstallment(t *testing.T) {
	svc, repo, manager := newTestService(t)
	ctx := context.Background()

	res, err := svc.MarkPaid(ctx, "s1", []string{"A", "B", "A"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	require.NotEmpty(t, res.ActionID)
	require.Equal(t, 60, res.UndoSeconds)
	require.Equal(t, StatusPaid, repo.get("A").Status)
	require.Equal(t, StatusPaid, repo.get("B").Status)

	require.NoError(t, manager.Undo(ctx, "s1", res.ActionID))
	require.Equal(t, StatusPending, repo.get("A").Status)
	require.Nil(t, repo.get("A").PaidOn)
	require.Equal(t, StatusOverdue, repo.get("B").Status)
}

func TestDeleteUndoClearsMarker(t *testing.T) {
	svc, repo, manager := newTestService(t)
	ctx := context.Background()

	res, err := svc.Delete(ctx, "s1", []string{"A", "B"})
	require.NoError(t, err)
	count, err := svc.TrashCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, manager.Undo(ctx, "s1", res.ActionID))
	require.Nil(t, repo.get("A").DeletedAt)
	require.Nil(t, repo.get("B").DeletedAt)
}

func TestDeleteUndoLeavesEarlierTrashAlone(t *testing.T) {
	svc, repo, manager := newTestService(t)
	ctx := context.Background()

	_, err := svc.Delete(ctx, "s1", []string{"A"})
	require.NoError(t, err)
	res, err := svc.Delete(ctx, "s1", []string{"A", "B"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)

	require.NoError(t, manager.Undo(ctx, "s1", res.ActionID))
	require.NotNil(t, repo.get("A").DeletedAt)
	require.Nil(t, repo.get("B").DeletedAt)

	_, err = svc.Delete(ctx, "s1", []string{"A"})
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestBulkEditUndoWritesBackOriginals(t *testing.T) {
	svc, repo, manager := newTestService(t)
	ctx := context.Background()
	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	res, err := svc.BulkEdit(ctx, "s1", []undo.ItemChange{
		{ID: "A", Category: strPtr("utilities"), DueDate: &due},
		{ID: "B", Notes: strPtr("call supplier")},
	})
	require.NoError(t, err)
	require.Equal(t, "utilities", *repo.get("A").Category)
	require.Equal(t, "call supplier", *repo.get("B").Notes)

	require.NoError(t, manager.Undo(ctx, "s1", res.ActionID))
	require.Equal(t, "rent", *repo.get("A").Category)
	require.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), repo.get("A").DueDate)
	require.Nil(t, repo.get("B").Notes)
}

func TestBulkEditRejectsDuplicates(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.BulkEdit(context.Background(), "s1", []undo.ItemChange{{ID: "A"}, {ID: "A"}})
	require.Error(t, err)
}

func TestOperationsRequireKnownInstallments(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.MarkPaid(ctx, "s1", []string{"A", "missing"})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, StatusPending, repo.get("A").Status)

	_, err = svc.Delete(ctx, "s1", nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestRedoAfterUndoReappliesDelete(t *testing.T) {
	svc, repo, manager := newTestService(t)
	ctx := context.Background()

	res, err := svc.Delete(ctx, "s1", []string{"C"})
	require.NoError(t, err)
	require.NoError(t, manager.Undo(ctx, "s1", res.ActionID))
	require.Nil(t, repo.get("C").DeletedAt)

	stack := manager.RedoStack("s1")
	require.Len(t, stack, 1)
	require.NoError(t, manager.Redo(ctx, "s1", stack[0].ID))
	require.NotNil(t, repo.get("C").DeletedAt)
}

func TestTrashRestorePurge(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	_, err := svc.Delete(ctx, "s1", []string{"A", "B", "C"})
	require.NoError(t, err)
	_, err = svc.Restore(ctx, []string{"A"})
	require.NoError(t, err)

	res, err := svc.PermanentlyDelete(ctx, []string{"A", "B"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)

	svc.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	removed, err := svc.PurgeTrash(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	_, err = svc.TrashCount(ctx)
	require.NoError(t, err)
	require.Equal(t, "Rent", repo.get("A").Description)
}

func TestServiceWithoutUndoer(t *testing.T) {
	repo := newMemoryRepo(fixtureInstallments()...)
	svc := NewService(repo, nil, nil)
	res, err := svc.Delete(context.Background(), "s1", []string{"A"})
	require.NoError(t, err)
	require.Empty(t, res.ActionID)
	require.Equal(t, 1, res.Count)
}
