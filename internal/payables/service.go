package payables

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/odyssey-erp/odyssey-uistate/internal/undo"
)

// Undoer registers completed operations for reversal. Implemented by
// undo.Manager.
type Undoer interface {
	Add(ctx context.Context, action undo.Action) (undo.Action, error)
	Timeout() time.Duration
}

// Service implements the installment operations the list page triggers.
type Service struct {
	repo   Repository
	undo   Undoer
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service. undoer may be nil, in which case nothing
// is registered for reversal.
func NewService(repo Repository, undoer Undoer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, undo: undoer, logger: logger, now: time.Now}
}

// List returns one page of installments.
func (s *Service) List(ctx context.Context, filter ListFilter) (Page, error) {
	filter.Page, filter.PageSize = normalizePaging(filter.Page, filter.PageSize)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Installment{}
	}
	return Page{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// MarkPaid marks the installments paid now and registers the reversal.
func (s *Service) MarkPaid(ctx context.Context, sessionID string, ids []string) (Result, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return Result{}, ErrEmptyBatch
	}
	before, err := s.snapshot(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	if err := s.repo.MarkPaid(ctx, ids, s.now()); err != nil {
		return Result{}, err
	}
	payments := make([]undo.PaymentSnapshot, 0, len(before))
	for _, inst := range before {
		payments = append(payments, inst.paymentSnapshot())
	}
	return s.register(ctx, undo.Action{
		Type:      undo.ActionMarkAsPaid,
		SessionID: sessionID,
		Data:      undo.Data{ItemIDs: ids, Count: len(ids)},
		Original:  undo.Original{Payments: payments},
		CanRedo:   true,
	}), nil
}

// Delete soft-deletes the installments and registers the reversal.
func (s *Service) Delete(ctx context.Context, sessionID string, ids []string) (Result, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return Result{}, ErrEmptyBatch
	}
	before, err := s.snapshot(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	// Rows already in the trash belong to an earlier delete and its undo.
	live := make([]string, 0, len(before))
	for _, inst := range before {
		if inst.DeletedAt == nil {
			live = append(live, inst.ID)
		}
	}
	if len(live) == 0 {
		return Result{}, fmt.Errorf("payables: selection already in trash: %w", ErrEmptyBatch)
	}
	if err := s.repo.SoftDelete(ctx, live, s.now()); err != nil {
		return Result{}, err
	}
	return s.register(ctx, undo.Action{
		Type:      undo.ActionDelete,
		SessionID: sessionID,
		Data:      undo.Data{ItemIDs: live, Count: len(live)},
		CanRedo:   true,
	}), nil
}

// BulkEdit applies per-installment changes in one transaction and registers
// the reversal.
func (s *Service) BulkEdit(ctx context.Context, sessionID string, changes []undo.ItemChange) (Result, error) {
	if len(changes) == 0 {
		return Result{}, ErrEmptyBatch
	}
	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.ID)
	}
	ids = dedupe(ids)
	if len(ids) != len(changes) {
		return Result{}, fmt.Errorf("payables: duplicate installment in bulk edit")
	}
	before, err := s.snapshot(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	if err := s.repo.ApplyChanges(ctx, changes); err != nil {
		return Result{}, err
	}
	items := make([]undo.ItemSnapshot, 0, len(before))
	for _, inst := range before {
		items = append(items, inst.itemSnapshot())
	}
	return s.register(ctx, undo.Action{
		Type:      undo.ActionBulkEdit,
		SessionID: sessionID,
		Data:      undo.Data{ItemIDs: ids, Updates: changes, Count: len(ids)},
		Original:  undo.Original{Items: items},
		CanRedo:   true,
	}), nil
}

// Restore brings installments back from the trash.
func (s *Service) Restore(ctx context.Context, ids []string) (Result, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return Result{}, ErrEmptyBatch
	}
	if err := s.repo.ClearDeleted(ctx, ids); err != nil {
		return Result{}, err
	}
	return Result{Count: len(ids)}, nil
}

// PermanentlyDelete removes trashed installments for good.
func (s *Service) PermanentlyDelete(ctx context.Context, ids []string) (Result, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return Result{}, ErrEmptyBatch
	}
	n, err := s.repo.PermanentlyDelete(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	return Result{Count: int(n)}, nil
}

// TrashCount returns the number of soft-deleted installments.
func (s *Service) TrashCount(ctx context.Context) (int, error) {
	return s.repo.CountDeleted(ctx)
}

// PurgeTrash removes installments deleted longer than retention ago.
func (s *Service) PurgeTrash(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.PurgeDeletedBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	s.logger.Info("payables trash purged", slog.Int64("removed", n), slog.Duration("retention", retention))
	return n, nil
}

func (s *Service) snapshot(ctx context.Context, ids []string) ([]Installment, error) {
	before, err := s.repo.Snapshot(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(before) != len(ids) {
		return nil, fmt.Errorf("payables: %d of %d selected: %w", len(before), len(ids), ErrNotFound)
	}
	return before, nil
}

// register hands the action to the undo layer. The operation already
// happened, so a registration failure is logged and not returned.
func (s *Service) register(ctx context.Context, action undo.Action) Result {
	res := Result{Count: action.Data.Count}
	if s.undo == nil {
		return res
	}
	added, err := s.undo.Add(ctx, action)
	if err != nil {
		s.logger.Warn("undo registration failed", slog.String("type", string(action.Type)), slog.Any("error", err))
		return res
	}
	res.ActionID = added.ID
	res.UndoSeconds = int(s.undo.Timeout().Seconds())
	return res
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
