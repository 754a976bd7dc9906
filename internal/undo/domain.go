package undo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ActionType enumerates reversible operations.
type ActionType string

const (
	ActionMarkAsPaid ActionType = "markAsPaid"
	ActionDelete     ActionType = "delete"
	ActionBulkEdit   ActionType = "bulkEdit"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionMarkAsPaid, ActionDelete, ActionBulkEdit:
		return true
	}
	return false
}

var (
	ErrInvalidAction    = errors.New("undo: invalid action")
	ErrActionNotPending = errors.New("undo: action not pending")
	ErrRedoNotAvailable = errors.New("undo: redo not available")
	ErrReversalFailed   = errors.New("undo: reversal failed")
)

// PaymentSnapshot is the payment state of one installment before it was
// marked as paid.
type PaymentSnapshot struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	PaidOn *time.Time `json:"paidOn,omitempty"`
	PaidAt *time.Time `json:"paidAt,omitempty"`
}

// ItemSnapshot is the editable state of one installment before a bulk edit.
type ItemSnapshot struct {
	ID            string     `json:"id"`
	Category      *string    `json:"category,omitempty"`
	Status        string     `json:"status"`
	DueDate       time.Time  `json:"dueDate"`
	PaymentMethod *string    `json:"paymentMethod,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	Bank          *string    `json:"bank,omitempty"`
	PaidOn        *time.Time `json:"paidOn,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
}

// ItemChange is one installment's bulk-edit patch; nil fields are untouched.
type ItemChange struct {
	ID            string     `json:"id" validate:"required"`
	Category      *string    `json:"category,omitempty"`
	Status        *string    `json:"status,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	PaymentMethod *string    `json:"paymentMethod,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	Bank          *string    `json:"bank,omitempty"`
}

// Data is the payload of the completed operation.
type Data struct {
	ItemIDs []string     `json:"itemIds,omitempty"`
	Updates []ItemChange `json:"updates,omitempty"`
	Count   int          `json:"count,omitempty"`
}

// Original is the pre-operation state needed to reverse it.
type Original struct {
	Payments []PaymentSnapshot `json:"payments,omitempty"`
	Items    []ItemSnapshot    `json:"items,omitempty"`
}

// Action is a completed operation that can still be reversed.
type Action struct {
	ID        string     `json:"id"`
	Type      ActionType `json:"type"`
	SessionID string     `json:"-"`
	Data      Data       `json:"data"`
	Original  Original   `json:"-"`
	CreatedAt time.Time  `json:"timestamp"`
	CanRedo   bool       `json:"canRedo"`
}

// Count is the number of records the action touched.
func (a Action) Count() int {
	switch {
	case len(a.Data.ItemIDs) > 0:
		return len(a.Data.ItemIDs)
	case len(a.Original.Items) > 0:
		return len(a.Original.Items)
	case a.Data.Count > 0:
		return a.Data.Count
	}
	return 1
}

func (a Action) validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
	switch a.Type {
	case ActionMarkAsPaid:
		if len(a.Original.Payments) == 0 {
			return fmt.Errorf("%w: markAsPaid requires payment snapshots", ErrInvalidAction)
		}
	case ActionDelete:
		if len(a.Data.ItemIDs) == 0 {
			return fmt.Errorf("%w: delete requires item ids", ErrInvalidAction)
		}
	case ActionBulkEdit:
		if len(a.Original.Items) == 0 {
			return fmt.Errorf("%w: bulkEdit requires item snapshots", ErrInvalidAction)
		}
	}
	return nil
}

// Store is the external data store reversal and redo procedures write to.
type Store interface {
	RestorePayments(ctx context.Context, payments []PaymentSnapshot) error
	ClearDeleted(ctx context.Context, ids []string) error
	// RestoreItems writes every snapshot back or none of them.
	RestoreItems(ctx context.Context, items []ItemSnapshot) error

	MarkPaid(ctx context.Context, ids []string, at time.Time) error
	SoftDelete(ctx context.Context, ids []string, at time.Time) error
	ApplyChanges(ctx context.Context, changes []ItemChange) error
}

// Recorder receives action outcomes. Implemented by observability.Metrics.
type Recorder interface {
	ObserveUndo(actionType, outcome string)
}

// Outcome labels reported to Recorder.
const (
	OutcomeCreated    = "created"
	OutcomeReversed   = "reversed"
	OutcomeExpired    = "expired"
	OutcomeFailed     = "failed"
	OutcomeRedone     = "redone"
	OutcomeRedoFailed = "redo_failed"
)
