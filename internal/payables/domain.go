package payables

import (
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-uistate/internal/undo"
)

// Status enumerates installment statuses as stored in ap_installments.
type Status string

const (
	StatusPending  Status = "pendente"
	StatusPaid     Status = "pago"
	StatusOverdue  Status = "vencido"
	StatusCanceled Status = "cancelado"
)

var (
	ErrNotFound   = errors.New("installment not found")
	ErrEmptyBatch = errors.New("no installments selected")
)

// Installment is one payable installment (ap_installments row).
type Installment struct {
	ID            string     `json:"id"`
	Description   string     `json:"description"`
	Supplier      string     `json:"supplier"`
	Amount        float64    `json:"amount"`
	Category      *string    `json:"category,omitempty"`
	Status        Status     `json:"status"`
	DueDate       time.Time  `json:"dueDate"`
	PaymentMethod *string    `json:"paymentMethod,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	Bank          *string    `json:"bank,omitempty"`
	PaidOn        *time.Time `json:"paidOn,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
}

func (i Installment) paymentSnapshot() undo.PaymentSnapshot {
	return undo.PaymentSnapshot{ID: i.ID, Status: string(i.Status), PaidOn: i.PaidOn, PaidAt: i.PaidAt}
}

func (i Installment) itemSnapshot() undo.ItemSnapshot {
	return undo.ItemSnapshot{
		ID:            i.ID,
		Category:      i.Category,
		Status:        string(i.Status),
		DueDate:       i.DueDate,
		PaymentMethod: i.PaymentMethod,
		Notes:         i.Notes,
		Bank:          i.Bank,
		PaidOn:        i.PaidOn,
		PaidAt:        i.PaidAt,
	}
}

// ListFilter narrows an installment listing.
type ListFilter struct {
	Status    Status
	Search    string
	Category  string
	DueFrom   *time.Time
	DueTo     *time.Time
	SortBy    string
	SortDesc  bool
	Page      int
	PageSize  int
	OnlyTrash bool
}

// Page is one page of installments.
type Page struct {
	Items    []Installment `json:"items"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// sortColumns maps sortable API names to ap_installments columns.
var sortColumns = map[string]string{
	"dueDate":     "data_vencimento",
	"amount":      "valor",
	"supplier":    "fornecedor",
	"description": "descricao",
	"status":      "status",
	"category":    "categoria",
	"paidOn":      "data_pagamento",
}

// Result reports a completed batch operation and the undo handle for it.
type Result struct {
	Count       int    `json:"count"`
	ActionID    string `json:"actionId,omitempty"`
	UndoSeconds int    `json:"undoSeconds,omitempty"`
}
