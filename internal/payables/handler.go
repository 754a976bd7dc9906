package payables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
	"github.com/odyssey-erp/odyssey-uistate/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-uistate/internal/shared"
	"github.com/odyssey-erp/odyssey-uistate/internal/undo"
)

// Handler exposes installment operations.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers payables routes. The list route expects
// pagestate.Middleware upstream and falls back to a throwaway page state.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/installments", h.list)
	r.Post("/installments/mark-paid", h.markPaid)
	r.Post("/installments/delete", h.delete)
	r.Post("/installments/bulk-edit", h.bulkEdit)
	r.Post("/installments/restore", h.restore)
	r.Get("/trash/count", h.trashCount)
	r.Post("/trash/purge", h.purge)
}

// ListColumns are the installment table's default columns.
var ListColumns = []pagestate.Column{
	{Key: "description", Label: "Description", Visible: true, Sortable: true, Order: 0},
	{Key: "supplier", Label: "Supplier", Visible: true, Sortable: true, Order: 1},
	{Key: "category", Label: "Category", Visible: true, Sortable: true, Order: 2},
	{Key: "dueDate", Label: "Due date", Visible: true, Sortable: true, Order: 3},
	{Key: "amount", Label: "Amount", Visible: true, Sortable: true, Order: 4},
	{Key: "status", Label: "Status", Visible: true, Sortable: true, Order: 5},
	{Key: "paymentMethod", Label: "Payment method", Visible: false, Order: 6},
	{Key: "bank", Label: "Bank", Visible: false, Order: 7},
	{Key: "notes", Label: "Notes", Visible: false, Order: 8},
}

var listDefaults = pagestate.Defaults{
	Filters:    map[string]any{"status": ""},
	Pagination: pagestate.Pagination{Page: 1, PageSize: 50},
	Sorting:    pagestate.Sorting{Column: "dueDate", Direction: pagestate.DirectionAsc},
}

type idsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
}

type bulkEditRequest struct {
	Changes []undo.ItemChange `json:"changes" validate:"required,min=1,max=500,dive"`
}

type listResponse struct {
	Page
	State   pagestate.View     `json:"state"`
	Columns []pagestate.Column `json:"columns"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, err := pagestate.FromContext(ctx)
	if err != nil {
		page = pagestate.NewRegistry(pagestate.NewStore(nil, nil, nil)).Page(r.URL.Path)
	}
	if err := applyQuery(ctx, page, r.URL.Query()); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	view := page.Resolve(ctx, listDefaults)
	result, err := h.service.List(ctx, filterFromView(view, r.URL.Query().Get("trash") == "1"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	columns := pagestate.VisibleColumns(pagestate.ColumnsFromState(ListColumns, page.State(ctx)))
	httpx.JSON(w, http.StatusOK, listResponse{Page: result, State: view, Columns: columns})
}

// applyQuery persists explicit query-string choices into the page state so
// they survive the next visit.
func applyQuery(ctx context.Context, page *pagestate.Page, q url.Values) error {
	filters := map[string]any{}
	for _, name := range []string{"status", "search", "category"} {
		if q.Has(name) {
			filters[name] = q.Get(name)
		}
	}
	if len(filters) > 0 {
		if err := page.UpdateFilters(ctx, filters); err != nil {
			return err
		}
	}
	if q.Has("page") || q.Has("pageSize") {
		current := page.Resolve(ctx, listDefaults).Pagination
		if q.Has("page") {
			n, err := strconv.Atoi(q.Get("page"))
			if err != nil || n < 1 || n > MaxPage {
				return fmt.Errorf("invalid page %q", q.Get("page"))
			}
			current.Page = n
		}
		if q.Has("pageSize") {
			n, err := strconv.Atoi(q.Get("pageSize"))
			if err != nil || n < 1 || n > 500 {
				return fmt.Errorf("invalid pageSize %q", q.Get("pageSize"))
			}
			current.PageSize = n
		}
		if err := page.UpdatePagination(ctx, current); err != nil {
			return err
		}
	}
	if q.Has("sort") {
		sorting := pagestate.Sorting{Column: q.Get("sort"), Direction: pagestate.DirectionAsc}
		if q.Get("dir") == string(pagestate.DirectionDesc) {
			sorting.Direction = pagestate.DirectionDesc
		}
		if err := page.UpdateSorting(ctx, sorting); err != nil {
			return err
		}
	}
	return nil
}

func filterFromView(view pagestate.View, trash bool) ListFilter {
	str := func(name string) string {
		s, _ := view.Filters[name].(string)
		return s
	}
	filter := ListFilter{
		Status:    Status(str("status")),
		Search:    str("search"),
		Category:  str("category"),
		SortBy:    view.Sorting.Column,
		SortDesc:  view.Sorting.Direction == pagestate.DirectionDesc,
		Page:      view.Pagination.Page,
		PageSize:  view.Pagination.PageSize,
		OnlyTrash: trash,
	}
	if view.SearchTerm != "" && filter.Search == "" {
		filter.Search = view.SearchTerm
	}
	if t, err := time.Parse(time.DateOnly, view.DateRange.From); err == nil {
		filter.DueFrom = &t
	}
	if t, err := time.Parse(time.DateOnly, view.DateRange.To); err == nil {
		filter.DueTo = &t
	}
	return filter
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, h.service.MarkPaid)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, h.service.Delete)
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request, op func(context.Context, string, []string) (Result, error)) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := op(r.Context(), sess.ID, req.IDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) bulkEdit(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req bulkEditRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.BulkEdit(r.Context(), sess.ID, req.Changes)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Restore(r.Context(), req.IDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) trashCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.TrashCount(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.PermanentlyDelete(r.Context(), req.IDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyBatch):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("payables request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
