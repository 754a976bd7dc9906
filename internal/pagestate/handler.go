package pagestate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-uistate/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-uistate/internal/shared"
)

// Handler exposes the session's page-state registry over JSON.
type Handler struct {
	logger    *slog.Logger
	manager   *Manager
	csrf      *shared.CSRFManager
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, manager *Manager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, manager: manager, csrf: csrf, validator: validator.New()}
}

// MountRoutes registers page-state routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.session)
	r.Get("/keys", h.keys)
	r.Get("/export", h.export)
	r.Post("/import", h.importSnapshot)
	r.Delete("/", h.clearAll)

	r.Route("/page", func(r chi.Router) {
		r.Get("/", h.withPage(h.getPage))
		r.Patch("/", h.withPage(h.patchPage))
		r.Delete("/", h.withPage(h.clearPage))
		r.Post("/view", h.withPage(h.resolvePage))

		r.Put("/filters", h.withPage(h.putFilters))
		r.Put("/pagination", h.withPage(h.putPagination))
		r.Put("/sorting", h.withPage(h.putSorting))
		r.Put("/selection", h.withPage(h.putSelection))
		r.Put("/columns", h.withPage(h.putColumns))
		r.Put("/date-range", h.withPage(h.putDateRange))
		r.Put("/settings/{name}", h.withPage(h.putSetting))

		r.Put("/view-mode", h.withPage(h.putString((*Page).UpdateViewMode)))
		r.Put("/entity", h.withPage(h.putString((*Page).UpdateSelectedEntity)))
		r.Put("/account", h.withPage(h.putString((*Page).UpdateSelectedAccount)))
		r.Put("/filial", h.withPage(h.putString((*Page).UpdateSelectedFilial)))
		r.Put("/search", h.withPage(h.putString((*Page).UpdateSearchTerm)))
	})
}

type pageResponse struct {
	Key   string    `json:"key"`
	State PageState `json:"state"`
}

type sessionResponse struct {
	CSRFToken string   `json:"csrfToken"`
	Keys      []string `json:"keys"`
}

type selectionRequest struct {
	Items []string `json:"items"`
}

type columnsRequest struct {
	Order      []string        `json:"order"`
	Visibility map[string]bool `json:"visibility"`
}

type valueRequest struct {
	Value string `json:"value" validate:"max=512"`
}

type settingRequest struct {
	Value any `json:"value"`
}

type pageHandler func(w http.ResponseWriter, r *http.Request, page *Page)

func (h *Handler) registry(r *http.Request) (*Registry, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.ID == "" {
		return nil, httpx.ErrUnauthorized
	}
	reg, err := h.manager.Registry(r.Context(), sess.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
	}
	return reg, nil
}

// withPage binds the page named by ?key= or, failing that, the Referer.
func (h *Handler) withPage(next pageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg, err := h.registry(r)
		if err != nil {
			h.respondError(w, err)
			return
		}
		key := KeyFor(r, r.URL.Query().Get("key"))
		if key == "" {
			h.respondError(w, ErrEmptyKey)
			return
		}
		next(w, r, reg.Page(key))
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	reg, err := h.registry(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	token, err := h.csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sessionResponse{CSRFToken: token, Keys: reg.Keys(r.Context())})
}

func (h *Handler) keys(w http.ResponseWriter, r *http.Request) {
	reg, err := h.registry(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{"keys": reg.Keys(r.Context())})
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	reg, err := h.registry(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	raw, err := reg.Export(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="page-states.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(raw))
}

func (h *Handler) importSnapshot(w http.ResponseWriter, r *http.Request) {
	reg, err := h.registry(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	body, err := httpx.ReadBody(w, r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := reg.Import(r.Context(), string(body)); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{"keys": reg.Keys(r.Context())})
}

func (h *Handler) clearAll(w http.ResponseWriter, r *http.Request) {
	reg, err := h.registry(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	reg.ClearAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getPage(w http.ResponseWriter, r *http.Request, page *Page) {
	httpx.JSON(w, http.StatusOK, pageResponse{Key: page.Key(), State: page.State(r.Context())})
}

func (h *Handler) patchPage(w http.ResponseWriter, r *http.Request, page *Page) {
	var patch Patch
	if !h.decode(w, r, &patch) {
		return
	}
	h.respondUpdate(w, r, page, page.UpdatePageState(r.Context(), patch))
}

func (h *Handler) clearPage(w http.ResponseWriter, r *http.Request, page *Page) {
	if err := page.Clear(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resolvePage(w http.ResponseWriter, r *http.Request, page *Page) {
	var defaults Defaults
	if r.ContentLength != 0 && !h.decode(w, r, &defaults) {
		return
	}
	httpx.JSON(w, http.StatusOK, page.Resolve(r.Context(), defaults))
}

func (h *Handler) putFilters(w http.ResponseWriter, r *http.Request, page *Page) {
	var filters map[string]any
	if !h.decode(w, r, &filters) {
		return
	}
	var err error
	if r.URL.Query().Get("mode") == "replace" {
		err = page.ReplaceFilters(r.Context(), filters)
	} else {
		err = page.UpdateFilters(r.Context(), filters)
	}
	h.respondUpdate(w, r, page, err)
}

func (h *Handler) putPagination(w http.ResponseWriter, r *http.Request, page *Page) {
	var pagination Pagination
	if !h.decode(w, r, &pagination) {
		return
	}
	h.respondUpdate(w, r, page, page.UpdatePagination(r.Context(), pagination))
}

func (h *Handler) putSorting(w http.ResponseWriter, r *http.Request, page *Page) {
	var sorting Sorting
	if !h.decode(w, r, &sorting) {
		return
	}
	h.respondUpdate(w, r, page, page.UpdateSorting(r.Context(), sorting))
}

func (h *Handler) putSelection(w http.ResponseWriter, r *http.Request, page *Page) {
	var req selectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondUpdate(w, r, page, page.UpdateSelection(r.Context(), req.Items))
}

func (h *Handler) putColumns(w http.ResponseWriter, r *http.Request, page *Page) {
	var req columnsRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondUpdate(w, r, page, page.UpdateColumnSettings(r.Context(), req.Order, req.Visibility))
}

func (h *Handler) putDateRange(w http.ResponseWriter, r *http.Request, page *Page) {
	var dateRange DateRange
	if !h.decode(w, r, &dateRange) {
		return
	}
	h.respondUpdate(w, r, page, page.UpdateDateRange(r.Context(), dateRange))
}

func (h *Handler) putSetting(w http.ResponseWriter, r *http.Request, page *Page) {
	name := chi.URLParam(r, "name")
	var req settingRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondUpdate(w, r, page, page.UpdateCustomSetting(r.Context(), name, req.Value))
}

func (h *Handler) putString(set func(*Page, context.Context, string) error) pageHandler {
	return func(w http.ResponseWriter, r *http.Request, page *Page) {
		var req valueRequest
		if !h.decode(w, r, &req) {
			return
		}
		h.respondUpdate(w, r, page, set(page, r.Context(), req.Value))
	}
}

// decode reads and validates a JSON body, writing the problem response
// itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		h.respondError(w, err)
		return false
	}
	if err := h.validate(target); err != nil {
		h.respondError(w, err)
		return false
	}
	return true
}

func (h *Handler) validate(target any) error {
	switch target.(type) {
	case *map[string]any, *Defaults:
		// zero defaults are filled in by Resolve
		return nil
	default:
		return h.validator.Struct(target)
	}
}

func (h *Handler) respondUpdate(w http.ResponseWriter, r *http.Request, page *Page, err error) {
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pageResponse{Key: page.Key(), State: page.State(r.Context())})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyKey), errors.Is(err, ErrInvalidSnapshot):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, shared.ErrSessionMissing):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		if !isClientError(err) {
			h.logger.Error("pagestate request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func isClientError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs) ||
		errors.Is(err, httpx.ErrValidation) ||
		errors.Is(err, httpx.ErrUnauthorized)
}
