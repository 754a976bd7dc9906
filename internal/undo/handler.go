package undo

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-uistate/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-uistate/internal/shared"
)

// Handler exposes pending actions, undo and redo to the session's user.
type Handler struct {
	logger  *slog.Logger
	manager *Manager
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, manager *Manager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, manager: manager}
}

// MountRoutes registers undo routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/notifications", h.notifications)
	r.Post("/redo/{id}", h.redo)
	r.Post("/{id}", h.undo)
}

type listResponse struct {
	Pending []Pending  `json:"pending"`
	Redo    []Redoable `json:"redo"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sess, err := shared.RequireSession(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{
		Pending: h.manager.Pending(sess.ID),
		Redo:    h.manager.RedoStack(sess.ID),
	})
}

func (h *Handler) undo(w http.ResponseWriter, r *http.Request) {
	sess, err := shared.RequireSession(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	// The action leaves the pending set before the reversal runs, so a
	// dropped connection must not abort the write halfway.
	err = h.manager.Undo(context.WithoutCancel(r.Context()), sess.ID, id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrActionNotPending):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "action is no longer undoable")
	case errors.Is(err, ErrReversalFailed):
		httpx.Problem(w, http.StatusBadGateway, "Undo Failed", "the action could not be undone")
	default:
		h.logger.Error("undo request", slog.String("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) redo(w http.ResponseWriter, r *http.Request) {
	sess, err := shared.RequireSession(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	err = h.manager.Redo(context.WithoutCancel(r.Context()), sess.ID, id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrRedoNotAvailable):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "action can no longer be redone")
	default:
		httpx.Problem(w, http.StatusBadGateway, "Redo Failed", "the action could not be redone")
	}
}

// notifications drains the session's queued flash messages.
func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	sess, err := shared.RequireSession(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	out := make([]shared.FlashMessage, 0)
	for flash := sess.PopFlash(); flash != nil; flash = sess.PopFlash() {
		out = append(out, *flash)
	}
	httpx.JSON(w, http.StatusOK, map[string][]shared.FlashMessage{"notifications": out})
}
