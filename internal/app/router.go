package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-uistate/internal/observability"
	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
	"github.com/odyssey-erp/odyssey-uistate/internal/payables"
	"github.com/odyssey-erp/odyssey-uistate/internal/shared"
	"github.com/odyssey-erp/odyssey-uistate/internal/undo"
	"github.com/odyssey-erp/odyssey-uistate/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	CSRFManager      *shared.CSRFManager
	PageStates       *pagestate.Manager
	PageStateHandler *pagestate.Handler
	UndoHandler      *undo.Handler
	PayablesHandler  *payables.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Metrics:        params.Metrics,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		if params.PageStateHandler != nil {
			r.Route("/ui-state", params.PageStateHandler.MountRoutes)
		}
		if params.UndoHandler != nil {
			r.Route("/undo", params.UndoHandler.MountRoutes)
		}
		if params.PayablesHandler != nil {
			r.Route("/payables", func(r chi.Router) {
				r.Use(pagestate.Middleware(params.PageStates, params.Logger))
				params.PayablesHandler.MountRoutes(r)
			})
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
