package pagestate

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/odyssey-erp/odyssey-uistate/internal/shared"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
)

// NormalizeKey turns a navigational path into a page key.
func NormalizeKey(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// KeyFor derives the page key of an API request: the explicit override when
// given, otherwise the path of the page that issued the request (Referer).
// It returns "" when neither is available.
func KeyFor(r *http.Request, override string) string {
	if override != "" {
		return NormalizeKey(override)
	}
	if r == nil {
		return ""
	}
	ref := r.Referer()
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Path == "" {
		return ""
	}
	return NormalizeKey(u.Path)
}

// Page is a registry accessor bound to one page key. Obtain a fresh Page
// after navigation; a Page never follows the current location by itself.
type Page struct {
	key      string
	registry *Registry
}

// Page binds an accessor for key.
func (r *Registry) Page(key string) *Page {
	return &Page{key: NormalizeKey(key), registry: r}
}

// Key returns the bound page key.
func (p *Page) Key() string { return p.key }

// State returns the current stored state of the page.
func (p *Page) State(ctx context.Context) PageState {
	return p.registry.GetPageState(ctx, p.key)
}

// UpdatePageState merges several fields in one call.
func (p *Page) UpdatePageState(ctx context.Context, patch Patch) error {
	return p.registry.SetPageState(ctx, p.key, patch)
}

func (p *Page) UpdateFilters(ctx context.Context, filters map[string]any) error {
	return p.registry.UpdateFilters(ctx, p.key, filters)
}

func (p *Page) ReplaceFilters(ctx context.Context, filters map[string]any) error {
	return p.registry.ReplaceFilters(ctx, p.key, filters)
}

func (p *Page) UpdatePagination(ctx context.Context, pagination Pagination) error {
	return p.registry.UpdatePagination(ctx, p.key, pagination)
}

func (p *Page) UpdateSorting(ctx context.Context, sorting Sorting) error {
	return p.registry.UpdateSorting(ctx, p.key, sorting)
}

func (p *Page) UpdateSelection(ctx context.Context, items []string) error {
	return p.registry.UpdateSelection(ctx, p.key, items)
}

func (p *Page) UpdateColumnSettings(ctx context.Context, order []string, visibility map[string]bool) error {
	return p.registry.UpdateColumnSettings(ctx, p.key, order, visibility)
}

func (p *Page) UpdateViewMode(ctx context.Context, mode string) error {
	return p.registry.UpdateViewMode(ctx, p.key, mode)
}

func (p *Page) UpdateSelectedEntity(ctx context.Context, entityID string) error {
	return p.registry.UpdateSelectedEntity(ctx, p.key, entityID)
}

func (p *Page) UpdateSelectedAccount(ctx context.Context, accountID string) error {
	return p.registry.UpdateSelectedAccount(ctx, p.key, accountID)
}

func (p *Page) UpdateSelectedFilial(ctx context.Context, filialID string) error {
	return p.registry.UpdateSelectedFilial(ctx, p.key, filialID)
}

func (p *Page) UpdateSearchTerm(ctx context.Context, term string) error {
	return p.registry.UpdateSearchTerm(ctx, p.key, term)
}

func (p *Page) UpdateDateRange(ctx context.Context, dateRange DateRange) error {
	return p.registry.UpdateDateRange(ctx, p.key, dateRange)
}

func (p *Page) UpdateCustomSetting(ctx context.Context, name string, value any) error {
	return p.registry.UpdateCustomSetting(ctx, p.key, name, value)
}

// Clear removes the page's state.
func (p *Page) Clear(ctx context.Context) error {
	return p.registry.ClearPageState(ctx, p.key)
}

// Defaults are the page's initial values, used where nothing is stored.
type Defaults struct {
	Filters          map[string]any  `json:"filters,omitempty"`
	Pagination       Pagination      `json:"pagination"`
	Sorting          Sorting         `json:"sorting"`
	ColumnOrder      []string        `json:"columnOrder,omitempty"`
	ColumnVisibility map[string]bool `json:"columnVisibility,omitempty"`
}

// View is a fully populated page state: stored values over defaults.
type View struct {
	Key              string          `json:"key"`
	Filters          map[string]any  `json:"filters"`
	Pagination       Pagination      `json:"pagination"`
	Sorting          Sorting         `json:"sorting"`
	SelectedItems    []string        `json:"selectedItems"`
	ColumnOrder      []string        `json:"columnOrder"`
	ColumnVisibility map[string]bool `json:"columnVisibility"`
	ViewMode         string          `json:"viewMode,omitempty"`
	SelectedEntity   string          `json:"selectedEntity,omitempty"`
	SelectedAccount  string          `json:"selectedAccount,omitempty"`
	SelectedFilial   string          `json:"selectedFilial,omitempty"`
	SearchTerm       string          `json:"searchTerm,omitempty"`
	DateRange        DateRange       `json:"dateRange"`
	CustomSettings   map[string]any  `json:"customSettings"`
}

// Resolve reads the page from the registry and fills gaps from defaults.
// Filters are merged entry by entry with stored entries winning.
func (p *Page) Resolve(ctx context.Context, defaults Defaults) View {
	state := p.State(ctx)

	filters := cloneAnyMap(defaults.Filters)
	if filters == nil {
		filters = make(map[string]any, len(state.Filters))
	}
	for name, value := range state.Filters {
		filters[name] = value
	}

	pagination := defaults.Pagination
	if pagination.Page < 1 {
		pagination.Page = defaultPage
	}
	if pagination.PageSize < 1 {
		pagination.PageSize = defaultPageSize
	}
	if state.Pagination != nil {
		pagination = *state.Pagination
	}

	sorting := defaults.Sorting
	if sorting.Direction == "" {
		sorting.Direction = DirectionAsc
	}
	if state.Sorting != nil {
		sorting = *state.Sorting
	}

	order := slices.Clone(defaults.ColumnOrder)
	if len(state.ColumnOrder) > 0 {
		order = state.ColumnOrder
	}
	visibility := maps.Clone(defaults.ColumnVisibility)
	if len(state.ColumnVisibility) > 0 {
		visibility = state.ColumnVisibility
	}

	view := View{
		Key:              p.key,
		Filters:          filters,
		Pagination:       pagination,
		Sorting:          sorting,
		SelectedItems:    state.SelectedItems,
		ColumnOrder:      order,
		ColumnVisibility: visibility,
		ViewMode:         state.ViewMode,
		SelectedEntity:   state.SelectedEntity,
		SelectedAccount:  state.SelectedAccount,
		SelectedFilial:   state.SelectedFilial,
		SearchTerm:       state.SearchTerm,
		CustomSettings:   state.CustomSettings,
	}
	if view.SelectedItems == nil {
		view.SelectedItems = []string{}
	}
	if view.ColumnOrder == nil {
		view.ColumnOrder = []string{}
	}
	if view.ColumnVisibility == nil {
		view.ColumnVisibility = map[string]bool{}
	}
	if view.CustomSettings == nil {
		view.CustomSettings = map[string]any{}
	}
	if state.DateRange != nil {
		view.DateRange = *state.DateRange
	}
	return view
}

type pageContextKey struct{}

// ContextWithPage stores the accessor in ctx.
func ContextWithPage(ctx context.Context, p *Page) context.Context {
	return context.WithValue(ctx, pageContextKey{}, p)
}

// FromContext returns the accessor bound by Middleware.
func FromContext(ctx context.Context) (*Page, error) {
	p, _ := ctx.Value(pageContextKey{}).(*Page)
	if p == nil {
		return nil, ErrNoAccessor
	}
	return p, nil
}

// Middleware binds a Page for the request path of every page request that
// carries a session. Requests without a session pass through unbound.
func Middleware(manager *Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || manager == nil {
				next.ServeHTTP(w, r)
				return
			}
			registry, err := manager.Registry(r.Context(), sess.ID)
			if err != nil {
				logger.Warn("pagestate registry unavailable", slog.Any("error", err), slog.String("path", r.URL.Path))
				next.ServeHTTP(w, r)
				return
			}
			page := registry.Page(r.URL.Path)
			next.ServeHTTP(w, r.WithContext(ContextWithPage(r.Context(), page)))
		})
	}
}
