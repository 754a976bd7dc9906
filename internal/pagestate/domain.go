package pagestate

import (
	"errors"
	"maps"
	"slices"
)

// Direction enumerates sort directions.
type Direction string

const (
	DirectionAsc  Direction = "asc"
	DirectionDesc Direction = "desc"
)

var (
	// ErrEmptyKey indicates a registry call without a page key.
	ErrEmptyKey = errors.New("pagestate: page key required")
	// ErrNoAccessor indicates FromContext was used outside Middleware.
	ErrNoAccessor = errors.New("pagestate: no page accessor in context")
	// ErrInvalidSnapshot indicates an import payload that is not a registry snapshot.
	ErrInvalidSnapshot = errors.New("pagestate: invalid snapshot")
)

// Pagination holds list paging for one page.
type Pagination struct {
	Page     int `json:"page" validate:"gte=1"`
	PageSize int `json:"pageSize" validate:"gte=1"`
}

// Sorting holds the active sort column.
type Sorting struct {
	Column    string    `json:"column"`
	Direction Direction `json:"direction" validate:"oneof=asc desc"`
}

// DateRange is a free-form from/to pair, usually ISO dates.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// PageState is the persisted UI state of one page key. Every field is
// optional; the zero value is indistinguishable from "nothing stored".
type PageState struct {
	Filters          map[string]any  `json:"filters,omitempty"`
	Pagination       *Pagination     `json:"pagination,omitempty"`
	Sorting          *Sorting        `json:"sorting,omitempty"`
	SelectedItems    []string        `json:"selectedItems,omitempty"`
	ColumnOrder      []string        `json:"columnOrder,omitempty"`
	ColumnVisibility map[string]bool `json:"columnVisibility,omitempty"`
	ViewMode         string          `json:"viewMode,omitempty"`
	SelectedEntity   string          `json:"selectedEntity,omitempty"`
	SelectedAccount  string          `json:"selectedAccount,omitempty"`
	SelectedFilial   string          `json:"selectedFilial,omitempty"`
	SearchTerm       string          `json:"searchTerm,omitempty"`
	DateRange        *DateRange      `json:"dateRange,omitempty"`
	CustomSettings   map[string]any  `json:"customSettings,omitempty"`
}

// IsEmpty reports whether no field is set.
func (s PageState) IsEmpty() bool {
	return len(s.Filters) == 0 &&
		s.Pagination == nil &&
		s.Sorting == nil &&
		len(s.SelectedItems) == 0 &&
		len(s.ColumnOrder) == 0 &&
		len(s.ColumnVisibility) == 0 &&
		s.ViewMode == "" &&
		s.SelectedEntity == "" &&
		s.SelectedAccount == "" &&
		s.SelectedFilial == "" &&
		s.SearchTerm == "" &&
		(s.DateRange == nil || *s.DateRange == DateRange{}) &&
		len(s.CustomSettings) == 0
}

// Clone returns a copy sharing no maps, slices or pointers with s.
func (s PageState) Clone() PageState {
	out := PageState{
		Filters:          cloneAnyMap(s.Filters),
		SelectedItems:    slices.Clone(s.SelectedItems),
		ColumnOrder:      slices.Clone(s.ColumnOrder),
		ColumnVisibility: maps.Clone(s.ColumnVisibility),
		ViewMode:         s.ViewMode,
		SelectedEntity:   s.SelectedEntity,
		SelectedAccount:  s.SelectedAccount,
		SelectedFilial:   s.SelectedFilial,
		SearchTerm:       s.SearchTerm,
		CustomSettings:   cloneAnyMap(s.CustomSettings),
	}
	if s.Pagination != nil {
		p := *s.Pagination
		out.Pagination = &p
	}
	if s.Sorting != nil {
		srt := *s.Sorting
		out.Sorting = &srt
	}
	if s.DateRange != nil {
		dr := *s.DateRange
		out.DateRange = &dr
	}
	return out
}

// Patch is a partial PageState. A nil field leaves the stored value alone;
// a non-nil field replaces it wholesale (shallow, per top-level field).
type Patch struct {
	Filters          map[string]any  `json:"filters,omitempty"`
	Pagination       *Pagination     `json:"pagination,omitempty"`
	Sorting          *Sorting        `json:"sorting,omitempty"`
	SelectedItems    []string        `json:"selectedItems,omitempty"`
	ColumnOrder      []string        `json:"columnOrder,omitempty"`
	ColumnVisibility map[string]bool `json:"columnVisibility,omitempty"`
	ViewMode         *string         `json:"viewMode,omitempty"`
	SelectedEntity   *string         `json:"selectedEntity,omitempty"`
	SelectedAccount  *string         `json:"selectedAccount,omitempty"`
	SelectedFilial   *string         `json:"selectedFilial,omitempty"`
	SearchTerm       *string         `json:"searchTerm,omitempty"`
	DateRange        *DateRange      `json:"dateRange,omitempty"`
	CustomSettings   map[string]any  `json:"customSettings,omitempty"`
}

// apply merges p into s and returns the result. s is not modified.
func (p Patch) apply(s PageState) PageState {
	out := s.Clone()
	if p.Filters != nil {
		out.Filters = cloneAnyMap(p.Filters)
	}
	if p.Pagination != nil {
		pg := *p.Pagination
		out.Pagination = &pg
	}
	if p.Sorting != nil {
		srt := *p.Sorting
		out.Sorting = &srt
	}
	if p.SelectedItems != nil {
		out.SelectedItems = slices.Clone(p.SelectedItems)
	}
	if p.ColumnOrder != nil {
		out.ColumnOrder = slices.Clone(p.ColumnOrder)
	}
	if p.ColumnVisibility != nil {
		out.ColumnVisibility = maps.Clone(p.ColumnVisibility)
	}
	if p.ViewMode != nil {
		out.ViewMode = *p.ViewMode
	}
	if p.SelectedEntity != nil {
		out.SelectedEntity = *p.SelectedEntity
	}
	if p.SelectedAccount != nil {
		out.SelectedAccount = *p.SelectedAccount
	}
	if p.SelectedFilial != nil {
		out.SelectedFilial = *p.SelectedFilial
	}
	if p.SearchTerm != nil {
		out.SearchTerm = *p.SearchTerm
	}
	if p.DateRange != nil {
		dr := *p.DateRange
		out.DateRange = &dr
	}
	if p.CustomSettings != nil {
		out.CustomSettings = cloneAnyMap(p.CustomSettings)
	}
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneAnyMap(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = cloneValue(val[i])
		}
		return out
	case []string:
		return slices.Clone(val)
	default:
		return v
	}
}

func cloneSnapshot(in map[string]PageState) map[string]PageState {
	out := make(map[string]PageState, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
