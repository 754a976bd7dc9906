package pagestate

import (
	"cmp"
	"slices"
)

// Column describes one table column a page can show, hide or reorder.
type Column struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Visible  bool   `json:"visible"`
	Sortable bool   `json:"sortable"`
	Order    int    `json:"order"`
	Width    int    `json:"width,omitempty"`
}

// MergeColumns overlays saved column settings on the page defaults. Every
// default column survives, saved columns unknown to the defaults are dropped,
// and the result is sorted by order.
func MergeColumns(defaults, saved []Column) []Column {
	byKey := make(map[string]Column, len(saved))
	for _, col := range saved {
		byKey[col.Key] = col
	}
	out := make([]Column, 0, len(defaults))
	for _, def := range defaults {
		col := def
		if s, ok := byKey[def.Key]; ok {
			col.Visible = s.Visible
			col.Order = s.Order
			if s.Width > 0 {
				col.Width = s.Width
			}
		}
		out = append(out, col)
	}
	slices.SortStableFunc(out, func(a, b Column) int { return cmp.Compare(a.Order, b.Order) })
	return out
}

// ColumnsFromState applies a page's stored columnOrder and columnVisibility
// to the default columns.
func ColumnsFromState(defaults []Column, state PageState) []Column {
	saved := make([]Column, 0, len(defaults))
	position := make(map[string]int, len(state.ColumnOrder))
	for i, key := range state.ColumnOrder {
		position[key] = i
	}
	for _, def := range defaults {
		col := def
		if i, ok := position[def.Key]; ok {
			col.Order = i
		} else if len(position) > 0 {
			// unknown to the stored order: keep after the stored ones
			col.Order = len(position) + def.Order
		}
		if visible, ok := state.ColumnVisibility[def.Key]; ok {
			col.Visible = visible
		}
		saved = append(saved, col)
	}
	return MergeColumns(defaults, saved)
}

// ColumnSettings flattens columns into the columnOrder/columnVisibility pair
// stored in PageState.
func ColumnSettings(cols []Column) ([]string, map[string]bool) {
	sorted := slices.Clone(cols)
	slices.SortStableFunc(sorted, func(a, b Column) int { return cmp.Compare(a.Order, b.Order) })
	order := make([]string, 0, len(sorted))
	visibility := make(map[string]bool, len(sorted))
	for _, col := range sorted {
		order = append(order, col.Key)
		visibility[col.Key] = col.Visible
	}
	return order, visibility
}

// VisibleColumns keeps the visible columns in display order.
func VisibleColumns(cols []Column) []Column {
	out := make([]Column, 0, len(cols))
	for _, col := range cols {
		if col.Visible {
			out = append(out, col)
		}
	}
	slices.SortStableFunc(out, func(a, b Column) int { return cmp.Compare(a.Order, b.Order) })
	return out
}
