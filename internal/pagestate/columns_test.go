package pagestate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var defaultColumns = []Column{
	{Key: "supplier", Label: "Supplier", Visible: true, Sortable: true, Order: 0},
	{Key: "dueDate", Label: "Due date", Visible: true, Sortable: true, Order: 1},
	{Key: "amount", Label: "Amount", Visible: true, Order: 2},
	{Key: "notes", Label: "Notes", Visible: false, Order: 3},
}

func keys(cols []Column) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, c.Key)
	}
	return out
}

func TestMergeColumnsKeepsDefaultsAndDropsUnknown(t *testing.T) {
	saved := []Column{
		{Key: "amount", Visible: false, Order: 0},
		{Key: "legacy", Visible: true, Order: 1},
		{Key: "supplier", Visible: true, Order: 5, Width: 240},
	}
	merged := MergeColumns(defaultColumns, saved)
	require.Equal(t, []string{"amount", "dueDate", "notes", "supplier"}, keys(merged))
	require.False(t, merged[0].Visible)
	require.Equal(t, "Amount", merged[0].Label)
	require.Equal(t, 240, merged[3].Width)
}

func TestColumnsFromStateRoundTrip(t *testing.T) {
	cols := MergeColumns(defaultColumns, nil)
	cols[0].Order, cols[2].Order = 2, 0
	cols[3].Visible = true

	order, visibility := ColumnSettings(cols)
	require.Equal(t, []string{"amount", "dueDate", "supplier", "notes"}, order)

	restored := ColumnsFromState(defaultColumns, PageState{ColumnOrder: order, ColumnVisibility: visibility})
	require.Equal(t, order, keys(restored))
	require.Equal(t, []string{"amount", "dueDate", "supplier", "notes"}, keys(VisibleColumns(restored)))
}

func TestColumnsFromStateAppendsNewColumns(t *testing.T) {
	restored := ColumnsFromState(defaultColumns, PageState{ColumnOrder: []string{"amount", "supplier"}})
	require.Equal(t, []string{"amount", "supplier", "dueDate", "notes"}, keys(restored))
	require.Equal(t, []string{"amount", "supplier", "dueDate"}, keys(VisibleColumns(restored)))
}
