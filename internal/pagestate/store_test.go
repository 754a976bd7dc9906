package pagestate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type outcomeLog struct {
	loads []string
	saves []string
}

func (o *outcomeLog) ObservePageStateLoad(outcome string) { o.loads = append(o.loads, outcome) }
func (o *outcomeLog) ObservePageStateSave(outcome string) { o.saves = append(o.saves, outcome) }

func TestStoreReportsOutcomes(t *testing.T) {
	ctx := context.Background()
	obs := &outcomeLog{}

	NewStore(&memMedium{}, nil, obs).Load(ctx)
	NewStore(&memMedium{raw: "garbage", ok: true}, nil, obs).Load(ctx)
	NewStore(&memMedium{loadErr: errors.New("down")}, nil, obs).Load(ctx)
	NewStore(&memMedium{raw: `{"/a":{"viewMode":"cards"}}`, ok: true}, nil, obs).Load(ctx)
	require.Equal(t, []string{OutcomeEmpty, OutcomeMalformed, OutcomeError, OutcomeOK}, obs.loads)

	require.NoError(t, NewStore(&memMedium{}, nil, obs).Save(ctx, map[string]PageState{}))
	require.Error(t, NewStore(&memMedium{saveErr: errors.New("full")}, nil, obs).Save(ctx, map[string]PageState{}))
	require.Equal(t, []string{OutcomeOK, OutcomeError}, obs.saves)
}

func TestDecodeSnapshotDropsEmptyEntries(t *testing.T) {
	states, err := decodeSnapshot(`{"/a":{},"":{"viewMode":"x"},"/b":{"searchTerm":"acme"}}`)
	require.NoError(t, err)
	require.Equal(t, map[string]PageState{"/b": {SearchTerm: "acme"}}, states)
}

func TestSnapshotUsesCamelCaseFields(t *testing.T) {
	raw, err := encodeSnapshot(map[string]PageState{
		"/contas-pagar": {
			Pagination:    &Pagination{Page: 1, PageSize: 50},
			SelectedItems: []string{"x"},
		},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"/contas-pagar":{"pagination":{"page":1,"pageSize":50},"selectedItems":["x"]}}`, raw)
}

func TestNilMediumIsInert(t *testing.T) {
	store := NewStore(nil, nil, nil)
	require.Empty(t, store.Load(context.Background()))
	require.NoError(t, store.Save(context.Background(), map[string]PageState{"/a": {ViewMode: "x"}}))
}
