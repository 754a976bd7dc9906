package payables

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate/storage"
	"github.com/odyssey-erp/odyssey-uistate/internal/shared"
)

type payablesFixture struct {
	router  http.Handler
	repo    *memoryRepo
	media   *storage.Memory
	session *shared.Session
}

func newPayablesFixture(t *testing.T) *payablesFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "uistate_session", time.Hour, false)
	sess, err := sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	svc, repo, _ := newTestService(t)
	media := storage.NewMemory()
	states := pagestate.NewManager(pagestate.ManagerConfig{Media: media.Factory()})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Use(pagestate.Middleware(states, nil))
	r.Route("/payables", NewHandler(nil, svc).MountRoutes)
	return &payablesFixture{router: r, repo: repo, media: media, session: sess}
}

func (f *payablesFixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) listResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestListPersistsQueryChoices(t *testing.T) {
	f := newPayablesFixture(t)

	resp := decodeList(t, f.do(http.MethodGet, "/payables/installments?status=pago&pageSize=10", ""))
	require.Equal(t, 1, resp.Total)
	require.Equal(t, "C", resp.Items[0].ID)
	require.Equal(t, 10, resp.PageSize)

	// no query: the stored choices apply
	resp = decodeList(t, f.do(http.MethodGet, "/payables/installments", ""))
	require.Equal(t, 1, resp.Total)
	require.Equal(t, "pago", resp.State.Filters["status"])
	require.Equal(t, 10, resp.State.Pagination.PageSize)

	raw, ok := f.media.Raw(f.session.ID)
	require.True(t, ok)
	require.Contains(t, raw, `"/payables/installments"`)

	resp = decodeList(t, f.do(http.MethodGet, "/payables/installments?status=", ""))
	require.Equal(t, 3, resp.Total)
}

func TestListReturnsDefaultColumns(t *testing.T) {
	f := newPayablesFixture(t)
	resp := decodeList(t, f.do(http.MethodGet, "/payables/installments?sort=amount&dir=desc", ""))
	require.Len(t, resp.Columns, 6)
	require.Equal(t, pagestate.Sorting{Column: "amount", Direction: pagestate.DirectionDesc}, resp.State.Sorting)
}

func TestListRejectsBadPaging(t *testing.T) {
	f := newPayablesFixture(t)
	rec := f.do(http.MethodGet, "/payables/installments?page=0", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/payables/installments?page=9223372036854775807", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkPaidEndpointReturnsUndoHandle(t *testing.T) {
	f := newPayablesFixture(t)

	rec := f.do(http.MethodPost, "/payables/installments/mark-paid", `{"ids":["A","B"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 2, res.Count)
	require.NotEmpty(t, res.ActionID)
	require.Equal(t, StatusPaid, f.repo.get("A").Status)
}

func TestBatchEndpointsValidate(t *testing.T) {
	f := newPayablesFixture(t)

	rec := f.do(http.MethodPost, "/payables/installments/delete", `{"ids":[]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPost, "/payables/installments/bulk-edit", `{"changes":[{"notes":"x"}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPost, "/payables/installments/delete", `{"ids":["missing"]}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrashEndpoints(t *testing.T) {
	f := newPayablesFixture(t)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/payables/installments/delete", `{"ids":["A","B"]}`).Code)
	rec := f.do(http.MethodGet, "/payables/trash/count", "")
	require.JSONEq(t, `{"count":2}`, rec.Body.String())

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/payables/installments/restore", `{"ids":["A"]}`).Code)
	rec = f.do(http.MethodPost, "/payables/trash/purge", `{"ids":["B"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/payables/trash/count", "")
	require.JSONEq(t, `{"count":0}`, rec.Body.String())
}
