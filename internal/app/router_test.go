package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-uistate/internal/observability"
	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate"
	"github.com/odyssey-erp/odyssey-uistate/internal/pagestate/storage"
	"github.com/odyssey-erp/odyssey-uistate/internal/shared"
)

type routerFixture struct {
	handler http.Handler
	cookie  *http.Cookie
	token   string
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, RateLimit: 1000}
	csrf := shared.NewCSRFManager("secret")
	metrics := observability.NewMetrics()
	states := pagestate.NewManager(pagestate.ManagerConfig{Media: storage.NewMemory().Factory(), Observer: metrics})

	return &routerFixture{handler: NewRouter(RouterParams{
		Config:           cfg,
		SessionManager:   shared.NewSessionManager(client, "sid", time.Hour, false),
		CSRFManager:      csrf,
		PageStates:       states,
		PageStateHandler: pagestate.NewHandler(nil, states, csrf),
		Metrics:          metrics,
	})}
}

func (f *routerFixture) do(method, target, body string, withToken bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}
	if withToken {
		req.Header.Set(CSRFHeader, f.token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *routerFixture) openSession(t *testing.T) {
	t.Helper()
	rec := f.do(http.MethodGet, "/ui-state/session", "", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.CSRFToken)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	f.cookie = cookies[0]
	f.token = resp.CSRFToken
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	f := newRouterFixture(t)
	f.openSession(t)

	rec := f.do(http.MethodPut, "/ui-state/page/filters?key=/payables/installments", `{"status":"pago"}`, false)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPut, "/ui-state/page/filters?key=/payables/installments", `{"status":"pago"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// the session cookie carries the registry across requests
	rec = f.do(http.MethodGet, "/ui-state/page?key=/payables/installments", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		State pagestate.PageState `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, "pago", page.State.Filters["status"])
}

func TestSecureHeadersAndMetrics(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(http.MethodGet, "/ui-state/keys", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = f.do(http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `odyssey_http_requests_total{code="200",route="/ui-state/keys"} 1`)
}
