package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	stateLoads      *prometheus.CounterVec
	stateSaves      *prometheus.CounterVec
	undoActions     *prometheus.CounterVec
}

// NewMetrics initialises the registry and base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	loads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_pagestate_loads_total",
		Help: "Page-state registry loads by outcome.",
	}, []string{"outcome"})
	saves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_pagestate_saves_total",
		Help: "Page-state registry saves by outcome.",
	}, []string{"outcome"})
	undo := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_undo_actions_total",
		Help: "Undoable actions by type and lifecycle outcome.",
	}, []string{"type", "outcome"})
	registry.MustRegister(requests, duration, loads, saves, undo)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		stateLoads:      loads,
		stateSaves:      saves,
		undoActions:     undo,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObservePageStateLoad counts a registry load outcome.
func (m *Metrics) ObservePageStateLoad(outcome string) {
	if m == nil {
		return
	}
	m.stateLoads.WithLabelValues(outcome).Inc()
}

// ObservePageStateSave counts a registry save outcome.
func (m *Metrics) ObservePageStateSave(outcome string) {
	if m == nil {
		return
	}
	m.stateSaves.WithLabelValues(outcome).Inc()
}

// ObserveUndo counts an undo lifecycle transition.
func (m *Metrics) ObserveUndo(actionType, outcome string) {
	if m == nil {
		return
	}
	m.undoActions.WithLabelValues(actionType, outcome).Inc()
}

// TrackSessions exposes the number of live page-state registries, read from
// fn at scrape time.
func (m *Metrics) TrackSessions(fn func() int) {
	if m == nil || fn == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "odyssey_pagestate_sessions",
		Help: "Sessions with a live page-state registry.",
	}, func() float64 { return float64(fn()) }))
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
