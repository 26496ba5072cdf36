package gateway

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/toolgate/internal/tool"
)

// Metrics exposes gateway and dispatch counters in Prometheus format. Each
// instance owns its registry, so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	dispatches *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	requests   *prometheus.CounterVec

	// sessions reports the live session count; set once the store is known.
	sessions atomic.Pointer[func() int]
}

// Compile-time interface check.
var _ tool.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_tool_dispatch_total",
				Help: "Tool dispatches by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_tool_dispatch_duration_seconds",
				Help:    "Tool dispatch latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_http_requests_total",
				Help: "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
	}

	live := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "toolgate_sessions_live",
			Help: "Sessions currently held in memory.",
		},
		func() float64 {
			if fn := m.sessions.Load(); fn != nil {
				return float64((*fn)())
			}
			return 0
		},
	)

	m.registry.MustRegister(m.dispatches, m.latency, m.requests, live)
	return m
}

// ObserveDispatch implements tool.Observer.
func (m *Metrics) ObserveDispatch(toolName string, outcome tool.Outcome, elapsed time.Duration) {
	m.dispatches.WithLabelValues(toolName, string(outcome)).Inc()
	m.latency.WithLabelValues(toolName).Observe(elapsed.Seconds())
}

// SetSessionCounter installs the live session count source.
func (m *Metrics) SetSessionCounter(fn func() int) {
	m.sessions.Store(&fn)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// middleware counts requests by their route pattern, so ids in paths do
// not explode label cardinality.
func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
