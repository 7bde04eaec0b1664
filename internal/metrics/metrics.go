// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxarena_orders_placed_total",
		Help: "Orders accepted, partitioned by type and side",
	}, []string{"type", "side"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxarena_orders_rejected_total",
		Help: "Orders rejected before execution",
	}, []string{"reason"})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxarena_positions_closed_total",
		Help: "Positions closed, partitioned by close reason",
	}, []string{"reason"})

	LimitOrdersFilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fxarena_limit_orders_filled_total",
		Help: "Pending limit orders filled by the sweep",
	})

	MarginChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxarena_margin_checks_total",
		Help: "Margin checks, partitioned by resulting tier",
	}, []string{"tier"})

	Liquidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fxarena_liquidations_total",
		Help: "Accounts liquidated by the margin monitor",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxarena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fxarena_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)

		// Label with the chi route pattern, not the raw path: per-ID
		// URLs would mint an unbounded label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
