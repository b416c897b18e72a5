package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatchedRoute = "unmatched"

// Invocation outcomes recorded by rollout_invocations_total.
const (
	outcomeAccepted    = "accepted"
	outcomeBadRequest  = "bad_request"
	outcomeDuplicate   = "duplicate"
	outcomeUnavailable = "unavailable"
	outcomeError       = "error"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_http_requests_total",
			Help: "Total number of HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollout_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds. Invocations are acknowledged before the work runs, so this stays low.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_invocations_total",
			Help: "Invocations received, by outcome.",
		},
		[]string{"outcome"},
	)

	logStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollout_log_streams_active",
			Help: "Open task log streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpLatency, invocations, logStreams)

	for _, o := range []string{outcomeAccepted, outcomeBadRequest, outcomeDuplicate, outcomeUnavailable, outcomeError} {
		invocations.WithLabelValues(o)
	}
}

// metricsMiddleware counts requests and observes latency per chi route pattern,
// keeping label cardinality bounded for task-scoped paths.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpLatency.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
	})
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
