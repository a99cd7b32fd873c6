package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/dsplatform/internal/engine"
)

const unmatched = "unmatched"

// Operations reported on experiment outcomes.
const (
	opStartTraffic = "start_traffic"
	opStopTraffic  = "stop_traffic"
	opApplyDelay   = "apply_network_delay"
	opStopFailure  = "stop_failure"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_http_requests_total",
			Help: "Total number of HTTP requests by API area.",
		},
		[]string{"area", "method", "path", "status"},
	)

	// Event streams are excluded; they stay open for the experiment's lifetime.
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "platform_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, excluding event streams.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"area", "method", "path"},
	)

	experimentResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_http_experiment_responses_total",
			Help: "Experiment control responses by operation, result status and error kind.",
		},
		[]string{"operation", "status", "error_kind"},
	)

	rejectedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_http_rejected_requests_total",
			Help: "Experiment requests rejected before reaching the engine.",
		},
		[]string{"operation"},
	)

	eventStreamsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "platform_http_event_streams_open",
			Help: "Number of open experiment event streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(experimentResponsesTotal)
	prometheus.MustRegister(rejectedRequestsTotal)
	prometheus.MustRegister(eventStreamsOpen)
}

// metricsMiddleware records request count and duration for every HTTP request.
// Labels use the chi route pattern rather than the raw path.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		area := routeArea(path)
		httpRequestsTotal.WithLabelValues(area, r.Method, path, strconv.Itoa(status)).Inc()
		if !isEventStream(path) {
			httpRequestDuration.WithLabelValues(area, r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

// recordOutcome counts an engine result for op.
func recordOutcome(op string, res engine.Result) {
	experimentResponsesTotal.WithLabelValues(op, string(res.Status), string(res.ErrorKind)).Inc()
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// routeArea groups a route pattern by the part of the platform it controls:
// traffic, failures, experiments (event streams and history), ops for
// stats and monitors, and system for health and metrics.
func routeArea(pattern string) string {
	rest, ok := strings.CutPrefix(pattern, "/api/")
	if !ok {
		if pattern == unmatched {
			return unmatched
		}
		return "system"
	}
	area, _, _ := strings.Cut(rest, "/")
	switch area {
	case "traffic", "failures", "experiments":
		return area
	default:
		return "ops"
	}
}

func isEventStream(pattern string) bool {
	return pattern == "/api/experiments/{id}/events"
}

// metricsHandler returns the Prometheus metrics handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
