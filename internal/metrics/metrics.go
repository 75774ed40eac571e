// Package metrics provides Prometheus metrics for the SPOTT backend.
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
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spott",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spott",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spott",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// GatewayNotificationsTotal counts raw change notifications by collection and op
	GatewayNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spott",
			Subsystem: "gateway",
			Name:      "notifications_total",
			Help:      "Total raw change notifications received by collection and operation",
		},
		[]string{"collection", "op"},
	)

	// GatewayReconnectsTotal counts change feed reconnect attempts
	GatewayReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spott",
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Total change feed connection losses followed by a reconnect attempt",
		},
	)

	// GatewayDroppedTotal counts notifications dropped for slow subscribers
	GatewayDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spott",
			Subsystem: "gateway",
			Name:      "dropped_total",
			Help:      "Total change notifications dropped because a subscriber channel was full",
		},
	)
)

var (
	// BusEventsTotal counts normalized events broadcast by variant
	BusEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spott",
			Subsystem: "bus",
			Name:      "events_total",
			Help:      "Total normalized events broadcast by variant",
		},
		[]string{"variant"},
	)

	// BusUnmappedTotal counts raw changes dropped at the normalization boundary
	BusUnmappedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spott",
			Subsystem: "bus",
			Name:      "unmapped_total",
			Help:      "Total raw changes dropped because no variant mapping exists",
		},
		[]string{"collection", "op"},
	)

	// BusHandlerPanicsTotal counts recovered handler panics during broadcast
	BusHandlerPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spott",
			Subsystem: "bus",
			Name:      "handler_panics_total",
			Help:      "Total handler panics recovered during event broadcast",
		},
	)

	// BusHandlersActive tracks registered bus handlers
	BusHandlersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spott",
			Subsystem: "bus",
			Name:      "handlers_active",
			Help:      "Number of handlers currently registered on the fan-out bus",
		},
	)
)

var (
	// SSEConnectionsActive tracks active SSE connections
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spott",
			Subsystem: "sse",
			Name:      "connections_active",
			Help:      "Number of active SSE connections",
		},
	)

	// SSEEventsPublished counts total SSE events written by variant
	SSEEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spott",
			Subsystem: "sse",
			Name:      "events_published_total",
			Help:      "Total number of SSE events written to clients by variant",
		},
		[]string{"variant"},
	)
)

var (
	// AssistantRequestsTotal counts assistant completions by outcome
	AssistantRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spott",
			Subsystem: "assistant",
			Name:      "requests_total",
			Help:      "Total assistant completion requests by outcome",
		},
		[]string{"outcome"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush forwards flushes so SSE streaming keeps working behind the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := getRoutePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// getRoutePattern returns the route pattern from chi context.
// Falls back to URL path if pattern not available.
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
