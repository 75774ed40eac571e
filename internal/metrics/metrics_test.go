package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	HTTPRequestsTotal.Reset()

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/posts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	got := counterValue(t, HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/posts", "201"))
	if got != 1 {
		t.Errorf("requests_total = %v, want 1", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/posts/{postID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/posts/abc-123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	got := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/posts/{postID}", "200"))
	if got != 1 {
		t.Errorf("requests_total for pattern = %v, want 1", got)
	}
}

func TestHandlerExposesNamespacedMetrics(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()
	BusEventsTotal.WithLabelValues("notification.inserted").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"spott_http_requests_total",
		"spott_bus_events_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestResponseWriterForwardsFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	if _, ok := interface{}(rw).(http.Flusher); !ok {
		t.Fatal("wrapped writer does not implement http.Flusher")
	}
	rw.Flush()
	if !rec.Flushed {
		t.Error("flush not forwarded to the underlying writer")
	}
}
