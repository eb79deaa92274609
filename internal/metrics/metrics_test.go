package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("failed to read metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("failed to read metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestGlobalMetrics(t *testing.T) {
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}
}

func TestHelpersWithoutGlobal(t *testing.T) {
	SetGlobal(nil)

	// Must not panic
	IncStoreRetries()
	IncTriggerFirings("likes", "dispatched")
	IncRegenerations(ResultSuccess)
	IncPublishAttempts("A", ResultFailure)
	ObserveGeneration("content", 1.5)
}

func TestCounters(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncStoreRetries()
	IncStoreRetries()
	IncTriggerFirings("likes", "dispatched")
	IncPublishAttempts("A", ResultSuccess)
	IncPublishAttempts("B", ResultFailure)
	IncPublishAttempts("B", ResultFailure)

	if got := counterValue(t, m.StoreRetriesTotal); got != 2 {
		t.Errorf("store retries = %v, want 2", got)
	}
	if got := counterValue(t, m.TriggerFiringsTotal.WithLabelValues("likes", "dispatched")); got != 1 {
		t.Errorf("trigger firings = %v, want 1", got)
	}
	if got := counterValue(t, m.PublishAttemptsTotal.WithLabelValues("B", ResultFailure)); got != 2 {
		t.Errorf("publish failures for B = %v, want 2", got)
	}
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/api/v1/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest("GET", "/api/v1/posts/7d1c2a7e-3f5b-4c1e-9a51-1f0f1f2b8a11", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	got := counterValue(t, m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/posts/{id}", "404"))
	if got != 1 {
		t.Errorf("requests for route pattern = %v, want 1", got)
	}
	if got := counterValue(t, m.APIErrorsTotal.WithLabelValues("not_found")); got != 1 {
		t.Errorf("not_found errors = %v, want 1", got)
	}
}

func TestNormalizePathFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/campaigns/7d1c2a7e-3f5b-4c1e-9a51-1f0f1f2b8a11/regenerate", nil)
	if got := normalizePath(req); got != "/api/v1/campaigns/{id}/regenerate" {
		t.Errorf("normalizePath() = %q", got)
	}
}

func TestCategorizeStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{400, "bad_request"},
		{401, "auth_error"},
		{404, "not_found"},
		{409, "conflict"},
		{500, "server_error"},
		{502, "generation_error"},
		{503, "backpressure"},
	}
	for _, tt := range tests {
		if got := categorizeStatus(tt.status); got != tt.want {
			t.Errorf("categorizeStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

type fakeQueueStats struct{ stats QueueStats }

func (f *fakeQueueStats) QueueStats(ctx context.Context) (*QueueStats, error) {
	return &f.stats, nil
}

func TestSamplerSetsGauges(t *testing.T) {
	m := New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSampler(m, &fakeQueueStats{stats: QueueStats{Pending: 3, Running: 1, Deferred: 2}}, 0, logger)

	s.Sample(context.Background())

	if got := gaugeValue(t, m.QueuePending); got != 3 {
		t.Errorf("pending = %v, want 3", got)
	}
	if got := gaugeValue(t, m.QueueDeferred); got != 2 {
		t.Errorf("deferred = %v, want 2", got)
	}
	if got := gaugeValue(t, m.Goroutines); got <= 0 {
		t.Errorf("goroutines = %v, want > 0", got)
	}
}

func TestServerHandler(t *testing.T) {
	m := New()
	m.StoreRetriesTotal.Inc()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(m, "", "", nil, logger)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "janus_store_retries_total") {
		t.Error("metrics output missing janus_store_retries_total")
	}
}

func TestServerReadiness(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name  string
		ready ReadyFunc
		want  int
	}{
		{"no check", nil, http.StatusOK},
		{"database up", func(context.Context) error { return nil }, http.StatusOK},
		{"database down", func(context.Context) error { return io.ErrClosedPipe }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(New(), "", "", tt.ready, logger)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
