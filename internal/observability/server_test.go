package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scam-call-guard/internal/observability/metrics"
)

func TestHandler_Probes(t *testing.T) {
	ready := false
	h := Handler(func() bool { return ready })

	tests := []struct {
		path  string
		ready bool
		want  int
	}{
		{"/healthz", false, http.StatusOK},
		{"/readyz", false, http.StatusServiceUnavailable},
		{"/readyz", true, http.StatusOK},
	}

	for _, tt := range tests {
		ready = tt.ready
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s (ready=%v): got %d, want %d", tt.path, tt.ready, rec.Code, tt.want)
		}
	}
}

func TestHandler_Metrics(t *testing.T) {
	metrics.DefaultMetrics.RecordServerEvent("session.created")

	rec := httptest.NewRecorder()
	Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scam_call_guard_server_events_total") {
		t.Error("expected service metrics in exposition")
	}
}
