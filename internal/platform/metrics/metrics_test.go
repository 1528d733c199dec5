package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Exposition(t *testing.T) {
	m := New()
	m.HTTPRequests.WithLabelValues("GET", "/api/v1/patients", "200").Inc()
	m.PredictionCalls.WithLabelValues("right", "error").Add(2)

	if got := testutil.ToFloat64(m.PredictionCalls.WithLabelValues("right", "error")); got != 2 {
		t.Errorf("expected 2 prediction errors, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for _, want := range []string{
		`eyecare_http_requests_total{method="GET",route="/api/v1/patients",status="200"} 1`,
		`eyecare_prediction_calls_total{eye="right",outcome="error"} 2`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.HTTPErrors.WithLabelValues("NotFound").Inc()
	if testutil.ToFloat64(b.HTTPErrors.WithLabelValues("NotFound")) != 0 {
		t.Error("registries must not share collectors")
	}
}
