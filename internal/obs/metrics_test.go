package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                       "/",
		"/metrics":                               "/metrics",
		"/api/v1/companies/42":                   "/api/v1/companies/:id",
		"/api/v1/companies/abc":                  "/api/v1/companies/abc",
		"/api/v1/sensor-data?equipment_id=7":     "/api/v1/sensor-data",
		"/api/v1/companies/42/equipment/7":       "/api/v1/companies/:id/equipment/:id",
		"/api/v1/equipment?company_id=3&limit=1": "/api/v1/equipment",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/api/v1/companies/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/companies/{id}", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/companies/9", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/companies/{id}", "418"))

	if after-before != 1 {
		t.Fatalf("expected one request counted under the route pattern, got %v", after-before)
	}
}

func TestAuthMetricsCountsReplays(t *testing.T) {
	Init()
	before := testutil.ToFloat64(refreshReplaysTotal)
	AuthMetrics{}.AuthOutcome("refresh", "replayed")
	AuthMetrics{}.AuthOutcome("refresh", "ok")
	if got := testutil.ToFloat64(refreshReplaysTotal) - before; got != 1 {
		t.Fatalf("expected one replay, got %v", got)
	}
	if got := testutil.ToFloat64(authOperationsTotal.WithLabelValues("refresh", "ok")); got < 1 {
		t.Fatalf("expected ok outcome counted, got %v", got)
	}
}
