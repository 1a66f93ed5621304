package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(mutations.WithLabelValues("petition", "create"))
	RecordMutation("petition", "create")
	if got := testutil.ToFloat64(mutations.WithLabelValues("petition", "create")); got != before+1 {
		t.Fatalf("expected mutation counter to grow by 1, got %v -> %v", before, got)
	}

	RecordLogin(false)
	if got := testutil.ToFloat64(logins.WithLabelValues("false")); got < 1 {
		t.Fatalf("expected failed login to be counted, got %v", got)
	}

	RecordRejection("")
	if got := testutil.ToFloat64(ruleRejections.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("expected empty code to map to unknown, got %v", got)
	}

	ObserveRequest("get", "/api/v1/petitions/{id}", http.StatusOK, 10*time.Millisecond)
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/petitions/{id}", "200")); got < 1 {
		t.Fatalf("expected request counter, got %v", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	RecordRateLimited()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "petition_http_rate_limited_total") {
		t.Fatalf("metrics output missing rate limit counter")
	}
}
