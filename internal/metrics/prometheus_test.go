package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 409: "4xx", 503: "5xx", 0: "unknown"}
	for code, want := range cases {
		if got := statusClass(code); got != want {
			t.Fatalf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestRecordDecisionIncrements(t *testing.T) {
	before := testutil.ToFloat64(decisionsTotal.WithLabelValues("approve", "recorded"))
	RecordDecision("approve", "recorded")
	after := testutil.ToFloat64(decisionsTotal.WithLabelValues("approve", "recorded"))
	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordHTTPRequest(http.MethodGet, "/api/approvals/{id}", 200, 0.01)
	RecordComment()

	server := httptest.NewServer(Handler())
	defer server.Close()

	res, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	for _, name := range []string{"reviewflow_api_http_requests_total", "reviewflow_comments_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}
