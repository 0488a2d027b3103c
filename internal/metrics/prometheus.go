package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewflow_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewflow_api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewflow_decisions_total",
			Help: "Decisions submitted, by verdict and outcome",
		},
		[]string{"decision", "outcome"},
	)

	commentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reviewflow_comments_total",
			Help: "Comments appended to approvals",
		},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewflow_approval_transitions_total",
			Help: "Approval status transitions",
		},
		[]string{"status"},
	)
)

// RecordHTTPRequest records an HTTP request. endpoint should be a route
// pattern, not the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusClass(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

func statusClass(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// RecordDecision counts a decision attempt. outcome is "recorded" or an
// error code such as "not_actionable".
func RecordDecision(decision, outcome string) {
	decisionsTotal.WithLabelValues(decision, outcome).Inc()
}

func RecordComment() {
	commentsTotal.Inc()
}

func RecordTransition(status string) {
	transitionsTotal.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
