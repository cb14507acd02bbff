package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	workflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Record workflow transition attempts by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
)

// Init registers the service metrics in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, workflowTransitionsTotal)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition counts one transition attempt. Outcome is one of
// "applied", "denied", "conflict", "invalid" or "error".
func ObserveTransition(action, outcome string) {
	workflowTransitionsTotal.WithLabelValues(action, outcome).Inc()
}

// Instrument wraps a handler with RPS, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric labels stay low
// cardinality. Paths that do not match a known route shape pass through
// unchanged.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	trimmed := strings.TrimPrefix(path, "/v1/")
	if trimmed == path {
		return path
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	switch parts[0] {
	case "audits":
		return canonicalAuditPath(path, parts)
	case "users":
		if len(parts) == 2 {
			return "/v1/users/:id"
		}
	}
	return path
}

func canonicalAuditPath(path string, parts []string) string {
	switch len(parts) {
	case 1:
		return "/v1/audits"
	case 2:
		return "/v1/audits/:id"
	case 3:
		switch parts[2] {
		case "team", "records":
			return "/v1/audits/:id/" + parts[2]
		}
	case 5:
		if parts[2] == "records" {
			return "/v1/audits/:id/records/:kind/:id"
		}
	case 6:
		if parts[2] == "records" {
			switch parts[5] {
			case "transitions", "permissions", "history":
				return "/v1/audits/:id/records/:kind/:id/" + parts[5]
			}
		}
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
