package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "edupanel_ready",
		Help: "1 when the service passed its last readiness check.",
	})
)

// Domain metrics
var (
	accountOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edupanel_account_operations_total",
			Help: "Account lifecycle operations by outcome.",
		},
		[]string{"op", "result"},
	)

	consistencyWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edupanel_consistency_warnings_total",
			Help: "Secondary steps that failed without failing the primary operation.",
		},
		[]string{"step"},
	)

	sagaCompensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edupanel_saga_compensations_total",
			Help: "Compensating actions attempted after a failed forward step.",
		},
		[]string{"outcome"},
	)

	auditAppendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edupanel_audit_append_failures_total",
		Help: "Audit entries that could not be persisted.",
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
			accountOperations, consistencyWarnings, sagaCompensations, auditAppendFailures,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the latest readiness verdict.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// AccountOperation counts one provisioning call. result is "ok", "partial" or "error".
func AccountOperation(op, result string) {
	accountOperations.WithLabelValues(op, result).Inc()
}

// ConsistencyWarning counts a failed secondary step.
func ConsistencyWarning(step string) {
	consistencyWarnings.WithLabelValues(step).Inc()
}

// Compensation counts a compensating action by outcome ("succeeded" or "failed").
func Compensation(outcome string) {
	sagaCompensations.WithLabelValues(outcome).Inc()
}

// AuditAppendFailed counts an audit entry that was dropped.
func AuditAppendFailed() {
	auditAppendFailures.Inc()
}

// Instrument wraps next with RPS, latency and in-flight metrics.
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

// CanonicalPath collapses account identifiers so metric label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "accounts" {
		switch {
		case len(parts) == 3:
			return "/v1/accounts/:id"
		case len(parts) == 4 && (parts[3] == "sections" || parts[3] == "status"):
			return "/v1/accounts/:id/" + parts[3]
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
