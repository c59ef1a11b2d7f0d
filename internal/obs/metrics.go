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

	challengeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_challenge_attempts_total",
			Help: "Secret challenge attempts by outcome.",
		},
		[]string{"outcome"},
	)

	dataAccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_data_access_total",
			Help: "Administrative data access requests by data type and outcome.",
		},
		[]string{"data_type", "outcome"},
	)

	riskActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_actions_total",
			Help: "Connection risk policy actions.",
		},
		[]string{"action"},
	)

	banOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ban_operations_total",
			Help: "Ban and account-disable operations by outcome.",
		},
		[]string{"action", "outcome"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit appends that did not durably complete.",
	})

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	initOnce sync.Once
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			challengeAttempts, dataAccess, riskActions, banOperations,
			auditWriteFailures, readyGauge,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var knownPaths = map[string]struct{}{
	"/healthz":                    {},
	"/readyz":                     {},
	"/metrics":                    {},
	"/admin/challenge":            {},
	"/admin/data-access":          {},
	"/admin/ban":                  {},
	"/admin/audit/stream":         {},
	"/security/assess-connection": {},
}

// CanonicalPath keeps label cardinality bounded: unknown paths collapse to "other".
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if _, ok := knownPaths[p]; ok || p == "/" {
		return p
	}
	return "other"
}

// ObserveChallenge counts a challenge outcome: success, failure, blocked or unavailable.
func ObserveChallenge(outcome string) { challengeAttempts.WithLabelValues(outcome).Inc() }

// ObserveDataAccess counts a gateway decision.
func ObserveDataAccess(dataType, outcome string) {
	if dataType == "" {
		dataType = "unknown"
	}
	dataAccess.WithLabelValues(dataType, outcome).Inc()
}

// ObserveRiskAction counts a risk engine decision.
func ObserveRiskAction(action string) { riskActions.WithLabelValues(action).Inc() }

// ObserveBan counts a ban-path mutation.
func ObserveBan(action, outcome string) { banOperations.WithLabelValues(action, outcome).Inc() }

// ObserveAuditFailure counts an audit append that failed.
func ObserveAuditFailure() { auditWriteFailures.Inc() }

// SetReady publishes the readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
