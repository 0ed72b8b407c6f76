package obs

import (
	"net/http"
	"strconv"
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

	signatureChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signature_checks_total",
			Help: "Request signature verification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	refreshRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_rejections_total",
			Help: "Rejected refresh attempts by reason.",
		},
		[]string{"reason"},
	)

	sessionRevocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_revocations_total",
			Help: "Session revocations by reason.",
		},
		[]string{"reason"},
	)
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		signatureChecks, refreshRejections, sessionRevocations,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SignatureCheck records the outcome of one signature verification.
func SignatureCheck(outcome string) {
	signatureChecks.WithLabelValues(outcome).Inc()
}

// RefreshRejected records one rejected refresh attempt.
func RefreshRejected(reason string) {
	refreshRejections.WithLabelValues(reason).Inc()
}

// SessionRevoked records one session revocation.
func SessionRevoked(reason string) {
	sessionRevocations.WithLabelValues(reason).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
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

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
