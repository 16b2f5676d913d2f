package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
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
)

// Auth domain metrics.
var (
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	tokenRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_rotations_total",
			Help: "Refresh token rotations by outcome.",
		},
		[]string{"outcome"},
	)

	tokensSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_swept_total",
		Help: "Expired refresh token rows removed by the maintenance sweep.",
	})

	snapshotLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_snapshot_lookups_total",
			Help: "Identity snapshot lookups by cache outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers all metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginAttempts, tokenRotations, tokensSwept, snapshotLookups)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountLogin records a login attempt outcome ("ok", "unauthorized", "error").
func CountLogin(outcome string) { loginAttempts.WithLabelValues(outcome).Inc() }

// CountRotation records a refresh rotation outcome.
func CountRotation(outcome string) { tokenRotations.WithLabelValues(outcome).Inc() }

// CountSweep records rows removed by an expiry sweep pass.
func CountSweep(n int) { tokensSwept.Add(float64(n)) }

// CountSnapshot records a snapshot cache outcome ("hit", "miss").
func CountSnapshot(outcome string) { snapshotLookups.WithLabelValues(outcome).Inc() }

// Instrument measures request rate, latency and in-flight count.
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

// CanonicalPath collapses resource ids out of admin paths so the path label
// stays low-cardinality.
func CanonicalPath(path string) string {
	for _, prefix := range []string{"/v1/admin/users/", "/v1/admin/roles/", "/v1/admin/permissions/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				return prefix + "{id}/" + rest[i+1:]
			}
			return prefix + "{id}"
		}
	}
	return path
}

// statusWriter captures the response code for the metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
