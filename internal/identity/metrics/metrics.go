// Package metrics registers the service's Prometheus collectors and exposes
// the scrape handler plus an HTTP instrumentation middleware.
package metrics

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

	// LoginsTotal counts authentication resolutions by outcome
	// (success, wrong_password, account_deactivated, not_found).
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_logins_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// LockoutsTotal counts accounts deactivated by the failed-attempt policy.
	LockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_lockouts_total",
		Help: "Accounts locked out after repeated failed logins.",
	})

	// SessionRotationsTotal counts successful refresh rotations.
	SessionRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_session_rotations_total",
		Help: "Successful refresh-token rotations.",
	})

	// TokenReuseTotal counts detected replays of rotated-out refresh tokens.
	TokenReuseTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_token_reuse_detected_total",
		Help: "Refresh-token reuse detections.",
	})

	// LicenseDecisionsTotal counts approval-step decisions by kind.
	LicenseDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_license_decisions_total",
			Help: "License approval step decisions by kind.",
		},
		[]string{"decision"},
	)
)

// Init registers all collectors on the default registry. Call once at
// startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		LoginsTotal, LockoutsTotal, SessionRotationsTotal,
		TokenReuseTotal, LicenseDecisionsTotal,
	)
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with request count, latency and in-flight
// tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
