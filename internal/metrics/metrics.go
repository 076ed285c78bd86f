// Package metrics holds the Prometheus collectors of the auth engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the engine's collectors.
type Metrics struct {
	AuthAttempts *prometheus.CounterVec
	Logins       *prometheus.CounterVec
	Refreshes    *prometheus.CounterVec
	RateLimited  *prometheus.CounterVec
	StoreRetries prometheus.Counter
	CleanupRuns  *prometheus.CounterVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restauth",
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by strategy and outcome.",
		}, []string{"strategy", "result"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restauth",
			Name:      "logins_total",
			Help:      "Explicit logins by strategy and outcome.",
		}, []string{"strategy", "result"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restauth",
			Name:      "token_refreshes_total",
			Help:      "Refresh token exchanges by outcome.",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restauth",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by keyspace.",
		}, []string{"keyspace"}),
		StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "restauth",
			Name:      "store_retries_total",
			Help:      "Authentications retried after a transient store failure.",
		}),
		CleanupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restauth",
			Name:      "cleanup_runs_total",
			Help:      "Cleanup worker runs by outcome.",
		}, []string{"result"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.AuthAttempts, m.Logins, m.Refreshes, m.RateLimited, m.StoreRetries, m.CleanupRuns,
			m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		)
	}
	return m
}

// Result labels an outcome.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Handler serves the collectors of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Instrument records request counts and latencies. route labels the
// request; it defaults to the URL path.
func (m *Metrics) Instrument(route func(*http.Request) string) func(http.Handler) http.Handler {
	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()
			start := time.Now()

			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)

			status := strconv.Itoa(sw.code)
			labels := []string{r.Method, route(r), status}
			m.httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			m.httpRequestsTotal.WithLabelValues(labels...).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
