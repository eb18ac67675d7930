// Package metrics exposes the Prometheus collectors for the HTTP surface and
// the booking domain.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "careslot",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "careslot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "careslot",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "careslot",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Total number of booking attempts by outcome.",
		},
		[]string{"outcome"},
	)

	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "careslot",
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Total number of authentication events by kind and outcome.",
		},
		[]string{"event", "outcome"},
	)

	sweepCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "careslot",
			Subsystem: "appointments",
			Name:      "sweep_completed_total",
			Help:      "Total number of appointments auto-completed by the sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		bookings,
		authEvents,
		sweepCompleted,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordBooking counts one booking attempt; outcome is "created", "conflict"
// or "error".
func RecordBooking(outcome string) {
	bookings.WithLabelValues(outcome).Inc()
}

// RecordAuthEvent counts one authentication event, e.g. ("login", "success").
func RecordAuthEvent(event string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordSweep counts appointments auto-completed by one sweep run.
func RecordSweep(n int64) {
	if n > 0 {
		sweepCompleted.Add(float64(n))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource ids so metric label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" || len(parts) == 1 {
		return "/" + parts[0]
	}

	resource := parts[1]
	switch {
	case len(parts) == 2:
		return "/api/" + resource
	case resource == "appointments" && parts[2] == "my":
		return "/api/appointments/my"
	case resource == "appointments" && len(parts) > 3 && parts[2] == "doctor":
		return "/api/appointments/doctor/:id"
	case resource == "appointments" && len(parts) > 3 && parts[3] == "cancel":
		return "/api/appointments/:id/cancel"
	case resource == "availability" && len(parts) > 3 && parts[2] == "doctor":
		return "/api/availability/doctor/:id"
	case resource == "availability":
		return "/api/availability/:id"
	default:
		return "/api/" + resource + "/" + parts[2]
	}
}
