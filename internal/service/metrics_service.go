package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the prometheus registry and the application counters.
type MetricsService struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	checkins       *prometheus.CounterVec
	sessionsOpened prometheus.Counter
	sessionsClosed prometheus.Counter
}

// NewMetricsService constructs the service with its own registry so tests
// never collide on the global one.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)
	return &MetricsService{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		checkins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_checkins_total",
			Help: "Check-in attempts by outcome.",
		}, []string{"outcome"}),
		sessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "attendance_sessions_opened_total",
			Help: "Attendance sessions opened.",
		}),
		sessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "attendance_sessions_closed_total",
			Help: "Attendance sessions closed.",
		}),
	}
}

// ObserveHTTPRequest records one served HTTP request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCheckin counts a check-in attempt by its outcome, e.g. "present",
// "late", "too_far" or "window_closed".
func (m *MetricsService) RecordCheckin(outcome string) {
	m.checkins.WithLabelValues(outcome).Inc()
}

// RecordSessionOpened counts an opened session.
func (m *MetricsService) RecordSessionOpened() {
	m.sessionsOpened.Inc()
}

// RecordSessionClosed counts a closed session.
func (m *MetricsService) RecordSessionClosed() {
	m.sessionsClosed.Inc()
}

// Handler exposes the registry for scraping.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
