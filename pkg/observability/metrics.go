// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the gateway. Both are optional; disabled instances are no-ops
// so call sites never branch.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus instruments on a private registry.
type Metrics struct {
	enabled  bool
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	tasks        *prometheus.CounterVec
	events       *prometheus.CounterVec
}

// NewMetrics creates the instrument set. When enabled is false every record
// call is a no-op and Handler serves an empty exposition.
func NewMetrics(enabled bool) *Metrics {
	m := &Metrics{
		enabled:  enabled,
		registry: prometheus.NewRegistry(),
	}
	if !enabled {
		return m
	}

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helmsman_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helmsman_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.tasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helmsman_tasks_total",
		Help: "Tasks by terminal status",
	}, []string{"status"})

	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helmsman_events_published_total",
		Help: "Domain events published by type",
	}, []string{"type"})

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.tasks, m.events)
	return m
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTask records a task reaching a terminal status.
func (m *Metrics) RecordTask(status string) {
	if !m.enabled {
		return
	}
	m.tasks.WithLabelValues(status).Inc()
}

// RecordEvent records a published domain event.
func (m *Metrics) RecordEvent(eventType string) {
	if !m.enabled {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// Handler serves the Prometheus exposition for this instrument set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
