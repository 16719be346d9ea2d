// Package metrics exposes Prometheus instrumentation for the step service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	SamplesAppended     prometheus.Counter
	BatchesRejected     *prometheus.CounterVec
	StoredSamples       prometheus.Gauge
	StorageErrors       *prometheus.CounterVec
}

// New creates a Metrics bound to a fresh registry.
//
// Each call owns its registry so several routers can coexist in one process,
// which is what tests do.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steplog_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steplog_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SamplesAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "steplog_samples_appended_total",
			Help: "Total number of samples appended to the log",
		}),
		BatchesRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steplog_batches_rejected_total",
				Help: "Total number of POST /steps batches rejected before storage",
			},
			[]string{"code"},
		),
		StoredSamples: f.NewGauge(prometheus.GaugeOpts{
			Name: "steplog_stored_samples",
			Help: "Number of samples reported by the last GET /steps",
		}),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steplog_storage_errors_total",
				Help: "Total number of failed storage operations",
			},
			[]string{"op"},
		),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format for m.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
