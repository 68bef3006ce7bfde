// Package metrics exposes recorder activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artigo/echolens/internal/session"
)

const namespace = "echolens"

// Collector holds all Prometheus metrics for the recorder. It implements
// session.Observer.
type Collector struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	RecordingsStarted prometheus.Counter
	RecordingsSaved   prometheus.Counter
	RecordingsFailed  prometheus.Counter
	BytesWritten      prometheus.Counter
	DroppedChunks     prometheus.Counter
	RecordingDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	now func() time.Time
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of microphones currently being recorded",
		}),
		RecordingsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_started_total",
			Help:      "Total number of recording sessions started",
		}),
		RecordingsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_saved_total",
			Help:      "Total number of WAV files written",
		}),
		RecordingsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_failed_total",
			Help:      "Total number of recordings that could not be saved",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "written_bytes_total",
			Help:      "Total bytes of WAV data written",
		}),
		DroppedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_chunks_total",
			Help:      "Audio chunks dropped because the capture buffer could not grow",
		}),
		RecordingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Wall-clock length of finished recording sessions",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		now: time.Now,
	}

	registry.MustRegister(
		c.ActiveSessions,
		c.RecordingsStarted,
		c.RecordingsSaved,
		c.RecordingsFailed,
		c.BytesWritten,
		c.DroppedChunks,
		c.RecordingDuration,
		c.HTTPRequests,
		c.HTTPDuration,
	)

	return c
}

// Registry returns the Prometheus registry for this collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (c *Collector) RecordingStarted(session.Info) {
	c.RecordingsStarted.Inc()
	c.ActiveSessions.Inc()
}

func (c *Collector) RecordingStopped(info session.Info) {
	c.ActiveSessions.Dec()
	c.DroppedChunks.Add(float64(info.DroppedChunks))
	if !info.StartedAt.IsZero() {
		c.RecordingDuration.Observe(c.now().Sub(info.StartedAt).Seconds())
	}
}

func (c *Collector) RecordingSaved(_ session.Info, _ string, size int64) {
	c.RecordingsSaved.Inc()
	c.BytesWritten.Add(float64(size))
}

func (c *Collector) RecordingFailed(session.Info, error) {
	c.RecordingsFailed.Inc()
}
