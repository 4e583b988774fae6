// Package metrics exposes echosight's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Detection outcomes
const (
	DetectionValid          = "valid"
	DetectionSkipped        = "skipped"
	DetectionBelowThreshold = "below_threshold"
)

// Metrics holds all application metrics on a private registry.
type Metrics struct {
	FramesProcessed  prometheus.Counter
	FrameErrors      prometheus.Counter
	Detections       *prometheus.CounterVec
	NewObjects       prometheus.Counter
	AlertsDispatched prometheus.Counter
	AlertsSuppressed prometheus.Counter
	AlertsFailed     *prometheus.CounterVec
	TrackedObjects   prometheus.Gauge
	FrameDuration    prometheus.Histogram
	StreamClients    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with its collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "echosight_frames_processed_total",
			Help: "Total frames run through the detector",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "echosight_frame_errors_total",
			Help: "Total frames skipped because detection failed",
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echosight_detections_total",
			Help: "Raw detections by outcome",
		}, []string{"outcome"}),
		NewObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "echosight_new_objects_total",
			Help: "Objects that entered the registry",
		}),
		AlertsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "echosight_alerts_dispatched_total",
			Help: "Alerts handed to the announcer",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "echosight_alerts_suppressed_total",
			Help: "New objects not announced because of the cooldown or mute",
		}),
		AlertsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echosight_alerts_failed_total",
			Help: "Alerts that failed in the background by stage",
		}, []string{"stage"}),
		TrackedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "echosight_tracked_objects",
			Help: "Objects currently in the registry",
		}),
		FrameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "echosight_frame_duration_seconds",
			Help:    "Time to process one frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "echosight_stream_clients",
			Help: "Connected MJPEG and websocket clients",
		}),
	}

	m.registry.MustRegister(
		m.FramesProcessed,
		m.FrameErrors,
		m.Detections,
		m.NewObjects,
		m.AlertsDispatched,
		m.AlertsSuppressed,
		m.AlertsFailed,
		m.TrackedObjects,
		m.FrameDuration,
		m.StreamClients,
	)

	return m
}

// ObserveFrame records the processing time of one frame.
func (m *Metrics) ObserveFrame(d time.Duration) {
	m.FramesProcessed.Inc()
	m.FrameDuration.Observe(d.Seconds())
}

// Detection counts one raw detection by outcome.
func (m *Metrics) Detection(outcome string) {
	m.Detections.WithLabelValues(outcome).Inc()
}

// AlertFailed counts a background alert failure at stage.
func (m *Metrics) AlertFailed(stage string) {
	m.AlertsFailed.WithLabelValues(stage).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
