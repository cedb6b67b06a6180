package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Overlay loop
	PaintCycles       atomic.Uint64
	SkippedCycles     atomic.Uint64
	SurfaceResizes    atomic.Uint64
	DetectionsPainted atomic.Uint64
	PaintLatencyUs    atomic.Uint64 // Last paint duration in microseconds

	// Inputs
	BatchesReceived  atomic.Uint64
	BatchesRejected  atomic.Uint64
	TelemetryUpdates atomic.Uint64

	// Composited feed
	FramesEncoded atomic.Uint64
	FramesDropped atomic.Uint64
	EncodeErrors  atomic.Uint64

	// Clients
	StreamClients atomic.Int64
	EventClients  atomic.Int64
	WebRTCClients atomic.Int64

	// Deep analysis
	Analyses         atomic.Uint64
	AnalysisFallback atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("dashboard_paint_cycles_total", "Overlay paint cycles completed",
		func() float64 { return float64(m.PaintCycles.Load()) })
	m.gauge("dashboard_paint_cycles_skipped_total", "Paint cycles skipped because the surface was unavailable",
		func() float64 { return float64(m.SkippedCycles.Load()) })
	m.gauge("dashboard_surface_resizes_total", "Overlay surface resizes caused by frame dimension changes",
		func() float64 { return float64(m.SurfaceResizes.Load()) })
	m.gauge("dashboard_detections_painted_total", "Detections painted across all cycles",
		func() float64 { return float64(m.DetectionsPainted.Load()) })
	m.gauge("dashboard_paint_latency_us", "Duration of the last paint cycle in microseconds",
		func() float64 { return float64(m.PaintLatencyUs.Load()) })

	m.gauge("dashboard_batches_received_total", "Detection batches accepted",
		func() float64 { return float64(m.BatchesReceived.Load()) })
	m.gauge("dashboard_batches_rejected_total", "Detection batches rejected by validation",
		func() float64 { return float64(m.BatchesRejected.Load()) })
	m.gauge("dashboard_telemetry_updates_total", "Telemetry samples received",
		func() float64 { return float64(m.TelemetryUpdates.Load()) })

	m.gauge("dashboard_frames_encoded_total", "Composited frames JPEG-encoded",
		func() float64 { return float64(m.FramesEncoded.Load()) })
	m.gauge("dashboard_frames_dropped_total", "Composited frames dropped for slow or mismatched consumers",
		func() float64 { return float64(m.FramesDropped.Load()) })
	m.gauge("dashboard_encode_errors_total", "JPEG encode failures",
		func() float64 { return float64(m.EncodeErrors.Load()) })

	m.gauge("dashboard_stream_clients", "Connected MJPEG clients",
		func() float64 { return float64(m.StreamClients.Load()) })
	m.gauge("dashboard_event_clients", "Connected SSE and WebSocket clients",
		func() float64 { return float64(m.EventClients.Load()) })
	m.gauge("dashboard_webrtc_clients", "Connected WebRTC data channel clients",
		func() float64 { return float64(m.WebRTCClients.Load()) })

	m.gauge("dashboard_analyses_total", "Deep scene analyses completed",
		func() float64 { return float64(m.Analyses.Load()) })
	m.gauge("dashboard_analysis_fallback_total", "Deep scene analyses answered with the fallback insight",
		func() float64 { return float64(m.AnalysisFallback.Load()) })
}

// ObservePaint records one completed paint cycle.
func (m *Metrics) ObservePaint(d time.Duration, detections int, resized bool) {
	m.PaintCycles.Add(1)
	m.DetectionsPainted.Add(uint64(detections))
	m.PaintLatencyUs.Store(uint64(d.Microseconds()))
	if resized {
		m.SurfaceResizes.Add(1)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
