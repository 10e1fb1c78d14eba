// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesProcessed atomic.Uint64
	FramesPublished atomic.Uint64
	ReadFailures    atomic.Uint64
	Reopens         atomic.Uint64

	// Detection
	Inferences      atomic.Uint64
	DetectionErrors atomic.Uint64

	// Session state
	Running      atomic.Uint64 // 0 = stopped, 1 = running
	AlertActive  atomic.Uint64 // 0 = present, 1 = missing
	AvgAbsentPct atomic.Uint64 // mean absence, 0-100

	// Stream readers
	StreamClients atomic.Int64

	ProcessLatencyMs atomic.Uint64

	notifications *prometheus.CounterVec
	registry      *prometheus.Registry
}

// New creates a new Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kotakwatch_notifications_total",
			Help: "Alert notifications by outcome",
		}, []string{"outcome"}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.notifications,
	)

	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"kotakwatch_frames_processed_total", "Frames processed by the capture worker", func() float64 { return float64(m.FramesProcessed.Load()) }},
		{"kotakwatch_frames_published_total", "Annotated frames published to stream readers", func() float64 { return float64(m.FramesPublished.Load()) }},
		{"kotakwatch_read_failures_total", "Failed capture reads", func() float64 { return float64(m.ReadFailures.Load()) }},
		{"kotakwatch_reopens_total", "Full capture reopens", func() float64 { return float64(m.Reopens.Load()) }},
		{"kotakwatch_inferences_total", "Detector calls", func() float64 { return float64(m.Inferences.Load()) }},
		{"kotakwatch_detection_errors_total", "Detector calls that failed", func() float64 { return float64(m.DetectionErrors.Load()) }},
		{"kotakwatch_session_running", "Capture session running (0/1)", func() float64 { return float64(m.Running.Load()) }},
		{"kotakwatch_alert_active", "Object reported missing (0/1)", func() float64 { return float64(m.AlertActive.Load()) }},
		{"kotakwatch_avg_absent_percent", "Mean absence over the presence window", func() float64 { return float64(m.AvgAbsentPct.Load()) }},
		{"kotakwatch_stream_clients", "Connected MJPEG readers", func() float64 { return float64(m.StreamClients.Load()) }},
		{"kotakwatch_process_latency_ms", "Last per-frame processing time in milliseconds", func() float64 { return float64(m.ProcessLatencyMs.Load()) }},
	}
	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: g.name, Help: g.help}, g.fn))
	}
}

// ObserveNotification counts one dispatch outcome.
func (m *Metrics) ObserveNotification(outcome string) {
	m.notifications.WithLabelValues(outcome).Inc()
}

// UpdateProcessLatency records how long one frame took.
func (m *Metrics) UpdateProcessLatency(d time.Duration) {
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetPresence records the current alert flag and mean absence.
func (m *Metrics) SetPresence(missing bool, avgAbsent float64) {
	var v uint64
	if missing {
		v = 1
	}
	m.AlertActive.Store(v)
	m.AvgAbsentPct.Store(uint64(avgAbsent*100 + 0.5))
}

// SetRunning records whether a session is active.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.Running.Store(1)
	} else {
		m.Running.Store(0)
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
