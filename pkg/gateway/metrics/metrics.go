// Package metrics registers and records the gateway's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Frame metrics
	FramesTotal     *prometheus.CounterVec
	AudioBytesTotal *prometheus.CounterVec

	// Invocation metrics
	InvocationsTotal         *prometheus.CounterVec
	DroppedCorrelationsTotal prometheus.Counter
	AsyncTasksTotal          *prometheus.CounterVec

	// Macro metrics
	MacroRunsTotal *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voxdeck"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions",
		},
		[]string{"mode", "status"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"mode"},
	)

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total protocol frames processed",
		},
		[]string{"direction", "type"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes relayed",
		},
		[]string{"direction"},
	)

	invocationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total capability invocations dispatched",
		},
		[]string{"class", "outcome"},
	)

	droppedCorrelationsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_correlations_total",
			Help:      "Browser function results with no matching outstanding call",
		},
	)

	asyncTasksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_tasks_total",
			Help:      "Background invocation tasks by final status",
		},
		[]string{"status"},
	)

	macroRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "macro_runs_total",
			Help:      "Macro executions by outcome",
		},
		[]string{"outcome"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		framesTotal,
		audioBytesTotal,
		invocationsTotal,
		droppedCorrelationsTotal,
		asyncTasksTotal,
		macroRunsTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:                 registry,
		SessionsActive:           sessionsActive,
		SessionsTotal:            sessionsTotal,
		SessionDuration:          sessionDuration,
		FramesTotal:              framesTotal,
		AudioBytesTotal:          audioBytesTotal,
		InvocationsTotal:         invocationsTotal,
		DroppedCorrelationsTotal: droppedCorrelationsTotal,
		AsyncTasksTotal:          asyncTasksTotal,
		MacroRunsTotal:           macroRunsTotal,
		ErrorsTotal:              errorsTotal,
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a new session becoming active.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(mode, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(mode, status).Inc()
	m.SessionDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordFrame records one protocol frame.
func (m *Metrics) RecordFrame(direction, frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction, frameType).Inc()
}

// RecordAudio records relayed audio bytes.
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordInvocation records one dispatched invocation.
func (m *Metrics) RecordInvocation(class, outcome string) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(class, outcome).Inc()
}

// RecordDroppedCorrelation records a browser result with no match.
func (m *Metrics) RecordDroppedCorrelation() {
	if m == nil {
		return
	}
	m.DroppedCorrelationsTotal.Inc()
}

// RecordAsyncTask records a finished background task.
func (m *Metrics) RecordAsyncTask(status string) {
	if m == nil {
		return
	}
	m.AsyncTasksTotal.WithLabelValues(status).Inc()
}

// RecordMacroRun records one macro execution.
func (m *Metrics) RecordMacroRun(outcome string) {
	if m == nil {
		return
	}
	m.MacroRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordError records one error by type.
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
