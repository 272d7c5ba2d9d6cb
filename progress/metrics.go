package progress

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus instruments observing call startup.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	StageEvents    *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	StartupOutcome *prometheus.CounterVec
	StartupLatency prometheus.Histogram
}

// NewMetrics registers the startup instruments under the given namespace.
// When reg is nil the default registerer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active call sessions.",
		}),
		StageEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "startup_stage_events_total",
			Help:      "Startup stage transitions by stage and status.",
		}, []string{"stage", "status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "startup_stage_duration_ms",
			Help:      "Resolved startup stage duration in milliseconds.",
			Buckets:   []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000},
		}, []string{"stage", "status"}),
		StartupOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "startup_outcomes_total",
			Help:      "Terminal startup outcomes by result.",
		}, []string{"result"}),
		StartupLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "startup_total_duration_ms",
			Help:      "End-to-end startup duration in milliseconds.",
			Buckets:   []float64{200, 500, 1000, 2000, 3000, 5000, 8000, 15000},
		}),
	}
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) observeStage(event StageEvent) {
	m.StageEvents.WithLabelValues(event.Stage, string(event.Status)).Inc()
	if event.Status != StageStarted {
		m.StageDuration.WithLabelValues(event.Stage, string(event.Status)).
			Observe(float64(event.Duration.Milliseconds()))
	}
}

func (m *Metrics) observeOutcome(result string, total time.Duration) {
	m.StartupOutcome.WithLabelValues(result).Inc()
	m.StartupLatency.Observe(float64(total.Milliseconds()))
}
