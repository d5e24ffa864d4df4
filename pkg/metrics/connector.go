package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConnectorMetrics tracks protocol command dispatch outcomes.
type ConnectorMetrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewConnectorMetrics creates the command metrics, registering them with the
// global registry. Returns nil (a valid no-op collector) when metrics are
// disabled.
func NewConnectorMetrics() *ConnectorMetrics {
	if !IsEnabled() {
		return nil
	}

	m := &ConnectorMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elfinderd_commands_total",
			Help: "Total protocol commands dispatched, by command and outcome.",
		}, []string{"cmd", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "elfinderd_command_duration_seconds",
			Help:    "Handler execution time, by command.",
			Buckets: []float64{.005, .025, .1, .25, 1, 2.5, 10},
		}, []string{"cmd"}),
	}
	GetRegistry().MustRegister(m.commands, m.duration)
	return m
}

// ObserveCommand records one dispatched command. Outcome is "ok", "error" or
// "invalid" (contract rejection; no handler ran, duration is ignored).
func (m *ConnectorMetrics) ObserveCommand(cmd, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(cmd, outcome).Inc()
	if outcome != "invalid" {
		m.duration.WithLabelValues(cmd).Observe(elapsed.Seconds())
	}
}
