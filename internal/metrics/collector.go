// Package metrics collects engine run and node counters for
// Prometheus. A nil *Collector is a valid no-op recorder, so callers
// never have to guard their instrumentation sites.
package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector registers and records the engine's metrics.
type Collector struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	activeRuns  prometheus.Gauge

	nodeExecutionsTotal *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec

	scheduleLaunchesTotal *prometheus.CounterVec
}

// NewCollector registers the engine metrics under namespace on the
// default registry. Call once per process.
func NewCollector(namespace string, logger *slog.Logger) *Collector {
	c := &Collector{}

	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished runs by terminal status",
		},
		[]string{"status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run wall time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	c.activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of runs currently executing",
		},
	)

	c.nodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	c.nodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	c.scheduleLaunchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_launches_total",
			Help:      "Total number of scheduler launch attempts by result",
		},
		[]string{"result"},
	)

	if logger != nil {
		logger.Info("metrics collector initialized", "namespace", namespace)
	}
	return c
}

// RunStarted marks a run as active.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.activeRuns.Inc()
}

// RunFinished records a run's terminal status and wall time, and
// releases its active slot.
func (c *Collector) RunFinished(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.activeRuns.Dec()
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// NodeExecuted records one node execution.
func (c *Collector) NodeExecuted(kind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.nodeExecutionsTotal.WithLabelValues(kind, status).Inc()
	c.nodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ScheduleLaunch records one scheduler launch attempt. Result is
// "launched", "skipped", or "error".
func (c *Collector) ScheduleLaunch(result string) {
	if c == nil {
		return
	}
	c.scheduleLaunchesTotal.WithLabelValues(result).Inc()
}
