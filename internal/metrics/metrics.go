// Package metrics records pipeline and tool measurements in a private
// prometheus registry. A run's metrics can be written to a node_exporter
// textfile once the run ends.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gauntlet"

// Metrics implements toolrun.Observer and pipeline.Recorder.
type Metrics struct {
	reg *prometheus.Registry

	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	findings      *prometheus.CounterVec
	toolRuns      *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	runDuration   prometheus.Histogram
	runResults    prometheus.Gauge
	runSuccess    prometheus.Gauge
}

// New registers every collector in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		stageRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "runs_total",
			Help:      "Pipeline stage executions by status.",
		}, []string{"stage", "status"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Pipeline stage wall-clock time.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		findings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "findings_total",
			Help:      "Findings contributed by each stage.",
		}, []string{"stage"}),
		toolRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "invocations_total",
			Help:      "External tool invocations by outcome.",
		}, []string{"tool", "status"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "duration_seconds",
			Help:      "External tool wall-clock time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"tool"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Whole pipeline run time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		runResults: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "results",
			Help:      "Results in the last report.",
		}),
		runSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "successful",
			Help:      "1 when the last run recorded no errors.",
		}),
	}
}

// ObserveStage counts one stage execution. Skipped stages carry no duration.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	m.stageRuns.WithLabelValues(stage, status).Inc()
	if d > 0 {
		m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// ObserveFindings adds n findings for stage.
func (m *Metrics) ObserveFindings(stage string, n int) {
	m.findings.WithLabelValues(stage).Add(float64(n))
}

// ObserveTool counts one external tool execution.
func (m *Metrics) ObserveTool(tool, status string, d time.Duration) {
	m.toolRuns.WithLabelValues(tool, status).Inc()
	if d > 0 {
		m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// ObserveRun records the summary of a finished run.
func (m *Metrics) ObserveRun(d time.Duration, results int, successful bool) {
	m.runDuration.Observe(d.Seconds())
	m.runResults.Set(float64(results))
	if successful {
		m.runSuccess.Set(1)
	} else {
		m.runSuccess.Set(0)
	}
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.reg }

// WriteTextfile writes every metric in the text exposition format. The
// file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
