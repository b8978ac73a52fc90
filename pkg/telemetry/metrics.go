package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/engine"
)

const namespace = "deployer"

// Metrics provides Prometheus metrics for deployer runs. The deployer is a
// one-shot process, so metrics are not served over HTTP; they are written to
// a node exporter textfile when the run finishes.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Gauge
	stageDuration    *prometheus.GaugeVec
	stageStatus      *prometheus.GaugeVec
	stageChanged     *prometheus.GaugeVec
	lastSuccess      prometheus.Gauge
	lastRunTimestamp prometheus.Gauge
}

// NewMetrics creates a metrics collector on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of provisioning runs by final status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the last run",
		}),
		stageDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each stage in the last run",
			},
			[]string{"stage"},
		),
		stageStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_status",
				Help:      "Status of each stage in the last run (1 for the current status)",
			},
			[]string{"stage", "status"},
		),
		stageChanged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_changed",
				Help:      "Whether the stage modified the host in the last run",
			},
			[]string{"stage"},
		),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last complete run",
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.stageDuration,
		m.stageStatus,
		m.stageChanged,
		m.lastSuccess,
		m.lastRunTimestamp,
	)

	return m
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun updates every metric from a finished run.
func (m *Metrics) RecordRun(run *engine.Run) {
	m.runsTotal.WithLabelValues(string(run.Status)).Inc()
	if !run.CompletedAt.IsZero() {
		m.runDuration.Set(run.CompletedAt.Sub(run.StartedAt).Seconds())
		m.lastRunTimestamp.Set(float64(run.CompletedAt.Unix()))
	}
	if run.Status == engine.RunStatusComplete {
		m.lastSuccess.Set(float64(run.CompletedAt.Unix()))
	}

	for _, res := range run.Results {
		m.stageDuration.WithLabelValues(res.Name).Set(res.Duration().Seconds())
		for _, status := range []engine.StageStatus{
			engine.StageStatusPending,
			engine.StageStatusRunning,
			engine.StageStatusSucceeded,
			engine.StageStatusFailed,
			engine.StageStatusSkipped,
		} {
			v := 0.0
			if res.Status == status {
				v = 1
			}
			m.stageStatus.WithLabelValues(res.Name, string(status)).Set(v)
		}
		changed := 0.0
		if res.Changed {
			changed = 1
		}
		m.stageChanged.WithLabelValues(res.Name).Set(changed)
	}
}

// WriteTextfile writes the registry in the text exposition format. The file
// is written atomically, as the textfile collector requires.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// MetricsObserver records a run into Metrics and writes the textfile when the
// run finishes.
type MetricsObserver struct {
	metrics *Metrics
	path    string
	gate    string
	logger  zerolog.Logger
}

// NewMetricsObserver creates an observer writing to path. When gate is
// non-empty, nothing is written unless the named stage succeeded.
func NewMetricsObserver(m *Metrics, path, gate string, logger zerolog.Logger) *MetricsObserver {
	return &MetricsObserver{
		metrics: m,
		path:    path,
		gate:    gate,
		logger:  logger.With().Str("component", "metrics").Logger(),
	}
}

func (o *MetricsObserver) RunStarted(context.Context, *engine.Run) {}

func (o *MetricsObserver) StageStarted(context.Context, *engine.Run, *engine.StageResult) {}

func (o *MetricsObserver) StageFinished(context.Context, *engine.Run, *engine.StageResult) {}

// RunFinished records the run and writes the textfile.
func (o *MetricsObserver) RunFinished(_ context.Context, run *engine.Run) {
	if o.gate != "" && !run.Succeeded(o.gate) {
		o.logger.Debug().Str("gate", o.gate).Msg("gate stage did not succeed, metrics not written")
		return
	}
	o.metrics.RecordRun(run)
	if err := o.metrics.WriteTextfile(o.path); err != nil {
		o.logger.Warn().Err(err).Str("path", o.path).Msg("metrics not written")
		return
	}
	o.logger.Debug().Str("path", o.path).Msg("metrics written")
}
