// Package metrics exposes run and record outcomes as Prometheus collectors.
//
// A Metrics value is both an engine.Sink and an engine.RunObserver, so it is
// simply registered with every engine the service creates.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/mutation"
)

const namespace = "mutwizard"

// Metrics holds the engine collectors
type Metrics struct {
	// RecordsTotal counts records reaching a terminal status.
	// Labels: mode, status
	RecordsTotal *prometheus.CounterVec

	// PrimitiveDuration measures one mutation primitive call.
	// Labels: mode, status
	PrimitiveDuration *prometheus.HistogramVec

	// RunsTotal counts finished runs.
	// Labels: mode, state
	RunsTotal *prometheus.CounterVec

	// RecordsInFlight is 1 while a primitive call is outstanding
	RecordsInFlight prometheus.Gauge

	// DriftTotal counts records whose structure no longer matched the staged source type
	DriftTotal prometheus.Counter

	// ImportLinesTotal counts parsed CSV lines.
	// Labels: result (imported, rejected)
	ImportLinesTotal *prometheus.CounterVec
}

// New creates and registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Mutation records reaching a terminal status",
		}, []string{"mode", "status"}),
		PrimitiveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "primitive_duration_seconds",
			Help:      "Duration of one mutation primitive call",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"mode", "status"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by mode and final state",
		}, []string{"mode", "state"}),
		RecordsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_in_flight",
			Help:      "Records currently inside the mutation primitive",
		}),
		DriftTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structure_drift_total",
			Help:      "Records whose residue type changed between staging and execution",
		}),
		ImportLinesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_lines_total",
			Help:      "CSV import lines by result",
		}, []string{"result"}),
	}
}

// OnRecordStatusChanged implements engine.Sink
func (m *Metrics) OnRecordStatusChanged(ctx context.Context, ev engine.Event) error {
	mode := string(ev.Mode)

	switch {
	case ev.Record.Status == mutation.StatusInProgress:
		m.RecordsInFlight.Inc()
	case ev.Previous == mutation.StatusInProgress:
		m.RecordsInFlight.Dec()
		m.RecordsTotal.WithLabelValues(mode, string(ev.Record.Status)).Inc()
		m.PrimitiveDuration.WithLabelValues(mode, string(ev.Record.Status)).Observe(ev.Duration.Seconds())
		if ev.Drift {
			m.DriftTotal.Inc()
		}
	}
	return nil
}

// OnRunFinished implements engine.RunObserver
func (m *Metrics) OnRunFinished(ctx context.Context, report engine.Report) {
	m.RunsTotal.WithLabelValues(string(report.Mode), string(report.State)).Inc()
}

// ObserveImport records the outcome of one CSV import
func (m *Metrics) ObserveImport(imported, rejected int) {
	m.ImportLinesTotal.WithLabelValues("imported").Add(float64(imported))
	m.ImportLinesTotal.WithLabelValues("rejected").Add(float64(rejected))
}
