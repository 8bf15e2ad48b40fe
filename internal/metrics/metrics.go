// Package metrics exposes scheduler counters to Prometheus.
package metrics

import (
	"grinder/pkg/model"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Iterations       prometheus.Counter
	Batches          prometheus.Counter
	Skipped          *prometheus.CounterVec // by reason
	UnitsDispatched  *prometheus.CounterVec // by op
	ShortfallUnits   *prometheus.CounterVec // by op
	DispatchFailures *prometheus.CounterVec // by op
	ResultValue      *prometheus.CounterVec // by op, summed numeric results
	CollaboratorErrs prometheus.Counter
}

// New builds the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grinder", Name: "iterations_total",
			Help: "Control loop iterations started.",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grinder", Name: "batches_total",
			Help: "Four operation batches launched.",
		}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grinder", Name: "targets_skipped_total",
			Help: "Targets skipped for an iteration.",
		}, []string{"reason"}),
		UnitsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grinder", Name: "units_dispatched_total",
			Help: "Units handed to worker nodes.",
		}, []string{"op"}),
		ShortfallUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grinder", Name: "shortfall_units_total",
			Help: "Units that could not be placed for lack of capacity.",
		}, []string{"op"}),
		DispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grinder", Name: "dispatch_failures_total",
			Help: "Dispatch requests rejected by the execution environment.",
		}, []string{"op"}),
		ResultValue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grinder", Name: "result_value_total",
			Help: "Sum of numeric results reported by operation bodies.",
		}, []string{"op"}),
		CollaboratorErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grinder", Name: "collaborator_errors_total",
			Help: "Failures caught at the per-target or per-iteration boundary.",
		}),
	}
	reg.MustRegister(
		m.Iterations, m.Batches, m.Skipped, m.UnitsDispatched,
		m.ShortfallUnits, m.DispatchFailures, m.ResultValue, m.CollaboratorErrs,
	)
	return m
}

// ObserveResult folds a reported operation result into the counters.
func (m *Metrics) ObserveResult(r *model.Result) {
	if r.Error != "" || r.Value <= 0 {
		return
	}
	m.ResultValue.WithLabelValues(string(r.Op)).Add(r.Value)
}
