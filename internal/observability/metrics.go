package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting sweep metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Run outcomes and retry counts per scenario variant
//   - Engine wall-clock durations for capacity planning
//   - Decision traffic per strategy and served action
//   - Decision failures categorized by reason
//   - Dataset growth over the course of a sweep
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RunFinished("staff-support", "succeeded", time.Since(start).Seconds())
type Metrics struct {
	// RunsTotal counts terminal runs.
	// Labels: scenario, status (succeeded|failed|timed_out)
	RunsTotal *prometheus.CounterVec

	// RunRetriesTotal counts retry launches after a failed attempt.
	// Labels: scenario
	RunRetriesTotal *prometheus.CounterVec

	// RunDuration measures engine wall-clock time per run in seconds.
	// Labels: scenario
	// Buckets: 1s, 5s, 15s, 30s, 60s, 120s, 300s, 600s
	RunDuration *prometheus.HistogramVec

	// ActiveRuns is a gauge tracking runs currently holding an execution
	// slot.
	ActiveRuns prometheus.Gauge

	// DecisionRequestsTotal counts served decisions.
	// Labels: strategy, action (ask-help|call-staff)
	DecisionRequestsTotal *prometheus.CounterVec

	// DecisionRequestDuration measures decision serving latency in seconds.
	// Labels: strategy
	// Buckets: 0.0005s, 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s
	DecisionRequestDuration *prometheus.HistogramVec

	// DecisionErrorsTotal counts decision requests that could not be
	// served.
	// Labels: reason (no_active_strategy|bad_request|strategy_error)
	DecisionErrorsTotal *prometheus.CounterVec

	// DatasetRowsTotal counts results appended to the sweep dataset.
	DatasetRowsTotal prometheus.Counter
}

// NewMetrics creates all Prometheus metrics on the default registry.
// This should be called once at application startup; the metrics are then
// served by the /metrics endpoint.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all Prometheus metrics on the given registerer.
// Tests pass a fresh registry for isolation.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egress_runs_total",
				Help: "Total number of terminal runs by scenario and status",
			},
			[]string{"scenario", "status"},
		),

		RunRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egress_run_retries_total",
				Help: "Total number of retry launches by scenario",
			},
			[]string{"scenario"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "egress_run_duration_seconds",
				Help:    "Engine wall-clock duration per run in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"scenario"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "egress_active_runs",
				Help: "Number of runs currently holding an execution slot",
			},
		),

		DecisionRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egress_decision_requests_total",
				Help: "Total number of served decisions by strategy and action",
			},
			[]string{"strategy", "action"},
		),

		DecisionRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "egress_decision_request_duration_seconds",
				Help:    "Decision serving latency in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"strategy"},
		),

		DecisionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egress_decision_errors_total",
				Help: "Total number of decision requests that could not be served, by reason",
			},
			[]string{"reason"},
		),

		DatasetRowsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "egress_dataset_rows_total",
				Help: "Total number of results appended to the sweep dataset",
			},
		),
	}
}

// RunFinished records a terminal run outcome.
//
// Example:
//
//	metrics.RunFinished("staff-support", "succeeded", 93.5)
func (m *Metrics) RunFinished(scenario, status string, durationSeconds float64) {
	m.RunsTotal.WithLabelValues(scenario, status).Inc()
	m.RunDuration.WithLabelValues(scenario).Observe(durationSeconds)
}

// RunRetried records a retry launch for a scenario.
func (m *Metrics) RunRetried(scenario string) {
	m.RunRetriesTotal.WithLabelValues(scenario).Inc()
}

// RunStarted marks a run as holding an execution slot.
func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunEnded releases the run's slot in the active gauge.
func (m *Metrics) RunEnded() {
	m.ActiveRuns.Dec()
}

// DecisionServed records a successfully served decision.
//
// Example:
//
//	start := time.Now()
//	// ... serve decision ...
//	metrics.DecisionServed("help-matrix", "ask-help", time.Since(start).Seconds())
func (m *Metrics) DecisionServed(strategy, action string, durationSeconds float64) {
	m.DecisionRequestsTotal.WithLabelValues(strategy, action).Inc()
	m.DecisionRequestDuration.WithLabelValues(strategy).Observe(durationSeconds)
}

// DecisionFailed records a decision request that could not be served.
func (m *Metrics) DecisionFailed(reason string) {
	m.DecisionErrorsTotal.WithLabelValues(reason).Inc()
}

// RowAppended records one result landing in the dataset.
func (m *Metrics) RowAppended() {
	m.DatasetRowsTotal.Inc()
}
