package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector holds all Prometheus metrics for the workflow engine
// (SPEC_FULL §11.2).
type MetricsCollector struct {
	// Workflow instance lifecycle metrics
	WorkflowsStartedTotal   prometheus.Counter
	WorkflowsCompletedTotal prometheus.Counter
	WorkflowsFailedTotal    prometheus.Counter
	WorkflowDurationSeconds prometheus.Histogram
	ActiveWorkflows         prometheus.Gauge

	// Step execution metrics
	StepsProcessedTotal *prometheus.CounterVec

	// Sub-agent fan-out metrics
	SubAgentTasksTotal          *prometheus.CounterVec
	SubAgentTaskDurationSeconds prometheus.Histogram

	// Computed-field and expression metrics
	ComputedFieldRecomputeTotal prometheus.Counter
	ExpressionEvalErrorsTotal   *prometheus.CounterVec

	// Admission control metrics
	CircuitBreakerState prometheus.Gauge

	// System metrics
	SystemStartTime prometheus.Gauge
	SystemHealth    *prometheus.GaugeVec
}

// NewMetricsCollector creates and registers all Prometheus metrics.
func NewMetricsCollector(namespace string) *MetricsCollector {
	return NewMetricsCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates metrics with a specific registry (for testing).
func NewMetricsCollectorWithRegistry(namespace string, reg prometheus.Registerer) *MetricsCollector {
	if namespace == "" {
		namespace = "workflowengine"
	}

	autoCounterVec := func(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
		return promauto.With(reg).NewCounterVec(opts, labelNames)
	}
	autoGaugeVec := func(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
		return promauto.With(reg).NewGaugeVec(opts, labelNames)
	}
	autoCounter := func(opts prometheus.CounterOpts) prometheus.Counter {
		return promauto.With(reg).NewCounter(opts)
	}
	autoGauge := func(opts prometheus.GaugeOpts) prometheus.Gauge {
		return promauto.With(reg).NewGauge(opts)
	}
	autoHistogram := func(opts prometheus.HistogramOpts) prometheus.Histogram {
		return promauto.With(reg).NewHistogram(opts)
	}

	return &MetricsCollector{
		WorkflowsStartedTotal: autoCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_started_total",
				Help:      "Total number of workflow instances started",
			},
		),
		WorkflowsCompletedTotal: autoCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_completed_total",
				Help:      "Total number of workflow instances that completed normally",
			},
		),
		WorkflowsFailedTotal: autoCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_failed_total",
				Help:      "Total number of workflow instances that transitioned to failed",
			},
		),
		WorkflowDurationSeconds: autoHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "Wall-clock duration of a workflow instance from start to terminal status",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
		),
		ActiveWorkflows: autoGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workflows",
				Help:      "Number of workflow instances currently running",
			},
		),
		StepsProcessedTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_processed_total",
				Help:      "Total number of steps processed, by step type and execution location",
			},
			[]string{"step_type", "location"},
		),
		SubAgentTasksTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sub_agent_tasks_total",
				Help:      "Total number of parallel_foreach sub-agent tasks, by terminal status",
			},
			[]string{"status"},
		),
		SubAgentTaskDurationSeconds: autoHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sub_agent_task_duration_seconds",
				Help:      "Duration of one sub-agent task within a parallel_foreach fan-out",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		ComputedFieldRecomputeTotal: autoCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "computed_field_recompute_total",
				Help:      "Total number of computed-field recomputations across all update batches",
			},
		),
		ExpressionEvalErrorsTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expression_eval_errors_total",
				Help:      "Total number of expression evaluator failures, by error kind",
			},
			[]string{"kind"},
		),
		CircuitBreakerState: autoGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Admission-control breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		SystemStartTime: autoGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_start_time_seconds",
				Help:      "Unix timestamp when the engine process started",
			},
		),
		SystemHealth: autoGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_health_status",
				Help:      "System health status (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),
	}
}

// RecordWorkflowStart increments WorkflowsStartedTotal and ActiveWorkflows.
func (m *MetricsCollector) RecordWorkflowStart() {
	m.WorkflowsStartedTotal.Inc()
	m.ActiveWorkflows.Inc()
}

// RecordWorkflowTerminal records a workflow reaching a terminal status and
// releases its slot in ActiveWorkflows.
func (m *MetricsCollector) RecordWorkflowTerminal(status string, duration time.Duration) {
	m.ActiveWorkflows.Dec()
	m.WorkflowDurationSeconds.Observe(duration.Seconds())
	if status == "failed" {
		m.WorkflowsFailedTotal.Inc()
		return
	}
	m.WorkflowsCompletedTotal.Inc()
}

// RecordStepProcessed records one step dispatch.
func (m *MetricsCollector) RecordStepProcessed(stepType, location string) {
	m.StepsProcessedTotal.WithLabelValues(stepType, location).Inc()
}

// RecordSubAgentTask records one parallel_foreach task's terminal status.
func (m *MetricsCollector) RecordSubAgentTask(status string, duration time.Duration) {
	m.SubAgentTasksTotal.WithLabelValues(status).Inc()
	m.SubAgentTaskDurationSeconds.Observe(duration.Seconds())
}

// RecordComputedFieldRecompute records one computed-field recomputation.
func (m *MetricsCollector) RecordComputedFieldRecompute() {
	m.ComputedFieldRecomputeTotal.Inc()
}

// RecordExpressionEvalError records an evaluator failure by error kind.
func (m *MetricsCollector) RecordExpressionEvalError(kind string) {
	m.ExpressionEvalErrorsTotal.WithLabelValues(kind).Inc()
}

// SetCircuitBreakerState sets the breaker state gauge (0=closed, 1=half-open, 2=open).
func (m *MetricsCollector) SetCircuitBreakerState(state float64) {
	m.CircuitBreakerState.Set(state)
}

// SetSystemStartTime sets the system start time.
func (m *MetricsCollector) SetSystemStartTime(startTime time.Time) {
	m.SystemStartTime.Set(float64(startTime.Unix()))
}

// SetComponentHealth sets the health status of a component.
func (m *MetricsCollector) SetComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.SystemHealth.WithLabelValues(component).Set(value)
}
