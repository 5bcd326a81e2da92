package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for the execution core.
//
// Metrics:
//   - cortex_loop_iterations_total{role} - reasoning rounds executed
//   - cortex_loop_outcomes_total{role,state} - loop terminations by final state
//   - cortex_tool_calls_total{tool} - tool invocations requested by the model
//   - cortex_task_outcomes_total{status} - finished tasks by status
//   - cortex_task_duration_seconds - wall-clock time per task
//   - cortex_fallbacks_total{created} - contingency consultations
type Metrics struct {
	LoopIterations *prometheus.CounterVec
	LoopOutcomes   *prometheus.CounterVec
	ToolCalls      *prometheus.CounterVec
	TaskOutcomes   *prometheus.CounterVec
	TaskDuration   prometheus.Histogram
	Fallbacks      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoopIterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_loop_iterations_total",
				Help: "Total number of agent loop reasoning rounds",
			},
			[]string{"role"},
		),
		LoopOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_loop_outcomes_total",
				Help: "Agent loop terminations by final state",
			},
			[]string{"role", "state"},
		),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_tool_calls_total",
				Help: "Tool calls requested by the model",
			},
			[]string{"tool"},
		),
		TaskOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_task_outcomes_total",
				Help: "Finished tasks by status",
			},
			[]string{"status"},
		),
		TaskDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cortex_task_duration_seconds",
				Help:    "Wall-clock duration of task execution",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		),
		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_fallbacks_total",
				Help: "Contingency consultations by whether a fallback was created",
			},
			[]string{"created"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.LoopIterations,
			m.LoopOutcomes,
			m.ToolCalls,
			m.TaskOutcomes,
			m.TaskDuration,
			m.Fallbacks,
		)
	}
	return m
}
