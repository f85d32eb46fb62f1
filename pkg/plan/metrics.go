package plan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "excella",
		Name:      "plan_validations_total",
		Help:      "Plan validations by outcome and risk level.",
	}, []string{"valid", "risk"})
	metricExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "excella",
		Name:      "plan_executions_total",
		Help:      "Plan executions by mode and outcome.",
	}, []string{"mode", "outcome"})
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "excella",
		Name:      "plan_actions_total",
		Help:      "Action log entries produced by plan executions.",
	}, []string{"mode"})
	metricExecutionSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "excella",
		Name:      "plan_execution_seconds",
		Help:      "Wall time of plan executions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})
)

func recordValidation(v Verdict) {
	valid := "false"
	if v.IsValid {
		valid = "true"
	}
	metricValidations.WithLabelValues(valid, string(v.Risk.Level)).Inc()
}

func recordExecution(mode Mode, outcome string, actions int, seconds float64) {
	metricExecutions.WithLabelValues(string(mode), outcome).Inc()
	if actions > 0 {
		metricActions.WithLabelValues(string(mode)).Add(float64(actions))
	}
	metricExecutionSeconds.WithLabelValues(string(mode)).Observe(seconds)
}
