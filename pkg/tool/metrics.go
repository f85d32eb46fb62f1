package tool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "excella",
		Name:      "tool_calls_total",
		Help:      "Tool calls by tool and outcome.",
	}, []string{"tool", "outcome"})
	metricToolSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "excella",
		Name:      "tool_call_seconds",
		Help:      "Wall time of tool calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})
	metricGateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "excella",
		Name:      "approval_gate_decisions_total",
		Help:      "Approval gate decisions by tool and decision.",
	}, []string{"tool", "decision"})
)
