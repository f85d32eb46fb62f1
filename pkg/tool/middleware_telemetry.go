package tool

import (
	"cmp"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// telemetryMiddleware wraps each call in a span, records call metrics and
// publishes tool.started plus one of tool.completed or tool.failed.
func (r *Registry) telemetryMiddleware() Middleware {
	return func(next Executor) Executor {
		return func(c *ExecutionContext) (*builtin.Result, error) {
			if c == nil {
				return next(c)
			}
			if c.CallID == "" {
				c.CallID = callID(c.Params)
			}
			if c.StartTime.IsZero() {
				c.StartTime = time.Now()
			}

			parent := c.ctx()
			spanCtx, span := telemetry.StartSpan(parent, "tool."+c.ToolName)
			defer span.End()
			span.SetAttributes(telemetry.AttrToolName.String(c.ToolName))
			c.Context = spanCtx
			defer func() { c.Context = parent }()

			r.publishCall(telemetry.EventToolStarted, c, nil, nil)
			res, err := next(c)

			outcome := callOutcome(res, err)
			metricToolCalls.WithLabelValues(c.ToolName, outcome).Inc()
			metricToolSeconds.WithLabelValues(c.ToolName).Observe(time.Since(c.StartTime).Seconds())
			if d, ok := c.Metadata[MetaApprovalDecision].(string); ok {
				metricGateDecisions.WithLabelValues(c.ToolName, d).Inc()
			}

			finished := telemetry.EventToolCompleted
			switch outcome {
			case "error":
				telemetry.RecordError(spanCtx, err)
				finished = telemetry.EventToolFailed
			case "failed", "empty":
				span.SetStatus(codes.Error, cmp.Or(resultError(res), outcome))
				finished = telemetry.EventToolFailed
			}
			r.publishCall(finished, c, res, err)
			return res, err
		}
	}
}

func (r *Registry) publishCall(typ telemetry.EventType, c *ExecutionContext, res *builtin.Result, err error) {
	if r.hub == nil {
		return
	}
	data := map[string]any{"toolName": c.ToolName, "callId": c.CallID}
	if c.Attempt > 0 {
		data["attempt"] = c.Attempt
	}
	if res != nil {
		data["success"] = res.Success
		if res.Code != "" {
			data["code"] = res.Code
		}
		if !res.Success && res.Error != "" {
			data["error"] = res.Error
		}
		if res.ShouldAbridge && len(res.DisplayData) > 0 {
			data["display"] = res.DisplayData
		}
	}
	if err != nil {
		data["error"] = err.Error()
	}
	if d, ok := c.Metadata[MetaApprovalDecision]; ok {
		data["approval"] = d
	}
	if v, ok := c.Metadata[MetaPanicValue]; ok {
		data[MetaPanicValue] = fmt.Sprint(v)
	}
	r.hub.Publish(telemetry.Event{
		Type:      typ,
		SessionID: cmp.Or(c.SessionID, r.sessionID),
		Data:      data,
	})
}

func resultError(res *builtin.Result) string {
	if res == nil {
		return ""
	}
	return res.Error
}

func callOutcome(res *builtin.Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res == nil:
		return "empty"
	case res.Success:
		return "success"
	}
	return "failed"
}
