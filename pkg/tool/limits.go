package tool

import (
	"time"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/config"
	"github.com/odvcencio/excella/pkg/email"
	"github.com/odvcencio/excella/pkg/todo"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// Limits configures the middlewares that bound tool calls.
type Limits struct {
	Deadlines Deadlines
	Backoff   Backoff
	Checks    ParamChecks
	// OnReject observes calls refused by parameter validation.
	OnReject func(tool, param, msg string)
}

// DefaultLimits allows two attempts per call and two minutes per attempt.
// Review tools wait on a human and are bounded by the review TTL instead.
func DefaultLimits() Limits {
	return Limits{
		Deadlines: Deadlines{
			Default: config.DefaultToolTimeout,
			PerTool: map[string]time.Duration{
				todo.ToolAskForPlanApproval: 0,
				email.ToolProposeEmail:      0,
				builtin.ToolApplyPlan:       10 * time.Minute,
			},
		},
		Backoff: Backoff{
			Attempts: config.DefaultToolRetries,
			Initial:  200 * time.Millisecond,
			Max:      2 * time.Second,
			Factor:   2,
			Jitter:   0.2,
			Once:     SideEffectingTools(),
		},
		Checks: DefaultParamChecks(),
	}
}

// LimitsFromConfig applies the configured timeout and retry budget to the
// defaults.
func LimitsFromConfig(cfg *config.Config) Limits {
	l := DefaultLimits()
	if cfg == nil {
		return l
	}
	if cfg.Tools.Timeout > 0 {
		l.Deadlines.Default = cfg.Tools.Timeout
	}
	if cfg.Tools.MaxRetries > 0 {
		l.Backoff.Attempts = cfg.Tools.MaxRetries
	}
	return l
}

// Middlewares orders the stack innermost last: a malformed call is never
// retried, and every retry gets a fresh deadline.
func (l Limits) Middlewares() []Middleware {
	return []Middleware{
		Validation(l.Checks, l.OnReject),
		Retry(l.Backoff),
		Timeout(l.Deadlines),
	}
}

// WithLimits installs the call-bounding middlewares after the approval gate.
func WithLimits(l Limits) RegistryOption {
	return func(o *registryOptions) { o.middlewares = append(o.middlewares, l.Middlewares()...) }
}

// WithConfig applies the approval mode, tool limits and disabled tools
// from cfg. An unparseable mode keeps the registry default.
func WithConfig(cfg *config.Config) RegistryOption {
	return func(o *registryOptions) {
		if cfg == nil {
			return
		}
		if m, err := approval.ParseMode(cfg.Approval.Mode); err == nil {
			o.mode = m
		}
		WithLimits(LimitsFromConfig(cfg))(o)
		o.disabled = append(o.disabled, cfg.Tools.Disabled...)
	}
}
