package plan

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/memory"
	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/workbook"
)

// Mode selects between synthesizing actions and mutating the workbook.
type Mode string

const (
	ModeDryRun Mode = "dry-run"
	ModeApply  Mode = "apply"
)

// ParseMode accepts "dry-run" and "apply"; empty means dry-run.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDryRun:
		return ModeDryRun, nil
	case ModeApply:
		return ModeApply, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

// Request is one execution call.
type Request struct {
	Plan              Plan              `json:"plan"`
	Snapshot          workbook.Snapshot `json:"snapshot"`
	Mode              Mode              `json:"mode"`
	RequireValidation bool              `json:"requireValidation"`
}

// Result has the same shape on every exit path.
type Result struct {
	Mode                   Mode                 `json:"mode"`
	Actions                []memory.ActionEntry `json:"actions"`
	Errors                 []memory.ErrorEntry  `json:"errors"`
	Summary                string               `json:"summary"`
	UpdatedMemory          memory.AgentMemory   `json:"updatedMemory"`
	Risk                   *workbook.Risk       `json:"risk,omitempty"`
	EstimatedCellsAffected int                  `json:"estimatedCellsAffected,omitempty"`
	Validation             *Verdict             `json:"validation,omitempty"`
}

// OK reports whether the execution produced no error entries.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Engine runs validated plans. It never returns an error or panics across
// its boundary; every failure is an entry in Result.Errors.
type Engine struct {
	validator *Validator
	executor  ActionExecutor
	updater   *memory.Updater
	logger    *logging.Logger
	hub       *telemetry.Hub
	now       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithExecutor sets the apply-mode executor.
func WithExecutor(x ActionExecutor) EngineOption {
	return func(e *Engine) { e.executor = x }
}

// WithUpdater sets the memory updater. Without one, executions leave memory
// unchanged.
func WithUpdater(u *memory.Updater) EngineOption {
	return func(e *Engine) { e.updater = u }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithHub publishes execution events.
func WithHub(h *telemetry.Hub) EngineOption {
	return func(e *Engine) { e.hub = h }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an execution engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.validator == nil {
		e.validator = NewValidator(e.logger)
	}
	return e
}

// HasExecutor reports whether apply mode can run.
func (e *Engine) HasExecutor() bool { return e.executor != nil }

// Execute runs req. Once started, the run is not interrupted by ctx
// cancellation; the action log must reflect what actually happened.
func (e *Engine) Execute(ctx context.Context, req Request) (res Result) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := telemetry.StartSpan(ctx, "plan.execute")
	defer span.End()

	mode := req.Mode
	if mode == "" {
		mode = ModeDryRun
	}
	span.SetAttributes(
		telemetry.AttrExecMode.String(string(mode)),
		telemetry.AttrSnapshotID.String(req.Snapshot.ID()),
		telemetry.AttrWorkbookID.String(req.Snapshot.Meta.WorkbookID),
		telemetry.AttrPlanSteps.Int(len(req.Plan.Steps)),
	)

	started := e.now()
	defer func() {
		if r := recover(); r != nil {
			now := e.now()
			res.Errors = append(res.Errors, memory.ErrorEntry{
				ID:        fmt.Sprintf("internal-error-%d", now.UnixMilli()),
				Timestamp: now.UTC(),
				Message:   fmt.Sprintf("Plan execution aborted: %v", r),
			})
			res.Summary = "Plan execution aborted by an internal error."
			if res.Actions == nil {
				res.Actions = []memory.ActionEntry{}
			}
		}
		outcome := "ok"
		if !res.OK() {
			outcome = "error"
		}
		recordExecution(mode, outcome, len(res.Actions), e.now().Sub(started).Seconds())
		e.publish(req, res)
	}()

	res = Result{
		Mode:          mode,
		Actions:       []memory.ActionEntry{},
		Errors:        []memory.ErrorEntry{},
		UpdatedMemory: req.Snapshot.Memory.Normalize(),
	}

	if req.RequireValidation {
		verdict := e.validator.Validate(ctx, req.Plan, req.Snapshot)
		res.Validation = &verdict
		risk := verdict.Risk
		res.Risk = &risk
		res.EstimatedCellsAffected = risk.EstimatedCellsAffected
		if !verdict.IsValid {
			return e.validationFailed(res, verdict)
		}
	} else if cur := req.Snapshot.Safety.CurrentRisk; cur != nil {
		risk := *cur
		res.Risk = &risk
		res.EstimatedCellsAffected = risk.EstimatedCellsAffected
	}

	switch mode {
	case ModeDryRun:
		return e.dryRun(ctx, req, res)
	case ModeApply:
		return e.apply(ctx, span, req, res)
	default:
		now := e.now()
		res.Errors = append(res.Errors, memory.ErrorEntry{
			ID:        fmt.Sprintf("invalid-mode-%d", now.UnixMilli()),
			Timestamp: now.UTC(),
			Message:   fmt.Sprintf("Unknown execution mode %q.", mode),
		})
		res.Summary = "Plan was not executed because the execution mode is unknown."
		return res
	}
}

func (e *Engine) validationFailed(res Result, v Verdict) Result {
	now := e.now()
	details, _ := json.Marshal(v)
	res.Errors = append(res.Errors, memory.ErrorEntry{
		ID:        fmt.Sprintf("validation-%d", now.UnixMilli()),
		Timestamp: now.UTC(),
		Message:   "Plan validation failed: " + v.Describe(),
		Details:   string(details),
	})
	res.Summary = "Plan validation failed; no actions were executed."
	return res
}

func (e *Engine) dryRun(ctx context.Context, req Request, res Result) Result {
	now := e.now()
	for i, step := range req.Plan.Steps {
		id := step.ID
		if id == "" {
			id = fmt.Sprintf("step-%d", i)
		}
		res.Actions = append(res.Actions, memory.ActionEntry{
			ID:              id + "-dry-run",
			Timestamp:       now.UTC(),
			Description:     step.Description,
			TargetRange:     step.TargetRange,
			TargetWorksheet: step.TargetWorksheet,
			Kind:            step.ActionKind(),
			Status:          memory.StatusSuccess,
		})
	}

	// Only the first synthesized action is recorded; the full list stays in
	// the result.
	if len(res.Actions) > 0 {
		res = e.recordMemory(ctx, req, res, res.Actions[0], nil)
	}

	res.Summary = fmt.Sprintf("Dry-run execution recorded %d planned action(s) for snapshot %s.",
		len(res.Actions), req.Snapshot.ID())
	e.logger.Info(logging.CategoryExecution, "dry_run", res.Summary, map[string]any{
		"snapshot": req.Snapshot.ID(),
		"actions":  len(res.Actions),
	})
	return res
}

func (e *Engine) apply(ctx context.Context, span trace.Span, req Request, res Result) Result {
	if e.executor == nil {
		now := e.now()
		res.Errors = append(res.Errors, memory.ErrorEntry{
			ID:        fmt.Sprintf("executor-missing-%d", now.UnixMilli()),
			Timestamp: now.UTC(),
			Message:   "No ActionExecutor available in context. Cannot apply plan to workbook.",
			Details:   string(errors.ErrCodeExecutorMissing),
		})
		res.Summary = "Failed to execute plan because no ActionExecutor was provided."
		e.logger.Error(logging.CategoryExecution, "executor_missing", res.Summary, map[string]any{
			"snapshot": req.Snapshot.ID(),
		})
		return res
	}

	actions, err := e.runExecutor(ctx, req)
	res.Actions = append(res.Actions, actions...)
	if err != nil {
		telemetry.RecordError(ctx, err)
		now := e.now()
		entry := memory.ErrorEntry{
			ID:        fmt.Sprintf("execution-error-%d", now.UnixMilli()),
			Timestamp: now.UTC(),
			Message:   err.Error(),
		}
		var stepErr *StepError
		if stderrors.As(err, &stepErr) {
			entry.Operation = stepErr.Step.ActionKind()
			entry.Details = fmt.Sprintf("step %s on %s!%s", stepErr.Step.ID, stepErr.Step.TargetWorksheet, stepErr.Step.TargetRange)
		}
		res.Errors = append(res.Errors, entry)
		e.logger.Error(logging.CategoryExecution, "executor_failed", err.Error(), map[string]any{
			"snapshot":         req.Snapshot.ID(),
			"actions_executed": len(actions),
		})
	}
	span.SetAttributes(attribute.Int("excella.execution.actions", len(res.Actions)))

	// Memory records the first action and first error, and only when the
	// executor reported at least one action.
	if len(res.Actions) > 0 {
		var firstErr *memory.ErrorEntry
		if len(res.Errors) > 0 {
			first := res.Errors[0]
			firstErr = &first
		}
		res = e.recordMemory(ctx, req, res, res.Actions[0], firstErr)
	}

	if len(res.Errors) > 0 {
		res.Summary = fmt.Sprintf("Applied plan with %d action(s) and %d error(s) for snapshot %s.",
			len(res.Actions), len(res.Errors), req.Snapshot.ID())
	} else {
		res.Summary = fmt.Sprintf("Successfully applied %d action(s) for snapshot %s.",
			len(res.Actions), req.Snapshot.ID())
	}
	e.logger.Info(logging.CategoryExecution, "applied", res.Summary, map[string]any{
		"snapshot": req.Snapshot.ID(),
		"actions":  len(res.Actions),
		"errors":   len(res.Errors),
	})
	return res
}

// runExecutor converts executor panics into errors.
func (e *Engine) runExecutor(ctx context.Context, req Request) (actions []memory.ActionEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action executor panicked: %v", r)
		}
	}()
	return e.executor.Execute(ctx, req.Plan, req.Snapshot)
}

func (e *Engine) recordMemory(ctx context.Context, req Request, res Result, action memory.ActionEntry, errEntry *memory.ErrorEntry) Result {
	if e.updater == nil {
		return res
	}
	updated, err := e.updater.ApplyActionUpdate(ctx, memory.ActionUpdate{
		OwnerID:  req.Snapshot.Meta.WorkbookID,
		Previous: req.Snapshot.Memory,
		Action:   action,
		Error:    errEntry,
	})
	res.UpdatedMemory = updated
	if err != nil {
		now := e.now()
		res.Errors = append(res.Errors, memory.ErrorEntry{
			ID:        fmt.Sprintf("memory-save-%d", now.UnixMilli()),
			Timestamp: now.UTC(),
			Message:   "Failed to persist agent memory.",
			Details:   err.Error(),
		})
	}
	return res
}

func (e *Engine) publish(req Request, res Result) {
	if e.hub == nil {
		return
	}
	typ := telemetry.EventPlanExecuted
	if !res.OK() {
		typ = telemetry.EventPlanFailed
	}
	e.hub.Publish(telemetry.Event{
		Type:       typ,
		SnapshotID: req.Snapshot.ID(),
		Data: map[string]any{
			"mode":    string(res.Mode),
			"actions": len(res.Actions),
			"errors":  len(res.Errors),
			"summary": res.Summary,
		},
	})
}
