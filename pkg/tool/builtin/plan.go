package builtin

import (
	"context"
	"encoding/json"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/workbook"
)

// Tool names for the plan family.
const (
	ToolGetSnapshot  = "get_workbook_snapshot"
	ToolProposePlan  = approval.ToolProposePlan
	ToolValidatePlan = "validate_plan"
	ToolExecutePlan  = "execute_plan"
	ToolApplyPlan    = "apply_plan"
)

// ProposedPlan is the propose_plan output.
type ProposedPlan struct {
	SnapshotID string      `json:"snapshotId"`
	Steps      []plan.Step `json:"steps"`
	Summary    string      `json:"summary"`
}

func decodeProposedPlan(raw json.RawMessage) (plan.Plan, error) {
	if err := conversation.RequireKeys(raw, "snapshotId", "steps"); err != nil {
		return plan.Plan{}, err
	}
	return conversation.DecodeStrict[plan.Plan](raw, func(p *plan.Plan) error { return p.Check() })
}

var proposalVariants = []conversation.Variant[plan.Plan]{
	{Tools: []string{ToolProposePlan}, Decode: decodeProposedPlan},
}

// LatestProposedPlan returns the newest well-formed plan recorded by a
// propose_plan result.
func LatestProposedPlan(h conversation.History) (plan.Plan, bool) {
	var (
		out   plan.Plan
		found bool
	)
	h.ScanToolResults(func(_ int, p conversation.Part) bool {
		if got, ok := conversation.Match(p, proposalVariants...); ok {
			out, found = got, true
			return false
		}
		return true
	})
	return out, found
}

// planInput resolves the plan a call refers to: the explicit "plan"
// parameter, or the latest proposal in history.
func planInput(ctx context.Context, params map[string]any) (plan.Plan, error) {
	if raw, ok := params["plan"]; ok && raw != nil {
		var in struct {
			Plan plan.Plan `json:"plan"`
		}
		if err := decodeParams(map[string]any{"plan": raw}, &in); err != nil {
			return plan.Plan{}, err
		}
		if err := in.Plan.Check(); err != nil {
			return plan.Plan{}, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid plan").
				WithUserMessage("Invalid Excel plan payload: " + err.Error())
		}
		return in.Plan, nil
	}
	p, ok := LatestProposedPlan(HistoryFrom(ctx))
	if !ok {
		return plan.Plan{}, errors.New(errors.ErrCodeInvalidInput, "no plan given and none proposed").
			WithUserMessage("No plan was found. Propose a plan first.").
			WithRemediation("Call propose_plan with the steps to run.")
	}
	return p, nil
}

// approvedPlanInput is planInput for execution. Approvals are granted
// against proposals, so an explicit plan must match the latest one.
func approvedPlanInput(ctx context.Context, params map[string]any) (plan.Plan, error) {
	p, err := planInput(ctx, params)
	if err != nil {
		return plan.Plan{}, err
	}
	if raw, ok := params["plan"]; !ok || raw == nil {
		return p, nil
	}
	if proposed, ok := LatestProposedPlan(HistoryFrom(ctx)); !ok || !proposed.Equal(p) {
		return plan.Plan{}, errors.New(errors.ErrCodeApprovalRequired, "plan differs from the latest proposal").
			WithUserMessage("The plan differs from the latest proposed plan. Propose it and ask for approval again.").
			WithRemediation("Call propose_plan with these steps, then ask_for_plan_approval.")
	}
	return p, nil
}

func fetchSnapshot(ctx context.Context, provider SnapshotProvider) (workbook.Snapshot, error) {
	if provider == nil {
		return workbook.Snapshot{}, errors.New(errors.ErrCodeConfigInvalid, "no snapshot provider configured").
			WithUserMessage("No workbook is open in this session.")
	}
	snap, err := provider.Snapshot(ctx)
	if err != nil {
		return workbook.Snapshot{}, errors.Wrap(err, errors.ErrCodeStorageRead, "build workbook snapshot").
			WithUserMessage("The workbook could not be read: " + err.Error())
	}
	return snap, nil
}

// SnapshotTool returns a fresh workbook snapshot.
type SnapshotTool struct {
	Snapshots SnapshotProvider
}

func (t *SnapshotTool) Name() string { return ToolGetSnapshot }

func (t *SnapshotTool) Description() string {
	return "Get a condensed snapshot of the current workbook: structure, selection, data preview, memory summary and safety context. Plans must reference the returned snapshot ID."
}

func (t *SnapshotTool) Parameters() ParameterSchema {
	return ParameterSchema{Type: "object", Properties: map[string]PropertySchema{}, Required: []string{}}
}

func (t *SnapshotTool) Execute(params map[string]any) (*Result, error) {
	return t.ExecuteWithContext(context.Background(), params)
}

func (t *SnapshotTool) ExecuteWithContext(ctx context.Context, _ map[string]any) (*Result, error) {
	snap, err := fetchSnapshot(ctx, t.Snapshots)
	if err != nil {
		return Fail(err), nil
	}
	res, err := Succeed(snap)
	if err != nil {
		return nil, err
	}
	res.ShouldAbridge = true
	res.DisplayData = map[string]any{
		"snapshotId": snap.ID(),
		"worksheets": len(snap.Workbook.Worksheets),
		"message":    "workbook snapshot " + snap.ID(),
	}
	return res, nil
}

// ProposePlanTool records a plan. The plan is produced by the model; this
// tool enforces its shape and makes it visible to the approval gate.
type ProposePlanTool struct{}

func (t *ProposePlanTool) Name() string { return ToolProposePlan }

func (t *ProposePlanTool) Description() string {
	return "Record a structured plan of workbook steps computed against a snapshot. Every step needs an id, kind, description, targetWorksheet and targetRange. The plan must be approved with ask_for_plan_approval before it is applied."
}

func (t *ProposePlanTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"snapshotId": {
				Type:        "string",
				Description: "Snapshot the plan was computed against",
			},
			"steps": {
				Type:        "array",
				Description: "Ordered plan steps",
				Items: &PropertySchema{
					Type: "object",
					Properties: map[string]PropertySchema{
						"id":              {Type: "string", Description: "Step identifier"},
						"kind":            {Type: "string", Description: "Action kind, e.g. write-values or sort-range"},
						"description":     {Type: "string", Description: "What the step does"},
						"targetWorksheet": {Type: "string", Description: "Worksheet name"},
						"targetRange":     {Type: "string", Description: "A1 range"},
						"parameters":      {Type: "object", Description: "Kind-specific parameters"},
					},
				},
			},
		},
		Required: []string{"snapshotId", "steps"},
	}
}

func (t *ProposePlanTool) Execute(params map[string]any) (*Result, error) {
	return t.ExecuteWithContext(context.Background(), params)
}

func (t *ProposePlanTool) ExecuteWithContext(_ context.Context, params map[string]any) (*Result, error) {
	var p plan.Plan
	if err := decodeParams(params, &p); err != nil {
		return Fail(err), nil
	}
	if err := p.Check(); err != nil {
		return Fail(errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid plan").
			WithUserMessage("Invalid Excel plan payload: " + err.Error())), nil
	}
	return Succeed(ProposedPlan{SnapshotID: p.SnapshotID, Steps: p.Steps, Summary: p.Summary()})
}

// ValidationOutput is the validate_plan output.
type ValidationOutput struct {
	plan.Verdict
	SnapshotID     string `json:"snapshotId"`
	PlanSnapshotID string `json:"planSnapshotId"`
	Message        string `json:"message,omitempty"`
}

// ValidatePlanTool checks a plan against a freshly built snapshot.
type ValidatePlanTool struct {
	Snapshots SnapshotProvider
	Validator *plan.Validator
}

func (t *ValidatePlanTool) Name() string { return ToolValidatePlan }

func (t *ValidatePlanTool) Description() string {
	return "Validate a plan against the current workbook: detects stale snapshots, read-only mode and high-risk selections. Validates the latest proposed plan when none is given."
}

func (t *ValidatePlanTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"plan": {
				Type:        "object",
				Description: "Plan to validate; defaults to the latest proposed plan",
			},
		},
		Required: []string{},
	}
}

func (t *ValidatePlanTool) Execute(params map[string]any) (*Result, error) {
	return t.ExecuteWithContext(context.Background(), params)
}

func (t *ValidatePlanTool) ExecuteWithContext(ctx context.Context, params map[string]any) (*Result, error) {
	p, err := planInput(ctx, params)
	if err != nil {
		return Fail(err), nil
	}
	snap, err := fetchSnapshot(ctx, t.Snapshots)
	if err != nil {
		return Fail(err), nil
	}
	v := t.Validator
	if v == nil {
		v = plan.NewValidator(nil)
	}
	verdict := v.Validate(ctx, p, snap)
	return Succeed(ValidationOutput{
		Verdict:        verdict,
		SnapshotID:     snap.ID(),
		PlanSnapshotID: p.SnapshotID,
		Message:        verdict.Describe(),
	})
}

// ExecutePlanTool runs a plan through the execution engine. The dry-run
// variant is registered as execute_plan, the apply variant as apply_plan.
type ExecutePlanTool struct {
	Mode      plan.Mode
	Engine    *plan.Engine
	Snapshots SnapshotProvider
}

func (t *ExecutePlanTool) mode() plan.Mode {
	if t.Mode == plan.ModeApply {
		return plan.ModeApply
	}
	return plan.ModeDryRun
}

func (t *ExecutePlanTool) Name() string {
	if t.mode() == plan.ModeApply {
		return ToolApplyPlan
	}
	return ToolExecutePlan
}

func (t *ExecutePlanTool) Description() string {
	if t.mode() == plan.ModeApply {
		return "Apply an approved plan to the workbook. The plan is re-validated against a fresh snapshot first; the workbook is only changed when validation passes."
	}
	return "Dry-run an approved plan: records the planned actions in agent memory without changing the workbook."
}

func (t *ExecutePlanTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"plan": {
				Type:        "object",
				Description: "Plan to run; defaults to the latest proposed plan",
			},
			"requireValidation": {
				Type:        "boolean",
				Description: "Validate against a fresh snapshot before running",
				Default:     true,
			},
		},
		Required: []string{},
	}
}

// ApprovalRequest implements Gated.
func (t *ExecutePlanTool) ApprovalRequest(params map[string]any) approval.Request {
	op := approval.OpPlanDryRun
	if t.mode() == plan.ModeApply {
		op = approval.OpPlanApply
	}
	req := approval.Request{Operation: op, Tool: t.Name(), Description: t.Description()}
	if raw, ok := params["plan"].(map[string]any); ok {
		if id, ok := raw["snapshotId"].(string); ok {
			req.SnapshotID = id
		}
	}
	return req
}

func (t *ExecutePlanTool) Execute(params map[string]any) (*Result, error) {
	return t.ExecuteWithContext(context.Background(), params)
}

func (t *ExecutePlanTool) ExecuteWithContext(ctx context.Context, params map[string]any) (*Result, error) {
	if t.Engine == nil {
		return Fail(errors.New(errors.ErrCodeConfigInvalid, "no execution engine configured")), nil
	}
	p, err := approvedPlanInput(ctx, params)
	if err != nil {
		return Fail(err), nil
	}
	requireValidation := true
	if v, ok := params["requireValidation"].(bool); ok {
		requireValidation = v
	}
	snap, err := fetchSnapshot(ctx, t.Snapshots)
	if err != nil {
		return Fail(err), nil
	}

	res := t.Engine.Execute(ctx, plan.Request{
		Plan:              p,
		Snapshot:          snap,
		Mode:              t.mode(),
		RequireValidation: requireValidation,
	})
	out, err := Succeed(res)
	if err != nil {
		return nil, err
	}
	out.ShouldAbridge = true
	out.DisplayData = map[string]any{
		"summary": res.Summary,
		"actions": len(res.Actions),
		"errors":  len(res.Errors),
	}
	return out, nil
}
