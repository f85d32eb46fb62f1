package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/todo"
)

// UpdateTodosTool applies a mutation to the task list reconstructed from
// the conversation and returns the full resulting list.
type UpdateTodosTool struct{}

func (t *UpdateTodosTool) Name() string {
	return todo.ToolUpdateTodos
}

func (t *UpdateTodosTool) Description() string {
	return "Update the task list for multi-step workbook work. Add new tasks, mark tasks in progress or done by their index in the current list, and optionally clear previously completed tasks. Returns the full updated list, which is the authoritative task list from then on."
}

func (t *UpdateTodosTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"new": {
				Type:        "array",
				Description: "Texts of tasks to add with status 'new'",
				Items:       &PropertySchema{Type: "string"},
			},
			"inProgress": {
				Type:        "array",
				Description: "Indices (in the current list) of tasks now in progress",
				Items:       &PropertySchema{Type: "integer"},
			},
			"done": {
				Type:        "array",
				Description: "Indices (in the current list) of tasks now done",
				Items:       &PropertySchema{Type: "integer"},
			},
			"clearPreviouslyDone": {
				Type:        "boolean",
				Description: "Drop tasks that were already done before this update",
				Default:     false,
			},
			"insertAt": {
				Type:        "integer",
				Description: "Position to insert new tasks at; appended when omitted",
			},
		},
		Required: []string{},
	}
}

func (t *UpdateTodosTool) Execute(params map[string]any) (*Result, error) {
	return t.ExecuteWithContext(context.Background(), params)
}

func (t *UpdateTodosTool) ExecuteWithContext(ctx context.Context, params map[string]any) (*Result, error) {
	var m todo.Mutation
	if err := decodeParams(params, &m); err != nil {
		return Fail(err), nil
	}
	current := todo.Reconstruct(HistoryFrom(ctx))
	return Succeed(todo.Result{Todos: todo.Apply(current, m)})
}

// PlanApprovalOutput is the ask_for_plan_approval output. The task list is
// the reviewed one and becomes the baseline for later updates.
type PlanApprovalOutput struct {
	Approved   bool        `json:"approved"`
	SnapshotID string      `json:"snapshotId,omitempty"`
	Todos      []todo.Task `json:"todos"`
	Reason     string      `json:"reason,omitempty"`
}

// AskForPlanApprovalTool puts the pending task list (and the latest proposed
// plan, if any) in front of a human and records the decision.
type AskForPlanApprovalTool struct {
	Reviewer approval.Reviewer
}

func (t *AskForPlanApprovalTool) Name() string {
	return todo.ToolAskForPlanApproval
}

func (t *AskForPlanApprovalTool) Description() string {
	return "Request user approval before executing planned actions. Presents pending tasks for review, allowing the user to approve, reject, or modify the plan. Returns the updated task list after user review; always use the returned task list as the authoritative version for execution."
}

func (t *AskForPlanApprovalTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"explainer": {
				Type:        "string",
				Description: "One-line explanation of the plan",
			},
			"snapshotId": {
				Type:        "string",
				Description: "Snapshot the plan was computed against; defaults to the latest proposed plan's snapshot",
			},
		},
		Required: []string{"explainer"},
	}
}

func (t *AskForPlanApprovalTool) Execute(params map[string]any) (*Result, error) {
	return t.ExecuteWithContext(context.Background(), params)
}

func (t *AskForPlanApprovalTool) ExecuteWithContext(ctx context.Context, params map[string]any) (*Result, error) {
	if t.Reviewer == nil {
		return Fail(errors.New(errors.ErrCodeConfigInvalid, "no reviewer configured").
			WithUserMessage("Plan approval is not available in this session.")), nil
	}
	var in struct {
		Explainer  string `json:"explainer"`
		SnapshotID string `json:"snapshotId"`
	}
	if err := decodeParams(params, &in); err != nil {
		return Fail(err), nil
	}
	if strings.TrimSpace(in.Explainer) == "" {
		return Fail(errors.New(errors.ErrCodeInvalidInput, "explainer is required")), nil
	}

	h := HistoryFrom(ctx)
	review := approval.Review{
		Kind:       approval.ReviewPlan,
		SessionID:  SessionFrom(ctx),
		ToolName:   t.Name(),
		SnapshotID: strings.TrimSpace(in.SnapshotID),
		Summary:    in.Explainer,
		Todos:      reviewTodos(todo.Reconstruct(h)),
	}
	if p, ok := LatestProposedPlan(h); ok {
		if review.SnapshotID == "" {
			review.SnapshotID = p.SnapshotID
		}
		review.Summary = fmt.Sprintf("%s (%s)", in.Explainer, p.Summary())
	}

	out, err := t.Reviewer.Review(ctx, review)
	if err != nil {
		return Fail(errors.Wrap(err, errors.ErrCodeApprovalRequired, "plan review failed").
			WithUserMessage("The plan could not be reviewed: " + err.Error())), nil
	}

	todos := review.Todos
	if out.Todos != nil {
		todos = out.Todos
	}
	return Succeed(PlanApprovalOutput{
		Approved:   out.Approved,
		SnapshotID: review.SnapshotID,
		Todos:      todos,
		Reason:     out.Reason,
	})
}

// reviewTodos is the list shown for review: finished tasks are dropped and
// the rest reset to pending.
func reviewTodos(tasks []todo.Task) []todo.Task {
	out := make([]todo.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Status == todo.StatusDone {
			continue
		}
		out = append(out, todo.Task{Text: task.Text, Status: todo.StatusPending})
	}
	return out
}
