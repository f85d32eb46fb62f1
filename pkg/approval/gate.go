package approval

import (
	"encoding/json"
	"strings"

	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/todo"
)

// ToolProposePlan is the tool whose results carry a proposed plan.
const ToolProposePlan = "propose_plan"

// PlanApproval is the human decision recorded by an accepted
// ask_for_plan_approval result.
type PlanApproval struct {
	Approved   bool        `json:"approved"`
	SnapshotID string      `json:"snapshotId,omitempty"`
	Todos      []todo.Task `json:"todos"`
	Reason     string      `json:"reason,omitempty"`
	TurnIndex  int         `json:"-"`
}

type proposal struct {
	SnapshotID string `json:"snapshotId"`
	TurnIndex  int    `json:"-"`
}

type gateEntry struct {
	approval *PlanApproval
	proposal *proposal
}

func decodeApproval(raw json.RawMessage) (gateEntry, error) {
	if err := conversation.RequireKeys(raw, "approved"); err != nil {
		return gateEntry{}, err
	}
	a, err := conversation.DecodeStrict[PlanApproval](raw, nil)
	if err != nil {
		return gateEntry{}, err
	}
	return gateEntry{approval: &a}, nil
}

func decodeProposal(raw json.RawMessage) (gateEntry, error) {
	if err := conversation.RequireKeys(raw, "snapshotId"); err != nil {
		return gateEntry{}, err
	}
	p, err := conversation.DecodeStrict[proposal](raw, nil)
	if err != nil {
		return gateEntry{}, err
	}
	return gateEntry{proposal: &p}, nil
}

var gateVariants = []conversation.Variant[gateEntry]{
	{Tools: []string{todo.ToolAskForPlanApproval, "askForPlanApprovalTool"}, Decode: decodeApproval},
	{Tools: []string{ToolProposePlan}, Decode: decodeProposal},
}

// LatestPlanApproval returns the newest recorded plan decision that is not
// superseded by a later plan proposal. A proposal newer than every decision
// means the current plan has not been decided yet.
func LatestPlanApproval(h conversation.History) (*PlanApproval, bool) {
	var out *PlanApproval
	h.ScanToolResults(func(turn int, p conversation.Part) bool {
		entry, ok := conversation.Match(p, gateVariants...)
		if !ok {
			return true
		}
		if entry.approval != nil {
			a := *entry.approval
			a.TurnIndex = turn
			out = &a
		}
		return false
	})
	return out, out != nil
}

// Check evaluates whether an operation should be allowed, denied, or
// prompted, using only the conversation history as evidence.
func Check(mode Mode, req Request, h conversation.History) Result {
	if mode == ModeSafe && req.Operation.Effectful() {
		reason := "safe mode only allows dry runs"
		if req.Operation == OpEmailSend {
			reason = "safe mode does not send email"
		}
		return Result{Decision: DecisionDeny, Reason: reason, Request: req}
	}

	switch req.Operation {
	case OpRead, OpNote:
		return Result{Decision: DecisionAllow, Reason: "no workbook change", Request: req}
	case OpEmailSend:
		// The draft handle itself is the approval; it is verified on resolve.
		return Result{Decision: DecisionAllow, Reason: "send requires an approved draft handle", Request: req}
	case OpPlanDryRun, OpPlanApply:
		return checkPlan(req, h)
	default:
		return Result{Decision: DecisionPrompt, Reason: "unknown operation type", Request: req}
	}
}

func checkPlan(req Request, h conversation.History) Result {
	a, ok := LatestPlanApproval(h)
	if !ok {
		return Result{Decision: DecisionPrompt, Reason: "plan has not been approved", Request: req}
	}
	if !a.Approved {
		reason := "plan was rejected"
		if strings.TrimSpace(a.Reason) != "" {
			reason += ": " + strings.TrimSpace(a.Reason)
		}
		return Result{Decision: DecisionDeny, Reason: reason, Request: req, Approval: a}
	}
	if a.SnapshotID != "" && req.SnapshotID != "" && a.SnapshotID != req.SnapshotID {
		return Result{Decision: DecisionPrompt, Reason: "approval was given for snapshot " + a.SnapshotID, Request: req, Approval: a}
	}
	return Result{Decision: DecisionAllow, Reason: "plan approved", Request: req, Approval: a}
}

// Err converts a non-allow result into a structured error.
func (r Result) Err() *errors.Error {
	switch r.Decision {
	case DecisionAllow:
		return nil
	case DecisionDeny:
		return errors.New(errors.ErrCodeApprovalDenied, r.Reason).
			WithContext("operation", r.Request.Operation.String()).
			WithUserMessage("The user did not approve this action: " + r.Reason + ".")
	default:
		return errors.New(errors.ErrCodeApprovalRequired, r.Reason).
			WithContext("operation", r.Request.Operation.String()).
			WithUserMessage("Ask the user to approve the plan before executing it.").
			WithRemediation("Call ask_for_plan_approval with the current task list and snapshot ID.")
	}
}
