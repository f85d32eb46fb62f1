package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/todo"
	"github.com/odvcencio/excella/pkg/tool/builtin"
	"github.com/odvcencio/excella/pkg/workbook"
)

const invalidPlanMessage = "Invalid Excel plan payload."

// planRequest is the body of the validate and execute routes.
type planRequest struct {
	Mode              string             `json:"mode"`
	Plan              json.RawMessage    `json:"plan"`
	Snapshot          *workbook.Snapshot `json:"snapshot,omitempty"`
	RequireValidation *bool              `json:"requireValidation,omitempty"`
	// SessionID names the session whose approval an apply runs under.
	SessionID string `json:"sessionId,omitempty"`
}

func invalidPlan(err error) error {
	return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid plan payload").
		WithUserMessage(invalidPlanMessage)
}

// decodePlanRequest reads the body and the strict plan inside it.
func decodePlanRequest(w http.ResponseWriter, r *http.Request) (planRequest, plan.Plan, int, error) {
	var req planRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesPlan, false); err != nil {
		if status == http.StatusBadRequest {
			err = invalidPlan(err)
		}
		return req, plan.Plan{}, status, err
	}
	if len(req.Plan) == 0 {
		return req, plan.Plan{}, http.StatusBadRequest, invalidPlan(errors.New(errors.ErrCodeInvalidInput, "plan is required"))
	}
	p, err := conversation.DecodeStrict[plan.Plan](req.Plan, func(p *plan.Plan) error { return p.Check() })
	if err != nil {
		return req, plan.Plan{}, http.StatusBadRequest, invalidPlan(err)
	}
	return req, p, 0, nil
}

// snapshotFor returns the supplied snapshot or fetches a fresh one.
func (s *Server) snapshotFor(ctx context.Context, supplied *workbook.Snapshot) (workbook.Snapshot, error) {
	if supplied != nil {
		return *supplied, nil
	}
	if s.snapshots == nil {
		return workbook.Snapshot{}, errors.New(errors.ErrCodeConfigInvalid, "no snapshot provider configured").
			WithUserMessage("No workbook is open and the request carried no snapshot.")
	}
	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return workbook.Snapshot{}, errors.Wrap(err, errors.ErrCodeStorageRead, "build workbook snapshot").
			WithUserMessage("The workbook could not be read: " + err.Error())
	}
	return snap, nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshotFor(r.Context(), nil)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, snap)
}

// validateResponse pairs a verdict with the snapshot it was computed on.
type validateResponse struct {
	plan.Verdict
	SnapshotID     string `json:"snapshotId"`
	PlanSnapshotID string `json:"planSnapshotId"`
	Message        string `json:"message,omitempty"`
}

func (s *Server) handleValidatePlan(w http.ResponseWriter, r *http.Request) {
	req, p, status, err := decodePlanRequest(w, r)
	if err != nil {
		respondError(w, status, err)
		return
	}
	snap, err := s.snapshotFor(r.Context(), req.Snapshot)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	verdict := s.validator.Validate(r.Context(), p, snap)
	respondJSON(w, validateResponse{
		Verdict:        verdict,
		SnapshotID:     snap.ID(),
		PlanSnapshotID: p.SnapshotID,
		Message:        verdict.Describe(),
	})
}

// handleExecutePlan runs a plan through the engine. Validation failures
// and executor errors are reported inside the result with status 200; only
// malformed requests and missing collaborators are HTTP errors.
//
// A dry run needs no session. An apply is a call to the gated apply_plan
// tool in the named session, so it passes the approval gate and runs
// against a snapshot read from the workbook.
func (s *Server) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		err := errors.New(errors.ErrCodeConfigInvalid, "no execution engine configured")
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	req, p, status, err := decodePlanRequest(w, r)
	if err != nil {
		respondError(w, status, err)
		return
	}
	mode, err := plan.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, invalidPlan(err))
		return
	}
	if mode == plan.ModeApply {
		s.applyInSession(w, r, req)
		return
	}
	snap, err := s.snapshotFor(r.Context(), req.Snapshot)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	requireValidation := true
	if req.RequireValidation != nil {
		requireValidation = *req.RequireValidation
	}

	res := s.engine.Execute(r.Context(), plan.Request{
		Plan:              p,
		Snapshot:          snap,
		Mode:              mode,
		RequireValidation: requireValidation,
	})
	s.logger.Info(logging.CategoryExecution, "api_execute", res.Summary, map[string]any{
		"mode":     string(mode),
		"snapshot": snap.ID(),
		"actions":  len(res.Actions),
		"errors":   len(res.Errors),
	})
	respondJSON(w, res)
}

// applyInSession runs req through the session's apply_plan tool and
// answers with the plan result, or with the tool failure as an HTTP error.
func (s *Server) applyInSession(w http.ResponseWriter, r *http.Request, req planRequest) {
	if req.Snapshot != nil {
		respondError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "snapshot supplied for apply").
			WithUserMessage("An apply always runs against the open workbook; remove the snapshot from the request."))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusForbidden, errors.New(errors.ErrCodeApprovalRequired, "apply without a session").
			WithUserMessage("Applying a plan requires an approved proposal. Send the sessionId the plan was approved in.").
			WithRemediation("Call propose_plan and ask_for_plan_approval in a session, then apply with its sessionId."))
		return
	}
	if s.registry == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New(errors.ErrCodeConfigInvalid, "no tool registry configured"))
		return
	}
	conv, err := s.conversationFor(req.SessionID)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	var planParam map[string]any
	if err := json.Unmarshal(req.Plan, &planParam); err != nil {
		respondError(w, http.StatusBadRequest, invalidPlan(err))
		return
	}
	params := map[string]any{"plan": planParam}
	if req.RequireValidation != nil {
		params["requireValidation"] = *req.RequireValidation
	}

	res, err := s.registry.Call(r.Context(), conv, newCallID(), builtin.ToolApplyPlan, params)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	if !res.Success {
		code := errors.ErrorCode(res.Code)
		if code == "" {
			code = errors.ErrCodeInternal
		}
		failure := errors.New(code, res.Error).WithUserMessage(res.Error)
		respondError(w, statusForError(failure), failure)
		return
	}
	s.logger.Info(logging.CategoryExecution, "api_execute", "plan applied in session", map[string]any{
		"mode":    string(plan.ModeApply),
		"session": conv.SessionID,
	})
	respondJSON(w, res.Data)
}

// reconstructRequest carries a history supplied by a stateless runtime.
type reconstructRequest struct {
	History conversation.History `json:"history"`
}

// todosResponse is the reconstructed task list plus per-status counts.
type todosResponse struct {
	Todos  []todo.Task         `json:"todos"`
	Counts map[todo.Status]int `json:"counts"`
}

func newTodosResponse(h conversation.History) todosResponse {
	tasks := todo.Reconstruct(h)
	if tasks == nil {
		tasks = []todo.Task{}
	}
	return todosResponse{Todos: tasks, Counts: todo.Counts(tasks)}
}

func (s *Server) handleReconstructTodos(w http.ResponseWriter, r *http.Request) {
	var req reconstructRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesPlan, false); err != nil {
		respondError(w, status, err)
		return
	}
	respondJSON(w, newTodosResponse(req.History))
}
