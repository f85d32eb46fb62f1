package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/storage"
)

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New(errors.ErrCodeConfigInvalid, "no store configured").
			WithUserMessage("Approvals need a storage backend; configure storage.path."))
		return false
	}
	return true
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	approvals, err := s.store.ListPendingApprovals(strings.TrimSpace(r.URL.Query().Get("session")))
	if err != nil {
		respondError(w, http.StatusInternalServerError, errors.Wrap(err, errors.ErrCodeStorageRead, "list approvals"))
		return
	}
	if approvals == nil {
		approvals = []*storage.PendingApproval{}
	}
	respondJSON(w, map[string]any{"approvals": approvals})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "approvalID"))
	approval, err := s.store.GetPendingApproval(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, errors.Wrap(err, errors.ErrCodeStorageRead, "get approval"))
		return
	}
	if approval == nil {
		respondError(w, http.StatusNotFound, errors.New(errors.ErrCodeInvalidInput, "approval not found: "+id))
		return
	}
	respondJSON(w, approval)
}

// decisionRequest is a reviewer's answer to a pending approval.
type decisionRequest struct {
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
	DecidedBy string `json:"decidedBy,omitempty"`
}

// handleDecideApproval records the decision the blocked reviewer is
// polling for. Only pending approvals can be decided.
func (s *Server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "approvalID"))
	var req decisionRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesTiny, false); err != nil {
		respondError(w, status, err)
		return
	}

	approval, err := s.store.GetPendingApproval(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, errors.Wrap(err, errors.ErrCodeStorageRead, "get approval"))
		return
	}
	if approval == nil {
		respondError(w, http.StatusNotFound, errors.New(errors.ErrCodeInvalidInput, "approval not found: "+id))
		return
	}
	if approval.Decided() {
		respondError(w, http.StatusConflict, errors.New(errors.ErrCodeInvalidInput, "approval already "+approval.Status).
			WithUserMessage("This request was already "+approval.Status+"."))
		return
	}

	approval.Status = storage.ApprovalRejected
	if req.Approved {
		approval.Status = storage.ApprovalApproved
	}
	approval.DecidedBy = strings.TrimSpace(req.DecidedBy)
	if approval.DecidedBy == "" {
		approval.DecidedBy = "api"
	}
	approval.DecisionReason = strings.TrimSpace(req.Reason)
	if err := s.store.DecidePendingApproval(approval); err != nil {
		// Lost a race with another reviewer or the expiry sweep.
		respondError(w, http.StatusConflict, errors.Wrap(err, errors.ErrCodeStorageWrite, "decide approval"))
		return
	}

	s.logger.Info(logging.CategoryApproval, "approval_decided", approval.Status, map[string]any{
		"id":         approval.ID,
		"tool":       approval.ToolName,
		"decided_by": approval.DecidedBy,
	})
	respondJSON(w, approval)
}
