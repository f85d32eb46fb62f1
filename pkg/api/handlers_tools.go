package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/excella/pkg/email"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// toolCallRequest is one tool invocation from the runtime.
type toolCallRequest struct {
	CallID string         `json:"callId,omitempty"`
	Params map[string]any `json:"params"`
}

// toolCallResponse echoes the call ID the result was recorded under.
type toolCallResponse struct {
	CallID string          `json:"callId"`
	Tool   string          `json:"tool"`
	Result *builtin.Result `json:"result"`
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	if s.registry == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New(errors.ErrCodeConfigInvalid, "no tool registry configured"))
		return
	}
	respondJSON(w, map[string]any{"tools": s.registry.Functions()})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesPlan, true); err != nil {
		respondError(w, status, err)
		return
	}
	s.callTool(w, r, strings.TrimSpace(chi.URLParam(r, "toolName")), req)
}

func (s *Server) handleProposeEmail(w http.ResponseWriter, r *http.Request) {
	var draft email.Draft
	if status, err := decodeJSONBody(w, r, &draft, maxBodyBytesSmall, false); err != nil {
		respondError(w, status, err)
		return
	}
	s.callTool(w, r, email.ToolProposeEmail, toolCallRequest{Params: map[string]any{
		"to":      draft.To,
		"subject": draft.Subject,
		"body":    draft.Body,
	}})
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailHandle string `json:"emailHandle"`
	}
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesTiny, false); err != nil {
		respondError(w, status, err)
		return
	}
	s.callTool(w, r, email.ToolSendEmail, toolCallRequest{Params: map[string]any{"emailHandle": req.EmailHandle}})
}

// callTool runs name in the request's session and records the call. A
// failed tool result is still a 200: the failure is part of the history
// the runtime reads back.
func (s *Server) callTool(w http.ResponseWriter, r *http.Request, name string, req toolCallRequest) {
	if s.registry == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New(errors.ErrCodeConfigInvalid, "no tool registry configured"))
		return
	}
	conv, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	callID := strings.TrimSpace(req.CallID)
	if callID == "" {
		callID = newCallID()
	}
	res, err := s.registry.Call(r.Context(), conv, callID, name, req.Params)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, toolCallResponse{CallID: callID, Tool: name, Result: res})
}
