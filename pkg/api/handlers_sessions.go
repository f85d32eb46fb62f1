package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/storage"
)

// conversationFor returns the live conversation for sessionID, loading it
// from the store on first use.
func (s *Server) conversationFor(sessionID string) (*conversation.Conversation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "session id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.sessions[sessionID]; ok {
		return conv, nil
	}
	conv := conversation.New(sessionID)
	if s.store != nil {
		if err := conv.LoadFromStorage(s.store); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load session").
				WithContext("session", sessionID)
		}
	}
	s.sessions[sessionID] = conv
	return conv, nil
}

func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*conversation.Conversation, bool) {
	conv, err := s.conversationFor(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, statusForError(err), err)
		return nil, false
	}
	return conv, true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	if s.store != nil {
		sessions, err := s.store.ListSessions(limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, errors.Wrap(err, errors.ErrCodeStorageRead, "list sessions"))
			return
		}
		if sessions == nil {
			sessions = []storage.SessionSummary{}
		}
		respondJSON(w, map[string]any{"sessions": sessions})
		return
	}

	s.mu.Lock()
	sessions := make([]storage.SessionSummary, 0, len(s.sessions))
	for id, conv := range s.sessions {
		summary := storage.SessionSummary{SessionID: id, TurnCount: conv.Len()}
		if h := conv.History(); len(h) > 0 {
			summary.LastTurnAt = h[len(h)-1].CreatedAt
		}
		sessions = append(sessions, summary)
	}
	s.mu.Unlock()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].LastTurnAt.After(sessions[j].LastTurnAt) })
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	respondJSON(w, map[string]any{"sessions": sessions})
}

// handleSessionHistory returns the turn log. ?format=markdown renders it
// for humans.
func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	format := conversation.ExportFormat(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
	if format == conversation.ExportMarkdown {
		data, err := conversation.Export(conv.SessionID, conv.History(), conversation.ExportOptions{
			Format:           conversation.ExportMarkdown,
			IncludeToolCalls: true,
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write(data)
		return
	}
	history := conv.History()
	if history == nil {
		history = conversation.History{}
	}
	respondJSON(w, map[string]any{"sessionId": conv.SessionID, "turns": history})
}

// appendMessageRequest records runtime text turns alongside tool turns.
type appendMessageRequest struct {
	Role    conversation.Role `json:"role"`
	Content string            `json:"content"`
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req appendMessageRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesSmall, false); err != nil {
		respondError(w, status, err)
		return
	}
	var turn conversation.Turn
	switch req.Role {
	case conversation.RoleUser:
		turn = conv.AddUserMessage(req.Content)
	case conversation.RoleAssistant:
		turn = conv.AddAssistantMessage(req.Content)
	default:
		respondError(w, http.StatusBadRequest, errors.New(errors.ErrCodeInvalidInput, "role must be user or assistant"))
		return
	}
	if s.store != nil {
		if err := conv.SaveTurn(s.store, turn); err != nil {
			s.logger.Warn(logging.CategorySession, "turn_save_failed", err.Error(), map[string]any{
				"session": conv.SessionID,
			})
		}
	}
	respondStatusJSON(w, http.StatusCreated, turn)
}

func (s *Server) handleSessionTodos(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	respondJSON(w, newTodosResponse(conv.History()))
}

func (s *Server) handleSessionAudit(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New(errors.ErrCodeConfigInvalid, "no store configured"))
		return
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	entries, err := s.store.GetAuditLog(sessionID, parseIntDefault(r.URL.Query().Get("limit"), 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, errors.Wrap(err, errors.ErrCodeStorageRead, "read audit log"))
		return
	}
	if entries == nil {
		entries = []*storage.ToolAuditEntry{}
	}
	respondJSON(w, map[string]any{"sessionId": sessionID, "entries": entries})
}
