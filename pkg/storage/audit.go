package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// DefaultAuditLimit caps GetAuditLog when no limit is given.
const DefaultAuditLimit = 100

// ToolAuditEntry records one tool invocation and the approval decision
// that let it run.
type ToolAuditEntry struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	ApprovalID string    `json:"approval_id,omitempty"`
	ToolName   string    `json:"tool_name"`
	ToolInput  string    `json:"tool_input"`
	ToolOutput string    `json:"tool_output,omitempty"`
	Decision   string    `json:"decision"`
	DecidedBy  string    `json:"decided_by,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
	DurationMs int64     `json:"duration_ms"`
}

// LogToolExecution appends e to the audit log and sets its ID.
func (s *Store) LogToolExecution(e *ToolAuditEntry) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}
	res, err := s.execWithRetry(`INSERT INTO tool_audit_log
		(session_id, approval_id, tool_name, tool_input, tool_output, decision, decided_by, executed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, optional(e.ApprovalID), e.ToolName, e.ToolInput, optional(e.ToolOutput),
		e.Decision, optional(e.DecidedBy), e.ExecutedAt, e.DurationMs)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// GetAuditLog returns up to limit entries for sessionID, newest first.
func (s *Store) GetAuditLog(sessionID string, limit int) ([]*ToolAuditEntry, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	rows, err := s.db.Query(`SELECT id, session_id, approval_id, tool_name, tool_input, tool_output,
		decision, decided_by, executed_at, duration_ms
		FROM tool_audit_log WHERE session_id = ?
		ORDER BY executed_at DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	defer rows.Close()

	var entries []*ToolAuditEntry
	for rows.Next() {
		var (
			e                           ToolAuditEntry
			approval, input, output, by sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &approval, &e.ToolName, &input, &output,
			&e.Decision, &by, &e.ExecutedAt, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ApprovalID, e.ToolInput, e.ToolOutput, e.DecidedBy = approval.String, input.String, output.String, by.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
