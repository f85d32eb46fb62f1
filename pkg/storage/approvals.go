package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Approval statuses. Only pending rows may change status.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalExpired  = "expired"
)

var (
	// ErrApprovalNotFound is returned when waiting on an unknown approval.
	ErrApprovalNotFound = errors.New("storage: approval not found")
	// ErrNotPending is returned when deciding an approval twice.
	ErrNotPending = errors.New("storage: approval is not pending")
)

// PendingApproval is a gated tool call parked for a human reviewer.
type PendingApproval struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ToolName       string    `json:"tool_name"`
	ToolInput      string    `json:"tool_input"`
	SnapshotID     string    `json:"snapshot_id,omitempty"`
	RiskLevel      string    `json:"risk_level,omitempty"`
	RiskReasons    []string  `json:"risk_reasons,omitempty"`
	Status         string    `json:"status"`
	DecidedBy      string    `json:"decided_by,omitempty"`
	DecidedAt      time.Time `json:"decided_at,omitempty"`
	DecisionReason string    `json:"decision_reason,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Decided reports whether the approval left the pending state.
func (a *PendingApproval) Decided() bool {
	return a != nil && a.Status != ApprovalPending
}

const selectApproval = `SELECT id, session_id, tool_name, tool_input, snapshot_id, risk_level, risk_reasons,
	status, decided_by, decided_at, decision_reason, expires_at, created_at FROM pending_approvals`

type scanner interface {
	Scan(dest ...any) error
}

func scanApproval(sc scanner) (*PendingApproval, error) {
	var (
		a                                     PendingApproval
		snapshot, risk, reasons, by, decision sql.NullString
		decidedAt                             sql.NullTime
	)
	err := sc.Scan(&a.ID, &a.SessionID, &a.ToolName, &a.ToolInput, &snapshot, &risk, &reasons,
		&a.Status, &by, &decidedAt, &decision, &a.ExpiresAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.SnapshotID, a.RiskLevel = snapshot.String, risk.String
	a.DecidedBy, a.DecisionReason = by.String, decision.String
	a.DecidedAt = decidedAt.Time
	if reasons.String != "" {
		_ = json.Unmarshal([]byte(reasons.String), &a.RiskReasons)
	}
	return &a, nil
}

func (s *Store) queryApprovals(where string, args ...any) ([]*PendingApproval, error) {
	rows, err := s.db.Query(selectApproval+" WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// optional stores blank strings as NULL.
func optional(v string) any {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return nil
}

// CreatePendingApproval inserts a, defaulting its status to pending and its
// creation time to now.
func (s *Store) CreatePendingApproval(a *PendingApproval) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	if a.Status == "" {
		a.Status = ApprovalPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	reasons, err := json.Marshal(a.RiskReasons)
	if err != nil {
		return fmt.Errorf("encode risk reasons: %w", err)
	}

	if _, err := s.execWithRetry(`INSERT INTO pending_approvals
		(id, session_id, tool_name, tool_input, snapshot_id, risk_level, risk_reasons, status, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.ToolName, a.ToolInput, optional(a.SnapshotID), optional(a.RiskLevel),
		string(reasons), a.Status, a.ExpiresAt, a.CreatedAt); err != nil {
		return fmt.Errorf("insert approval %s: %w", a.ID, err)
	}
	s.notify(newEvent(EventApprovalCreated, a.SessionID, a.ID, map[string]any{
		"tool_name":  a.ToolName,
		"risk_level": a.RiskLevel,
		"expires_at": a.ExpiresAt,
	}))
	return nil
}

// GetPendingApproval returns the approval with id in any status, or nil.
func (s *Store) GetPendingApproval(id string) (*PendingApproval, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	a, err := scanApproval(s.db.QueryRow(selectApproval+` WHERE id = ?`, id))
	switch {
	case isNoRows(err):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read approval %s: %w", id, err)
	}
	return a, nil
}

// DecidePendingApproval moves a pending approval to a.Status, which must be
// approved or rejected. ErrNotPending reports a lost race with another
// reviewer or the expiry sweep.
func (s *Store) DecidePendingApproval(a *PendingApproval) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	if a.Status != ApprovalApproved && a.Status != ApprovalRejected {
		return fmt.Errorf("invalid approval decision %q", a.Status)
	}
	if a.DecidedAt.IsZero() {
		a.DecidedAt = time.Now().UTC()
	}

	res, err := s.execWithRetry(`UPDATE pending_approvals
		SET status = ?, decided_by = ?, decided_at = ?, decision_reason = ?
		WHERE id = ? AND status = ?`,
		a.Status, optional(a.DecidedBy), a.DecidedAt, optional(a.DecisionReason), a.ID, ApprovalPending)
	if err != nil {
		return fmt.Errorf("decide approval %s: %w", a.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotPending, a.ID)
	}
	s.notify(newEvent(EventApprovalDecided, a.SessionID, a.ID, map[string]any{
		"status":          a.Status,
		"decided_by":      a.DecidedBy,
		"decision_reason": strings.TrimSpace(a.DecisionReason),
	}))
	return nil
}

// WaitForDecision polls id every interval until it is decided or expired.
// The decision may come from another process sharing the database.
func (s *Store) WaitForDecision(ctx context.Context, id string, interval time.Duration) (*PendingApproval, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := s.GetPendingApproval(id)
		switch {
		case err != nil:
			return nil, err
		case a == nil:
			return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
		case a.Decided():
			return a, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListPendingApprovals returns unexpired pending approvals, oldest first.
// An empty sessionID matches every session.
func (s *Store) ListPendingApprovals(sessionID string) ([]*PendingApproval, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	where := `status = ? AND expires_at >= ?`
	args := []any{ApprovalPending, time.Now().UTC()}
	if sessionID != "" {
		where += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	list, err := s.queryApprovals(where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return list, nil
}

// CountPendingApprovals counts a session's pending approvals, expired or not.
func (s *Store) CountPendingApprovals(sessionID string) (int, error) {
	if s.db == nil {
		return 0, ErrStoreClosed
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_approvals WHERE session_id = ? AND status = ?`,
		sessionID, ApprovalPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count approvals: %w", err)
	}
	return n, nil
}

// ExpirePendingApprovals closes every pending approval past its deadline
// and returns how many it closed.
func (s *Store) ExpirePendingApprovals() (int, error) {
	if s.db == nil {
		return 0, ErrStoreClosed
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(`UPDATE pending_approvals
		SET status = ?, decided_at = ?, decision_reason = 'timeout'
		WHERE status = ? AND expires_at < ?`, ApprovalExpired, now, ApprovalPending, now)
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.notify(newEvent(EventApprovalExpired, "", nil, map[string]any{"count": n}))
	}
	return int(n), nil
}
