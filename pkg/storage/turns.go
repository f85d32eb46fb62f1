package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Turn is one persisted conversation turn. Parts are stored as the JSON
// produced by the conversation package; the store never interprets them.
type Turn struct {
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Role      string    `json:"role"`
	PartsJSON string    `json:"parts_json"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary describes one stored conversation.
type SessionSummary struct {
	SessionID  string    `json:"session_id"`
	TurnCount  int       `json:"turn_count"`
	LastTurnAt time.Time `json:"last_turn_at"`
}

// AppendTurn appends a turn to the session log. The log is append-only;
// there is no update or delete.
func (s *Store) AppendTurn(turn *Turn) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	if turn == nil {
		return fmt.Errorf("turn cannot be nil")
	}
	if strings.TrimSpace(turn.SessionID) == "" {
		return fmt.Errorf("turn session id cannot be empty")
	}
	if turn.ID == "" {
		turn.ID = ulid.Make().String()
	}
	if turn.TurnID == "" {
		turn.TurnID = turn.ID
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if strings.TrimSpace(turn.PartsJSON) == "" {
		turn.PartsJSON = "[]"
	}

	res, err := s.execWithRetry(`
		INSERT INTO conversation_turns (id, session_id, turn_id, role, parts_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.SessionID, turn.TurnID, turn.Role, turn.PartsJSON, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	turn.Seq, _ = res.LastInsertId()

	s.notify(newEvent(EventTurnAppended, turn.SessionID, turn.TurnID, map[string]any{
		"role": turn.Role,
		"seq":  turn.Seq,
	}))
	return nil
}

// GetTurns returns the session log in append order.
func (s *Store) GetTurns(sessionID string) ([]Turn, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query(`
		SELECT seq, id, session_id, turn_id, role, parts_json, created_at
		FROM conversation_turns
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Seq, &t.ID, &t.SessionID, &t.TurnID, &t.Role, &t.PartsJSON, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ListSessions returns stored sessions, most recently active first.
func (s *Store) ListSessions(limit int) ([]SessionSummary, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT session_id, COUNT(*), MAX(seq)
		FROM conversation_turns
		GROUP BY session_id
		ORDER BY MAX(seq) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	type row struct {
		summary SessionSummary
		lastSeq int64
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.summary.SessionID, &r.summary.TurnCount, &r.lastSeq); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]SessionSummary, 0, len(found))
	for _, r := range found {
		if err := s.db.QueryRow(`SELECT created_at FROM conversation_turns WHERE seq = ?`, r.lastSeq).Scan(&r.summary.LastTurnAt); err != nil {
			return nil, fmt.Errorf("last turn for %s: %w", r.summary.SessionID, err)
		}
		out = append(out, r.summary)
	}
	return out, nil
}
