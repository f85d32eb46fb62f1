package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/excella/pkg/storage"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartKind distinguishes the entries inside a turn.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool-call"
	PartToolResult PartKind = "tool-result"
)

// ResultState tracks whether a tool call has produced an accepted output.
type ResultState string

const (
	// StateRequested marks a call whose output is not available yet, e.g. a
	// propose tool still waiting for the human.
	StateRequested ResultState = "input-available"
	StateCompleted ResultState = "output-available"
	StateError     ResultState = "output-error"
)

// Part is one entry of a turn. Tool-result parts carry the raw JSON output so
// readers can decode it against whichever schema they expect.
type Part struct {
	Kind       PartKind        `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	State      ResultState     `json:"state,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
}

// Completed reports whether p is a tool result whose output was accepted.
func (p Part) Completed() bool {
	return p.Kind == PartToolResult && p.State == StateCompleted && len(p.Output) > 0
}

// Turn is one message in the conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if p.Kind != PartText || p.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// History is the ordered, append-only list of turns. Every reconstruction in
// excella is a pure function of a History value.
type History []Turn

// ToolResultVisitor is called for each completed tool result. Returning false
// stops the scan.
type ToolResultVisitor func(turnIndex int, part Part) bool

// ScanToolResults walks completed tool results newest first: turns from last
// to first and, inside a turn, parts from last to first.
func (h History) ScanToolResults(visit ToolResultVisitor) {
	for i := len(h) - 1; i >= 0; i-- {
		parts := h[i].Parts
		for j := len(parts) - 1; j >= 0; j-- {
			if !parts[j].Completed() {
				continue
			}
			if !visit(i, parts[j]) {
				return
			}
		}
	}
}

// Clone returns a copy whose turn slice can be appended to independently.
func (h History) Clone() History {
	out := make(History, len(h))
	copy(out, h)
	return out
}

// Conversation owns the history for one session.
type Conversation struct {
	SessionID string

	mu    sync.RWMutex
	turns History
	now   func() time.Time
}

// New creates a new conversation
func New(sessionID string) *Conversation {
	return &Conversation{
		SessionID: sessionID,
		turns:     History{},
		now:       time.Now,
	}
}

// NewFromHistory wraps an existing history.
func NewFromHistory(sessionID string, h History) *Conversation {
	c := New(sessionID)
	c.turns = h.Clone()
	return c
}

// History returns a frozen view of the turns recorded so far.
func (c *Conversation) History() History {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.turns.Clone()
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Append adds a turn, assigning an ID and timestamp when missing.
func (c *Conversation) Append(turn Turn) Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turn.ID == "" {
		turn.ID = ulid.Make().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = c.now()
	}
	c.turns = append(c.turns, turn)
	return turn
}

// AddUserMessage adds a user text turn
func (c *Conversation) AddUserMessage(content string) Turn {
	return c.Append(Turn{Role: RoleUser, Parts: []Part{{Kind: PartText, Text: content}}})
}

// AddAssistantMessage adds an assistant text turn
func (c *Conversation) AddAssistantMessage(content string) Turn {
	return c.Append(Turn{Role: RoleAssistant, Parts: []Part{{Kind: PartText, Text: content}}})
}

// AddToolCall records a requested tool call that has no output yet.
func (c *Conversation) AddToolCall(callID, name string, input any) (Turn, error) {
	raw, err := marshalRaw(input)
	if err != nil {
		return Turn{}, fmt.Errorf("marshal tool input: %w", err)
	}
	return c.Append(Turn{Role: RoleAssistant, Parts: []Part{{
		Kind:       PartToolCall,
		ToolCallID: callID,
		ToolName:   name,
		Input:      raw,
		State:      StateRequested,
	}}}), nil
}

// AddToolResult records an accepted tool output.
func (c *Conversation) AddToolResult(callID, name string, output any) (Turn, error) {
	raw, err := marshalRaw(output)
	if err != nil {
		return Turn{}, fmt.Errorf("marshal tool output: %w", err)
	}
	return c.Append(Turn{Role: RoleAssistant, Parts: []Part{ToolResultPart(callID, name, raw)}}), nil
}

// AddToolError records a failed tool call.
func (c *Conversation) AddToolError(callID, name, message string) Turn {
	return c.Append(Turn{Role: RoleAssistant, Parts: []Part{{
		Kind:       PartToolResult,
		ToolCallID: callID,
		ToolName:   name,
		State:      StateError,
		ErrorText:  message,
	}}})
}

// ToolResultPart builds a completed tool-result part.
func ToolResultPart(callID, name string, output json.RawMessage) Part {
	return Part{
		Kind:       PartToolResult,
		ToolCallID: callID,
		ToolName:   name,
		Output:     output,
		State:      StateCompleted,
	}
}

func marshalRaw(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return t, nil
	case []byte:
		return json.RawMessage(t), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// LoadFromStorage replaces the in-memory turns with the persisted log.
func (c *Conversation) LoadFromStorage(store *storage.Store) error {
	rows, err := store.GetTurns(c.SessionID)
	if err != nil {
		return err
	}

	turns := make(History, 0, len(rows))
	for _, row := range rows {
		var parts []Part
		if strings.TrimSpace(row.PartsJSON) != "" {
			if err := json.Unmarshal([]byte(row.PartsJSON), &parts); err != nil {
				return fmt.Errorf("decode turn %s: %w", row.TurnID, err)
			}
		}
		turns = append(turns, Turn{
			ID:        row.TurnID,
			Role:      Role(row.Role),
			Parts:     parts,
			CreatedAt: row.CreatedAt,
		})
	}

	c.mu.Lock()
	c.turns = turns
	c.mu.Unlock()
	return nil
}

// SaveTurn appends one turn to the persisted log.
func (c *Conversation) SaveTurn(store *storage.Store, turn Turn) error {
	data, err := json.Marshal(turn.Parts)
	if err != nil {
		return fmt.Errorf("serialize turn parts: %w", err)
	}
	return store.AppendTurn(&storage.Turn{
		SessionID: c.SessionID,
		TurnID:    turn.ID,
		Role:      string(turn.Role),
		PartsJSON: string(data),
		CreatedAt: turn.CreatedAt,
	})
}
