// Package approval is the gate between an agent's proposals and anything
// that touches the workbook or leaves the process.
//
// In ask mode an approved plan may be dry-run and applied and an approved
// draft may be sent. Safe mode keeps the workbook and the outbox untouched:
// approved plans may only be dry-run. Either way no plan executes until a
// human decision is present in the conversation history.
package approval

import (
	"fmt"
	"strings"
)

// Mode is the session-wide approval level.
type Mode int

const (
	ModeAsk Mode = iota
	ModeSafe
)

var modeAliases = map[string]Mode{
	"ask":       ModeAsk,
	"explicit":  ModeAsk,
	"manual":    ModeAsk,
	"safe":      ModeSafe,
	"readonly":  ModeSafe,
	"read-only": ModeSafe,
	"dry-run":   ModeSafe,
}

func (m Mode) String() string {
	switch m {
	case ModeAsk:
		return "ask"
	case ModeSafe:
		return "safe"
	}
	return "unknown"
}

// ParseMode accepts a mode name or one of its aliases, case-insensitively.
func ParseMode(s string) (Mode, error) {
	if m, ok := modeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return ModeAsk, fmt.Errorf("unknown approval mode %q (valid: ask, safe)", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if m != ModeAsk && m != ModeSafe {
		return nil, fmt.Errorf("invalid approval mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Operation classifies what a tool call would do.
type Operation int

const (
	OpRead Operation = iota
	OpNote
	OpPlanDryRun
	OpPlanApply
	OpEmailSend
)

var operationNames = [...]string{
	OpRead:       "read",
	OpNote:       "note",
	OpPlanDryRun: "plan:dry-run",
	OpPlanApply:  "plan:apply",
	OpEmailSend:  "email:send",
}

func (o Operation) String() string {
	if o < 0 || int(o) >= len(operationNames) {
		return "unknown"
	}
	return operationNames[o]
}

// Effectful reports whether the operation changes the workbook or sends
// something out of the process.
func (o Operation) Effectful() bool {
	return o == OpPlanApply || o == OpEmailSend
}

// Request describes one gated tool call.
type Request struct {
	Operation Operation
	Tool      string
	// SnapshotID is the snapshot a plan was computed against; empty for
	// non-plan operations.
	SnapshotID  string
	Description string
}

// Decision is the gate's verdict.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionDeny
	// DecisionPrompt means a human must decide first.
	DecisionPrompt
)

var decisionNames = [...]string{
	DecisionAllow:  "allow",
	DecisionDeny:   "deny",
	DecisionPrompt: "prompt",
}

func (d Decision) String() string {
	if d < 0 || int(d) >= len(decisionNames) {
		return "unknown"
	}
	return decisionNames[d]
}

// Result is a Decision with its evidence.
type Result struct {
	Decision Decision      `json:"-"`
	Reason   string        `json:"reason"`
	Request  Request       `json:"-"`
	Approval *PlanApproval `json:"approval,omitempty"`
}

func (r Result) Allowed() bool { return r.Decision == DecisionAllow }
