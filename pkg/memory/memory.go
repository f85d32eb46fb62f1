// Package memory holds AgentMemory, the bounded record of recent actions,
// errors and notes that survives across turns for one workbook.
package memory

import (
	"encoding/json"
	"time"
)

// DefaultCap bounds recentActions, recentErrors and notes.
const DefaultCap = 20

// ActionKind names the kind of workbook mutation an action performed.
type ActionKind string

const (
	KindWriteValues          ActionKind = "write-values"
	KindFillFormulas         ActionKind = "fill-formulas"
	KindTransformData        ActionKind = "transform-data"
	KindInsertTable          ActionKind = "insert-table"
	KindUpdateTableStructure ActionKind = "update-table-structure"
	KindSortRange            ActionKind = "sort-range"
	KindFilterRange          ActionKind = "filter-range"
	KindFormattingChange     ActionKind = "formatting-change"
	KindInsertRows           ActionKind = "insert-rows"
	KindInsertColumns        ActionKind = "insert-columns"
	KindDeleteRows           ActionKind = "delete-rows"
	KindDeleteColumns        ActionKind = "delete-columns"
	KindCreateSheet          ActionKind = "create-sheet"
	KindRenameSheet          ActionKind = "rename-sheet"
	KindDeleteSheet          ActionKind = "delete-sheet"
	KindMoveSheet            ActionKind = "move-sheet"
	KindCreateNamedRange     ActionKind = "create-named-range"
	KindUpdateNamedRange     ActionKind = "update-named-range"
	KindSetDataValidation    ActionKind = "set-data-validation"
	KindRemoveDataValidation ActionKind = "remove-data-validation"
	KindAddComment           ActionKind = "add-comment"
	KindEditComment          ActionKind = "edit-comment"
	KindRemoveComment        ActionKind = "remove-comment"
	KindOther                ActionKind = "other"
)

var knownKinds = map[ActionKind]struct{}{
	KindWriteValues: {}, KindFillFormulas: {}, KindTransformData: {},
	KindInsertTable: {}, KindUpdateTableStructure: {}, KindSortRange: {}, KindFilterRange: {},
	KindFormattingChange: {},
	KindInsertRows: {}, KindInsertColumns: {}, KindDeleteRows: {}, KindDeleteColumns: {},
	KindCreateSheet: {}, KindRenameSheet: {}, KindDeleteSheet: {}, KindMoveSheet: {},
	KindCreateNamedRange: {}, KindUpdateNamedRange: {},
	KindSetDataValidation: {}, KindRemoveDataValidation: {},
	KindAddComment: {}, KindEditComment: {}, KindRemoveComment: {},
	KindOther: {},
}

// ParseActionKind maps s onto a known kind; anything unrecognised is "other".
func ParseActionKind(s string) ActionKind {
	k := ActionKind(s)
	if _, ok := knownKinds[k]; ok {
		return k
	}
	return KindOther
}

// Known reports whether k is one of the enumerated kinds.
func (k ActionKind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Destructive reports whether the kind removes workbook structure.
func (k ActionKind) Destructive() bool {
	switch k {
	case KindDeleteRows, KindDeleteColumns, KindDeleteSheet, KindRemoveDataValidation, KindRemoveComment:
		return true
	}
	return false
}

// UnmarshalJSON decodes unknown kinds as "other".
func (k *ActionKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*k = ParseActionKind(s)
	return nil
}

// ActionStatus is the outcome of one executed action.
type ActionStatus string

const (
	StatusSuccess ActionStatus = "success"
	StatusFailed  ActionStatus = "failed"
	StatusPartial ActionStatus = "partial"
)

// ActionEntry is one AgentActionLogEntry.
type ActionEntry struct {
	ID              string       `json:"id"`
	Timestamp       time.Time    `json:"timestamp"`
	Description     string       `json:"description"`
	TargetRange     string       `json:"targetRange,omitempty"`
	TargetWorksheet string       `json:"targetWorksheet,omitempty"`
	Kind            ActionKind   `json:"kind"`
	Status          ActionStatus `json:"status"`
}

// ErrorEntry is one AgentErrorLogEntry.
type ErrorEntry struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Message   string     `json:"message"`
	Operation ActionKind `json:"operation,omitempty"`
	Details   string     `json:"details,omitempty"`
}

// Importance ranks a note.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// Note is a free-form observation the agent keeps about the workbook.
type Note struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Text       string     `json:"text"`
	Importance Importance `json:"importance"`
}

// AgentMemory lists are most-recent-first.
type AgentMemory struct {
	RecentActions []ActionEntry `json:"recentActions"`
	RecentErrors  []ErrorEntry  `json:"recentErrors"`
	Notes         []Note        `json:"notes"`
}

// Empty returns a memory with non-nil, empty lists.
func Empty() AgentMemory {
	return AgentMemory{
		RecentActions: []ActionEntry{},
		RecentErrors:  []ErrorEntry{},
		Notes:         []Note{},
	}
}

// Clone returns a deep copy.
func (m AgentMemory) Clone() AgentMemory {
	return AgentMemory{
		RecentActions: append([]ActionEntry{}, m.RecentActions...),
		RecentErrors:  append([]ErrorEntry{}, m.RecentErrors...),
		Notes:         append([]Note{}, m.Notes...),
	}
}

// Normalize replaces nil lists with empty ones so JSON output is stable.
func (m AgentMemory) Normalize() AgentMemory {
	if m.RecentActions == nil {
		m.RecentActions = []ActionEntry{}
	}
	if m.RecentErrors == nil {
		m.RecentErrors = []ErrorEntry{}
	}
	if m.Notes == nil {
		m.Notes = []Note{}
	}
	return m
}

// Decode parses stored memory JSON. Malformed input yields empty memory and
// ok=false; it is never an error for callers.
func Decode(data []byte) (AgentMemory, bool) {
	if len(data) == 0 {
		return Empty(), false
	}
	var m AgentMemory
	if err := json.Unmarshal(data, &m); err != nil {
		return Empty(), false
	}
	return m.Normalize(), true
}
