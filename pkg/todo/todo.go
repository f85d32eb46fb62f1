// Package todo models the agent's visible task list and the mutations the
// update_todos tool applies to it.
package todo

import (
	"encoding/json"
	"fmt"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusNew        Status = "new"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Valid reports whether s is one of the four states.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusPending, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown states so malformed stored lists fail to decode.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st := Status(raw)
	if !st.Valid() {
		return fmt.Errorf("invalid task status %q", raw)
	}
	*s = st
	return nil
}

// Task is one entry in the ordered list. Position is display and execution order.
type Task struct {
	Text   string `json:"text"`
	Status Status `json:"status"`
}

// Mutation is an update_todos request. Every index refers to the list as it
// was before this mutation.
type Mutation struct {
	New            []string `json:"new"`
	InProgress     []int    `json:"inProgress"`
	Done           []int    `json:"done"`
	ClearCompleted bool     `json:"clearPreviouslyDone"`
	InsertAt       *int     `json:"insertAt,omitempty"`
}

type slot struct {
	task Task
	orig int // index in the pre-mutation list, -1 for new items
}

// Apply returns the list produced by applying m to current. current is not
// modified.
//
// Order: untouched "new" tasks demote to pending; previously done tasks are
// dropped when ClearCompleted is set; new items are inserted at InsertAt
// (clamped) or appended; finally status updates are applied to surviving
// tasks by their original index. Updates naming a removed or out-of-range
// task are ignored.
func Apply(current []Task, m Mutation) []Task {
	touched := make(map[int]bool, len(m.InProgress)+len(m.Done))
	for _, i := range m.InProgress {
		touched[i] = true
	}
	for _, i := range m.Done {
		touched[i] = true
	}

	slots := make([]slot, 0, len(current)+len(m.New))
	for i, t := range current {
		if m.ClearCompleted && t.Status == StatusDone {
			continue
		}
		if t.Status == StatusNew && !touched[i] {
			t.Status = StatusPending
		}
		slots = append(slots, slot{task: t, orig: i})
	}

	added := make([]slot, 0, len(m.New))
	for _, text := range m.New {
		added = append(added, slot{task: Task{Text: text, Status: StatusNew}, orig: -1})
	}

	pos := len(slots)
	if m.InsertAt != nil {
		pos = clamp(*m.InsertAt, 0, len(slots))
	}
	slots = append(slots[:pos], append(added, slots[pos:]...)...)

	targets := make(map[int]Status, len(touched))
	for _, i := range m.InProgress {
		targets[i] = StatusInProgress
	}
	// done wins when an index appears in both lists
	for _, i := range m.Done {
		targets[i] = StatusDone
	}

	out := make([]Task, len(slots))
	for k, s := range slots {
		if s.orig >= 0 {
			if st, ok := targets[s.orig]; ok {
				s.task.Status = st
			}
		}
		out[k] = s.task
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Counts tallies tasks by status.
func Counts(tasks []Task) map[Status]int {
	out := make(map[Status]int, 4)
	for _, t := range tasks {
		out[t.Status]++
	}
	return out
}
