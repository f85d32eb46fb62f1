// Package plan validates agent plans against workbook snapshots and runs
// them in dry-run or apply mode.
package plan

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/odvcencio/excella/pkg/memory"
)

// Step is one proposed operation.
type Step struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	Description     string          `json:"description"`
	TargetWorksheet string          `json:"targetWorksheet"`
	TargetRange     string          `json:"targetRange"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
}

// ActionKind maps the step kind onto the action log vocabulary.
func (s Step) ActionKind() memory.ActionKind {
	return memory.ParseActionKind(s.Kind)
}

// DecodeParameters unmarshals the step parameters into v. Missing
// parameters leave v untouched.
func (s Step) DecodeParameters(v any) error {
	if len(s.Parameters) == 0 || string(s.Parameters) == "null" {
		return nil
	}
	if err := json.Unmarshal(s.Parameters, v); err != nil {
		return fmt.Errorf("step %s: invalid parameters: %w", s.ID, err)
	}
	return nil
}

// Plan is an ordered list of steps computed against one snapshot.
type Plan struct {
	SnapshotID string `json:"snapshotId"`
	Steps      []Step `json:"steps"`
}

// Equal reports whether p and q describe the same steps against the same
// snapshot. Parameters compare by decoded value, so key order and
// whitespace do not matter.
func (p Plan) Equal(q Plan) bool {
	if p.SnapshotID != q.SnapshotID || len(p.Steps) != len(q.Steps) {
		return false
	}
	for i, a := range p.Steps {
		b := q.Steps[i]
		if a.ID != b.ID || a.Kind != b.Kind || a.Description != b.Description ||
			a.TargetWorksheet != b.TargetWorksheet || a.TargetRange != b.TargetRange {
			return false
		}
		if !sameParameters(a.Parameters, b.Parameters) {
			return false
		}
	}
	return true
}

func sameParameters(a, b json.RawMessage) bool {
	var va, vb any
	if len(a) > 0 {
		if err := json.Unmarshal(a, &va); err != nil {
			return false
		}
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &vb); err != nil {
			return false
		}
	}
	return reflect.DeepEqual(va, vb)
}

// Check enforces the proposal schema: a snapshot ID, at least one step and
// every step field present. It does not consult any snapshot.
func (p Plan) Check() error {
	if strings.TrimSpace(p.SnapshotID) == "" {
		return fmt.Errorf("plan: snapshotId is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan: at least one step is required")
	}
	for i, s := range p.Steps {
		missing := []string{}
		for name, v := range map[string]string{
			"id":              s.ID,
			"kind":            s.Kind,
			"description":     s.Description,
			"targetWorksheet": s.TargetWorksheet,
			"targetRange":     s.TargetRange,
		} {
			if strings.TrimSpace(v) == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("plan: step %d missing %s", i, strings.Join(missing, ", "))
		}
		if len(s.Parameters) > 0 && string(s.Parameters) != "null" {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(s.Parameters, &obj); err != nil {
				return fmt.Errorf("plan: step %d parameters must be an object", i)
			}
		}
	}
	return nil
}

// Summary is the one-line description used when a plan is proposed.
func (p Plan) Summary() string {
	return fmt.Sprintf("Plan with %d step(s) for snapshot %s.", len(p.Steps), p.SnapshotID)
}
