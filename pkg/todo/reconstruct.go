package todo

import (
	"encoding/json"
	"fmt"

	"github.com/odvcencio/excella/pkg/conversation"
)

// Tool names whose accepted results carry a full task list.
const (
	ToolUpdateTodos        = "update_todos"
	ToolAskForPlanApproval = "ask_for_plan_approval"
)

// Result is the task-list payload shared by update_todos and
// ask_for_plan_approval results.
type Result struct {
	Todos []Task `json:"todos"`
}

func decodeResult(raw json.RawMessage) (Result, error) {
	if err := conversation.RequireKeys(raw, "todos"); err != nil {
		return Result{}, err
	}
	var items struct {
		Todos []json.RawMessage `json:"todos"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return Result{}, err
	}
	for i, item := range items.Todos {
		if err := conversation.RequireKeys(item, "text", "status"); err != nil {
			return Result{}, fmt.Errorf("task %d: %w", i, err)
		}
	}
	return conversation.DecodeStrict[Result](raw, checkResult)
}

// checkResult rejects lists holding a task outside the four states.
func checkResult(r *Result) error {
	for i, t := range r.Todos {
		if !t.Status.Valid() {
			return fmt.Errorf("task %d: invalid status %q", i, t.Status)
		}
	}
	return nil
}

var baselineVariants = []conversation.Variant[Result]{
	{
		Tools:  []string{ToolUpdateTodos, ToolAskForPlanApproval, "updateTodosTool", "askForPlanApprovalTool"},
		Decode: decodeResult,
	},
}

// Reconstruct returns the current task list: the list carried by the most
// recent accepted update_todos or ask_for_plan_approval result. Earlier turns
// are not replayed. Malformed candidates are skipped in favour of older ones;
// with no candidate the list is empty.
func Reconstruct(h conversation.History) []Task {
	tasks, _ := Latest(h)
	return tasks
}

// Latest is Reconstruct that also reports whether a baseline was found.
// An accepted empty list counts as a baseline.
func Latest(h conversation.History) ([]Task, bool) {
	var (
		found bool
		out   []Task
	)
	h.ScanToolResults(func(_ int, p conversation.Part) bool {
		res, ok := conversation.Match(p, baselineVariants...)
		if !ok {
			return true
		}
		out = append([]Task{}, res.Todos...)
		found = true
		return false
	})
	if out == nil {
		out = []Task{}
	}
	return out, found
}
