package terminal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/memory"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/todo"
	"github.com/odvcencio/excella/pkg/workbook"
)

func render(fn func(w *Writer)) string {
	DisableColor()
	var buf bytes.Buffer
	fn(NewWithOutput(&buf))
	return buf.String()
}

func assertContainsAll(t *testing.T, got string, want ...string) {
	t.Helper()
	for _, s := range want {
		assert.Contains(t, got, s)
	}
}

func TestWriterStatusLines(t *testing.T) {
	got := render(func(w *Writer) {
		w.Error("something went %s", "wrong")
		w.Warn("be careful")
		w.Success("it worked")
		w.Info("FYI")
		w.Dim("quiet")
		w.Println("%d rows", 3)
	})
	assertContainsAll(t, got, "error: something went wrong", "warning: be careful", "✓ it worked", "FYI", "quiet", "3 rows")
}

func TestWriterTodos(t *testing.T) {
	got := render(func(w *Writer) {
		w.Todos([]todo.Task{
			{Text: "Clean headers", Status: todo.StatusDone},
			{Text: "Add totals", Status: todo.StatusInProgress},
			{Text: "Format table", Status: todo.StatusNew},
		})
	})
	assertContainsAll(t, got, "0. ● Clean headers", "1. ◐ Add totals", "2. ○ Format table",
		"1 new, 0 pending, 1 in progress, 1 done")
}

func TestWriterTodosEmpty(t *testing.T) {
	assert.Contains(t, render(func(w *Writer) { w.Todos(nil) }), "No tasks.")
}

func TestWriterVerdict(t *testing.T) {
	got := render(func(w *Writer) {
		w.Verdict(plan.Verdict{
			Risk:   workbook.Risk{Level: workbook.RiskHigh, Reasons: []string{"Selection is large."}},
			Issues: []string{plan.IssueStaleSnapshot},
		})
	})
	assertContainsAll(t, got, "✗ Plan is invalid", "risk: high", "Selection is large.", plan.IssueStaleSnapshot)
}

func TestWriterPlanResult(t *testing.T) {
	got := render(func(w *Writer) {
		w.PlanResult(plan.Result{
			Mode:    plan.ModeApply,
			Summary: "Applied 1 action(s).",
			Actions: []memory.ActionEntry{{
				Kind:            memory.KindWriteValues,
				TargetWorksheet: "Sheet1",
				TargetRange:     "A1:B2",
				Description:     "write headers",
				Status:          memory.StatusSuccess,
			}},
			Errors: []memory.ErrorEntry{{Message: "sort failed", Details: "no such sheet"}},
		})
	})
	assertContainsAll(t, got, "Applied 1 action(s).", "Sheet1!A1:B2", "write headers", "✗ sort failed", "no such sheet")
}

func TestWriterPlanResultShowsRejectedVerdict(t *testing.T) {
	got := render(func(w *Writer) {
		w.PlanResult(plan.Result{
			Mode:       plan.ModeApply,
			Summary:    "Plan rejected.",
			Validation: &plan.Verdict{Risk: workbook.Risk{Level: workbook.RiskLow}, Issues: []string{"bad range"}},
		})
	})
	assertContainsAll(t, got, "✗ Plan is invalid", "bad range", "Plan rejected.")
	assert.Less(t, strings.Index(got, "Plan is invalid"), strings.Index(got, "Plan rejected."))
}

func TestWriterReview(t *testing.T) {
	got := render(func(w *Writer) {
		w.Review(approval.Review{
			Kind:       approval.ReviewPlan,
			ToolName:   "ask_for_plan_approval",
			SnapshotID: "snap-1",
			Summary:    "Clean up the sales table",
			RiskLevel:  "medium",
			Todos:      []todo.Task{{Text: "Trim whitespace", Status: todo.StatusPending}},
		})
	})
	assertContainsAll(t, got, "Approve plan?", "Clean up the sales table", "snap-1", "medium", "Trim whitespace")
}

func TestWriterPrompt(t *testing.T) {
	var out bytes.Buffer
	w := NewWithIO(strings.NewReader("  hello \n\n"), &out)

	assert.Equal(t, "hello", w.Prompt("Name", "x"))
	assert.Equal(t, "x", w.Prompt("Name", "x"), "blank line yields the default")
	assert.Contains(t, out.String(), "Name [x]: ")
}

func TestWriterPromptWithoutInput(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, "none", NewWithOutput(&out).Prompt("Reason", "none"))
}

func TestWriterConfirm(t *testing.T) {
	tests := []struct {
		input      string
		defaultYes bool
		want       bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"maybe\n", true, false},
		{"", true, true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		w := NewWithIO(strings.NewReader(tt.input), &out)
		assert.Equal(t, tt.want, w.Confirm("Continue?", tt.defaultYes), "Confirm(%q, %v)", tt.input, tt.defaultYes)
	}
}
