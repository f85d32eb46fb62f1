package todo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/excella/pkg/conversation"
)

func intp(i int) *int { return &i }

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		current []Task
		m       Mutation
		want    []Task
	}{
		{
			name:    "empty list gains new items",
			current: nil,
			m:       Mutation{New: []string{"a", "b"}},
			want:    []Task{{"a", StatusNew}, {"b", StatusNew}},
		},
		{
			name:    "clear then insert uses original indices",
			current: []Task{{"a", StatusDone}, {"b", StatusPending}},
			m:       Mutation{New: []string{"X"}, Done: []int{0}, ClearCompleted: true},
			want:    []Task{{"b", StatusPending}, {"X", StatusNew}},
		},
		{
			name:    "untouched new tasks demote to pending",
			current: []Task{{"a", StatusNew}, {"b", StatusNew}, {"c", StatusNew}},
			m:       Mutation{InProgress: []int{1}, Done: []int{2}},
			want:    []Task{{"a", StatusPending}, {"b", StatusInProgress}, {"c", StatusDone}},
		},
		{
			name:    "insertAt places new items before existing",
			current: []Task{{"a", StatusPending}, {"b", StatusPending}},
			m:       Mutation{New: []string{"X", "Y"}, InsertAt: intp(1)},
			want:    []Task{{"a", StatusPending}, {"X", StatusNew}, {"Y", StatusNew}, {"b", StatusPending}},
		},
		{
			name:    "insertAt beyond length appends",
			current: []Task{{"a", StatusPending}},
			m:       Mutation{New: []string{"X"}, InsertAt: intp(99)},
			want:    []Task{{"a", StatusPending}, {"X", StatusNew}},
		},
		{
			name:    "negative insertAt clamps to front",
			current: []Task{{"a", StatusPending}},
			m:       Mutation{New: []string{"X"}, InsertAt: intp(-4)},
			want:    []Task{{"X", StatusNew}, {"a", StatusPending}},
		},
		{
			name:    "status indices follow tasks across insertion",
			current: []Task{{"a", StatusPending}, {"b", StatusPending}},
			m:       Mutation{New: []string{"X"}, InsertAt: intp(0), InProgress: []int{1}},
			want:    []Task{{"X", StatusNew}, {"a", StatusPending}, {"b", StatusInProgress}},
		},
		{
			name:    "status indices follow tasks across clearing",
			current: []Task{{"a", StatusDone}, {"b", StatusPending}, {"c", StatusPending}},
			m:       Mutation{ClearCompleted: true, Done: []int{2}},
			want:    []Task{{"b", StatusPending}, {"c", StatusDone}},
		},
		{
			name:    "out of range indices are ignored",
			current: []Task{{"a", StatusPending}},
			m:       Mutation{InProgress: []int{-1, 5}, Done: []int{1}},
			want:    []Task{{"a", StatusPending}},
		},
		{
			name:    "task marked done in this request survives the clear",
			current: []Task{{"a", StatusInProgress}, {"b", StatusDone}},
			m:       Mutation{Done: []int{0}, ClearCompleted: true},
			want:    []Task{{"a", StatusDone}},
		},
		{
			name:    "done wins over in-progress for the same index",
			current: []Task{{"a", StatusPending}},
			m:       Mutation{InProgress: []int{0}, Done: []int{0}},
			want:    []Task{{"a", StatusDone}},
		},
		{
			name:    "new items are never demoted in the request that adds them",
			current: []Task{{"a", StatusNew}},
			m:       Mutation{New: []string{"b"}},
			want:    []Task{{"a", StatusPending}, {"b", StatusNew}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(tt.current, tt.m)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	current := []Task{{"a", StatusNew}, {"b", StatusDone}}
	_ = Apply(current, Mutation{ClearCompleted: true, New: []string{"c"}})
	assert.Equal(t, []Task{{"a", StatusNew}, {"b", StatusDone}}, current)
}

func TestDemotionInvariant(t *testing.T) {
	current := []Task{{"a", StatusNew}, {"b", StatusNew}, {"c", StatusNew}, {"d", StatusPending}}
	m := Mutation{InProgress: []int{0}}
	got := Apply(current, m)
	for i, task := range got {
		if i == 0 {
			continue
		}
		assert.NotEqual(t, StatusNew, task.Status, "task %d should not stay new", i)
	}
}

func TestStatusUnmarshalRejectsUnknown(t *testing.T) {
	var task Task
	assert.Error(t, json.Unmarshal([]byte(`{"text":"a","status":"blocked"}`), &task))
	require.NoError(t, json.Unmarshal([]byte(`{"text":"a","status":"in-progress"}`), &task))
	assert.Equal(t, StatusInProgress, task.Status)
}

func TestCounts(t *testing.T) {
	c := Counts([]Task{{"a", StatusDone}, {"b", StatusDone}, {"c", StatusNew}})
	assert.Equal(t, 2, c[StatusDone])
	assert.Equal(t, 1, c[StatusNew])
	assert.Zero(t, c[StatusPending])
}

func resultTurn(tool string, raw string) conversation.Turn {
	return conversation.Turn{
		Role:  conversation.RoleAssistant,
		Parts: []conversation.Part{conversation.ToolResultPart("c", tool, json.RawMessage(raw))},
	}
}

func TestReconstruct(t *testing.T) {
	t.Run("empty history", func(t *testing.T) {
		got := Reconstruct(nil)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("latest accepted result wins without replay", func(t *testing.T) {
		h := conversation.History{
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"old","status":"new"}]}`),
			{Role: conversation.RoleUser, Parts: []conversation.Part{{Kind: conversation.PartText, Text: "go on"}}},
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"new","status":"in-progress"}]}`),
		}
		assert.Equal(t, []Task{{"new", StatusInProgress}}, Reconstruct(h))
	})

	t.Run("plan approval result is a baseline", func(t *testing.T) {
		h := conversation.History{
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"draft","status":"new"}]}`),
			resultTurn(ToolAskForPlanApproval, `{"approved":true,"todos":[{"text":"edited by user","status":"pending"}]}`),
		}
		assert.Equal(t, []Task{{"edited by user", StatusPending}}, Reconstruct(h))
	})

	t.Run("malformed newest result falls back to older", func(t *testing.T) {
		h := conversation.History{
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"good","status":"pending"}]}`),
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"bad","status":"blocked"}]}`),
			resultTurn(ToolUpdateTodos, `{"items":[]}`),
			resultTurn(ToolUpdateTodos, `"not an object"`),
		}
		assert.Equal(t, []Task{{"good", StatusPending}}, Reconstruct(h))
	})

	t.Run("tasks missing text or status are not a baseline", func(t *testing.T) {
		h := conversation.History{
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"older","status":"pending"}]}`),
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"newer","status":null}]}`),
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":null,"status":"done"}]}`),
			resultTurn(ToolUpdateTodos, `{"todos":["just text"]}`),
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"newer"},{"status":"done"}]}`),
		}
		assert.Equal(t, []Task{{"older", StatusPending}}, Reconstruct(h))
	})

	t.Run("requested but unanswered calls are ignored", func(t *testing.T) {
		h := conversation.History{
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"accepted","status":"pending"}]}`),
			{Role: conversation.RoleAssistant, Parts: []conversation.Part{{
				Kind: conversation.PartToolCall, ToolName: ToolAskForPlanApproval,
				State: conversation.StateRequested, Input: json.RawMessage(`{"explainer":"x"}`),
			}}},
		}
		assert.Equal(t, []Task{{"accepted", StatusPending}}, Reconstruct(h))
	})

	t.Run("unrelated tools are skipped", func(t *testing.T) {
		h := conversation.History{
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"a","status":"done"}]}`),
			resultTurn("propose_email", `{"todos":[{"text":"spoof","status":"new"}]}`),
		}
		assert.Equal(t, []Task{{"a", StatusDone}}, Reconstruct(h))
	})

	t.Run("accepted empty list is a baseline", func(t *testing.T) {
		h := conversation.History{
			resultTurn(ToolUpdateTodos, `{"todos":[{"text":"a","status":"done"}]}`),
			resultTurn(ToolUpdateTodos, `{"todos":[]}`),
		}
		got, found := Latest(h)
		assert.True(t, found)
		assert.Empty(t, got)
	})

	t.Run("latest part within a turn wins", func(t *testing.T) {
		h := conversation.History{{
			Role: conversation.RoleAssistant,
			Parts: []conversation.Part{
				conversation.ToolResultPart("1", ToolUpdateTodos, json.RawMessage(`{"todos":[{"text":"first","status":"new"}]}`)),
				conversation.ToolResultPart("2", ToolUpdateTodos, json.RawMessage(`{"todos":[{"text":"second","status":"new"}]}`)),
			},
		}}
		assert.Equal(t, []Task{{"second", StatusNew}}, Reconstruct(h))
	})
}

func TestReconstructIsIdempotent(t *testing.T) {
	h := conversation.History{
		resultTurn(ToolUpdateTodos, `{"todos":[{"text":"a","status":"new"},{"text":"b","status":"done"}]}`),
	}
	first := Reconstruct(h)
	first[0].Text = "mutated by caller"
	second := Reconstruct(h)
	assert.Equal(t, []Task{{"a", StatusNew}, {"b", StatusDone}}, second)
}
