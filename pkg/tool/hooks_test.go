package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/excella/pkg/config"
	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

func TestHooksRunWildcardsFirstAndUnwindAfterHooks(t *testing.T) {
	var trace []string
	h := &HookRegistry{}
	h.Before("add_note", func(*ExecutionContext) *builtin.Result { trace = append(trace, "before:own"); return nil })
	h.Before("*", func(*ExecutionContext) *builtin.Result { trace = append(trace, "before:all"); return nil })
	h.Before("read_range", func(*ExecutionContext) *builtin.Result { trace = append(trace, "before:other"); return nil })
	h.After("", func(_ *ExecutionContext, res *builtin.Result, err error) (*builtin.Result, error) {
		trace = append(trace, "after:all")
		return res, err
	})
	h.After("add_note", func(_ *ExecutionContext, res *builtin.Result, err error) (*builtin.Result, error) {
		trace = append(trace, "after:own")
		return res, err
	})

	_, err := Hooks(h)(func(call *ExecutionContext) (*builtin.Result, error) {
		trace = append(trace, "tool")
		return ok(call)
	})(&ExecutionContext{ToolName: "add_note"})
	require.NoError(t, err)
	assert.Equal(t, []string{"before:all", "before:own", "tool", "after:own", "after:all"}, trace)
}

func TestHookRemoval(t *testing.T) {
	h := &HookRegistry{}
	calls := 0
	remove := h.Before("read_range", func(*ExecutionContext) *builtin.Result { calls++; return nil })
	exec := Hooks(h)(ok)

	_, _ = exec(&ExecutionContext{ToolName: "read_range"})
	remove()
	_, _ = exec(&ExecutionContext{ToolName: "read_range"})
	assert.Equal(t, 1, calls)
}

func TestBeforeHookRewritesParams(t *testing.T) {
	h := &HookRegistry{}
	h.Before("read_range", func(call *ExecutionContext) *builtin.Result {
		call.Params["range"] = "A1:B2"
		return nil
	})

	var seen any
	_, err := Hooks(h)(func(call *ExecutionContext) (*builtin.Result, error) {
		seen = call.Params["range"]
		return ok(call)
	})(&ExecutionContext{ToolName: "read_range", Params: map[string]any{"range": "A1"}})
	require.NoError(t, err)
	assert.Equal(t, "A1:B2", seen)
}

func TestBeforeHookRefusal(t *testing.T) {
	h := &HookRegistry{}
	h.Before("*", func(*ExecutionContext) *builtin.Result { return Refuse("workbook locked") })

	res, err := Hooks(h)(func(*ExecutionContext) (*builtin.Result, error) {
		t.Fatal("tool must not run")
		return nil, nil
	})(&ExecutionContext{ToolName: "apply_plan"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "workbook locked", res.Error)
	assert.Equal(t, "APPROVAL_DENIED", res.Code)
}

func TestAfterHookReplacesResult(t *testing.T) {
	h := &HookRegistry{}
	h.After("*", func(_ *ExecutionContext, res *builtin.Result, err error) (*builtin.Result, error) {
		res.DisplayData = map[string]any{"seen": true}
		return res, err
	})
	res, err := Hooks(h)(ok)(&ExecutionContext{ToolName: "add_note"})
	require.NoError(t, err)
	assert.Equal(t, true, res.DisplayData["seen"])
}

func TestDisabledToolsAreRefused(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Approval.Mode = "ask"
	cfg.Tools.Disabled = []string{"read_range"}
	r := workbookRegistry(approveAll(), WithConfig(cfg))

	res, err := r.Call(context.Background(), conversation.New("s1"), "", "read_range", map[string]any{"range": "A1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disabled")

	res, err = r.Call(context.Background(), conversation.New("s1"), "", "get_workbook_snapshot", map[string]any{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}
