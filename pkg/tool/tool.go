// Package tool is the agent-facing tool surface: the Tool contract, the
// registry that executes tools through a middleware chain, and the
// middlewares themselves (panic recovery, approval gate, telemetry, audit).
package tool

import (
	"context"
	"time"

	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// Tool is one callable exposed to the model.
//
//go:generate mockgen -package=tool -destination=mock_tool_test.go github.com/odvcencio/excella/pkg/tool Tool
type Tool interface {
	Name() string
	Description() string
	Parameters() builtin.ParameterSchema
	Execute(params map[string]any) (*builtin.Result, error)
}

// ContextTool is implemented by tools that need the call context: the
// conversation history, the session, or cancellation.
type ContextTool interface {
	ExecuteWithContext(ctx context.Context, params map[string]any) (*builtin.Result, error)
}

// ExecutionContext is the mutable state of one call as it moves through
// the middleware chain.
type ExecutionContext struct {
	Context   context.Context
	ToolName  string
	Tool      Tool
	SessionID string
	CallID    string
	Params    map[string]any
	// History is the conversation the call was made in. The approval gate
	// reads it; tools see it through builtin.HistoryFrom.
	History   conversation.History
	StartTime time.Time
	Attempt   int
	Metadata  map[string]any
}

func (c *ExecutionContext) ctx() context.Context {
	if c == nil || c.Context == nil {
		return context.Background()
	}
	return c.Context
}

func (c *ExecutionContext) setMeta(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}

// Executor runs a call.
type Executor func(call *ExecutionContext) (*builtin.Result, error)

// Middleware decorates an Executor.
type Middleware func(next Executor) Executor

// Chain nests middlewares so the first one sees the call first.
func Chain(middlewares ...Middleware) Middleware {
	return func(exec Executor) Executor {
		for i := range middlewares {
			exec = middlewares[len(middlewares)-1-i](exec)
		}
		return exec
	}
}

// functionSchema describes t in the function-calling format chat
// completion APIs accept.
func functionSchema(t Tool) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters(),
		},
	}
}
