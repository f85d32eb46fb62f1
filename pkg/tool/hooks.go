package tool

import (
	"strings"
	"sync"

	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// BeforeHook inspects a call before the tool runs. It may rewrite
// call.Params; returning a result ends the call with that result.
type BeforeHook func(call *ExecutionContext) *builtin.Result

// AfterHook sees the outcome of a call and may replace it.
type AfterHook func(call *ExecutionContext, res *builtin.Result, err error) (*builtin.Result, error)

type hook[F any] struct {
	tool string
	fn   F
}

// HookRegistry keeps hooks per tool name; "*" (or "") matches every tool.
type HookRegistry struct {
	mu     sync.RWMutex
	seq    int
	before map[int]hook[BeforeHook]
	after  map[int]hook[AfterHook]
}

// Before registers fn and returns a function that removes it again.
func (h *HookRegistry) Before(toolName string, fn BeforeHook) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.before == nil {
		h.before = make(map[int]hook[BeforeHook])
	}
	h.seq++
	id := h.seq
	h.before[id] = hook[BeforeHook]{tool: hookKey(toolName), fn: fn}
	return func() { h.mu.Lock(); delete(h.before, id); h.mu.Unlock() }
}

// After registers fn and returns a function that removes it again.
func (h *HookRegistry) After(toolName string, fn AfterHook) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.after == nil {
		h.after = make(map[int]hook[AfterHook])
	}
	h.seq++
	id := h.seq
	h.after[id] = hook[AfterHook]{tool: hookKey(toolName), fn: fn}
	return func() { h.mu.Lock(); delete(h.after, id); h.mu.Unlock() }
}

// matching returns the hooks for toolName: wildcard hooks first, then the
// tool's own, each group in registration order.
func matching[F any](hooks map[int]hook[F], seq int, toolName string) []F {
	var wild, own []F
	for id := 1; id <= seq; id++ {
		e, ok := hooks[id]
		switch {
		case !ok:
		case e.tool == "*":
			wild = append(wild, e.fn)
		case e.tool == toolName:
			own = append(own, e.fn)
		}
	}
	return append(wild, own...)
}

func (h *HookRegistry) hooksFor(toolName string) ([]BeforeHook, []AfterHook) {
	if h == nil {
		return nil, nil
	}
	name := strings.TrimSpace(toolName)
	h.mu.RLock()
	defer h.mu.RUnlock()
	return matching(h.before, h.seq, name), matching(h.after, h.seq, name)
}

// Hooks runs the registry's hooks around each call. After-hooks unwind in
// reverse so the first registered one sees the final outcome.
func Hooks(registry *HookRegistry) Middleware {
	return func(next Executor) Executor {
		return func(call *ExecutionContext) (*builtin.Result, error) {
			if call == nil {
				return next(call)
			}
			before, after := registry.hooksFor(call.ToolName)
			for _, fn := range before {
				if res := fn(call); res != nil {
					return res, nil
				}
			}
			res, err := next(call)
			for i := len(after) - 1; i >= 0; i-- {
				res, err = after[i](call, res, err)
			}
			return res, err
		}
	}
}

// Refuse builds the result a BeforeHook returns to stop a call.
func Refuse(reason string) *builtin.Result {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "call refused"
	}
	return builtin.Fail(errors.New(errors.ErrCodeApprovalDenied, reason).WithUserMessage(reason))
}

// disableTools refuses every call to the named tools.
func disableTools(h *HookRegistry, names []string) {
	off := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			off[n] = true
		}
	}
	if len(off) == 0 {
		return
	}
	h.Before("*", func(call *ExecutionContext) *builtin.Result {
		if off[call.ToolName] {
			return Refuse(call.ToolName + " is disabled by configuration")
		}
		return nil
	})
}

func hookKey(toolName string) string {
	if name := strings.TrimSpace(toolName); name != "" {
		return name
	}
	return "*"
}
