package tool

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/email"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/memory"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/storage"
	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// ToolCallIDParam carries a caller-chosen call ID through the params map.
// It is stripped before the tool sees its params.
const ToolCallIDParam = "__excella_tool_call_id"

// Registry holds a session's tools and runs every call through the fixed
// chain (telemetry, panic recovery, audit, hooks, approval gate) followed by
// any middlewares added with Use or WithLimits.
type Registry struct {
	mode      approval.Mode
	hub       *telemetry.Hub
	logger    *logging.Logger
	store     *storage.Store
	sessionID string
	hooks     *HookRegistry

	mu    sync.RWMutex
	tools map[string]Tool
	extra []Middleware
	exec  Executor
}

// Deps are the collaborators of the builtin tools. A tool whose
// collaborator is missing is still registered and fails with a
// configuration error when called.
type Deps struct {
	Snapshots    builtin.SnapshotProvider
	Reviewer     approval.Reviewer
	Validator    *plan.Validator
	Engine       *plan.Engine
	Sender       *email.Sender
	Memory       *memory.Updater
	MemoryRepo   memory.Repository
	OwnerID      string
	WorkbookPath string
}

func builtinTools(d Deps) []Tool {
	return []Tool{
		&builtin.SnapshotTool{Snapshots: d.Snapshots},
		&builtin.ReadRangeTool{Path: d.WorkbookPath},
		&builtin.UpdateTodosTool{},
		&builtin.AskForPlanApprovalTool{Reviewer: d.Reviewer},
		&builtin.ProposePlanTool{},
		&builtin.ValidatePlanTool{Snapshots: d.Snapshots, Validator: d.Validator},
		&builtin.ExecutePlanTool{Mode: plan.ModeDryRun, Engine: d.Engine, Snapshots: d.Snapshots},
		&builtin.ExecutePlanTool{Mode: plan.ModeApply, Engine: d.Engine, Snapshots: d.Snapshots},
		&builtin.ProposeEmailTool{Reviewer: d.Reviewer},
		&builtin.SendEmailTool{Sender: d.Sender},
		&builtin.AddNoteTool{Updater: d.Memory, Repo: d.MemoryRepo, OwnerID: d.OwnerID},
	}
}

type registryOptions struct {
	deps        *Deps
	keep        func(Tool) bool
	mode        approval.Mode
	hub         *telemetry.Hub
	logger      *logging.Logger
	store       *storage.Store
	sessionID   string
	middlewares []Middleware
	disabled    []string
}

type RegistryOption func(*registryOptions)

// WithBuiltins registers the workbook tools backed by deps.
func WithBuiltins(deps Deps) RegistryOption {
	return func(o *registryOptions) { o.deps = &deps }
}

// WithBuiltinFilter registers only the builtins keep accepts.
func WithBuiltinFilter(keep func(Tool) bool) RegistryOption {
	return func(o *registryOptions) { o.keep = keep }
}

func WithApprovalMode(m approval.Mode) RegistryOption {
	return func(o *registryOptions) { o.mode = m }
}

// WithHub publishes tool started/finished events on h.
func WithHub(h *telemetry.Hub) RegistryOption {
	return func(o *registryOptions) { o.hub = h }
}

func WithLogger(l *logging.Logger) RegistryOption {
	return func(o *registryOptions) { o.logger = l }
}

// WithStore persists the turns Call records and one audit row per call.
func WithStore(s *storage.Store) RegistryOption {
	return func(o *registryOptions) { o.store = s }
}

// WithSession is the session used when a call does not name one.
func WithSession(id string) RegistryOption {
	return func(o *registryOptions) { o.sessionID = id }
}

// NewRegistry builds a registry. It starts empty unless WithBuiltins is
// given; the approval mode defaults to ask.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{mode: approval.ModeAsk}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Registry{
		mode:      o.mode,
		hub:       o.hub,
		logger:    o.logger,
		store:     o.store,
		sessionID: o.sessionID,
		hooks:     &HookRegistry{},
		tools:     make(map[string]Tool),
		extra:     o.middlewares,
	}
	if o.deps != nil {
		for _, t := range builtinTools(*o.deps) {
			if o.keep == nil || o.keep(t) {
				r.tools[t.Name()] = t
			}
		}
	}
	disableTools(r.hooks, o.disabled)
	r.build()
	return r
}

// Mode is the approval mode the gate enforces.
func (r *Registry) Mode() approval.Mode { return r.mode }

// Session is the registry's default session ID.
func (r *Registry) Session() string { return r.sessionID }

// Hooks returns the hook registry consulted on every call.
func (r *Registry) Hooks() *HookRegistry { return r.hooks }

// Register adds t, replacing a tool of the same name.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools ordered by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	tools := slices.Collect(maps.Values(r.tools))
	r.mu.RUnlock()
	slices.SortFunc(tools, func(a, b Tool) int { return cmp.Compare(a.Name(), b.Name()) })
	return tools
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Functions describes the tools in OpenAI function-calling form, restricted
// to names when any are given.
func (r *Registry) Functions(names ...string) []map[string]any {
	var out []map[string]any
	for _, t := range r.List() {
		if len(names) == 0 || slices.Contains(names, t.Name()) {
			out = append(out, functionSchema(t))
		}
	}
	return out
}

// Use appends mw to the chain. It runs inside the approval gate, so calls
// the gate refuses never reach it.
func (r *Registry) Use(mw Middleware) {
	if mw == nil {
		return
	}
	r.mu.Lock()
	r.extra = append(r.extra, mw)
	r.mu.Unlock()
	r.build()
}

func (r *Registry) build() {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := append([]Middleware{
		r.telemetryMiddleware(),
		PanicRecovery(r.logger),
		r.auditMiddleware(),
		Hooks(r.hooks),
		r.approvalMiddleware(),
	}, r.extra...)
	r.exec = Chain(chain...)(r.invoke)
}

// Execute runs a tool against h without recording anything.
func (r *Registry) Execute(ctx context.Context, h conversation.History, name string, params map[string]any) (*builtin.Result, error) {
	return r.run(ctx, r.sessionID, h, name, params)
}

func (r *Registry) run(ctx context.Context, sessionID string, h conversation.History, name string, params map[string]any) (*builtin.Result, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "tool name cannot be empty")
	}
	t, ok := r.Get(name)
	if !ok {
		return nil, errors.New(errors.ErrCodeToolNotFound, "tool not found: "+name).
			WithUserMessage(fmt.Sprintf("Unknown tool %q.", name))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.RLock()
	exec := r.exec
	r.mu.RUnlock()
	return exec(&ExecutionContext{
		Context:   ctx,
		ToolName:  name,
		Tool:      t,
		SessionID: sessionID,
		CallID:    callID(params),
		Params:    params,
		History:   h,
		StartTime: time.Now(),
		Attempt:   1,
		Metadata:  map[string]any{},
	})
}

// Call runs a tool inside conv, recording the call turn and then either its
// output or its failure. Expected tool failures come back as unsuccessful
// results; only faults are returned as errors.
func (r *Registry) Call(ctx context.Context, conv *conversation.Conversation, id, name string, params map[string]any) (*builtin.Result, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation required")
	}
	if strings.TrimSpace(id) == "" {
		id = ulid.Make().String()
	}
	if params == nil {
		params = map[string]any{}
	}
	turn, err := conv.AddToolCall(id, name, params)
	if err != nil {
		return nil, err
	}
	r.persist(conv, turn)

	withID := maps.Clone(params)
	withID[ToolCallIDParam] = id
	sessionID := cmp.Or(conv.SessionID, r.sessionID)

	res, err := r.run(ctx, sessionID, conv.History(), name, withID)
	switch {
	case err != nil:
		r.persist(conv, conv.AddToolError(id, name, errors.UserFacing(err)))
		return res, err
	case res == nil:
		res = &builtin.Result{Error: "tool returned no result"}
		fallthrough
	case !res.Success:
		r.persist(conv, conv.AddToolError(id, name, res.Error))
		return res, nil
	}
	if turn, err = conv.AddToolResult(id, name, res.Data); err != nil {
		return res, err
	}
	r.persist(conv, turn)
	return res, nil
}

func (r *Registry) persist(conv *conversation.Conversation, turn conversation.Turn) {
	if r.store == nil {
		return
	}
	if err := conv.SaveTurn(r.store, turn); err != nil {
		r.logger.Warn(logging.CategorySession, "turn_save_failed", err.Error(), map[string]any{
			"session": conv.SessionID,
			"turn":    turn.ID,
		})
	}
}

// invoke is the innermost executor: it strips the call ID param and hands
// the tool a context carrying the history and session.
func (r *Registry) invoke(c *ExecutionContext) (*builtin.Result, error) {
	if c == nil || c.Tool == nil {
		return nil, fmt.Errorf("execution context has no tool")
	}
	base := c.ctx()
	if err := base.Err(); err != nil {
		return nil, err
	}
	params := maps.Clone(c.Params)
	delete(params, ToolCallIDParam)
	if params == nil {
		params = map[string]any{}
	}
	if ct, ok := c.Tool.(ContextTool); ok {
		return ct.ExecuteWithContext(builtin.WithSessionID(builtin.WithHistory(base, c.History), c.SessionID), params)
	}
	return c.Tool.Execute(params)
}

func callID(params map[string]any) string {
	if raw, ok := params[ToolCallIDParam]; ok {
		if id := strings.TrimSpace(fmt.Sprint(raw)); id != "" {
			return id
		}
	}
	return ulid.Make().String()
}
