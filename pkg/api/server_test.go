package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/config"
	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/memory"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/storage"
	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/tool"
	"github.com/odvcencio/excella/pkg/tool/builtin"
	"github.com/odvcencio/excella/pkg/workbook"
)

const testToken = "0123456789abcdef0123456789abcdef"

func snapshotProvider(id string) builtin.SnapshotProvider {
	return builtin.SnapshotFunc(func(context.Context) (workbook.Snapshot, error) {
		return workbook.Snapshot{
			Meta:   workbook.Meta{SnapshotID: id, WorkbookID: "wb-1"},
			Memory: memory.Empty(),
			Safety: workbook.Safety{Limits: workbook.DefaultLimits()},
		}, nil
	})
}

func testPlan(snapshotID string) map[string]any {
	return map[string]any{
		"snapshotId": snapshotID,
		"steps": []any{map[string]any{
			"id":              "s1",
			"kind":            "write-values",
			"description":     "write totals",
			"targetWorksheet": "Data",
			"targetRange":     "A1:B2",
		}},
	}
}

type testEnv struct {
	server *Server
	store  *storage.Store
	hub    *telemetry.Hub
}

func newTestEnv(t *testing.T, withStore bool, mutate ...func(*ServerConfig)) testEnv {
	t.Helper()
	var store *storage.Store
	if withStore {
		var err error
		store, err = storage.New(filepath.Join(t.TempDir(), "excella.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
	}

	snapshots := snapshotProvider("snap-1")
	engine := plan.NewEngine()
	opts := []tool.RegistryOption{tool.WithBuiltins(tool.Deps{
		Snapshots: snapshots,
		Reviewer:  approval.StaticReviewer{Outcome: approval.Outcome{Approved: true}},
		Engine:    engine,
	})}
	if store != nil {
		opts = append(opts, tool.WithStore(store))
	}
	hub := telemetry.NewHub()
	t.Cleanup(hub.Close)

	cfg := ServerConfig{
		Registry:  tool.NewRegistry(opts...),
		Engine:    engine,
		Snapshots: snapshots,
		Store:     store,
		Hub:       hub,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return testEnv{server: NewServer(cfg), store: store, hub: hub}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	env := newTestEnv(t, false, func(c *ServerConfig) {
		c.Server = config.ServerConfig{AuthToken: testToken}
	})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzWithoutEngine(t *testing.T) {
	env := newTestEnv(t, false, func(c *ServerConfig) { c.Engine = nil })
	rec := env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t, false, func(c *ServerConfig) {
		c.Server = config.ServerConfig{AuthToken: testToken}
	})

	rec := env.do(t, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "unauthorized", body.Message)
	assert.NotEmpty(t, body.Remediation)

	req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	ok := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metrics := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(metrics, req)
	assert.Equal(t, http.StatusUnauthorized, metrics.Code)
}

func TestListTools(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Tools []map[string]any `json:"tools"`
	}](t, rec)
	assert.Len(t, body.Tools, 11)
}

func TestExecutePlanRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t, false)

	for name, body := range map[string]any{
		"not json":      "{",
		"missing plan":  map[string]any{"mode": "dry-run"},
		"no steps":      map[string]any{"plan": map[string]any{"snapshotId": "snap-1", "steps": []any{}}},
		"no snapshotId": map[string]any{"plan": testPlan("")},
		"bad mode":      map[string]any{"mode": "yolo", "plan": testPlan("snap-1")},
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/plan/execute", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeBody[errorResponse](t, rec)
			assert.Equal(t, invalidPlanMessage, resp.Message)
			assert.Equal(t, "INVALID_INPUT", resp.Code)
		})
	}
}

func TestExecutePlanFetchesSnapshotWhenMissing(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{
		"mode": "dry-run",
		"plan": testPlan("snap-1"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[plan.Result](t, rec)
	assert.Equal(t, plan.ModeDryRun, res.Mode)
	assert.Len(t, res.Actions, 1)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "Dry-run execution recorded 1 planned action(s) for snapshot snap-1.", res.Summary)
}

func TestExecutePlanStaleSnapshotIsReportedInResult(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{
		"mode": "dry-run",
		"plan": testPlan("snap-old"),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[plan.Result](t, rec)
	assert.Empty(t, res.Actions)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "Plan validation failed; no actions were executed.", res.Summary)
}

func TestExecutePlanUsesSuppliedSnapshot(t *testing.T) {
	env := newTestEnv(t, false, func(c *ServerConfig) { c.Snapshots = nil })
	snap := workbook.Snapshot{
		Meta:   workbook.Meta{SnapshotID: "given"},
		Memory: memory.Empty(),
		Safety: workbook.Safety{Limits: workbook.DefaultLimits()},
	}
	rec := env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{
		"plan":              testPlan("given"),
		"snapshot":          snap,
		"requireValidation": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[plan.Result](t, rec)
	assert.Equal(t, plan.ModeDryRun, res.Mode)
	assert.Len(t, res.Actions, 1)

	rec = env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{"plan": testPlan("given")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// applyEnv serves a workbook whose snapshot flags come from readOnly and
// counts executor calls.
func applyEnv(t *testing.T, mode approval.Mode, readOnly bool) (testEnv, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	snapshots := builtin.SnapshotFunc(func(context.Context) (workbook.Snapshot, error) {
		return workbook.Snapshot{
			Meta:   workbook.Meta{SnapshotID: "snap-1", WorkbookID: "wb-1"},
			Memory: memory.Empty(),
			Safety: workbook.Safety{Limits: workbook.DefaultLimits(), Flags: workbook.Flags{ReadOnlyMode: readOnly}},
		}, nil
	})
	engine := plan.NewEngine(plan.WithExecutor(plan.ExecutorFunc(
		func(_ context.Context, p plan.Plan, _ workbook.Snapshot) ([]memory.ActionEntry, error) {
			calls.Add(1)
			return []memory.ActionEntry{{Kind: memory.KindWriteValues, Status: memory.StatusSuccess}}, nil
		})))
	env := newTestEnv(t, false, func(c *ServerConfig) {
		c.Engine = engine
		c.Snapshots = snapshots
		c.Registry = tool.NewRegistry(tool.WithApprovalMode(mode), tool.WithBuiltins(tool.Deps{
			Snapshots: snapshots,
			Reviewer:  approval.StaticReviewer{Outcome: approval.Outcome{Approved: true}},
			Engine:    engine,
		}))
	})
	return env, &calls
}

func TestExecutePlanApplyRequiresApprovedSession(t *testing.T) {
	env, calls := applyEnv(t, approval.ModeAsk, false)

	rec := env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{
		"mode": "apply",
		"plan": testPlan("snap-1"),
	})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, "APPROVAL_REQUIRED", decodeBody[errorResponse](t, rec).Code)

	callTool(t, env, "s1", "propose_plan", testPlan("snap-1"))
	rec = env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{
		"mode":      "apply",
		"plan":      testPlan("snap-1"),
		"sessionId": "s1",
	})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, "APPROVAL_REQUIRED", decodeBody[errorResponse](t, rec).Code)
	assert.Zero(t, calls.Load())

	res := callTool(t, env, "s1", "ask_for_plan_approval", map[string]any{"explainer": "fill totals"})
	require.True(t, res.Result.Success, res.Result.Error)

	other := testPlan("snap-1")
	other["steps"].([]any)[0].(map[string]any)["kind"] = "delete-sheet"
	rec = env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{
		"mode":      "apply",
		"plan":      other,
		"sessionId": "s1",
	})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Zero(t, calls.Load(), "an approval does not cover a different plan")

	rec = env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{
		"mode":      "apply",
		"plan":      testPlan("snap-1"),
		"sessionId": "s1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[plan.Result](t, rec)
	assert.Equal(t, plan.ModeApply, out.Mode)
	assert.Empty(t, out.Errors)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecutePlanApplyRejectsSuppliedSnapshot(t *testing.T) {
	env, calls := applyEnv(t, approval.ModeAsk, true)
	callTool(t, env, "s1", "propose_plan", testPlan("snap-1"))
	callTool(t, env, "s1", "ask_for_plan_approval", map[string]any{"explainer": "fill totals"})

	writable := workbook.Snapshot{
		Meta:   workbook.Meta{SnapshotID: "snap-1", WorkbookID: "wb-1"},
		Memory: memory.Empty(),
		Safety: workbook.Safety{Limits: workbook.DefaultLimits()},
	}
	rec := env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{
		"mode":      "apply",
		"plan":      testPlan("snap-1"),
		"snapshot":  writable,
		"sessionId": "s1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Zero(t, calls.Load())

	// Without the override the workbook's read-only flag holds.
	rec = env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{
		"mode":      "apply",
		"plan":      testPlan("snap-1"),
		"sessionId": "s1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[plan.Result](t, rec)
	assert.Empty(t, out.Actions)
	assert.NotEmpty(t, out.Errors)
	assert.Zero(t, calls.Load())
}

func TestExecutePlanApplyDeniedInSafeMode(t *testing.T) {
	env, calls := applyEnv(t, approval.ModeSafe, false)
	callTool(t, env, "s1", "propose_plan", testPlan("snap-1"))
	callTool(t, env, "s1", "ask_for_plan_approval", map[string]any{"explainer": "fill totals"})

	rec := env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{
		"mode":      "apply",
		"plan":      testPlan("snap-1"),
		"sessionId": "s1",
	})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, "APPROVAL_DENIED", decodeBody[errorResponse](t, rec).Code)
	assert.Zero(t, calls.Load())

	rec = env.do(t, http.MethodPost, "/api/plan/execute", map[string]any{"mode": "dry-run", "plan": testPlan("snap-1")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Zero(t, calls.Load())
}

func TestValidatePlan(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/plan/validate", map[string]any{"plan": testPlan("snap-1")})
	require.Equal(t, http.StatusOK, rec.Code)
	ok := decodeBody[validateResponse](t, rec)
	assert.True(t, ok.IsValid)
	assert.Equal(t, "snap-1", ok.SnapshotID)

	rec = env.do(t, http.MethodPost, "/api/plan/validate", map[string]any{"plan": testPlan("snap-0")})
	require.Equal(t, http.StatusOK, rec.Code)
	stale := decodeBody[validateResponse](t, rec)
	assert.False(t, stale.IsValid)
	assert.Contains(t, stale.Issues, plan.IssueStaleSnapshot)
	assert.Equal(t, "snap-0", stale.PlanSnapshotID)
}

func TestSnapshotRoute(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/api/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[workbook.Snapshot](t, rec)
	assert.Equal(t, "snap-1", snap.ID())
}

func TestReconstructTodosFromSuppliedHistory(t *testing.T) {
	env := newTestEnv(t, false)
	conv := conversation.New("s1")
	_, err := conv.AddToolResult("c1", "update_todos", map[string]any{
		"todos": []map[string]string{{"text": "old", "status": "done"}},
	})
	require.NoError(t, err)
	_, err = conv.AddToolResult("c2", "update_todos", map[string]any{
		"todos": []map[string]string{
			{"text": "sum column", "status": "in-progress"},
			{"text": "chart", "status": "new"},
		},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/todos/reconstruct", map[string]any{"history": conv.History()})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[todosResponse](t, rec)
	require.Len(t, body.Todos, 2)
	assert.Equal(t, "sum column", body.Todos[0].Text)
	assert.Equal(t, 1, body.Counts["new"])

	rec = env.do(t, http.MethodPost, "/api/todos/reconstruct", map[string]any{"history": []any{}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[todosResponse](t, rec).Todos)
}

func callTool(t *testing.T, env testEnv, session, name string, params map[string]any) toolCallResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/sessions/"+session+"/tools/"+name, map[string]any{"params": params})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[toolCallResponse](t, rec)
}

func TestSessionToolCallsGateExecution(t *testing.T) {
	env := newTestEnv(t, true)

	res := callTool(t, env, "s1", "propose_plan", testPlan("snap-1"))
	require.True(t, res.Result.Success, res.Result.Error)
	assert.NotEmpty(t, res.CallID)

	res = callTool(t, env, "s1", "execute_plan", nil)
	assert.False(t, res.Result.Success)
	assert.Equal(t, "APPROVAL_REQUIRED", res.Result.Code)

	res = callTool(t, env, "s1", "ask_for_plan_approval", map[string]any{"explainer": "fill totals"})
	require.True(t, res.Result.Success, res.Result.Error)

	res = callTool(t, env, "s1", "execute_plan", nil)
	require.True(t, res.Result.Success, res.Result.Error)
	assert.Contains(t, res.Result.Data["summary"], "Dry-run execution recorded 1 planned action(s)")

	// Another session has no approval.
	res = callTool(t, env, "s2", "execute_plan", map[string]any{"plan": testPlan("snap-1")})
	assert.False(t, res.Result.Success)

	rec := env.do(t, http.MethodGet, "/api/sessions/s1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[struct {
		Turns conversation.History `json:"turns"`
	}](t, rec)
	assert.Len(t, history.Turns, 8)

	rec = env.do(t, http.MethodGet, "/api/sessions/s1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decodeBody[struct {
		Entries []storage.ToolAuditEntry `json:"entries"`
	}](t, rec)
	assert.Len(t, audit.Entries, 4)

	rec = env.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decodeBody[struct {
		Sessions []storage.SessionSummary `json:"sessions"`
	}](t, rec)
	assert.Len(t, sessions.Sessions, 2)
}

func TestSessionReloadsFromStore(t *testing.T) {
	env := newTestEnv(t, true)
	callTool(t, env, "s1", "propose_plan", testPlan("snap-1"))

	// A second server over the same store sees the recorded turns.
	other := newTestEnv(t, false, func(c *ServerConfig) { c.Store = env.store })
	rec := other.do(t, http.MethodGet, "/api/sessions/s1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[struct {
		Turns conversation.History `json:"turns"`
	}](t, rec)
	assert.Len(t, history.Turns, 2)
}

func TestHistoryMarkdownExport(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/sessions/s1/messages", map[string]any{"role": "user", "content": "sum column B"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/s1/history?format=markdown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/markdown"))
	assert.Contains(t, rec.Body.String(), "sum column B")

	rec = env.do(t, http.MethodPost, "/api/sessions/s1/messages", map[string]any{"role": "system", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionTodos(t *testing.T) {
	env := newTestEnv(t, false)
	res := callTool(t, env, "s1", "update_todos", map[string]any{"new": []string{"a", "b"}})
	require.True(t, res.Result.Success, res.Result.Error)

	rec := env.do(t, http.MethodGet, "/api/sessions/s1/todos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[todosResponse](t, rec)
	require.Len(t, body.Todos, 2)
	assert.Equal(t, "a", body.Todos[0].Text)
}

func TestCallUnknownTool(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/sessions/s1/tools/nope", map[string]any{})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TOOL_NOT_FOUND", decodeBody[errorResponse](t, rec).Code)
}

func TestSendEmailUnknownHandle(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/sessions/s1/email/send", map[string]any{"emailHandle": "missing"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[toolCallResponse](t, rec)
	assert.False(t, res.Result.Success)
}

func TestApprovalDecisions(t *testing.T) {
	env := newTestEnv(t, true)
	require.NoError(t, env.store.CreatePendingApproval(&storage.PendingApproval{
		ID:        "ap-1",
		SessionID: "s1",
		ToolName:  "ask_for_plan_approval",
		ToolInput: "{}",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))

	rec := env.do(t, http.MethodGet, "/api/approvals?session=s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Approvals []storage.PendingApproval `json:"approvals"`
	}](t, rec)
	require.Len(t, list.Approvals, 1)

	rec = env.do(t, http.MethodPost, "/api/approvals/ap-1/decision", map[string]any{"approved": true, "decidedBy": "ana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decided := decodeBody[storage.PendingApproval](t, rec)
	assert.Equal(t, storage.ApprovalApproved, decided.Status)
	assert.Equal(t, "ana", decided.DecidedBy)

	rec = env.do(t, http.MethodPost, "/api/approvals/ap-1/decision", map[string]any{"approved": false})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/approvals/nope/decision", map[string]any{"approved": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/approvals/ap-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storage.ApprovalApproved, decodeBody[storage.PendingApproval](t, rec).Status)
}

func TestApprovalsNeedStore(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/api/approvals", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStoreReviewerDecidedThroughAPI(t *testing.T) {
	env := newTestEnv(t, true)
	reviewer := approval.NewStoreReviewer(env.store, approval.WithPollInterval(10*time.Millisecond))

	done := make(chan approval.Outcome, 1)
	go func() {
		out, err := reviewer.Review(context.Background(), approval.Review{
			ID:        "rv-1",
			Kind:      approval.ReviewPlan,
			SessionID: "s1",
			ToolName:  "ask_for_plan_approval",
			Summary:   "fill totals",
		})
		if err == nil {
			done <- out
		}
		close(done)
	}()

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodPost, "/api/approvals/rv-1/decision", map[string]any{"approved": false, "reason": "wrong sheet"})
		return rec.Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	out, ok := <-done
	require.True(t, ok)
	assert.False(t, out.Approved)
	assert.Equal(t, "wrong sheet", out.Reason)
}

func TestStreamDeliversHubEvents(t *testing.T) {
	env := newTestEnv(t, false)
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream?filter=plan.", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan StreamEvent, 4)
	go func() {
		defer close(events)
		dec := newSSEReader(resp.Body)
		for {
			e, err := dec.next()
			if err != nil {
				return
			}
			events <- e
		}
	}()

	first := <-events
	require.Equal(t, "connected", first.Type)

	env.hub.Publish(telemetry.Event{Type: telemetry.EventToolStarted})
	env.hub.Publish(telemetry.Event{Type: telemetry.EventPlanExecuted, SnapshotID: "snap-1"})

	select {
	case e := <-events:
		assert.Equal(t, string(telemetry.EventPlanExecuted), e.Type)
		assert.Equal(t, "snap-1", e.Data["snapshotId"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{scanner: bufio.NewScanner(r)}
}

func (r *sseReader) next() (StreamEvent, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			return StreamEvent{}, err
		}
		return e, nil
	}
	if err := r.scanner.Err(); err != nil {
		return StreamEvent{}, err
	}
	return StreamEvent{}, io.EOF
}
