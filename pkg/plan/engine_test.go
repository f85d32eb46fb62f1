package plan

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/odvcencio/excella/pkg/memory"
	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/workbook"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func appliedEntries(p Plan) []memory.ActionEntry {
	out := make([]memory.ActionEntry, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, memory.ActionEntry{
			ID:              s.ID + "-applied",
			Timestamp:       fixedNow,
			Description:     s.Description,
			TargetRange:     s.TargetRange,
			TargetWorksheet: s.TargetWorksheet,
			Kind:            s.ActionKind(),
			Status:          memory.StatusSuccess,
		})
	}
	return out
}

func TestEngineDryRunNeverCallsExecutor(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := NewMockActionExecutor(ctrl)
	// No EXPECT: any call fails the test.

	engine := NewEngine(WithExecutor(exec), WithClock(fixedClock))
	res := engine.Execute(context.Background(), Request{
		Plan:              testPlan("snap-1", 3),
		Snapshot:          testSnapshot("snap-1", nil),
		Mode:              ModeDryRun,
		RequireValidation: true,
	})

	require.True(t, res.OK(), "errors: %+v", res.Errors)
	require.Len(t, res.Actions, 3)
	for i, a := range res.Actions {
		assert.Equal(t, fmt.Sprintf("s%d-dry-run", i+1), a.ID)
		assert.Equal(t, memory.StatusSuccess, a.Status)
		assert.Equal(t, memory.KindWriteValues, a.Kind)
	}
	assert.Equal(t, "Dry-run execution recorded 3 planned action(s) for snapshot snap-1.", res.Summary)
	require.NotNil(t, res.Validation)
	assert.True(t, res.Validation.IsValid)
	assert.Equal(t, workbook.RiskLow, res.Risk.Level)
}

func TestEngineDryRunIsTheDefault(t *testing.T) {
	engine := NewEngine(WithClock(fixedClock))
	res := engine.Execute(context.Background(), Request{
		Plan:     testPlan("snap-1", 1),
		Snapshot: testSnapshot("snap-1", nil),
	})
	assert.Equal(t, ModeDryRun, res.Mode)
	assert.Len(t, res.Actions, 1)
}

func TestEngineDryRunRecordsFirstActionOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)

	var saved memory.AgentMemory
	repo.EXPECT().Save(gomock.Any(), "wb-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, m memory.AgentMemory) error {
			saved = m
			return nil
		}).Times(1)

	engine := NewEngine(WithUpdater(memory.NewUpdater(repo)), WithClock(fixedClock))
	res := engine.Execute(context.Background(), Request{
		Plan:     testPlan("snap-1", 4),
		Snapshot: testSnapshot("snap-1", nil),
		Mode:     ModeDryRun,
	})

	require.True(t, res.OK())
	assert.Len(t, res.Actions, 4)
	require.Len(t, res.UpdatedMemory.RecentActions, 1)
	assert.Equal(t, "s1-dry-run", res.UpdatedMemory.RecentActions[0].ID)
	assert.Equal(t, res.UpdatedMemory, saved)
}

func TestEngineApplyWithoutExecutor(t *testing.T) {
	engine := NewEngine(WithClock(fixedClock))
	assert.False(t, engine.HasExecutor())

	snap := testSnapshot("snap-1", nil)
	res := engine.Execute(context.Background(), Request{
		Plan:              testPlan("snap-1", 2),
		Snapshot:          snap,
		Mode:              ModeApply,
		RequireValidation: true,
	})

	assert.Empty(t, res.Actions)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, fmt.Sprintf("executor-missing-%d", fixedNow.UnixMilli()), res.Errors[0].ID)
	assert.Equal(t, "EXECUTOR_MISSING", res.Errors[0].Details)
	assert.Equal(t, "Failed to execute plan because no ActionExecutor was provided.", res.Summary)
	assert.Equal(t, snap.Memory, res.UpdatedMemory)
}

func TestEngineApplySuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := NewMockActionExecutor(ctrl)
	repo := NewMockRepository(ctrl)

	p := testPlan("snap-1", 2)
	exec.EXPECT().Execute(gomock.Any(), p, gomock.Any()).Return(appliedEntries(p), nil)
	repo.EXPECT().Save(gomock.Any(), "wb-1", gomock.Any()).Return(nil)

	engine := NewEngine(WithExecutor(exec), WithUpdater(memory.NewUpdater(repo)), WithClock(fixedClock))
	res := engine.Execute(context.Background(), Request{
		Plan:              p,
		Snapshot:          testSnapshot("snap-1", nil),
		Mode:              ModeApply,
		RequireValidation: true,
	})

	require.True(t, res.OK())
	assert.Len(t, res.Actions, 2)
	assert.Equal(t, "Successfully applied 2 action(s) for snapshot snap-1.", res.Summary)
	require.Len(t, res.UpdatedMemory.RecentActions, 1)
	assert.Equal(t, "s1-applied", res.UpdatedMemory.RecentActions[0].ID)
	assert.Empty(t, res.UpdatedMemory.RecentErrors)
}

func TestEngineApplyPartialFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := NewMockActionExecutor(ctrl)

	p := testPlan("snap-1", 3)
	done := appliedEntries(p)[:1]
	exec.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(done, &StepError{Step: p.Steps[1], Err: stderrors.New("range locked")})

	engine := NewEngine(WithExecutor(exec), WithUpdater(memory.NewUpdater(nil)), WithClock(fixedClock))
	res := engine.Execute(context.Background(), Request{
		Plan:     p,
		Snapshot: testSnapshot("snap-1", nil),
		Mode:     ModeApply,
	})

	require.Len(t, res.Actions, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, memory.KindWriteValues, res.Errors[0].Operation)
	assert.Contains(t, res.Errors[0].Message, "range locked")
	assert.Equal(t, "step s2 on Data!A1:B2", res.Errors[0].Details)
	assert.Equal(t, "Applied plan with 1 action(s) and 1 error(s) for snapshot snap-1.", res.Summary)
	require.Len(t, res.UpdatedMemory.RecentErrors, 1)
	assert.Equal(t, res.Errors[0].ID, res.UpdatedMemory.RecentErrors[0].ID)
}

func TestEngineApplyErrorWithoutActionsLeavesMemory(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := NewMockActionExecutor(ctrl)
	repo := NewMockRepository(ctrl)
	// Save must not be called when no action ran.

	exec.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, stderrors.New("workbook is locked"))

	snap := testSnapshot("snap-1", nil)
	engine := NewEngine(WithExecutor(exec), WithUpdater(memory.NewUpdater(repo)), WithClock(fixedClock))
	res := engine.Execute(context.Background(), Request{Plan: testPlan("snap-1", 1), Snapshot: snap, Mode: ModeApply})

	assert.Empty(t, res.Actions)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, fmt.Sprintf("execution-error-%d", fixedNow.UnixMilli()), res.Errors[0].ID)
	assert.Equal(t, snap.Memory, res.UpdatedMemory)
}

func TestEngineApplyExecutorPanic(t *testing.T) {
	engine := NewEngine(
		WithExecutor(ExecutorFunc(func(context.Context, Plan, workbook.Snapshot) ([]memory.ActionEntry, error) {
			panic("boom")
		})),
		WithClock(fixedClock),
	)

	var res Result
	require.NotPanics(t, func() {
		res = engine.Execute(context.Background(), Request{
			Plan:     testPlan("snap-1", 1),
			Snapshot: testSnapshot("snap-1", nil),
			Mode:     ModeApply,
		})
	})
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "boom")
}

func TestEngineValidationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := NewMockActionExecutor(ctrl)
	repo := NewMockRepository(ctrl)

	tests := []struct {
		name    string
		plan    Plan
		snap    workbook.Snapshot
		message string
	}{
		{
			name:    "stale",
			plan:    testPlan("snap-0", 1),
			snap:    testSnapshot("snap-1", nil),
			message: "Plan validation failed: " + IssueStaleSnapshot,
		},
		{
			name: "high risk",
			plan: testPlan("snap-1", 1),
			snap: testSnapshot("snap-1", &workbook.Risk{
				Level:   workbook.RiskHigh,
				Reasons: []string{workbook.ReasonExceedsWriteLimit},
			}),
			message: "Plan validation failed: Risk level is high: " + workbook.ReasonExceedsWriteLimit,
		},
	}

	engine := NewEngine(WithExecutor(exec), WithUpdater(memory.NewUpdater(repo)), WithClock(fixedClock))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, mode := range []Mode{ModeDryRun, ModeApply} {
				res := engine.Execute(context.Background(), Request{
					Plan:              tt.plan,
					Snapshot:          tt.snap,
					Mode:              mode,
					RequireValidation: true,
				})
				assert.Empty(t, res.Actions)
				require.Len(t, res.Errors, 1)
				assert.Equal(t, fmt.Sprintf("validation-%d", fixedNow.UnixMilli()), res.Errors[0].ID)
				assert.Equal(t, tt.message, res.Errors[0].Message)
				assert.NotEmpty(t, res.Errors[0].Details)
				assert.Equal(t, "Plan validation failed; no actions were executed.", res.Summary)
				assert.Equal(t, tt.snap.Memory, res.UpdatedMemory)
				require.NotNil(t, res.Validation)
				assert.False(t, res.Validation.IsValid)
			}
		})
	}
}

func TestEngineSkipsValidationWhenNotRequired(t *testing.T) {
	risk := &workbook.Risk{Level: workbook.RiskHigh, Reasons: []string{"big"}, EstimatedCellsAffected: 99999}
	engine := NewEngine(WithClock(fixedClock))
	res := engine.Execute(context.Background(), Request{
		Plan:     testPlan("snap-old", 1),
		Snapshot: testSnapshot("snap-1", risk),
		Mode:     ModeDryRun,
	})
	assert.True(t, res.OK())
	assert.Nil(t, res.Validation)
	require.NotNil(t, res.Risk)
	assert.Equal(t, workbook.RiskHigh, res.Risk.Level)
	assert.Equal(t, 99999, res.EstimatedCellsAffected)
}

func TestEngineMemoryIsBounded(t *testing.T) {
	snap := testSnapshot("snap-1", nil)
	for i := 0; i < 25; i++ {
		snap.Memory.RecentActions = append(snap.Memory.RecentActions, memory.ActionEntry{ID: fmt.Sprintf("old-%d", i)})
	}

	engine := NewEngine(WithUpdater(memory.NewUpdater(memory.NewInMemoryRepository())), WithClock(fixedClock))
	res := engine.Execute(context.Background(), Request{Plan: testPlan("snap-1", 1), Snapshot: snap})

	require.Len(t, res.UpdatedMemory.RecentActions, memory.DefaultCap)
	assert.Equal(t, "s1-dry-run", res.UpdatedMemory.RecentActions[0].ID)
	assert.Equal(t, "old-18", res.UpdatedMemory.RecentActions[memory.DefaultCap-1].ID)
}

func TestEngineMemorySaveFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)
	repo.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).Return(stderrors.New("disk full"))

	engine := NewEngine(WithUpdater(memory.NewUpdater(repo)), WithClock(fixedClock))
	res := engine.Execute(context.Background(), Request{Plan: testPlan("snap-1", 1), Snapshot: testSnapshot("snap-1", nil)})

	assert.Len(t, res.Actions, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Failed to persist agent memory.", res.Errors[0].Message)
	assert.Contains(t, res.Errors[0].Details, "disk full")
	assert.Len(t, res.UpdatedMemory.RecentActions, 1)
}

func TestEngineIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr error
	engine := NewEngine(WithExecutor(ExecutorFunc(func(ctx context.Context, p Plan, _ workbook.Snapshot) ([]memory.ActionEntry, error) {
		sawErr = ctx.Err()
		return appliedEntries(p), nil
	})))
	res := engine.Execute(ctx, Request{Plan: testPlan("snap-1", 1), Snapshot: testSnapshot("snap-1", nil), Mode: ModeApply})
	assert.NoError(t, sawErr)
	assert.True(t, res.OK())
}

func TestEnginePublishesEvents(t *testing.T) {
	hub := telemetry.NewHub()
	defer hub.Close()
	events, cleanup := hub.Subscribe(telemetry.Filter{})
	defer cleanup()

	engine := NewEngine(WithHub(hub), WithClock(fixedClock))
	engine.Execute(context.Background(), Request{Plan: testPlan("snap-1", 1), Snapshot: testSnapshot("snap-1", nil)})
	engine.Execute(context.Background(), Request{Plan: testPlan("snap-1", 1), Snapshot: testSnapshot("snap-1", nil), Mode: ModeApply})

	select {
	case ev := <-events:
		assert.Equal(t, telemetry.EventPlanExecuted, ev.Type)
		assert.Equal(t, "snap-1", ev.SnapshotID)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
	select {
	case ev := <-events:
		assert.Equal(t, telemetry.EventPlanFailed, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no failure event published")
	}
}
