package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/todo"
)

func history(t *testing.T, results ...[2]any) conversation.History {
	t.Helper()
	c := conversation.New("s")
	c.AddUserMessage("tidy the sales sheet")
	for _, r := range results {
		_, err := c.AddToolResult("call", r[0].(string), r[1])
		require.NoError(t, err)
	}
	return c.History()
}

func proposed(snap string) [2]any {
	return [2]any{ToolProposePlan, map[string]any{"snapshotId": snap, "steps": []any{}}}
}

func decided(approved bool, snap string) [2]any {
	return [2]any{todo.ToolAskForPlanApproval, map[string]any{"approved": approved, "snapshotId": snap, "todos": []any{}}}
}

func TestCheckReadAlwaysAllowed(t *testing.T) {
	for _, mode := range []Mode{ModeAsk, ModeSafe} {
		res := Check(mode, Request{Operation: OpRead}, nil)
		assert.True(t, res.Allowed(), mode.String())
		assert.True(t, Check(mode, Request{Operation: OpNote}, nil).Allowed())
	}
}

func TestCheckPlanRequiresApproval(t *testing.T) {
	res := Check(ModeAsk, Request{Operation: OpPlanDryRun, SnapshotID: "snap-1"}, history(t, proposed("snap-1")))
	assert.Equal(t, DecisionPrompt, res.Decision)
	err := res.Err()
	require.NotNil(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeApprovalRequired))
}

func TestCheckPlanApproved(t *testing.T) {
	h := history(t, proposed("snap-1"), decided(true, "snap-1"))
	for _, op := range []Operation{OpPlanDryRun, OpPlanApply} {
		res := Check(ModeAsk, Request{Operation: op, SnapshotID: "snap-1"}, h)
		assert.True(t, res.Allowed(), op.String())
		require.NotNil(t, res.Approval)
		assert.Equal(t, 2, res.Approval.TurnIndex)
		assert.Nil(t, res.Err())
	}
}

func TestCheckPlanRejected(t *testing.T) {
	h := history(t, proposed("snap-1"), [2]any{todo.ToolAskForPlanApproval, map[string]any{
		"approved": false, "todos": []any{}, "reason": "wrong column",
	}})
	res := Check(ModeAsk, Request{Operation: OpPlanApply, SnapshotID: "snap-1"}, h)
	assert.Equal(t, DecisionDeny, res.Decision)
	assert.Equal(t, "plan was rejected: wrong column", res.Reason)
	assert.True(t, errors.IsCode(res.Err(), errors.ErrCodeApprovalDenied))
}

func TestCheckNewProposalSupersedesApproval(t *testing.T) {
	h := history(t, proposed("snap-1"), decided(true, "snap-1"), proposed("snap-2"))
	res := Check(ModeAsk, Request{Operation: OpPlanApply, SnapshotID: "snap-2"}, h)
	assert.Equal(t, DecisionPrompt, res.Decision)
}

func TestCheckApprovalForOtherSnapshot(t *testing.T) {
	h := history(t, decided(true, "snap-1"))
	res := Check(ModeAsk, Request{Operation: OpPlanApply, SnapshotID: "snap-9"}, h)
	assert.Equal(t, DecisionPrompt, res.Decision)
	assert.Contains(t, res.Reason, "snap-1")
}

func TestCheckSafeMode(t *testing.T) {
	h := history(t, decided(true, "snap-1"))
	assert.True(t, Check(ModeSafe, Request{Operation: OpPlanDryRun, SnapshotID: "snap-1"}, h).Allowed())
	assert.Equal(t, DecisionDeny, Check(ModeSafe, Request{Operation: OpPlanApply, SnapshotID: "snap-1"}, h).Decision)
	assert.Equal(t, DecisionDeny, Check(ModeSafe, Request{Operation: OpEmailSend}, h).Decision)
	assert.True(t, Check(ModeAsk, Request{Operation: OpEmailSend}, h).Allowed())
}

func TestLatestPlanApprovalIgnoresMalformed(t *testing.T) {
	h := history(t, decided(true, "snap-1"), [2]any{todo.ToolAskForPlanApproval, map[string]any{"todos": []any{}}})
	a, ok := LatestPlanApproval(h)
	require.True(t, ok)
	assert.True(t, a.Approved)
	assert.Equal(t, "snap-1", a.SnapshotID)
}
