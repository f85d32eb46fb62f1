package approval

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/excella/pkg/storage"
	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/todo"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "excella.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func decideWhenPending(t *testing.T, store *storage.Store, status, reason string) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			pending, err := store.ListPendingApprovals("s1")
			if err == nil && len(pending) > 0 {
				_ = store.DecidePendingApproval(&storage.PendingApproval{
					ID: pending[0].ID, SessionID: "s1", Status: status, DecidedBy: "tester", DecisionReason: reason,
				})
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func TestStoreReviewerApproved(t *testing.T) {
	store := newStore(t)
	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsubscribe := hub.Subscribe(telemetry.Filter{})
	defer unsubscribe()

	r := NewStoreReviewer(store, WithPollInterval(5*time.Millisecond), WithReviewHub(hub))
	decideWhenPending(t, store, storage.ApprovalApproved, "go ahead")

	out, err := r.Review(context.Background(), Review{
		Kind:       ReviewPlan,
		SessionID:  "s1",
		ToolName:   todo.ToolAskForPlanApproval,
		SnapshotID: "snap-1",
		Summary:    "2 tasks",
		Todos:      []todo.Task{{Text: "sort", Status: todo.StatusNew}},
		RiskLevel:  "medium",
	})
	require.NoError(t, err)
	assert.True(t, out.Approved)
	assert.Equal(t, "go ahead", out.Reason)
	assert.Equal(t, "tester", out.DecidedBy)

	var seen []telemetry.EventType
	for len(seen) < 2 {
		select {
		case ev := <-events:
			seen = append(seen, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing approval events, got %v", seen)
		}
	}
	assert.Equal(t, []telemetry.EventType{telemetry.EventApprovalRequested, telemetry.EventApprovalDecided}, seen)
}

func TestStoreReviewerStoresReview(t *testing.T) {
	store := newStore(t)
	r := NewStoreReviewer(store, WithPollInterval(5*time.Millisecond))
	decideWhenPending(t, store, storage.ApprovalRejected, "wrong sheet")

	out, err := r.Review(context.Background(), Review{ID: "rev-1", Kind: ReviewEmail, SessionID: "s1", ToolName: "propose_email", Summary: "mail bob"})
	require.NoError(t, err)
	assert.False(t, out.Approved)
	assert.Equal(t, "wrong sheet", out.Reason)

	stored, err := store.GetPendingApproval("rev-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	var review Review
	require.NoError(t, json.Unmarshal([]byte(stored.ToolInput), &review))
	assert.Equal(t, ReviewEmail, review.Kind)
	assert.Equal(t, "mail bob", review.Summary)
}

func TestStoreReviewerExpires(t *testing.T) {
	store := newStore(t)
	r := NewStoreReviewer(store, WithPollInterval(5*time.Millisecond), WithReviewTTL(30*time.Millisecond))

	out, err := r.Review(context.Background(), Review{ID: "rev-late", Kind: ReviewPlan, SessionID: "s1", ToolName: "ask_for_plan_approval"})
	require.NoError(t, err)
	assert.False(t, out.Approved)
	assert.Equal(t, "approval request expired", out.Reason)
}

func TestStoreReviewerCallerCancel(t *testing.T) {
	store := newStore(t)
	r := NewStoreReviewer(store, WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Review(ctx, Review{Kind: ReviewPlan, SessionID: "s1", ToolName: "ask_for_plan_approval"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStoreReviewerWithoutStore(t *testing.T) {
	var r *StoreReviewer
	_, err := r.Review(context.Background(), Review{})
	assert.Error(t, err)
}

func TestStaticReviewer(t *testing.T) {
	out, err := StaticReviewer{Outcome: Outcome{Approved: true}}.Review(context.Background(), Review{})
	require.NoError(t, err)
	assert.True(t, out.Approved)
}
