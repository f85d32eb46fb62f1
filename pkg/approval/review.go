package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/storage"
	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/todo"
)

// ReviewKind says what the human is asked to approve.
type ReviewKind string

const (
	ReviewPlan  ReviewKind = "plan"
	ReviewEmail ReviewKind = "email"
)

// Review is a request for a human decision.
type Review struct {
	ID          string          `json:"id"`
	Kind        ReviewKind      `json:"kind"`
	SessionID   string          `json:"sessionId,omitempty"`
	ToolName    string          `json:"toolName"`
	SnapshotID  string          `json:"snapshotId,omitempty"`
	Summary     string          `json:"summary"`
	Todos       []todo.Task     `json:"todos,omitempty"`
	RiskLevel   string          `json:"riskLevel,omitempty"`
	RiskReasons []string        `json:"riskReasons,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
}

// Outcome is the human's answer. Todos, when set, replaces the task list
// that was put up for review.
type Outcome struct {
	Approved  bool        `json:"approved"`
	Reason    string      `json:"reason,omitempty"`
	DecidedBy string      `json:"decidedBy,omitempty"`
	Todos     []todo.Task `json:"todos,omitempty"`
}

// Reviewer asks a human to decide. Implementations block until a decision
// is made or ctx is done.
type Reviewer interface {
	Review(ctx context.Context, r Review) (Outcome, error)
}

// ReviewerFunc adapts a function to Reviewer.
type ReviewerFunc func(ctx context.Context, r Review) (Outcome, error)

func (f ReviewerFunc) Review(ctx context.Context, r Review) (Outcome, error) { return f(ctx, r) }

const (
	defaultReviewTTL  = 30 * time.Minute
	defaultReviewPoll = 750 * time.Millisecond
)

// StoreReviewer records reviews as pending approvals and waits for someone
// to decide them through the API or the CLI.
type StoreReviewer struct {
	store  *storage.Store
	ttl    time.Duration
	poll   time.Duration
	logger *logging.Logger
	hub    *telemetry.Hub
}

// StoreReviewerOption configures a StoreReviewer.
type StoreReviewerOption func(*StoreReviewer)

// WithReviewTTL bounds how long a review stays pending.
func WithReviewTTL(d time.Duration) StoreReviewerOption {
	return func(r *StoreReviewer) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithPollInterval sets how often the store is checked for a decision.
func WithPollInterval(d time.Duration) StoreReviewerOption {
	return func(r *StoreReviewer) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithReviewLogger attaches a logger.
func WithReviewLogger(l *logging.Logger) StoreReviewerOption {
	return func(r *StoreReviewer) { r.logger = l }
}

// WithReviewHub publishes approval events.
func WithReviewHub(h *telemetry.Hub) StoreReviewerOption {
	return func(r *StoreReviewer) { r.hub = h }
}

// NewStoreReviewer creates a reviewer backed by store.
func NewStoreReviewer(store *storage.Store, opts ...StoreReviewerOption) *StoreReviewer {
	r := &StoreReviewer{store: store, ttl: defaultReviewTTL, poll: defaultReviewPoll}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Review stores the request and blocks until it is decided, expires or ctx
// is done. An expired review is a rejection.
func (s *StoreReviewer) Review(ctx context.Context, r Review) (Outcome, error) {
	if s == nil || s.store == nil {
		return Outcome{}, fmt.Errorf("approval store not configured")
	}
	if strings.TrimSpace(r.ID) == "" {
		r.ID = ulid.Make().String()
	}
	input, err := json.Marshal(r)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode review: %w", err)
	}

	pending := &storage.PendingApproval{
		ID:          r.ID,
		SessionID:   r.SessionID,
		ToolName:    r.ToolName,
		ToolInput:   string(input),
		SnapshotID:  r.SnapshotID,
		RiskLevel:   r.RiskLevel,
		RiskReasons: r.RiskReasons,
		ExpiresAt:   time.Now().UTC().Add(s.ttl),
	}
	if err := s.store.CreatePendingApproval(pending); err != nil {
		return Outcome{}, err
	}
	s.hub.Publish(telemetry.Event{
		Type:       telemetry.EventApprovalRequested,
		SessionID:  r.SessionID,
		SnapshotID: r.SnapshotID,
		Data:       map[string]any{"id": r.ID, "kind": string(r.Kind), "tool": r.ToolName},
	})
	s.logger.Info(logging.CategoryApproval, "review_requested", r.Summary, map[string]any{
		"id":   r.ID,
		"kind": string(r.Kind),
	})

	waitCtx, cancel := context.WithDeadline(ctx, pending.ExpiresAt)
	defer cancel()
	decided, err := s.store.WaitForDecision(waitCtx, r.ID, s.poll)
	if err != nil {
		if ctx.Err() == nil && waitCtx.Err() != nil {
			_, _ = s.store.ExpirePendingApprovals()
			return s.finish(r, Outcome{Approved: false, Reason: "approval request expired"}), nil
		}
		return Outcome{}, err
	}

	return s.finish(r, Outcome{
		Approved:  decided.Status == storage.ApprovalApproved,
		Reason:    decided.DecisionReason,
		DecidedBy: decided.DecidedBy,
	}), nil
}

func (s *StoreReviewer) finish(r Review, out Outcome) Outcome {
	s.hub.Publish(telemetry.Event{
		Type:       telemetry.EventApprovalDecided,
		SessionID:  r.SessionID,
		SnapshotID: r.SnapshotID,
		Data:       map[string]any{"id": r.ID, "approved": out.Approved, "reason": out.Reason},
	})
	s.logger.Info(logging.CategoryApproval, "review_decided", fmt.Sprintf("approved=%t", out.Approved), map[string]any{
		"id":         r.ID,
		"decided_by": out.DecidedBy,
		"reason":     out.Reason,
	})
	return out
}

// StaticReviewer answers every review the same way. Useful for unattended
// dry-run sessions and tests.
type StaticReviewer struct {
	Outcome Outcome
}

func (s StaticReviewer) Review(context.Context, Review) (Outcome, error) { return s.Outcome, nil }
