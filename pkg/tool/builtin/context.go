package builtin

import (
	"context"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/workbook"
)

type historyKey struct{}

type sessionKey struct{}

// WithHistory attaches the conversation history a tool call is made in.
func WithHistory(ctx context.Context, h conversation.History) context.Context {
	return context.WithValue(ctx, historyKey{}, h)
}

// HistoryFrom returns the history attached by WithHistory, or nil.
func HistoryFrom(ctx context.Context) conversation.History {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(historyKey{}).(conversation.History)
	return h
}

// WithSessionID attaches the session the call belongs to.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom returns the session attached by WithSessionID.
func SessionFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Gated is implemented by tools that need the approval gate. Tools that do
// not implement it are treated as reads.
type Gated interface {
	ApprovalRequest(params map[string]any) approval.Request
}

// SnapshotProvider returns a fresh workbook snapshot.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (workbook.Snapshot, error)
}

// SnapshotFunc adapts a function to SnapshotProvider.
type SnapshotFunc func(ctx context.Context) (workbook.Snapshot, error)

func (f SnapshotFunc) Snapshot(ctx context.Context) (workbook.Snapshot, error) { return f(ctx) }
