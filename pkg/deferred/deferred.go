// Package deferred correlates a "propose" tool result with a later
// "confirm" call through an opaque handle. Records live only inside the
// conversation history; resolution is a scan over it, newest first.
package deferred

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/telemetry"
)

// Status is the outcome of a resolution.
type Status string

const (
	StatusResolved Status = "resolved"
	StatusNotFound Status = "not_found"
	StatusConsumed Status = "consumed"
)

// NewHandle mints an unguessable handle (random UUIDv4).
func NewHandle() string {
	return uuid.NewString()
}

// Record is one propose result found in history.
type Record[T any] struct {
	Handle        string `json:"handle"`
	Payload       T      `json:"payload"`
	CreatedInTurn int    `json:"createdInTurn"`
	ToolCallID    string `json:"toolCallId,omitempty"`
}

// Resolution is the result of Resolve. Err is set unless Status is
// StatusResolved.
type Resolution[T any] struct {
	Status Status        `json:"status"`
	Record *Record[T]    `json:"record,omitempty"`
	Err    *errors.Error `json:"-"`
}

// OK reports whether the handle resolved to a live record.
func (r Resolution[T]) OK() bool { return r.Status == StatusResolved && r.Record != nil }

// Registry describes one propose/confirm family. It holds no state.
type Registry[T any] struct {
	// ProposeTools are the tool names whose results carry payloads.
	ProposeTools []string
	// Decode strictly parses a propose result. Failures mean "not this one".
	Decode func(json.RawMessage) (T, error)
	// Handle extracts the correlation key from a decoded payload.
	Handle func(T) string
	// ConsumeTools are the tool names whose successful results use up a
	// handle. ConsumedHandle extracts it from such a result.
	ConsumeTools   []string
	ConsumedHandle func(json.RawMessage) (string, bool)
	// NotFoundMessage is the user-facing text for a failed resolution.
	NotFoundMessage string
}

// Resolve finds the most recent propose result whose handle equals handle.
// Position is never used for correlation. A handle already used by a newer
// consume result resolves as StatusConsumed.
func (r Registry[T]) Resolve(h conversation.History, handle string) Resolution[T] {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return r.miss(StatusNotFound, handle)
	}

	propose := conversation.Variant[T]{Tools: r.ProposeTools, Decode: r.Decode}
	var (
		consumed bool
		found    *Record[T]
	)
	h.ScanToolResults(func(turn int, p conversation.Part) bool {
		if !consumed && r.ConsumedHandle != nil && contains(r.ConsumeTools, p.ToolName) {
			if used, ok := r.ConsumedHandle(p.Output); ok && used == handle {
				consumed = true
				return true
			}
		}
		payload, ok := conversation.Match(p, propose)
		if !ok || r.Handle == nil || r.Handle(payload) != handle {
			return true
		}
		found = &Record[T]{Handle: handle, Payload: payload, CreatedInTurn: turn, ToolCallID: p.ToolCallID}
		return false
	})

	switch {
	case found == nil:
		return r.miss(StatusNotFound, handle)
	case consumed:
		res := r.miss(StatusConsumed, handle)
		res.Record = found
		return res
	}
	return Resolution[T]{Status: StatusResolved, Record: found}
}

// ResolveContext is Resolve wrapped in a trace span.
func (r Registry[T]) ResolveContext(ctx context.Context, h conversation.History, handle string) Resolution[T] {
	_, span := telemetry.StartSpan(ctx, "deferred.resolve")
	defer span.End()
	res := r.Resolve(h, handle)
	span.SetAttributes(telemetry.AttrHandleStatus.String(string(res.Status)))
	return res
}

// Records lists every decodable propose result, newest first. Consumed
// handles are included.
func (r Registry[T]) Records(h conversation.History) []Record[T] {
	propose := conversation.Variant[T]{Tools: r.ProposeTools, Decode: r.Decode}
	var out []Record[T]
	h.ScanToolResults(func(turn int, p conversation.Part) bool {
		payload, ok := conversation.Match(p, propose)
		if !ok || r.Handle == nil {
			return true
		}
		out = append(out, Record[T]{Handle: r.Handle(payload), Payload: payload, CreatedInTurn: turn, ToolCallID: p.ToolCallID})
		return true
	})
	return out
}

func (r Registry[T]) miss(status Status, handle string) Resolution[T] {
	code := errors.ErrCodeHandleNotFound
	msg := "handle not found in conversation history"
	if status == StatusConsumed {
		code = errors.ErrCodeHandleConsumed
		msg = "handle was already used"
	}
	err := errors.New(code, msg).WithContext("handle", handle)
	if r.NotFoundMessage != "" {
		err = err.WithUserMessage(r.NotFoundMessage)
	}
	return Resolution[T]{Status: status, Err: err}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
