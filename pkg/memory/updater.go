package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/excella/pkg/logging"
)

// NewEntryID returns a sortable unique ID, optionally prefixed.
func NewEntryID(prefix string) string {
	id := ulid.Make().String()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// ActionUpdate describes one memory mutation: the action just executed and
// an optional error, applied on top of the memory the turn started from.
type ActionUpdate struct {
	OwnerID  string
	Previous AgentMemory
	Action   ActionEntry
	Error    *ErrorEntry
}

// Updater is the single mutation point for AgentMemory.
type Updater struct {
	repo   Repository
	cap    int
	now    func() time.Time
	logger *logging.Logger
}

// Option configures an Updater.
type Option func(*Updater)

// WithCap overrides the list bound.
func WithCap(n int) Option {
	return func(u *Updater) {
		if n > 0 {
			u.cap = n
		}
	}
}

// WithClock overrides the time source used for note timestamps.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) {
		if now != nil {
			u.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(u *Updater) { u.logger = l }
}

// NewUpdater creates an Updater. A nil repo computes updates without
// persisting them.
func NewUpdater(repo Repository, opts ...Option) *Updater {
	u := &Updater{repo: repo, cap: DefaultCap, now: time.Now}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Cap returns the list bound in use.
func (u *Updater) Cap() int { return u.cap }

// ApplyActionUpdate prepends the action (and error, if any) to the bounded
// history and persists the result. The updated memory is returned even when
// the save fails so callers can still report what happened.
func (u *Updater) ApplyActionUpdate(ctx context.Context, in ActionUpdate) (AgentMemory, error) {
	prev := in.Previous.Normalize()

	updated := AgentMemory{
		RecentActions: prepend(in.Action, prev.RecentActions, u.cap),
		RecentErrors:  append([]ErrorEntry{}, prev.RecentErrors...),
		Notes:         append([]Note{}, prev.Notes...),
	}
	if in.Error != nil {
		updated.RecentErrors = prepend(*in.Error, prev.RecentErrors, u.cap)
	}

	if err := u.save(ctx, in.OwnerID, updated); err != nil {
		return updated, err
	}

	u.logger.Debug(logging.CategoryMemory, "action_recorded", in.Action.Description, map[string]any{
		"owner":     in.OwnerID,
		"action_id": in.Action.ID,
		"actions":   len(updated.RecentActions),
		"errors":    len(updated.RecentErrors),
	})
	return updated, nil
}

// AddNote prepends a note, bounded like the action history.
func (u *Updater) AddNote(ctx context.Context, ownerID string, prev AgentMemory, text string, importance Importance) (AgentMemory, Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return prev, Note{}, fmt.Errorf("note text is empty")
	}
	switch importance {
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
	case "":
		importance = ImportanceMedium
	default:
		return prev, Note{}, fmt.Errorf("invalid note importance %q", importance)
	}

	note := Note{
		ID:         NewEntryID("note"),
		Timestamp:  u.now().UTC(),
		Text:       text,
		Importance: importance,
	}

	prev = prev.Normalize()
	updated := AgentMemory{
		RecentActions: append([]ActionEntry{}, prev.RecentActions...),
		RecentErrors:  append([]ErrorEntry{}, prev.RecentErrors...),
		Notes:         prepend(note, prev.Notes, u.cap),
	}
	if err := u.save(ctx, ownerID, updated); err != nil {
		return updated, note, err
	}
	return updated, note, nil
}

func (u *Updater) save(ctx context.Context, ownerID string, mem AgentMemory) error {
	if u.repo == nil {
		return nil
	}
	if err := u.repo.Save(ctx, ownerID, mem); err != nil {
		u.logger.Warn(logging.CategoryMemory, "save_failed", err.Error(), map[string]any{"owner": ownerID})
		return fmt.Errorf("save memory for %s: %w", ownerID, err)
	}
	return nil
}

func prepend[T any](item T, list []T, limit int) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, item)
	out = append(out, list...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
