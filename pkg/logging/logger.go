// Package logging writes excella's structured JSONL logs. One file per
// session receives everything; errors and approval decisions are also
// copied to shared files so they can be audited across sessions.
package logging

import (
	"bufio"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var severity = map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

// ParseLevel reads a configured level. Unknown values mean info.
func ParseLevel(s string) Level {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severity[l]; ok {
		return l
	}
	return LevelInfo
}

// Category names the subsystem an event came from.
type Category string

const (
	CategoryConversation Category = "conversation"
	CategoryValidation   Category = "validation"
	CategoryExecution    Category = "execution"
	CategoryApproval     Category = "approval"
	CategoryTool         Category = "tool"
	CategoryEmail        Category = "email"
	CategoryMemory       Category = "memory"
	CategorySession      Category = "session"
	CategoryNetwork      Category = "network"
	CategoryWorkbook     Category = "workbook"
)

// Event is one JSONL line.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Log file names under the log directory.
const (
	SessionsDir  = "sessions"
	ErrorsFile   = "errors.jsonl"
	ApprovalFile = "approvals.jsonl"
)

type sink struct {
	w      io.WriteCloser
	accept func(Event) bool
}

// Logger fans events out to its sinks. A nil *Logger discards everything,
// so optional collaborators can log unconditionally.
type Logger struct {
	mu        sync.Mutex
	sessionID string
	min       Level
	sinks     []sink
}

func all(Event) bool { return true }

// NewLogger logs under dir: sessions/<session>.jsonl gets every event,
// errors.jsonl the errors and approvals.jsonl the approval category.
func NewLogger(dir, sessionID string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Join(dir, SessionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := strings.TrimSpace(sessionID)
	if name == "" {
		name = "default"
	}

	l := &Logger{sessionID: sessionID, min: LevelInfo}
	files := []struct {
		path   string
		accept func(Event) bool
	}{
		{filepath.Join(dir, SessionsDir, name+".jsonl"), all},
		{filepath.Join(dir, ErrorsFile), func(e Event) bool { return e.Level == LevelError }},
		{filepath.Join(dir, ApprovalFile), func(e Event) bool { return e.Category == CategoryApproval }},
	}
	for _, f := range files {
		w, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("open %s: %w", filepath.Base(f.path), err)
		}
		l.sinks = append(l.sinks, sink{w: w, accept: f.accept})
	}
	return l, nil
}

// NewWriterLogger sends every event to w, which is never closed.
func NewWriterLogger(w io.Writer, sessionID string) *Logger {
	return &Logger{
		sessionID: sessionID,
		min:       LevelInfo,
		sinks:     []sink{{w: nopCloser{w}, accept: all}},
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// SetMinLevel drops events below level.
func (l *Logger) SetMinLevel(level Level) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.min = level
	l.mu.Unlock()
}

// Log stamps e with the time and session when missing and writes it to
// every sink that accepts it.
func (l *Logger) Log(e Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if severity[e.Level] < severity[l.min] {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.SessionID == "" {
		e.SessionID = l.sessionID
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode log event: %w", err)
	}
	line = append(line, '\n')

	var errs []error
	for _, s := range l.sinks {
		if !s.accept(e) {
			continue
		}
		if _, err := s.w.Write(line); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (l *Logger) Debug(c Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelDebug, Category: c, EventType: eventType, Message: message, Details: details})
}

func (l *Logger) Info(c Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelInfo, Category: c, EventType: eventType, Message: message, Details: details})
}

func (l *Logger) Warn(c Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelWarn, Category: c, EventType: eventType, Message: message, Details: details})
}

func (l *Logger) Error(c Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelError, Category: c, EventType: eventType, Message: message, Details: details})
}

// Close closes the sinks. Later events are dropped.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, s := range l.sinks {
		errs = append(errs, s.w.Close())
	}
	l.sinks = nil
	return stderrors.Join(errs...)
}

// Tail returns the last n events of a JSONL log, or all of them when n is
// not positive. Lines that do not decode are skipped.
func Tail(path string, n int) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Event
		if json.Unmarshal(sc.Bytes(), &e) != nil {
			continue
		}
		events = append(events, e)
		if n > 0 && len(events) > n {
			events = events[1:]
		}
	}
	return events, sc.Err()
}
