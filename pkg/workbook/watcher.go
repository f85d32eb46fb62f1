package workbook

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/excella/pkg/logging"
)

// ChangeType describes what happened to the workbook file.
type ChangeType string

const (
	ChangeModified ChangeType = "modified"
	ChangeCreated  ChangeType = "created"
	ChangeRemoved  ChangeType = "removed"
	ChangeRenamed  ChangeType = "renamed"
)

const defaultMaxHistory = 50

// Change records one observed change to the workbook file.
type Change struct {
	Path    string     `json:"path"`
	Type    ChangeType `json:"type"`
	Version int64      `json:"version"`
	At      time.Time  `json:"at"`
}

// ChangeHandler receives change notifications.
type ChangeHandler func(Change)

// Watcher follows one workbook file on disk and bumps a version counter on
// every change. It implements Clock, so a FileGateway built with it reports
// a SnapshotVersion that advances whenever the file is edited.
type Watcher struct {
	path    string
	fs      *fsnotify.Watcher
	logger  *logging.Logger
	version atomic.Int64

	mu         sync.RWMutex
	subs       map[string]ChangeHandler
	recent     []Change
	maxHistory int

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger attaches a logger.
func WithWatcherLogger(l *logging.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithMaxHistory bounds RecentChanges.
func WithMaxHistory(n int) WatcherOption {
	return func(w *Watcher) {
		if n > 0 {
			w.maxHistory = n
		}
	}
}

// NewWatcher watches the directory containing path, since spreadsheet
// editors usually save by writing a temp file and renaming it over the
// original. Call Start to begin delivering events.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w := &Watcher{
		path:       abs,
		fs:         fw,
		subs:       make(map[string]ChangeHandler),
		maxHistory: defaultMaxHistory,
		done:       make(chan struct{}),
	}
	w.version.Store(1)
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Version is the current file version, starting at 1.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Start runs the event loop until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case ev, ok := <-w.fs.Events:
				if !ok {
					return
				}
				w.handle(ev)
			case err, ok := <-w.fs.Errors:
				if !ok {
					return
				}
				w.logger.Warn(logging.CategoryWorkbook, "watch_error", err.Error(), map[string]any{"path": w.path})
			}
		}
	}()
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	var typ ChangeType
	switch {
	case ev.Has(fsnotify.Create):
		typ = ChangeCreated
	case ev.Has(fsnotify.Write):
		typ = ChangeModified
	case ev.Has(fsnotify.Remove):
		typ = ChangeRemoved
	case ev.Has(fsnotify.Rename):
		typ = ChangeRenamed
	default:
		return
	}
	w.notify(Change{Path: w.path, Type: typ, Version: w.version.Add(1), At: time.Now()})
}

func (w *Watcher) notify(change Change) {
	w.mu.Lock()
	w.recent = append(w.recent, change)
	if len(w.recent) > w.maxHistory {
		w.recent = w.recent[len(w.recent)-w.maxHistory:]
	}
	handlers := make([]ChangeHandler, 0, len(w.subs))
	for _, h := range w.subs {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	w.logger.Debug(logging.CategoryWorkbook, "file_changed", string(change.Type), map[string]any{
		"path":    change.Path,
		"version": change.Version,
	})
	for _, h := range handlers {
		h(change)
	}
}

// Subscribe registers a handler and returns its ID.
func (w *Watcher) Subscribe(h ChangeHandler) string {
	if h == nil {
		return ""
	}
	id := ulid.Make().String()
	w.mu.Lock()
	w.subs[id] = h
	w.mu.Unlock()
	return id
}

// Unsubscribe removes a handler. Unknown IDs are ignored.
func (w *Watcher) Unsubscribe(id string) {
	w.mu.Lock()
	delete(w.subs, id)
	w.mu.Unlock()
}

// RecentChanges returns up to limit changes, newest first.
func (w *Watcher) RecentChanges(limit int) []Change {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if limit <= 0 || limit > len(w.recent) {
		limit = len(w.recent)
	}
	out := make([]Change, 0, limit)
	for i := len(w.recent) - 1; i >= len(w.recent)-limit; i-- {
		out = append(out, w.recent[i])
	}
	return out
}
