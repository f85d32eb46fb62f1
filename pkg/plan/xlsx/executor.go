// Package xlsx applies plans to .xlsx workbooks on disk.
package xlsx

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/memory"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/workbook"
)

// Executor is a plan.ActionExecutor backed by excelize. Steps run in order
// against one open workbook; the first failing step stops the run and the
// steps before it are saved.
type Executor struct {
	path   string
	author string
	logger *logging.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// Option configures an Executor.
type Option func(*Executor)

// WithAuthor sets the author recorded on comments.
func WithAuthor(name string) Option {
	return func(x *Executor) {
		if strings.TrimSpace(name) != "" {
			x.author = name
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(x *Executor) {
		if now != nil {
			x.now = now
		}
	}
}

// NewExecutor creates an executor for the workbook at path.
func NewExecutor(path string, opts ...Option) *Executor {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	x := &Executor{path: path, author: "Excella", now: time.Now}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

var _ plan.ActionExecutor = (*Executor)(nil)

// Execute applies p to the workbook file.
func (x *Executor) Execute(ctx context.Context, p plan.Plan, snap workbook.Snapshot) ([]memory.ActionEntry, error) {
	if snap.Safety.Flags.ReadOnlyMode {
		return nil, fmt.Errorf("workbook %s is read-only", snap.Meta.WorkbookName)
	}
	if strings.EqualFold(filepath.Ext(x.path), ".xls") {
		return nil, fmt.Errorf(".xls (BIFF8) workbooks are not supported; convert %s to .xlsx", filepath.Base(x.path))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	f, err := excelize.OpenFile(x.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	actions := []memory.ActionEntry{}
	var stepErr error
	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			stepErr = &plan.StepError{Step: step, Err: err}
			break
		}
		sc := &stepContext{f: f, step: step, limits: snap.Safety.Limits, author: x.author}
		if err := sc.run(); err != nil {
			stepErr = &plan.StepError{Step: step, Err: err}
			x.logger.Warn(logging.CategoryExecution, "step_failed", err.Error(), map[string]any{
				"step": step.ID,
				"kind": step.Kind,
			})
			break
		}
		actions = append(actions, memory.ActionEntry{
			ID:              step.ID + "-applied",
			Timestamp:       x.now().UTC(),
			Description:     step.Description,
			TargetRange:     step.TargetRange,
			TargetWorksheet: step.TargetWorksheet,
			Kind:            step.ActionKind(),
			Status:          memory.StatusSuccess,
		})
	}

	if len(actions) > 0 {
		if err := f.Save(); err != nil {
			return nil, fmt.Errorf("save workbook: %w", err)
		}
	}

	x.logger.Info(logging.CategoryExecution, "steps_applied", fmt.Sprintf("applied %d of %d step(s)", len(actions), len(p.Steps)), map[string]any{
		"path":     x.path,
		"snapshot": snap.ID(),
	})
	return actions, stepErr
}
