package plan

import (
	"context"
	"fmt"

	"github.com/odvcencio/excella/pkg/memory"
	"github.com/odvcencio/excella/pkg/workbook"
)

// ActionExecutor applies a plan to the live workbook. It returns one entry
// per action it performed; on failure it returns the entries for steps that
// already ran together with the error.
//
//go:generate mockgen -package=plan -destination=mock_executor_test.go github.com/odvcencio/excella/pkg/plan ActionExecutor
type ActionExecutor interface {
	Execute(ctx context.Context, p Plan, snap workbook.Snapshot) ([]memory.ActionEntry, error)
}

// ExecutorFunc adapts a function to ActionExecutor.
type ExecutorFunc func(ctx context.Context, p Plan, snap workbook.Snapshot) ([]memory.ActionEntry, error)

func (f ExecutorFunc) Execute(ctx context.Context, p Plan, snap workbook.Snapshot) ([]memory.ActionEntry, error) {
	return f(ctx, p, snap)
}

// StepError reports which step an executor failed on.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s) failed: %v", e.Step.ID, e.Step.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
