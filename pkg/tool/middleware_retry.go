package tool

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/odvcencio/excella/pkg/email"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/todo"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// Backoff describes how often and how patiently a failing call is retried.
// Only Go errors are retried: a failed result is an answer, not a fault.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
	// Retryable decides which errors are worth another attempt. Nil means
	// DefaultRetryable.
	Retryable func(error) bool
	// Once names tools whose side effects must not repeat.
	Once map[string]bool
}

// SideEffectingTools lists tools that write the workbook, queue mail or
// wait on a human. They always run once.
func SideEffectingTools() map[string]bool {
	return map[string]bool{
		builtin.ToolApplyPlan:       true,
		email.ToolSendEmail:         true,
		email.ToolProposeEmail:      true,
		todo.ToolAskForPlanApproval: true,
	}
}

// delay returns the wait before attempt n+1.
func (b Backoff) delay(n int) time.Duration {
	d := float64(b.Initial)
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < n; i++ {
		d *= factor
		if b.Max > 0 && d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	if j := min(b.Jitter, 1); j > 0 {
		d *= 1 - j + 2*j*rand.Float64()
	}
	return time.Duration(d)
}

func (b Backoff) attemptsFor(toolName string) int {
	if b.Attempts < 1 || b.Once[strings.TrimSpace(toolName)] {
		return 1
	}
	return b.Attempts
}

// Retry re-runs calls that fail with a retryable error.
func Retry(b Backoff) Middleware {
	retryable := b.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	return func(next Executor) Executor {
		return func(call *ExecutionContext) (*builtin.Result, error) {
			name := ""
			if call != nil {
				name = call.ToolName
			}
			limit := b.attemptsFor(name)

			var (
				res *builtin.Result
				err error
			)
			for n := 1; n <= limit; n++ {
				ctx := call.ctx()
				if cerr := ctx.Err(); cerr != nil {
					return nil, cerr
				}
				if call != nil {
					call.Attempt = n
				}
				res, err = next(call)
				if err == nil || !retryable(err) {
					return res, err
				}
				if n == limit {
					break
				}
				if werr := wait(ctx, b.delay(n)); werr != nil {
					return nil, werr
				}
			}
			if limit == 1 {
				return res, err
			}
			return res, fmt.Errorf("%s: gave up after %d attempts: %w", name, limit, err)
		}
	}
}

// DefaultRetryable accepts structured errors flagged retryable, temporary
// network errors and SQLite lock contention. Cancellation is final.
func DefaultRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return false
	case errors.IsRetryable(err):
		return true
	}
	var temporary interface{ Temporary() bool }
	if stderrors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, transient := range []string{"database is locked", "timeout", "connection refused"} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
