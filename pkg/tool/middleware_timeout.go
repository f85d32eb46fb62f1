package tool

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// Deadlines bounds calls. PerTool overrides Default; a zero duration means
// no deadline.
type Deadlines struct {
	Default time.Duration
	PerTool map[string]time.Duration
}

func (d Deadlines) forTool(name string) time.Duration {
	if t, ok := d.PerTool[name]; ok {
		return t
	}
	return d.Default
}

// Timeout runs each call under its deadline. Running out of time is
// reported as a retryable failed result; cancellation by the caller stays
// an error.
func Timeout(d Deadlines) Middleware {
	return func(next Executor) Executor {
		return func(call *ExecutionContext) (*builtin.Result, error) {
			if call == nil {
				return next(call)
			}
			limit := d.forTool(call.ToolName)
			if limit <= 0 {
				return next(call)
			}

			parent := call.ctx()
			bounded, cancel := context.WithTimeout(parent, limit)
			defer cancel()
			call.Context = bounded
			res, err := next(call)
			call.Context = parent

			if stderrors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
				return builtin.Fail(errors.Wrap(err, errors.ErrCodeExecution, "tool timed out").
					WithUserMessage(fmt.Sprintf("%s did not finish within %s", call.ToolName, limit)).
					WithRetryable(true)), nil
			}
			return res, err
		}
	}
}
