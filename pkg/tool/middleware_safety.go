package tool

import (
	"fmt"
	"runtime/debug"

	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// Metadata keys written when a tool panics.
const (
	MetaPanicValue = "panic_value"
	MetaPanicStack = "panic_stack"
)

// PanicRecovery turns a panicking tool into a failed result. The stack is
// kept in the call metadata for the audit log.
func PanicRecovery(logger *logging.Logger) Middleware {
	return func(next Executor) Executor {
		return func(call *ExecutionContext) (res *builtin.Result, err error) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				label := "tool"
				if call != nil {
					call.setMeta(MetaPanicValue, fmt.Sprint(v))
					call.setMeta(MetaPanicStack, string(debug.Stack()))
					if call.ToolName != "" {
						label = call.ToolName
					}
				}
				logger.Error(logging.CategoryTool, "panic", fmt.Sprintf("%s: %v", label, v), nil)
				res, err = builtin.Fail(errors.New(errors.ErrCodeInternal, label+" panicked").
					WithUserMessage(fmt.Sprintf("%s stopped unexpectedly: %v", label, v))), nil
			}()
			return next(call)
		}
	}
}
