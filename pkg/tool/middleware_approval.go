package tool

import (
	"strconv"
	"strings"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// Metadata keys written by the approval gate.
const (
	MetaApprovalDecision = "approval_decision"
	MetaApprovalReason   = "approval_reason"
	MetaApprovalID       = "approval_id"
)

// approvalMiddleware gates tools that implement builtin.Gated. Everything
// else is a read and passes through.
func (r *Registry) approvalMiddleware() Middleware {
	return func(next Executor) Executor {
		return func(ctx *ExecutionContext) (*builtin.Result, error) {
			if r == nil || ctx == nil {
				return next(ctx)
			}
			gated, ok := ctx.Tool.(builtin.Gated)
			if !ok {
				return next(ctx)
			}

			req := gated.ApprovalRequest(ctx.Params)
			if strings.TrimSpace(req.Tool) == "" {
				req.Tool = ctx.ToolName
			}
			res := approval.Check(r.Mode(), req, ctx.History)

			ctx.setMeta(MetaApprovalDecision, res.Decision.String())
			ctx.setMeta(MetaApprovalReason, res.Reason)
			if res.Approval != nil {
				ctx.setMeta(MetaApprovalID, "turn:"+strconv.Itoa(res.Approval.TurnIndex))
			}

			if res.Allowed() {
				return next(ctx)
			}
			r.logger.Info(logging.CategoryApproval, "gate_blocked", res.Reason, map[string]any{
				"tool":      ctx.ToolName,
				"operation": req.Operation.String(),
				"decision":  res.Decision.String(),
				"mode":      r.Mode().String(),
			})
			return builtin.Fail(res.Err()), nil
		}
	}
}
