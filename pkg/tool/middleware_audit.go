package tool

import (
	"encoding/json"
	"time"

	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/storage"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

const maxAuditField = 8 << 10

// auditMiddleware writes one tool_audit_log row per call, including calls
// the approval gate refused.
func (r *Registry) auditMiddleware() Middleware {
	return func(next Executor) Executor {
		return func(ctx *ExecutionContext) (*builtin.Result, error) {
			store := r.store
			if store == nil || ctx == nil {
				return next(ctx)
			}
			start := time.Now()
			res, err := next(ctx)

			entry := &storage.ToolAuditEntry{
				SessionID:  ctx.SessionID,
				ToolName:   ctx.ToolName,
				ToolInput:  auditJSON(ctx.Params),
				Decision:   "allow",
				ExecutedAt: start.UTC(),
				DurationMs: time.Since(start).Milliseconds(),
			}
			if d, ok := ctx.Metadata[MetaApprovalDecision].(string); ok {
				entry.Decision = d
				entry.DecidedBy = "gate"
			}
			if id, ok := ctx.Metadata[MetaApprovalID].(string); ok {
				entry.ApprovalID = id
			}
			switch {
			case err != nil:
				entry.ToolOutput = auditJSON(map[string]any{"error": err.Error()})
			case res != nil && res.Success:
				entry.ToolOutput = auditJSON(res.Data)
			case res != nil:
				entry.ToolOutput = auditJSON(map[string]any{"error": res.Error, "code": res.Code})
			}
			if logErr := store.LogToolExecution(entry); logErr != nil {
				r.logger.Warn(logging.CategoryTool, "audit_failed", logErr.Error(), map[string]any{
					"tool": ctx.ToolName,
				})
			}
			return res, err
		}
	}
}

func auditJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	if len(data) > maxAuditField {
		return string(data[:maxAuditField]) + "...[truncated]"
	}
	return string(data)
}
