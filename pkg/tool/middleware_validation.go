package tool

import (
	"fmt"
	"strings"

	"github.com/odvcencio/excella/pkg/email"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/tool/builtin"
	"github.com/odvcencio/excella/pkg/workbook"
)

// MetaValidationError records which parameter a rejected call failed on.
const MetaValidationError = "validation_error"

// Check validates one parameter value.
type Check func(value any) error

// ParamChecks maps tool name to parameter name to the check applied to it.
// The tool name "*" applies to every tool. Absent parameters are left to
// the tool.
type ParamChecks map[string]map[string]Check

// DefaultParamChecks covers the parameters the model writes free-hand.
func DefaultParamChecks() ParamChecks {
	return ParamChecks{
		builtin.ToolReadRange:   {"range": A1Range},
		builtin.ToolAddNote:     {"text": Required},
		builtin.ToolProposePlan: {"snapshotId": Required},
		email.ToolProposeEmail:  {"to": Recipient},
		email.ToolSendEmail:     {"emailHandle": Required},
	}
}

func (pc ParamChecks) forTool(name string) map[string]Check {
	merged := make(map[string]Check)
	for tool, checks := range pc {
		if tool != "*" && !strings.EqualFold(tool, name) {
			continue
		}
		for param, check := range checks {
			if check != nil {
				merged[param] = check
			}
		}
	}
	return merged
}

// Validation rejects a call before it reaches the tool when a checked
// parameter is malformed. onReject, when set, observes each rejection.
func Validation(checks ParamChecks, onReject func(tool, param, msg string)) Middleware {
	return func(next Executor) Executor {
		return func(call *ExecutionContext) (*builtin.Result, error) {
			if call == nil || len(checks) == 0 || len(call.Params) == 0 {
				return next(call)
			}
			name := strings.TrimSpace(call.ToolName)
			for param, check := range checks.forTool(name) {
				value, present := call.Params[param]
				if !present {
					continue
				}
				err := check(value)
				if err == nil {
					continue
				}
				msg := strings.TrimSpace(err.Error())
				if msg == "" {
					msg = "invalid value"
				}
				if onReject != nil {
					onReject(name, param, msg)
				}
				call.setMeta(MetaValidationError, map[string]any{"tool": name, "param": param, "message": msg})
				return builtin.Fail(errors.New(errors.ErrCodeInvalidInput, "invalid "+param+": "+msg).
					WithUserMessage(fmt.Sprintf("Invalid %s: %s", param, msg)).
					WithContext("tool", name)), nil
			}
			return next(call)
		}
	}
}

// Required rejects nil, blank strings and empty lists.
func Required(value any) error {
	empty := false
	switch v := value.(type) {
	case nil:
		empty = true
	case string:
		empty = strings.TrimSpace(v) == ""
	case []string:
		empty = len(v) == 0
	case []any:
		empty = len(v) == 0
	}
	if empty {
		return fmt.Errorf("value required")
	}
	return nil
}

// A1Range accepts a cell or area reference, optionally sheet-qualified.
func A1Range(value any) error {
	raw, ok := value.(string)
	if !ok {
		return fmt.Errorf("range must be a string")
	}
	if strings.ContainsRune(raw, 0) {
		return fmt.Errorf("range contains null byte")
	}
	_, err := workbook.ParseArea(raw, "")
	return err
}

// Recipient accepts exactly one parseable address.
func Recipient(value any) error {
	raw, ok := value.(string)
	if !ok {
		return fmt.Errorf("recipient must be a string")
	}
	return email.Draft{To: raw}.Validate()
}
