package errors

// ErrorCode identifies a failure precisely enough for an agent or a client
// to pick its next move.
type ErrorCode string

const (
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite   ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageCorrupt ErrorCode = "STORAGE_CORRUPT"

	// The plan was built against an older snapshot; re-fetch and retry.
	ErrCodeStaleSnapshot ErrorCode = "STALE_SNAPSHOT"

	// Policy refusals end the current plan.
	ErrCodeReadOnly ErrorCode = "POLICY_READ_ONLY"
	ErrCodeHighRisk ErrorCode = "POLICY_HIGH_RISK"

	// The handle does not name a live proposal; propose again.
	ErrCodeHandleNotFound ErrorCode = "HANDLE_NOT_FOUND"
	ErrCodeHandleConsumed ErrorCode = "HANDLE_CONSUMED"

	ErrCodeApprovalRequired ErrorCode = "APPROVAL_REQUIRED"
	ErrCodeApprovalDenied   ErrorCode = "APPROVAL_DENIED"

	ErrCodeExecutorMissing ErrorCode = "EXECUTOR_MISSING"
	ErrCodeExecution       ErrorCode = "EXECUTION_FAILED"
	ErrCodeToolNotFound    ErrorCode = "TOOL_NOT_FOUND"

	ErrCodeInternal       ErrorCode = "INTERNAL"
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
)

// Class groups codes by the recovery they call for.
type Class string

const (
	ClassStale         Class = "stale"
	ClassPolicy        Class = "policy"
	ClassCorrelation   Class = "correlation"
	ClassConfiguration Class = "configuration"
	ClassExecution     Class = "execution"
	ClassOther         Class = "other"
)

var classes = map[ErrorCode]Class{
	ErrCodeStaleSnapshot:    ClassStale,
	ErrCodeReadOnly:         ClassPolicy,
	ErrCodeHighRisk:         ClassPolicy,
	ErrCodeApprovalRequired: ClassPolicy,
	ErrCodeApprovalDenied:   ClassPolicy,
	ErrCodeHandleNotFound:   ClassCorrelation,
	ErrCodeHandleConsumed:   ClassCorrelation,
	ErrCodeExecutorMissing:  ClassConfiguration,
	ErrCodeConfigLoad:       ClassConfiguration,
	ErrCodeConfigParse:      ClassConfiguration,
	ErrCodeConfigInvalid:    ClassConfiguration,
	ErrCodeExecution:        ClassExecution,
	ErrCodeToolNotFound:     ClassExecution,
}

// ClassOf returns the recovery class of code.
func ClassOf(code ErrorCode) Class {
	if c, ok := classes[code]; ok {
		return c
	}
	return ClassOther
}
