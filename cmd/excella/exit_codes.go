package main

import (
	"errors"

	apperrors "github.com/odvcencio/excella/pkg/errors"
)

// Process exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitConfig   = 2
	exitDenied   = 3
	exitInvalid  = 4
	exitConflict = 5
)

// exitByCode maps structured error codes onto exit codes. Codes absent
// here exit with exitFailure.
var exitByCode = map[apperrors.ErrorCode]int{
	apperrors.ErrCodeConfigLoad:       exitConfig,
	apperrors.ErrCodeConfigParse:      exitConfig,
	apperrors.ErrCodeConfigInvalid:    exitConfig,
	apperrors.ErrCodeExecutorMissing:  exitConfig,
	apperrors.ErrCodeApprovalRequired: exitDenied,
	apperrors.ErrCodeApprovalDenied:   exitDenied,
	apperrors.ErrCodeReadOnly:         exitDenied,
	apperrors.ErrCodeHighRisk:         exitDenied,
	apperrors.ErrCodeInvalidInput:     exitInvalid,
	apperrors.ErrCodeToolNotFound:     exitInvalid,
	apperrors.ErrCodeHandleNotFound:   exitInvalid,
	apperrors.ErrCodeStaleSnapshot:    exitConflict,
	apperrors.ErrCodeHandleConsumed:   exitConflict,
}

// exitError pins an exit code onto an error regardless of its code.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) Unwrap() error { return e.err }

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var pinned exitError
	if errors.As(err, &pinned) && pinned.code != exitOK {
		return pinned.code
	}
	if appErr, ok := apperrors.As(err); ok {
		if code, ok := exitByCode[appErr.Code]; ok {
			return code
		}
	}
	return exitFailure
}
