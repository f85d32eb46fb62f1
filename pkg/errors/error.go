// Package errors defines excella's structured error: a code the caller can
// branch on, context for logs, and a message fit for the end user.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

// Error is a coded failure. Only stale-snapshot errors are retryable unless
// marked otherwise.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
	// Origin is the file:line that created the error.
	Origin      string
	Retryable   bool
	UserMessage string
	Remediation []string
}

// New creates an error with code.
func New(code ErrorCode, message string) *Error {
	return newError(code, message, nil)
}

// Wrap attaches code and message to err. Wrapping nil yields nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return newError(code, message, err)
}

func newError(code ErrorCode, message string, cause error) *Error {
	e := &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: code == ErrCodeStaleSnapshot,
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Origin = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return e
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUserMessage sets the text shown to people instead of Message.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// WithRemediation replaces the suggested next steps. No tips keeps the
// current ones.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) > 0 {
		e.Remediation = slices.Clone(tips)
	}
	return e
}

// Error renders "[CODE] message {k: v, ...}: cause" with sorted context.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if len(e.Context) > 0 {
		b.WriteString(" {")
		for i, k := range slices.Sorted(maps.Keys(e.Context)) {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %v", k, e.Context[k])
		}
		b.WriteString("}")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Class() Class { return ClassOf(e.Code) }

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if err == nil || !stderrors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// IsCode reports whether err carries code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// GetCode returns err's code; plain errors count as internal.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a structured error marked retryable.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}

// UserFacing returns text safe to show a person: the UserMessage when set,
// then the structured Message, then the raw error text.
func UserFacing(err error) string {
	e, ok := As(err)
	switch {
	case err == nil:
		return ""
	case !ok:
		return err.Error()
	case strings.TrimSpace(e.UserMessage) != "":
		return e.UserMessage
	}
	return e.Message
}
