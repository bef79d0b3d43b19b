package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Queue errors
	ErrCodeItemFailed ErrorCode = "ITEM_FAILED"
	ErrCodeItemPanic  ErrorCode = "ITEM_PANIC"
	ErrCodeRunAborted ErrorCode = "RUN_ABORTED"

	// Permission errors
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodePermissionPrompt ErrorCode = "PERMISSION_PROMPT"

	// Tool errors
	ErrCodeToolNotFound  ErrorCode = "TOOL_NOT_FOUND"
	ErrCodeToolExecution ErrorCode = "TOOL_EXECUTION"
	ErrCodeToolTimeout   ErrorCode = "TOOL_TIMEOUT"

	// Remote errors
	ErrCodeRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrCodeRemoteProtocol    ErrorCode = "REMOTE_PROTOCOL"

	// Storage errors
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error is a coded batchq error. The code survives wrapping with fmt.Errorf
// and travels across the remote bus protocol.
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Retryable   bool
	UserMessage string
}

func build(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: cause,
		Context:    make(map[string]any),
		Retryable:  IsRetryable(cause),
	}
}

// New creates a coded error.
func New(code ErrorCode, message string) *Error {
	return build(code, message, nil)
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return build(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches a code to err, inheriting its retryability. Wrap(nil) is nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return build(code, message, err)
}

// WithContext attaches a key/value pair shown in Error().
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

// WithUserMessage sets the short message shown to people instead of Error().
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// Error renders "[CODE] message {k: v, ...}: cause" with context keys
// sorted.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)
	if len(e.Context) > 0 {
		sb.WriteString(" {")
		for i, k := range slices.Sorted(maps.Keys(e.Context)) {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteByte('}')
	}
	if e.Underlying != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Underlying.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsCode reports whether any coded error in err's chain has code.
func IsCode(err error, code ErrorCode) bool {
	return walk(err, func(e *Error) bool { return e.Code == code })
}

// GetCode is the outermost code in err's chain. Uncoded errors report
// ErrCodeInternal and nil reports "".
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether any coded error in err's chain is retryable.
func IsRetryable(err error) bool {
	return walk(err, func(e *Error) bool { return e.Retryable })
}

// walk visits coded errors from the outside in until match returns true.
func walk(err error, match func(*Error) bool) bool {
	for e, ok := As(err); ok; e, ok = As(e.Underlying) {
		if match(e) {
			return true
		}
	}
	return false
}
