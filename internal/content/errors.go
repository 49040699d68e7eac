package content

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable, machine-readable failure classification surfaced to
// operators and API callers.
type Code string

// Failure codes shared by the pipeline, the publishing layer and the queue.
const (
	CodeNotFound                Code = "NotFound"
	CodeAlreadyUsed             Code = "AlreadyUsed"
	CodeInvalidTransition       Code = "InvalidTransition"
	CodeNoIntegrationConfigured Code = "NoIntegrationConfigured"
	CodeIntegrationInactive     Code = "IntegrationInactive"
	CodeAuthExpired             Code = "AuthExpired"
	CodePlatformRejected        Code = "PlatformRejected"
	CodePlatformUnreachable     Code = "PlatformUnreachable"
	CodeValidationFailed        Code = "ValidationFailed"
	CodeExhausted               Code = "Exhausted"
	CodeConflict                Code = "Conflict"
	CodeInternal                Code = "Internal"
)

// Sentinel values for errors.Is matching. Any *Error with the same Code
// matches its sentinel.
var (
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrAlreadyUsed             = &Error{Code: CodeAlreadyUsed}
	ErrInvalidTransition       = &Error{Code: CodeInvalidTransition}
	ErrNoIntegrationConfigured = &Error{Code: CodeNoIntegrationConfigured}
	ErrIntegrationInactive     = &Error{Code: CodeIntegrationInactive}
	ErrAuthExpired             = &Error{Code: CodeAuthExpired}
	ErrPlatformRejected        = &Error{Code: CodePlatformRejected}
	ErrPlatformUnreachable     = &Error{Code: CodePlatformUnreachable}
	ErrValidationFailed        = &Error{Code: CodeValidationFailed}
	ErrExhausted               = &Error{Code: CodeExhausted}
	ErrConflict                = &Error{Code: CodeConflict}

	// ErrKeywordUsed is returned by the state machine when a transition would
	// move a used keyword. Callers treat it as a no-op.
	ErrKeywordUsed = &Error{Code: CodeAlreadyUsed, Message: "keyword already used"}
)

// Error carries a Code plus the operation and message that produced it.
type Error struct {
	Code      Code
	Op        string
	Message   string
	Retryable bool
	Err       error
}

// Error implements error.
func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	parts = append(parts, string(e.Code))
	if op := strings.TrimSpace(e.Op); op != "" {
		parts = append(parts, op)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error sharing the same Code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with code and op. A nil err still yields a tagged error.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the Code of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsPermanent reports whether retrying err cannot change the outcome.
func IsPermanent(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Retryable {
		return false
	}
	switch e.Code {
	case CodeNotFound, CodeAlreadyUsed, CodeInvalidTransition, CodeNoIntegrationConfigured,
		CodeIntegrationInactive, CodeAuthExpired, CodeValidationFailed, CodePlatformRejected, CodeExhausted:
		return true
	default:
		return false
	}
}
