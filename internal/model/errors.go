package model

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures surfaced by the distributor and the engine.
type ErrorCode string

const (
	// CodeNotFound indicates a missing envelope, request or assignment.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInvalidRequest indicates malformed caller input.
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// CodeAlreadyTerminal indicates a verdict or reviewer change arrived after
	// the request was resolved. The submission had no effect.
	CodeAlreadyTerminal ErrorCode = "ALREADY_TERMINAL"

	// CodeStorage indicates a persistence failure, including store timeouts.
	CodeStorage ErrorCode = "STORAGE_ERROR"
)

// Error is the typed error returned by every public operation.
//
// Only CodeStorage may indicate transient trouble; the other codes are
// caller errors or informational outcomes.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed, e.g. "resolve current key".
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrInvalidRequest  = &Error{Code: CodeInvalidRequest}
	ErrAlreadyTerminal = &Error{Code: CodeAlreadyTerminal}
	ErrStorage         = &Error{Code: CodeStorage}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NotFound creates a CodeNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequest creates a CodeInvalidRequest error.
func InvalidRequest(op, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Op: op, Message: fmt.Sprintf(format, args...)}
}

// AlreadyTerminal creates a CodeAlreadyTerminal error for a resolved request.
func AlreadyTerminal(op, requestID string, status Status) *Error {
	return &Error{
		Code:    CodeAlreadyTerminal,
		Op:      op,
		Message: fmt.Sprintf("request %s is already %s", requestID, status),
	}
}

// StorageError wraps a persistence failure.
func StorageError(op string, err error) *Error {
	return &Error{Code: CodeStorage, Op: op, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound returns true if err carries CodeNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsInvalidRequest returns true if err carries CodeInvalidRequest.
func IsInvalidRequest(err error) bool { return CodeOf(err) == CodeInvalidRequest }

// IsAlreadyTerminal returns true if err carries CodeAlreadyTerminal.
func IsAlreadyTerminal(err error) bool { return CodeOf(err) == CodeAlreadyTerminal }

// IsStorage returns true if err carries CodeStorage.
func IsStorage(err error) bool { return CodeOf(err) == CodeStorage }
