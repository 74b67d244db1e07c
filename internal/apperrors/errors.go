// Package apperrors defines the coded error type shared by the engine, the
// session service, the stores and the HTTP layer.
package apperrors

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknownParticipant Code = "UNKNOWN_PARTICIPANT"
	CodeUnknownField       Code = "UNKNOWN_FIELD"
	CodeSessionNotFound    Code = "SESSION_NOT_FOUND"
	CodeSessionFull        Code = "SESSION_FULL"
	CodeSessionExists      Code = "SESSION_EXISTS"
	CodeSessionEnded       Code = "SESSION_ENDED"
	CodeRemoteWriteFailed  Code = "REMOTE_WRITE_FAILED"
	CodeInvalidJoinCode    Code = "INVALID_JOIN_CODE"
	CodeInvalidCapacity    Code = "INVALID_CAPACITY"
	CodeInvalidFormat      Code = "INVALID_FORMAT"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeUnavailable        Code = "UNAVAILABLE"
)

// HTTPStatus maps a code to the status the API answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeSessionNotFound:
		return http.StatusNotFound
	case CodeSessionFull, CodeSessionExists, CodeSessionEnded:
		return http.StatusConflict
	case CodeUnknownParticipant, CodeUnknownField, CodeInvalidJoinCode,
		CodeInvalidCapacity, CodeInvalidFormat, CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeRemoteWriteFailed:
		return http.StatusBadGateway
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error with a code that wraps cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks. Matching is by code, so any *Error with the
// same code compares equal regardless of message.
var (
	ErrUnknownParticipant = New(CodeUnknownParticipant, "unknown participant")
	ErrUnknownField       = New(CodeUnknownField, "unknown field")
	ErrSessionNotFound    = New(CodeSessionNotFound, "session not found")
	ErrSessionFull        = New(CodeSessionFull, "session is full")
	ErrSessionExists      = New(CodeSessionExists, "session already exists")
	ErrSessionEnded       = New(CodeSessionEnded, "session has ended")
	ErrRemoteWriteFailed  = New(CodeRemoteWriteFailed, "remote write failed")
	ErrInvalidJoinCode    = New(CodeInvalidJoinCode, "invalid join code")
	ErrInvalidCapacity    = New(CodeInvalidCapacity, "invalid capacity")
	ErrInvalidFormat      = New(CodeInvalidFormat, "invalid format")
	ErrInvalidArgument    = New(CodeInvalidArgument, "invalid argument")
	ErrUnavailable        = New(CodeUnavailable, "unavailable")
)

// CodeOf extracts the code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus returns the status for err, defaulting to 500.
func HTTPStatus(err error) int {
	return CodeOf(err).HTTPStatus()
}

// IsContractViolation reports whether err signals a caller bug (a stale
// participant reference or a counter outside the closed set).
func IsContractViolation(err error) bool {
	switch CodeOf(err) {
	case CodeUnknownParticipant, CodeUnknownField:
		return true
	}
	return false
}
