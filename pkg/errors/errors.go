// Package errors defines the gateway's error taxonomy and its mapping to
// HTTP status codes, per the error handling design.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one of the gateway's error kinds.
type Code string

const (
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeUnknownModel        Code = "UNKNOWN_MODEL"
	CodeAuthUnavailable     Code = "AUTH_UNAVAILABLE"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamRejected    Code = "UPSTREAM_REJECTED"
	CodeParseError          Code = "PARSE_ERROR"
	CodeClientDisconnected  Code = "CLIENT_DISCONNECTED"
)

// AppError is the gateway's error type: a stable code, a human message,
// an optional wrapped cause, and — for UpstreamRejected — the upstream
// status code to pass through verbatim.
type AppError struct {
	Code           Code
	Message        string
	Err            error
	UpstreamStatus int // only meaningful for CodeUpstreamRejected
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

// Unauthorized reports a missing or invalid proxy key.
func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message)
}

// UnknownModel reports an external model name absent from the model map.
func UnknownModel(name string) *AppError {
	return New(CodeUnknownModel, fmt.Sprintf("unknown model %q", name))
}

// AuthUnavailable reports that token refresh failed or a post-refresh
// request still came back 403.
func AuthUnavailable(message string, cause error) *AppError {
	return Wrap(CodeAuthUnavailable, message, cause)
}

// UpstreamUnavailable reports retries exhausted on 429/5xx/timeout.
func UpstreamUnavailable(message string, cause error) *AppError {
	return Wrap(CodeUpstreamUnavailable, message, cause)
}

// UpstreamRejected reports a non-retryable 4xx, carrying the original status.
func UpstreamRejected(status int, message string) *AppError {
	return &AppError{Code: CodeUpstreamRejected, Message: message, UpstreamStatus: status}
}

// ParseError reports a malformed upstream frame.
func ParseError(message string, cause error) *AppError {
	return Wrap(CodeParseError, message, cause)
}

// ClientDisconnected reports a downstream socket closed mid-request.
func ClientDisconnected() *AppError {
	return New(CodeClientDisconnected, "client disconnected")
}

// HTTPStatus maps an error to the status code the client surface should
// return, per the error handling design. Errors that are not *AppError
// default to 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeUnknownModel:
		return http.StatusBadRequest
	case CodeAuthUnavailable, CodeUpstreamUnavailable, CodeParseError:
		return http.StatusBadGateway
	case CodeUpstreamRejected:
		if appErr.UpstreamStatus != 0 {
			return appErr.UpstreamStatus
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// As exposes errors.As to callers that only import this package.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is exposes errors.Is to callers that only import this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
