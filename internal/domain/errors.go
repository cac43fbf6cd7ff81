package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes surfaced in the standard error envelope.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeAgentConfigMissing = "AGENT_CONFIG_MISSING"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUpstreamFailure    = "UPSTREAM_FAILURE"
	CodeInternal           = "INTERNAL"
)

// AppError is a domain error carrying an error code and the HTTP status the
// controller layer should translate it to. Details is a string, []string, or
// a structured object; raw upstream errors never ride along.
type AppError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	HTTPStatus int         `json:"-"`
	Details    interface{} `json:"details,omitempty"`
	cause      error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error without leaking it to clients.
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails attaches client-visible details.
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

func newAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// ErrValidation builds a 400 VALIDATION_ERROR.
func ErrValidation(message string) *AppError {
	return newAppError(CodeValidation, message, http.StatusBadRequest)
}

// ErrUnauthenticated builds a 401 UNAUTHENTICATED.
func ErrUnauthenticated(message string) *AppError {
	return newAppError(CodeUnauthenticated, message, http.StatusUnauthorized)
}

// ErrAgentConfigMissing builds the 401 returned when no credential source
// yields a usable tenant for the given agent/event.
func ErrAgentConfigMissing(agentID, event string) *AppError {
	msg := fmt.Sprintf("no credentials resolved for agent %q during %s", agentID, event)
	return newAppError(CodeAgentConfigMissing, msg, http.StatusUnauthorized)
}

// ErrNotFound builds a 404 NOT_FOUND.
func ErrNotFound(message string) *AppError {
	return newAppError(CodeNotFound, message, http.StatusNotFound)
}

// ErrConflict builds a 409 CONFLICT.
func ErrConflict(message string) *AppError {
	return newAppError(CodeConflict, message, http.StatusConflict)
}

// ErrRateLimited builds a 429 RATE_LIMITED.
func ErrRateLimited(message string) *AppError {
	return newAppError(CodeRateLimited, message, http.StatusTooManyRequests)
}

// ErrUpstream builds a 502 UPSTREAM_FAILURE.
func ErrUpstream(message string) *AppError {
	return newAppError(CodeUpstreamFailure, message, http.StatusBadGateway)
}

// ErrInternal builds a 500 INTERNAL with an opaque message.
func ErrInternal(message string) *AppError {
	if message == "" {
		message = "internal error"
	}
	return newAppError(CodeInternal, message, http.StatusInternalServerError)
}

// AsAppError extracts an *AppError from err, or wraps err as INTERNAL.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal("internal error").WithCause(err)
}
