package core

import (
	"fmt"
)

// Error is the JSON error returned by the control server.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	// Upstream carries the text of a failing upstream response.
	Upstream   any  `json:"upstream_error,omitempty"`
	RetryAfter *int `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrConflict       ErrorType = "conflict_error"
	ErrAcquisition    ErrorType = "acquisition_error"
	ErrUpstream       ErrorType = "upstream_error"
	ErrUnavailable    ErrorType = "unavailable_error"
	ErrAPI            ErrorType = "api_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewConflictError reports an operation the current session state does not
// allow.
func NewConflictError(message string) *Error {
	return &Error{
		Type:    ErrConflict,
		Message: message,
	}
}

// NewAcquisitionError reports a failed session connect. step names the
// resource that could not be acquired.
func NewAcquisitionError(step string, underlying error) *Error {
	return &Error{
		Type:    ErrAcquisition,
		Message: fmt.Sprintf("connect failed at %s: %v", step, underlying),
		Param:   step,
	}
}

// NewUpstreamError wraps a failing upstream call.
func NewUpstreamError(service string, underlying error) *Error {
	return &Error{
		Type:     ErrUpstream,
		Message:  fmt.Sprintf("%s: %v", service, underlying),
		Upstream: underlying.Error(),
	}
}

// NewUnavailableError reports a feature that is not configured.
func NewUnavailableError(message string) *Error {
	return &Error{
		Type:    ErrUnavailable,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrAcquisition, ErrUpstream, ErrAPI:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.Upstream.(error); ok {
		return ue
	}
	return nil
}
