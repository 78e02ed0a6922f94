package core

import (
	"fmt"
)

// Error represents a protocol-visible error.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Cause     any       `json:"cause,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
//
// Configuration and transport errors propagate as protocol-level error
// frames; invocation errors are always recovered locally into a
// {success:false, error} payload; correlation errors are counted and
// dropped, never surfaced.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrConfiguration  ErrorType = "configuration_error"
	ErrInvocation     ErrorType = "invocation_error"
	ErrTransport      ErrorType = "transport_error"
	ErrCorrelation    ErrorType = "correlation_error"
	ErrAPI            ErrorType = "api_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewConfigurationError creates a configuration error. These fail fast at
// adapter-open time; a session that hits one never reaches active.
func NewConfigurationError(message string) *Error {
	return &Error{
		Type:    ErrConfiguration,
		Message: message,
	}
}

// NewInvocationError creates an invocation error. These never terminate a
// session; they are coerced into result payloads at the dispatch boundary.
func NewInvocationError(name string, underlying error) *Error {
	return &Error{
		Type:    ErrInvocation,
		Message: fmt.Sprintf("%s: %v", name, underlying),
		Cause:   underlying.Error(),
	}
}

// NewTransportError creates a transport error.
func NewTransportError(message string) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: message,
	}
}

// NewCorrelationError creates a correlation error.
func NewCorrelationError(message string) *Error {
	return &Error{
		Type:    ErrCorrelation,
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

// IsFatal reports whether the error should close the owning session.
// Only configuration and transport failures are fatal; everything else
// is recovered into result payloads.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrConfiguration, ErrTransport:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.Cause.(error); ok {
		return ue
	}
	return nil
}
