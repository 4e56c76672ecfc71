package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeStaging           ErrorType = "staging"
	ErrorTypeEngineUnavailable ErrorType = "engine_unavailable"
	ErrorTypeEngineFailure     ErrorType = "engine_failure"
	ErrorTypeEngineProtocol    ErrorType = "engine_protocol"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeInternal          ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails returns a copy of the error carrying a human readable detail
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func newError(t ErrorType, status int, message string, cause error) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message, cause)
}

// NewStagingError is returned when an upload cannot be written to the staging area
func NewStagingError(message string, cause error) *AppError {
	return newError(ErrorTypeStaging, http.StatusInternalServerError, message, cause)
}

// NewEngineUnavailableError is returned when no engine runtime can be located
func NewEngineUnavailableError(message string, cause error) *AppError {
	return newError(ErrorTypeEngineUnavailable, http.StatusServiceUnavailable, message, cause)
}

// NewEngineFailureError is returned when the engine exits with a non-zero status
func NewEngineFailureError(message string, cause error) *AppError {
	return newError(ErrorTypeEngineFailure, http.StatusBadGateway, message, cause)
}

// NewEngineProtocolError is returned when engine output cannot be decoded
func NewEngineProtocolError(message string, cause error) *AppError {
	return newError(ErrorTypeEngineProtocol, http.StatusBadGateway, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, message, cause)
}

// IsType checks if the error chain contains an AppError of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetType extracts the error type, defaulting to internal
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}
