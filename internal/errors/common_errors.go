package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeValidation          ErrorType = "VALIDATION"
	ErrTypeInsufficientData    ErrorType = "INSUFFICIENT_DATA"
	ErrTypeUpstreamUnavailable ErrorType = "UPSTREAM_UNAVAILABLE"
	ErrTypeComputation         ErrorType = "COMPUTATION"
	ErrTypeStorage             ErrorType = "STORAGE"
	ErrTypeNotFound            ErrorType = "NOT_FOUND"
	ErrTypeConfig              ErrorType = "CONFIG"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Helper functions for common error types

// NewAppValidationError creates a validation error for AppError type
func NewAppValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewInvalidParameterError reports a computation parameter outside its domain.
// It is a validation error carrying the parameter name and value.
func NewInvalidParameterError(name string, value interface{}) *AppError {
	return NewAppError(ErrTypeValidation, fmt.Sprintf("invalid parameter %s=%v", name, value), nil).
		WithContext("parameter", name).
		WithContext("value", value)
}

// NewInsufficientDataError creates an error for inputs too short to produce output
func NewInsufficientDataError(message string) *AppError {
	return NewAppError(ErrTypeInsufficientData, message, nil)
}

// NewUpstreamUnavailableError wraps a transient failure of a collaborator
func NewUpstreamUnavailableError(message string, cause error) *AppError {
	return NewAppError(ErrTypeUpstreamUnavailable, message, cause)
}

// NewComputationError creates an error for numerical failures
func NewComputationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeComputation, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// TypeOf returns the type of the outermost AppError in the chain, or "" if none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == t {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsRetryable reports whether err is transient and worth another attempt.
// Only upstream and storage failures are retried; bad input never gets better.
func IsRetryable(err error) bool {
	return IsType(err, ErrTypeUpstreamUnavailable) || IsType(err, ErrTypeStorage)
}

// IsInsufficientData is shorthand used by pipeline stages that treat short input as a skip.
func IsInsufficientData(err error) bool {
	return IsType(err, ErrTypeInsufficientData)
}
