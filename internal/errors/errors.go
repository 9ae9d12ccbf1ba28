package errors

import (
	"errors"
	"net/http"
)

// APIError is the HTTP-facing form of an error
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

// ValidationError is one rejected request field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors carries every rejected field of a request
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message, Details: details}
}

// ErrCoalesced is returned when a run joins one already in flight for its key
var ErrCoalesced = New(http.StatusConflict, "COALESCED", "a run for this key is already in flight; it will run again")

// InvalidRequestWithError reports an undecodable request body
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// ErrValidation reports a single rejected field
func ErrValidation(field, message string) *APIError {
	return NewValidationErrors([]ValidationError{{Field: field, Message: message}})
}

func NewValidationErrors(fields []ValidationError) *APIError {
	return NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed",
		ValidationErrors{Errors: fields})
}

type statusMapping struct {
	status int
	code   string
	// withCause puts the wrapped cause in Details instead of the error context
	withCause bool
}

var typeStatus = map[ErrorType]statusMapping{
	ErrTypeValidation:          {http.StatusBadRequest, "VALIDATION_FAILED", false},
	ErrTypeConfig:              {http.StatusBadRequest, "VALIDATION_FAILED", false},
	ErrTypeInsufficientData:    {http.StatusUnprocessableEntity, "INSUFFICIENT_DATA", false},
	ErrTypeNotFound:            {http.StatusNotFound, "NOT_FOUND", false},
	ErrTypeUpstreamUnavailable: {http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", true},
	ErrTypeStorage:             {http.StatusInternalServerError, "STORAGE_FAILED", true},
	ErrTypeComputation:         {http.StatusInternalServerError, "COMPUTATION_FAILED", true},
}

// FromError maps err onto an APIError. APIErrors pass through; AppErrors map
// by type; anything else is an internal error.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return NewWithDetails(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error", err.Error())
	}

	m, ok := typeStatus[appErr.Type]
	if !ok {
		m = typeStatus[ErrTypeComputation]
	}
	out := New(m.status, m.code, appErr.Message)
	switch {
	case m.withCause && appErr.Cause != nil:
		out.Details = appErr.Cause.Error()
	case !m.withCause && len(appErr.Context) > 0:
		out.Details = appErr.Context
	}
	return out
}
