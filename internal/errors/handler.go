package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ContentTypeProblem is the media type of every error body
const ContentTypeProblem = "application/problem+json"

// Problem types, relative URIs per RFC 7807
const (
	TypeValidation       = "/errors/validation"
	TypeNotFound         = "/errors/not-found"
	TypeMethod           = "/errors/method-not-allowed"
	TypeInternal         = "/errors/internal"
	TypeServiceDown      = "/errors/service-unavailable"
	TypeTimeout          = "/errors/timeout"
	TypeConflict         = "/errors/conflict"
	TypeInsufficientData = "/errors/data/insufficient"
	TypeComputation      = "/errors/computation"
	TypeStorage          = "/errors/storage"
)

var problemTypes = map[string]string{
	"VALIDATION_FAILED":    TypeValidation,
	"INVALID_REQUEST":      TypeValidation,
	"NOT_FOUND":            TypeNotFound,
	"COALESCED":            TypeConflict,
	"INSUFFICIENT_DATA":    TypeInsufficientData,
	"UPSTREAM_UNAVAILABLE": TypeServiceDown,
	"STORAGE_FAILED":       TypeStorage,
	"COMPUTATION_FAILED":   TypeComputation,
}

// ProblemDetails is an RFC 7807 body. Extensions are flattened into the
// top-level object.
type ProblemDetails struct {
	Type       string
	Title      string
	Status     int
	Detail     string
	Instance   string
	Extensions map[string]interface{}
}

func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, len(pd.Extensions)+5)
	for k, v := range pd.Extensions {
		data[k] = v
	}
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	return json.Marshal(data)
}

func NewProblemDetails(status int, problemType, detail string, r *http.Request) *ProblemDetails {
	pd := &ProblemDetails{
		Type:       problemType,
		Title:      http.StatusText(status),
		Status:     status,
		Detail:     detail,
		Extensions: make(map[string]interface{}),
	}
	if r != nil {
		pd.Instance = r.URL.Path
		if id := middleware.GetReqID(r.Context()); id != "" {
			pd.Extensions["request_id"] = id
		}
	}
	return pd
}

// With sets an extension member
func (pd *ProblemDetails) With(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// Write sends pd with the problem media type
func (pd *ProblemDetails) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentTypeProblem)
	w.WriteHeader(pd.Status)
	_ = json.NewEncoder(w).Encode(pd)
}

// ErrorHandler turns handler errors into logged problem responses
type ErrorHandler struct {
	logger *slog.Logger
	// verbose adds the raw error text to 5xx responses
	verbose bool
}

func NewErrorHandler(logger *slog.Logger, verbose bool) *ErrorHandler {
	return &ErrorHandler{
		logger:  logger.With(slog.String("component", "error_handler")),
		verbose: verbose,
	}
}

// HandleError logs err and writes its problem response. A nil err writes nothing.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	problem := h.ErrorToProblem(err, r)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
		if h.verbose {
			problem.With("error", err.Error())
		}
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", problem.Status),
	)
	problem.Write(w)
}

// ErrorToProblem maps err onto a problem. Context expiry becomes 504.
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout,
			"The request took too long to process and was cancelled", r)
	}

	apiErr := FromError(err)
	typ, ok := problemTypes[apiErr.ErrorCode]
	if !ok {
		typ = TypeInternal
	}
	problem := NewProblemDetails(apiErr.StatusCode, typ, apiErr.Message, r).
		With("error_code", apiErr.ErrorCode)
	if apiErr.Details != nil {
		problem.With("details", apiErr.Details)
	}
	return problem
}

// NotFound is the router's fallback for unknown routes
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	NewProblemDetails(http.StatusNotFound, TypeNotFound, "The requested resource was not found", r).Write(w)
}

// MethodNotAllowed is the router's fallback for known routes with another method
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	NewProblemDetails(http.StatusMethodNotAllowed, TypeMethod,
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method), r).Write(w)
}
