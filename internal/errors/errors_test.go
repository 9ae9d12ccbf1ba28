package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name        string
		appError    *AppError
		wantMessage string
	}{
		{
			name:        "error without cause",
			appError:    NewInsufficientDataError("need 4 samples"),
			wantMessage: "[INSUFFICIENT_DATA] need 4 samples",
		},
		{
			name:        "error with cause",
			appError:    NewUpstreamUnavailableError("fetch bars", fmt.Errorf("connection refused")),
			wantMessage: "[UPSTREAM_UNAVAILABLE] fetch bars: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMessage, tt.appError.Error())
		})
	}
}

func TestNewInvalidParameterError(t *testing.T) {
	err := NewInvalidParameterError("fdim", 1.5)

	assert.Equal(t, ErrTypeValidation, err.Type)
	assert.Equal(t, "fdim", err.Context["parameter"])
	assert.Equal(t, 1.5, err.Context["value"])
}

func TestIsType(t *testing.T) {
	base := NewComputationError("spline fit", nil)
	wrapped := fmt.Errorf("emd stage: %w", base)
	nested := NewStorageError("write batch", NewUpstreamUnavailableError("db down", nil))

	assert.True(t, IsType(wrapped, ErrTypeComputation))
	assert.False(t, IsType(wrapped, ErrTypeValidation))
	assert.True(t, IsType(nested, ErrTypeStorage))
	assert.True(t, IsType(nested, ErrTypeUpstreamUnavailable))
	assert.False(t, IsType(errors.New("plain"), ErrTypeComputation))
	assert.False(t, IsType(nil, ErrTypeComputation))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "upstream", err: NewUpstreamUnavailableError("x", nil), want: true},
		{name: "storage", err: NewStorageError("x", nil), want: true},
		{name: "validation", err: NewAppValidationError("x")},
		{name: "insufficient", err: NewInsufficientDataError("x")},
		{name: "plain", err: errors.New("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrTypeNotFound, TypeOf(NewNotFoundError("job")))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("x")))
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "validation", err: NewAppValidationError("bad"), wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED"},
		{name: "insufficient", err: NewInsufficientDataError("short"), wantStatus: http.StatusUnprocessableEntity, wantCode: "INSUFFICIENT_DATA"},
		{name: "upstream", err: NewUpstreamUnavailableError("down", nil), wantStatus: http.StatusServiceUnavailable, wantCode: "UPSTREAM_UNAVAILABLE"},
		{name: "computation", err: NewComputationError("nan", nil), wantStatus: http.StatusInternalServerError, wantCode: "COMPUTATION_FAILED"},
		{name: "storage", err: NewStorageError("tx", nil), wantStatus: http.StatusInternalServerError, wantCode: "STORAGE_FAILED"},
		{name: "api error passes through", err: ErrCoalesced, wantStatus: http.StatusConflict, wantCode: "COALESCED"},
		{name: "plain", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
			assert.Equal(t, tt.wantCode, got.ErrorCode)
		})
	}
}

func TestErrorHandler_HandleError(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := NewErrorHandler(logger, false)

	t.Run("insufficient data", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/pipelines", nil)
		rec := httptest.NewRecorder()

		h.HandleError(rec, req, NewInsufficientDataError("only 2 bars"))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, ContentTypeProblem, rec.Header().Get("Content-Type"))
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, TypeInsufficientData, body["type"])
		assert.Equal(t, "INSUFFICIENT_DATA", body["error_code"])
		assert.Equal(t, "/api/v1/pipelines", body["instance"])
	})

	t.Run("context cancelled", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		rec := httptest.NewRecorder()

		h.HandleError(rec, req, fmt.Errorf("run: %w", context.DeadlineExceeded))

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("nil error writes nothing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		rec := httptest.NewRecorder()

		h.HandleError(rec, req, nil)

		assert.Equal(t, 0, rec.Body.Len())
	})
}

func TestErrorHandler_Verbose(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipelines", nil)

	quiet := httptest.NewRecorder()
	NewErrorHandler(logger, false).HandleError(quiet, req, NewStorageError("commit", errors.New("disk full")))
	verbose := httptest.NewRecorder()
	NewErrorHandler(logger, true).HandleError(verbose, req, NewStorageError("commit", errors.New("disk full")))

	var q, v map[string]interface{}
	require.NoError(t, json.Unmarshal(quiet.Body.Bytes(), &q))
	require.NoError(t, json.Unmarshal(verbose.Body.Bytes(), &v))
	assert.NotContains(t, q, "error")
	assert.Contains(t, v["error"], "disk full")
	assert.Equal(t, TypeStorage, v["type"])
}

func TestErrorHandler_RouterFallbacks(t *testing.T) {
	h := NewErrorHandler(slog.New(slog.NewJSONHandler(io.Discard, nil)), false)

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ContentTypeProblem, rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, TypeMethod, body["type"])
	assert.Equal(t, "Method Not Allowed", body["title"])
	assert.Equal(t, "/healthz", body["instance"])
}

func TestFromError_Details(t *testing.T) {
	upstream := FromError(NewUpstreamUnavailableError("fetch bars", errors.New("connection refused")))
	assert.Equal(t, "connection refused", upstream.Details)

	param := FromError(NewInvalidParameterError("fdim", 1.5))
	details, ok := param.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "fdim", details["parameter"])

	assert.Nil(t, FromError(NewNotFoundError("job 7")).Details)
}

func TestErrValidation(t *testing.T) {
	err := ErrValidation("resolution", "must be one of 1Min 5Min 15Min 1H 4H 1D")

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	details, ok := err.Details.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, details.Errors, 1)
	assert.Equal(t, "resolution", details.Errors[0].Field)
}
