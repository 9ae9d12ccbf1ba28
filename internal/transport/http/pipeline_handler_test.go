package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "featureflow/internal/errors"
	"featureflow/internal/operations"
	"featureflow/internal/pubsub"
	"featureflow/internal/services"
	"featureflow/pkg/contracts/domain"
)

type stubService struct {
	runErr     error
	lastReq    operations.PipelineRequest
	submitted  bool
	jobs       map[string]*operations.Job
	cancelled  string
	lastFilter operations.JobFilter
	triggers   []pubsub.Message
}

func newStubService() *stubService {
	return &stubService{jobs: map[string]*operations.Job{
		"job-1": {ID: "job-1", Status: operations.JobStatusCompleted},
	}}
}

func (s *stubService) RunPipeline(_ context.Context, req operations.PipelineRequest) (*services.PipelineResponse, error) {
	s.lastReq = req
	if s.runErr != nil {
		return nil, s.runErr
	}
	return &services.PipelineResponse{
		Message:     "1 runs: 1 completed, 0 skipped, 0 coalesced, 0 failed",
		Resolution:  req.Resolution,
		Instruments: req.Instruments,
		Results:     []operations.RunResult{{Kind: operations.KindSeries, Status: operations.RunCompleted}},
	}, nil
}

func (s *stubService) SubmitPipeline(_ context.Context, req operations.PipelineRequest) (*operations.Job, error) {
	s.lastReq = req
	s.submitted = true
	return &operations.Job{ID: "job-2", Status: operations.JobStatusPending, Request: req}, nil
}

func (s *stubService) GetJob(_ context.Context, id string) (*operations.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, apierrors.NewNotFoundError("job " + id)
	}
	return job, nil
}

func (s *stubService) ListJobs(_ context.Context, filter operations.JobFilter) ([]*operations.Job, error) {
	s.lastFilter = filter
	out := make([]*operations.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (s *stubService) CancelJob(_ context.Context, id string) error {
	if _, ok := s.jobs[id]; !ok {
		return apierrors.NewNotFoundError("job " + id)
	}
	s.cancelled = id
	return nil
}

func (s *stubService) Trigger(_ context.Context, msg pubsub.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.triggers = append(s.triggers, msg)
	return nil
}

func (s *stubService) Weights(_ context.Context, fdim, thresh float64) (*services.WeightsResponse, error) {
	if fdim <= 0 || fdim >= 1 {
		return nil, apierrors.NewInvalidParameterError("fdim", fdim)
	}
	return &services.WeightsResponse{Fdim: fdim, Thresh: thresh, Width: 2, Weights: []float64{1, -fdim}}, nil
}

func newTestRouter(svc PipelineServiceInterface) http.Handler {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := NewPipelineHandler(svc, apierrors.NewErrorHandler(logger, false), logger)
	r := chi.NewRouter()
	r.Mount("/api/v1", h.Routes())
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func problemCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	code, _ := body["error_code"].(string)
	return code
}

func TestRunPipeline(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		runErr   error
		wantCode int
		wantErr  string
	}{
		{
			name:     "single instrument",
			body:     `{"resolution":"5Min","instruments":[{"id":1,"symbol":"BTCUSDT"}]}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "short resolution label",
			body:     `{"resolution":"1h","instruments":[{"id":1,"symbol":"BTCUSDT"},{"id":2,"symbol":"BTCUSDT.P"}]}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "invalid resolution",
			body:     `{"resolution":"7Min","instruments":[{"id":1,"symbol":"BTCUSDT"}]}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "VALIDATION_FAILED",
		},
		{
			name:     "no instruments",
			body:     `{"resolution":"5Min","instruments":[]}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "VALIDATION_FAILED",
		},
		{
			name:     "three instruments",
			body:     `{"resolution":"5Min","instruments":[{"id":1,"symbol":"A"},{"id":2,"symbol":"B"},{"id":3,"symbol":"C"}]}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "VALIDATION_FAILED",
		},
		{
			name:     "missing instrument id",
			body:     `{"resolution":"5Min","instruments":[{"symbol":"BTCUSDT"}]}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "VALIDATION_FAILED",
		},
		{
			name:     "malformed json",
			body:     `{"resolution":`,
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_REQUEST",
		},
		{
			name:     "insufficient data",
			body:     `{"resolution":"5Min","instruments":[{"id":1,"symbol":"BTCUSDT"}]}`,
			runErr:   apierrors.NewInsufficientDataError("need 2 bars"),
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "INSUFFICIENT_DATA",
		},
		{
			name:     "upstream down",
			body:     `{"resolution":"5Min","instruments":[{"id":1,"symbol":"BTCUSDT"}]}`,
			runErr:   apierrors.NewUpstreamUnavailableError("market data unavailable", nil),
			wantCode: http.StatusServiceUnavailable,
			wantErr:  "UPSTREAM_UNAVAILABLE",
		},
		{
			name:     "storage failure",
			body:     `{"resolution":"5Min","instruments":[{"id":1,"symbol":"BTCUSDT"}]}`,
			runErr:   apierrors.NewStorageError("write failed", nil),
			wantCode: http.StatusInternalServerError,
			wantErr:  "STORAGE_FAILED",
		},
		{
			name:     "coalesced",
			body:     `{"resolution":"5Min","instruments":[{"id":1,"symbol":"BTCUSDT"}]}`,
			runErr:   fmt.Errorf("%w: series:1:5Min:0", operations.ErrCoalesced),
			wantCode: http.StatusConflict,
			wantErr:  "COALESCED",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStubService()
			svc.runErr = tt.runErr
			rec := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/pipelines", tt.body)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, problemCode(t, rec))
				return
			}
			var resp services.PipelineResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Len(t, resp.Results, 1)
			assert.True(t, svc.lastReq.Resolution.Valid())
		})
	}
}

func TestRunPipelineAsync(t *testing.T) {
	svc := newStubService()
	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/pipelines",
		`{"resolution":"15Min","instruments":[{"id":1,"symbol":" BTCUSDT "}],"overrides":{"fdim":0.4},"async":true}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/api/v1/jobs/job-2", rec.Header().Get("Location"))

	var resp AcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-2", resp.JobID)
	assert.Equal(t, "pending", resp.Status)

	assert.True(t, svc.submitted)
	assert.Equal(t, domain.Res15Min, svc.lastReq.Resolution)
	assert.Equal(t, "BTCUSDT", svc.lastReq.Instruments[0].Symbol)
	require.NotNil(t, svc.lastReq.Overrides.Fdim)
	assert.InDelta(t, 0.4, *svc.lastReq.Overrides.Fdim, 1e-12)
}

func TestRunPipelineRejectsBadOverride(t *testing.T) {
	rec := do(t, newTestRouter(newStubService()), http.MethodPost, "/api/v1/pipelines",
		`{"resolution":"5Min","instruments":[{"id":1,"symbol":"BTCUSDT"}],"overrides":{"fdim":1.5}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
	}{
		{name: "get", method: http.MethodGet, path: "/api/v1/jobs/job-1", wantCode: http.StatusOK},
		{name: "get unknown", method: http.MethodGet, path: "/api/v1/jobs/nope", wantCode: http.StatusNotFound},
		{name: "list", method: http.MethodGet, path: "/api/v1/jobs?status=completed&limit=10", wantCode: http.StatusOK},
		{name: "list bad status", method: http.MethodGet, path: "/api/v1/jobs?status=done", wantCode: http.StatusBadRequest},
		{name: "list bad limit", method: http.MethodGet, path: "/api/v1/jobs?limit=0", wantCode: http.StatusBadRequest},
		{name: "cancel", method: http.MethodDelete, path: "/api/v1/jobs/job-1", wantCode: http.StatusAccepted},
		{name: "cancel via post", method: http.MethodPost, path: "/api/v1/jobs/job-1/cancel", wantCode: http.StatusAccepted},
		{name: "cancel unknown", method: http.MethodDelete, path: "/api/v1/jobs/nope", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(newStubService()), tt.method, tt.path, "")
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestListJobsFilter(t *testing.T) {
	svc := newStubService()
	rec := do(t, newTestRouter(svc), http.MethodGet, "/api/v1/jobs?status=failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, operations.JobStatusFailed, svc.lastFilter.Status)
	assert.Equal(t, defaultJobLimit, svc.lastFilter.Limit)
}

func TestTrigger(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "ohlcv", body: `{"topic":"ohlcv","instrument_id":1}`, wantCode: http.StatusAccepted},
		{name: "vpin", body: `{"topic":"vpin_ohlcv","instrument_id":1,"vpin_id":2}`, wantCode: http.StatusAccepted},
		{name: "unknown topic", body: `{"topic":"trades","instrument_id":1}`, wantCode: http.StatusBadRequest},
		{name: "vpin without id", body: `{"topic":"vpin_ohlcv","instrument_id":1}`, wantCode: http.StatusBadRequest},
		{name: "missing instrument", body: `{"topic":"ohlcv"}`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStubService()
			rec := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/triggers", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusAccepted {
				assert.Len(t, svc.triggers, 1)
			}
		})
	}
}

func TestWeights(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
	}{
		{name: "valid", query: "?fdim=0.5&thresh=0.01", wantCode: http.StatusOK},
		{name: "missing thresh", query: "?fdim=0.5", wantCode: http.StatusBadRequest},
		{name: "not a number", query: "?fdim=abc&thresh=0.01", wantCode: http.StatusBadRequest},
		{name: "out of range", query: "?fdim=2&thresh=0.01", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(newStubService()), http.MethodGet, "/api/v1/ffd/weights"+tt.query, "")
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				var resp services.WeightsResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, []float64{1, -0.5}, resp.Weights)
			}
		})
	}
}

type stubHealth struct{ ready bool }

func (s stubHealth) status(ok string) services.HealthStatus {
	if s.ready {
		return services.HealthStatus{Status: ok}
	}
	return services.HealthStatus{Status: services.StatusNotReady}
}

func (s stubHealth) HealthCheck(context.Context) services.HealthStatus {
	return s.status(services.StatusOK)
}

func (s stubHealth) ReadinessCheck(context.Context) services.HealthStatus {
	return s.status(services.StatusReady)
}

func (s stubHealth) LivenessCheck(context.Context) services.HealthStatus {
	return services.HealthStatus{Status: services.StatusAlive}
}

func TestHealthHandler(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	tests := []struct {
		name     string
		ready    bool
		path     string
		wantCode int
	}{
		{name: "healthy", ready: true, path: "/healthz", wantCode: http.StatusOK},
		{name: "unhealthy", path: "/healthz", wantCode: http.StatusServiceUnavailable},
		{name: "ready", ready: true, path: "/readyz", wantCode: http.StatusOK},
		{name: "not ready", path: "/readyz", wantCode: http.StatusServiceUnavailable},
		{name: "alive regardless", path: "/livez", wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(stubHealth{ready: tt.ready}, logger)
			r := chi.NewRouter()
			r.Get("/healthz", h.HealthCheck)
			r.Get("/readyz", h.ReadinessCheck)
			r.Get("/livez", h.LivenessCheck)

			rec := do(t, r, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
