package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "featureflow/internal/errors"
	"featureflow/internal/infrastructure"
	"featureflow/internal/middleware"
	"featureflow/internal/operations"
	"featureflow/internal/pubsub"
	"featureflow/pkg/contracts/domain"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 1000
)

var jobStatuses = []string{
	string(operations.JobStatusPending),
	string(operations.JobStatusRunning),
	string(operations.JobStatusCompleted),
	string(operations.JobStatusFailed),
	string(operations.JobStatusCancelled),
}

// PipelineHandler serves the pipeline, job, trigger and weights endpoints
type PipelineHandler struct {
	service      PipelineServiceInterface
	validator    *middleware.Validator
	query        *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	tracer       trace.Tracer
	logger       *slog.Logger
}

// NewPipelineHandler creates a pipeline handler
func NewPipelineHandler(service PipelineServiceInterface, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *PipelineHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}

	return &PipelineHandler{
		service:      service,
		validator:    middleware.NewValidator(),
		query:        middleware.NewQueryParamValidator(errorHandler),
		errorHandler: errorHandler,
		tracer:       otel.Tracer("pipeline-handler"),
		logger:       logger.With(slog.String("handler", "pipeline")),
	}
}

// PipelineRequest is the body of POST /pipelines
type PipelineRequest struct {
	Resolution  string               `json:"resolution" validate:"required,resolution"`
	Instruments []domain.Instrument  `json:"instruments" validate:"required,min=1,max=2,dive"`
	Overrides   operations.Overrides `json:"overrides"`
	Async       bool                 `json:"async"`
}

// Bind implements render.Binder; field checks run through the validator
func (p *PipelineRequest) Bind(r *http.Request) error {
	for i := range p.Instruments {
		p.Instruments[i].Symbol = strings.TrimSpace(p.Instruments[i].Symbol)
	}
	return nil
}

// toOperation converts a validated body into the coordinator's request
func (p *PipelineRequest) toOperation() (operations.PipelineRequest, error) {
	res, err := domain.ParseResolution(p.Resolution)
	if err != nil {
		return operations.PipelineRequest{}, apierrors.NewInvalidParameterError("resolution", p.Resolution)
	}
	return operations.PipelineRequest{
		Resolution:  res,
		Instruments: p.Instruments,
		Overrides:   p.Overrides,
	}, nil
}

// TriggerRequest is the body of POST /triggers
type TriggerRequest struct {
	pubsub.Message
}

// Bind implements render.Binder
func (t *TriggerRequest) Bind(r *http.Request) error {
	return nil
}

// AcceptedResponse acknowledges queued work
type AcceptedResponse struct {
	JobID  string            `json:"job_id,omitempty"`
	Status string            `json:"status"`
	Links  map[string]string `json:"links,omitempty"`
}

// Routes returns a chi router for the pipeline endpoints
func (h *PipelineHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/pipelines", h.RunPipeline)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.ListJobs)
		r.Get("/{id}", h.GetJob)
		r.Delete("/{id}", h.CancelJob)
		r.Post("/{id}/cancel", h.CancelJob)
	})

	r.Post("/triggers", h.Trigger)
	r.Get("/ffd/weights", h.Weights)

	return r
}

// RunPipeline handles POST /pipelines. Synchronous requests return the run
// outcomes; async requests are queued and answered with 202.
func (h *PipelineHandler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "pipeline_handler.run_pipeline",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var body PipelineRequest
	if err := render.Bind(r, &body); err != nil {
		h.fail(w, r, span, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(body); err != nil {
		h.fail(w, r, span, err)
		return
	}
	req, err := body.toOperation()
	if err != nil {
		h.fail(w, r, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("pipeline.resolution", req.Resolution.String()),
		attribute.Int("pipeline.instruments", len(req.Instruments)),
		attribute.Bool("pipeline.async", body.Async),
	)

	if body.Async {
		job, err := h.service.SubmitPipeline(ctx, req)
		if err != nil {
			h.fail(w, r, span, err)
			return
		}
		w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, AcceptedResponse{
			JobID:  job.ID,
			Status: string(job.Status),
			Links:  map[string]string{"self": "/api/v1/jobs/" + job.ID},
		})
		return
	}

	resp, err := h.service.RunPipeline(ctx, req)
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, resp)
}

// GetJob handles GET /jobs/{id}
func (h *PipelineHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

// ListJobs handles GET /jobs?status=&limit=
func (h *PipelineHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status, ok := h.query.ValidateEnum(w, r, "status", jobStatuses, "")
	if !ok {
		return
	}
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, maxJobLimit, defaultJobLimit)
	if !ok {
		return
	}

	jobs, err := h.service.ListJobs(r.Context(), operations.JobFilter{
		Status: operations.JobStatus(status),
		Limit:  limit,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJob handles DELETE /jobs/{id} and POST /jobs/{id}/cancel
func (h *PipelineHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.CancelJob(r.Context(), id); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "job cancelled", slog.String("job_id", id))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, AcceptedResponse{JobID: id, Status: "cancelling"})
}

// Trigger handles POST /triggers
func (h *PipelineHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var body TriggerRequest
	if err := render.Bind(r, &body); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(body.Message); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	msg := body.Message
	if msg.TraceID == "" {
		msg.TraceID = infrastructure.GetTraceID(r.Context())
	}
	if err := h.service.Trigger(r.Context(), msg); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, AcceptedResponse{Status: "accepted"})
}

// Weights handles GET /ffd/weights?fdim=&thresh=
func (h *PipelineHandler) Weights(w http.ResponseWriter, r *http.Request) {
	fdim, ok := h.query.ValidateFloat(w, r, "fdim")
	if !ok {
		return
	}
	thresh, ok := h.query.ValidateFloat(w, r, "thresh")
	if !ok {
		return
	}
	resp, err := h.service.Weights(r.Context(), fdim, thresh)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// fail records err on the span and writes the problem response. A request
// folded into an in-flight run is reported as 409.
func (h *PipelineHandler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	if errors.Is(err, operations.ErrCoalesced) {
		span.SetAttributes(attribute.Bool("pipeline.coalesced", true))
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			apierrors.ErrCoalesced.StatusCode, apierrors.ErrCoalesced.ErrorCode,
			apierrors.ErrCoalesced.Message, err.Error()))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	h.errorHandler.HandleError(w, r, err)
}
