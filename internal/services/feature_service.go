package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "featureflow/internal/errors"
	"featureflow/internal/features"
	"featureflow/internal/infrastructure"
	"featureflow/internal/operations"
	"featureflow/internal/pubsub"
	"featureflow/pkg/contracts/domain"
)

// Runner executes a pipeline request and reports every run, e.g. the coordinator
type Runner interface {
	Run(ctx context.Context, req operations.PipelineRequest) ([]operations.RunResult, error)
}

// Jobs is the asynchronous side of the pipeline API
type Jobs interface {
	Submit(ctx context.Context, req operations.PipelineRequest) (*operations.Job, error)
	GetJob(id string) (*operations.Job, error)
	ListJobs(filter operations.JobFilter) ([]*operations.Job, error)
	CancelJob(id string) error
}

// PipelineResponse is the result of a synchronous pipeline request
type PipelineResponse struct {
	Message     string                 `json:"message"`
	Resolution  domain.Resolution      `json:"resolution"`
	Instruments []domain.Instrument    `json:"instruments"`
	Elapsed     float64                `json:"elapsed_seconds"`
	Results     []operations.RunResult `json:"results"`
}

// WeightsResponse previews the FFD kernel for a parameter choice
type WeightsResponse struct {
	Fdim    float64   `json:"fdim"`
	Thresh  float64   `json:"thresh"`
	Width   int       `json:"width"`
	Weights []float64 `json:"weights"`
}

// maxPreviewWidth bounds the weights endpoint; small thresholds grow W quickly
const maxPreviewWidth = 100000

// FeatureService exposes pipeline execution to the transport layer
type FeatureService struct {
	runner    Runner
	jobs      Jobs
	publisher *pubsub.Broker
	logger    *slog.Logger
}

// NewFeatureService creates a feature service. jobs and publisher may be nil,
// which disables asynchronous requests and triggers respectively.
func NewFeatureService(runner Runner, jobs Jobs, publisher *pubsub.Broker, logger *slog.Logger) *FeatureService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &FeatureService{
		runner:    runner,
		jobs:      jobs,
		publisher: publisher,
		logger:    logger.With(slog.String("service", "features")),
	}
}

// RunPipeline executes req and waits for every run. When every run was folded
// into one already in flight the error wraps operations.ErrCoalesced.
func (s *FeatureService) RunPipeline(ctx context.Context, req operations.PipelineRequest) (*PipelineResponse, error) {
	start := time.Now()
	s.logger.InfoContext(ctx, "pipeline requested",
		slog.String("resolution", req.Resolution.String()),
		slog.Int("instruments", len(req.Instruments)))

	results, err := s.runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	coalesced := 0
	for _, r := range results {
		if r.Status == operations.RunCoalesced {
			coalesced++
		}
	}
	if len(results) > 0 && coalesced == len(results) {
		return nil, fmt.Errorf("%w: %s", operations.ErrCoalesced, results[0].Key)
	}

	return &PipelineResponse{
		Message:     summarize(results),
		Resolution:  req.Resolution,
		Instruments: req.Instruments,
		Elapsed:     time.Since(start).Seconds(),
		Results:     results,
	}, nil
}

// SubmitPipeline queues req and returns the pending job
func (s *FeatureService) SubmitPipeline(ctx context.Context, req operations.PipelineRequest) (*operations.Job, error) {
	if s.jobs == nil {
		return nil, apperrors.NewUpstreamUnavailableError("asynchronous pipelines are disabled", nil)
	}
	return s.jobs.Submit(ctx, req)
}

// GetJob returns a job by ID
func (s *FeatureService) GetJob(_ context.Context, id string) (*operations.Job, error) {
	if s.jobs == nil {
		return nil, apperrors.NewNotFoundError("job " + id)
	}
	return s.jobs.GetJob(id)
}

// ListJobs lists jobs newest first
func (s *FeatureService) ListJobs(_ context.Context, filter operations.JobFilter) ([]*operations.Job, error) {
	if s.jobs == nil {
		return []*operations.Job{}, nil
	}
	return s.jobs.ListJobs(filter)
}

// CancelJob cancels a pending or running job
func (s *FeatureService) CancelJob(_ context.Context, id string) error {
	if s.jobs == nil {
		return apperrors.NewNotFoundError("job " + id)
	}
	return s.jobs.CancelJob(id)
}

// Trigger publishes msg on the broker as if new bars had been written
func (s *FeatureService) Trigger(ctx context.Context, msg pubsub.Message) error {
	if s.publisher == nil {
		return apperrors.NewUpstreamUnavailableError("trigger channel is disabled", nil)
	}
	if msg.Source == "" {
		msg.Source = "http"
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "trigger published",
		slog.String("topic", msg.Topic),
		slog.Int64("instrument_id", msg.InstrumentID),
		slog.Int64("vpin_id", msg.VpinID))
	return nil
}

// Weights returns the truncated FFD kernel for fdim and thresh
func (s *FeatureService) Weights(_ context.Context, fdim, thresh float64) (*WeightsResponse, error) {
	w, err := features.Weights(fdim, thresh, maxPreviewWidth)
	if err != nil {
		return nil, err
	}
	return &WeightsResponse{Fdim: fdim, Thresh: thresh, Width: len(w), Weights: w}, nil
}

func summarize(results []operations.RunResult) string {
	counts := make(map[operations.RunStatus]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return fmt.Sprintf("%d runs: %d completed, %d skipped, %d coalesced, %d failed",
		len(results),
		counts[operations.RunCompleted],
		counts[operations.RunSkipped],
		counts[operations.RunCoalesced],
		counts[operations.RunFailed])
}
