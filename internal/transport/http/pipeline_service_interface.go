package http

import (
	"context"

	"featureflow/internal/operations"
	"featureflow/internal/pubsub"
	"featureflow/internal/services"
)

// PipelineServiceInterface defines the interface for the feature service
type PipelineServiceInterface interface {
	RunPipeline(ctx context.Context, req operations.PipelineRequest) (*services.PipelineResponse, error)
	SubmitPipeline(ctx context.Context, req operations.PipelineRequest) (*operations.Job, error)
	GetJob(ctx context.Context, id string) (*operations.Job, error)
	ListJobs(ctx context.Context, filter operations.JobFilter) ([]*operations.Job, error)
	CancelJob(ctx context.Context, id string) error
	Trigger(ctx context.Context, msg pubsub.Message) error
	Weights(ctx context.Context, fdim, thresh float64) (*services.WeightsResponse, error)
}

// HealthServiceInterface defines the interface for health checks
type HealthServiceInterface interface {
	HealthCheck(ctx context.Context) services.HealthStatus
	ReadinessCheck(ctx context.Context) services.HealthStatus
	LivenessCheck(ctx context.Context) services.HealthStatus
}
