package operations

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"featureflow/internal/infrastructure"
)

const (
	TracerName = "featureflow.operations"
)

// RunTracer wraps span creation and run metrics for the coordinator
type RunTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.PipelineMetrics
}

// NewRunTracer creates a tracer. A nil tracer uses the global provider and nil
// metrics record nothing.
func NewRunTracer(tracer trace.Tracer, metrics *infrastructure.PipelineMetrics) *RunTracer {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return &RunTracer{tracer: tracer, metrics: metrics}
}

// TraceRun starts the span covering one keyed run
func (rt *RunTracer) TraceRun(ctx context.Context, kind RunKind, key string) (context.Context, trace.Span) {
	ctx, span := rt.tracer.Start(ctx, fmt.Sprintf("pipeline.%s", kind),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.kind", string(kind)),
			attribute.String("pipeline.key", key),
			attribute.String("pipeline.run_id", infrastructure.GetRunID(ctx)),
		),
	)
	rt.metrics.ActiveRunChange(ctx, 1, string(kind))
	return ctx, span
}

// RecordRunCompletion closes the run span and records its outcome
func (rt *RunTracer) RecordRunCompletion(ctx context.Context, span trace.Span, kind RunKind, status RunStatus, duration time.Duration, err error) {
	span.SetAttributes(
		attribute.String("pipeline.status", string(status)),
		attribute.Float64("pipeline.duration_seconds", duration.Seconds()),
	)

	rt.metrics.ActiveRunChange(ctx, -1, string(kind))
	switch status {
	case RunCoalesced:
		rt.metrics.RecordCoalesced(ctx, string(kind))
	case RunFailed:
		rt.metrics.RecordError(ctx, string(kind), errorType(err))
	}
	rt.metrics.RecordRun(ctx, string(kind), string(status), duration)

	if status == RunFailed {
		infrastructure.RecordError(ctx, err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, string(status))
	}
	span.End()
}

// TraceStage starts a child span for one step
func (rt *RunTracer) TraceStage(ctx context.Context, stageID string) (context.Context, trace.Span) {
	return rt.tracer.Start(ctx, "pipeline.step."+stageID,
		trace.WithAttributes(attribute.String("step.id", stageID)))
}

// RecordStageCompletion closes a step span
func (rt *RunTracer) RecordStageCompletion(ctx context.Context, span trace.Span, stageID string, duration time.Duration, produced int, err error) {
	span.SetAttributes(
		attribute.Int("step.produced", produced),
		attribute.Float64("step.duration_seconds", duration.Seconds()),
	)
	rt.metrics.RecordStage(ctx, stageID, duration, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
