package infrastructure

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics holds the application-specific instruments
type PipelineMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	RunsTotal       metric.Int64Counter
	RunDuration     metric.Float64Histogram
	StageDuration   metric.Float64Histogram
	ActiveRuns      metric.Int64UpDownCounter
	CoalescedTotal  metric.Int64Counter
	RecordsWritten  metric.Int64Counter
	ErrorsTotal     metric.Int64Counter
	UpstreamRetries metric.Int64Counter
	TriggersTotal   metric.Int64Counter
}

// CreatePipelineMetrics creates every instrument on the given meter
func CreatePipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	var err error

	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.RunsTotal, err = meter.Int64Counter(
		"pipeline_runs_total",
		metric.WithDescription("Pipeline runs by kind and terminal status"),
	); err != nil {
		return nil, err
	}

	if m.RunDuration, err = meter.Float64Histogram(
		"pipeline_run_duration_seconds",
		metric.WithDescription("Wall time of a pipeline run"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.StageDuration, err = meter.Float64Histogram(
		"pipeline_stage_duration_seconds",
		metric.WithDescription("Wall time of a single pipeline stage"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.ActiveRuns, err = meter.Int64UpDownCounter(
		"pipeline_active_runs",
		metric.WithDescription("Runs currently executing"),
	); err != nil {
		return nil, err
	}

	if m.CoalescedTotal, err = meter.Int64Counter(
		"pipeline_coalesced_total",
		metric.WithDescription("Triggers folded into an in-flight run"),
	); err != nil {
		return nil, err
	}

	if m.RecordsWritten, err = meter.Int64Counter(
		"records_written_total",
		metric.WithDescription("Records upserted by entity"),
	); err != nil {
		return nil, err
	}

	if m.ErrorsTotal, err = meter.Int64Counter(
		"pipeline_errors_total",
		metric.WithDescription("Failed runs by error kind"),
	); err != nil {
		return nil, err
	}

	if m.UpstreamRetries, err = meter.Int64Counter(
		"upstream_retries_total",
		metric.WithDescription("Retried upstream and storage calls"),
	); err != nil {
		return nil, err
	}

	if m.TriggersTotal, err = meter.Int64Counter(
		"triggers_total",
		metric.WithDescription("Trigger messages received by topic"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRun records the outcome of one pipeline run
func (m *PipelineMetrics) RecordRun(ctx context.Context, kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordStage records one stage duration
func (m *PipelineMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("success", success),
	))
}

// RecordError counts a failed run by error kind
func (m *PipelineMetrics) RecordError(ctx context.Context, kind, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("error.type", errorType),
	))
}

// RecordCoalesced counts a trigger that was folded into an in-flight run
func (m *PipelineMetrics) RecordCoalesced(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.CoalescedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordWritten counts upserted records per entity
func (m *PipelineMetrics) RecordWritten(ctx context.Context, entity string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsWritten.Add(ctx, int64(n), metric.WithAttributes(attribute.String("entity", entity)))
}

// RecordRetry counts one retried call
func (m *PipelineMetrics) RecordRetry(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.UpstreamRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordTrigger counts one received trigger
func (m *PipelineMetrics) RecordTrigger(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.TriggersTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// ActiveRunChange adjusts the active run gauge
func (m *PipelineMetrics) ActiveRunChange(ctx context.Context, delta int64, kind string) {
	if m == nil {
		return
	}
	m.ActiveRuns.Add(ctx, delta, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordHTTP records one served request
func (m *PipelineMetrics) RecordHTTP(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
}
