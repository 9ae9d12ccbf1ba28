package infrastructure

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// TraceIDContextKey carries the request or trigger trace ID
	TraceIDContextKey contextKey = "trace_id"
	// RunIDContextKey carries the pipeline run ID
	RunIDContextKey contextKey = "run_id"
)

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDContextKey).(string)
	return traceID
}

// EnsureTraceID returns ctx unchanged when it already carries a trace ID and
// otherwise attaches a fresh UUID. Trigger-driven runs have no inbound request
// to inherit one from.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, uuid.NewString())
}

// WithRunID tags the context with the pipeline run it belongs to
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDContextKey, runID)
}

// GetRunID retrieves the pipeline run ID from context
func GetRunID(ctx context.Context) string {
	runID, _ := ctx.Value(RunIDContextKey).(string)
	return runID
}
