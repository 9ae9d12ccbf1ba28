package operations

import (
	"context"

	"featureflow/internal/storage"
)

// Notifier receives run notifications, e.g. the WebSocket hub
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Sink receives every committed batch, e.g. the parquet exporter. Export errors
// are logged by the coordinator and never fail a run.
type Sink interface {
	Export(ctx context.Context, b storage.Batch) error
}

// Runner executes on-demand pipeline requests; the job queue calls it
type Runner interface {
	Run(ctx context.Context, req PipelineRequest) ([]RunResult, error)
}
