// Package app wires featureflow together and owns its lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration (defaults, YAML file, FEATUREFLOW_* environment)
//  2. Initialize logging and OpenTelemetry providers
//  3. Open the feature store and choose the bar source
//  4. Create the pubsub broker, WebSocket hub and optional parquet sink
//  5. Build the coordinator and subscribe it to the ohlcv topics
//  6. Start the job queue and mount the HTTP routes
//
// New accepts an already loaded configuration so tests and the featurectl
// command can build an application without touching the environment.
//
// # Graceful Shutdown
//
// Stop drains in dependency order: the HTTP server, the job queue, the
// broker subscriptions, the hub and finally the store, so handlers still
// running can finish their writes.
package app
