// Package services sits between the HTTP handlers and the pipeline machinery.
//
// FeatureService runs pipelines synchronously or through the job queue,
// publishes triggers and previews differencing weights. HealthService reports
// liveness and the readiness of the store, the job queue and the WebSocket hub.
//
// Services take their collaborators through constructors and return the
// application error types from internal/errors, which the transport layer maps
// onto HTTP status codes.
package services
