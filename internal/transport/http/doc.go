// Package http implements the HTTP handlers of the featureflow service. Handlers
// only parse and validate requests, call a service and render the outcome; all
// pipeline logic lives in the services and operations packages.
//
// # Endpoints
//
// PipelineHandler.Routes is mounted under /api/v1:
//
//	POST   /pipelines          run a pipeline (sync) or queue it ("async": true)
//	GET    /jobs               list jobs, ?status= and ?limit=
//	GET    /jobs/{id}          job status and run outcomes
//	DELETE /jobs/{id}          cancel a pending or running job
//	POST   /triggers           publish an ohlcv or vpin_ohlcv trigger
//	GET    /ffd/weights        preview the FFD kernel, ?fdim= and ?thresh=
//
// HealthHandler serves /healthz, /readyz and /livez.
//
// # Errors
//
// Every failure is rendered as RFC 7807 problem details by errors.ErrorHandler.
// The status follows the error type:
//
//	VALIDATION             400
//	NOT_FOUND              404
//	COALESCED              409
//	INSUFFICIENT_DATA      422
//	STORAGE, COMPUTATION   500
//	UPSTREAM_UNAVAILABLE   503
package http
