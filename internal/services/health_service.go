package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"featureflow/internal/infrastructure"
)

// Pinger reports whether a dependency is reachable, e.g. the store
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClientCounter reports connected WebSocket clients
type ClientCounter interface {
	ClientCount() int
}

// QueueStats reports job queue statistics
type QueueStats interface {
	GetQueueStats() map[string]interface{}
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Health states
const (
	StatusOK       = "ok"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
	StatusAlive    = "alive"
)

const pingTimeout = 2 * time.Second

// HealthService provides health check functionality
type HealthService struct {
	version   string
	store     Pinger
	queue     QueueStats
	hub       ClientCounter
	startTime time.Time
	logger    *slog.Logger
}

// NewHealthService creates a health service. queue and hub may be nil.
func NewHealthService(version string, store Pinger, queue QueueStats, hub ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &HealthService{
		version:   version,
		store:     store,
		queue:     queue,
		hub:       hub,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := hs.ReadinessCheck(ctx)
	if status.Status == StatusReady {
		status.Status = StatusOK
	}
	status.Runtime = hs.runtime()
	return status
}

// ReadinessCheck reports not_ready when the store cannot be reached
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusReady,
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		Services: map[string]ServiceHealth{
			"store": hs.checkStore(ctx),
		},
	}
	if hs.queue != nil {
		status.Services["jobs"] = ServiceHealth{Status: StatusReady, Details: hs.queue.GetQueueStats()}
	}
	if hs.hub != nil {
		status.Services["websocket"] = ServiceHealth{
			Status:  StatusReady,
			Details: map[string]interface{}{"clients": hs.hub.ClientCount()},
		}
	}

	for _, s := range status.Services {
		if s.Status != StatusReady {
			status.Status = StatusNotReady
			break
		}
	}
	if status.Status != StatusReady {
		hs.logger.WarnContext(ctx, "readiness check failed", slog.Any("services", status.Services))
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusAlive,
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		Runtime:   hs.runtime(),
	}
}

func (hs *HealthService) checkStore(ctx context.Context) ServiceHealth {
	if hs.store == nil {
		return ServiceHealth{Status: StatusNotReady, Message: "no store configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := hs.store.Ping(ctx); err != nil {
		return ServiceHealth{Status: StatusNotReady, Message: err.Error()}
	}
	return ServiceHealth{Status: StatusReady}
}

func (hs *HealthService) runtime() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": time.Since(hs.startTime).Seconds(),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
	}
}
