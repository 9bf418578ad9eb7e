package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"stockseason/internal/store"
)

// HealthService reports process and dependency health.
type HealthService struct {
	version   string
	store     *store.Store
	update    *UpdateService
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus is the health check response.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth describes one dependency's state.
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service.
func NewHealthService(version string, st *store.Store, update *UpdateService, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		store:     st,
		update:    update,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck reports overall status. The store being unreachable
// degrades the status but still returns a body, so probes can report
// the cause.
func (s *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Runtime: map[string]interface{}{
			"go_version":     runtime.Version(),
			"os":             runtime.GOOS,
			"arch":           runtime.GOARCH,
			"goroutines":     runtime.NumGoroutine(),
			"uptime_seconds": time.Since(s.startTime).Seconds(),
		},
		Services: map[string]interface{}{},
	}

	dbHealth := ServiceHealth{Status: "healthy"}
	if err := s.store.Ping(ctx); err != nil {
		dbHealth = ServiceHealth{Status: "unhealthy", Message: err.Error()}
		status.Status = "degraded"
	}
	status.Services["store"] = dbHealth

	snap := s.update.Progress(ctx)
	runHealth := ServiceHealth{Status: "idle"}
	if snap.IsRunning {
		runHealth = ServiceHealth{
			Status:  "running",
			Message: fmt.Sprintf("%d/%d instruments", snap.Current, snap.Total),
		}
	}
	status.Services["reconcile"] = runHealth

	return status
}

// Readiness reports whether the service can accept traffic.
func (s *HealthService) Readiness(ctx context.Context) (HealthStatus, bool) {
	status := s.HealthCheck(ctx)
	return status, status.Status != "degraded"
}
