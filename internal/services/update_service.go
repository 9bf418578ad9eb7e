package services

import (
	"context"
	"errors"
	"log/slog"

	apierrors "stockseason/internal/errors"
	"stockseason/internal/reconcile"
)

// UpdateService exposes reconciliation triggering and progress to the
// transport layer.
type UpdateService struct {
	coordinator *reconcile.Coordinator
	logger      *slog.Logger
}

// NewUpdateService creates an update service.
func NewUpdateService(coordinator *reconcile.Coordinator, logger *slog.Logger) *UpdateService {
	return &UpdateService{
		coordinator: coordinator,
		logger:      logger.With(slog.String("service", "update")),
	}
}

// TriggerRequest is the caller's update request.
type TriggerRequest struct {
	Mode      string `json:"mode"`
	Overwrite bool   `json:"overwrite"`
}

// TriggerResponse reports the started run.
type TriggerResponse struct {
	RunID   string `json:"run_id"`
	Started bool   `json:"started"`
}

// Trigger validates the request and starts a run. An active run yields a
// conflict error rather than a queued second run.
func (s *UpdateService) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResponse, error) {
	if req.Mode == "" {
		req.Mode = string(reconcile.ModeIncremental)
	}
	mode, err := reconcile.ParseMode(req.Mode)
	if err != nil {
		return nil, apierrors.ErrValidation("mode", err.Error())
	}

	runID, err := s.coordinator.Trigger(ctx, reconcile.Options{Mode: mode, Overwrite: req.Overwrite})
	if err != nil {
		if errors.Is(err, reconcile.ErrAlreadyRunning) {
			return nil, apierrors.RunActiveError(s.coordinator.Snapshot().RunID)
		}
		return nil, apierrors.ErrReconcileExecution(err)
	}

	s.logger.InfoContext(ctx, "update triggered",
		slog.String("run_id", runID),
		slog.String("mode", req.Mode),
		slog.Bool("overwrite", req.Overwrite))

	return &TriggerResponse{RunID: runID, Started: true}, nil
}

// ProgressResponse is the polling payload.
type ProgressResponse struct {
	RunID     string  `json:"run_id,omitempty"`
	Current   int     `json:"current"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Message   string  `json:"message"`
	IsRunning bool    `json:"is_running"`
	Failed    int     `json:"failed"`
	Upserted  int     `json:"upserted"`
}

// Progress returns the state of the active or last run.
func (s *UpdateService) Progress(ctx context.Context) *ProgressResponse {
	snap := s.coordinator.Snapshot()
	return &ProgressResponse{
		RunID:     snap.RunID,
		Current:   snap.Current,
		Total:     snap.Total,
		Percent:   snap.Percent(),
		Message:   snap.Message,
		IsRunning: snap.IsRunning,
		Failed:    snap.Failed,
		Upserted:  snap.Upserted,
	}
}

// Subscribe exposes the progress event stream for the websocket handler.
func (s *UpdateService) Subscribe() (<-chan reconcile.Snapshot, func()) {
	return s.coordinator.Subscribe()
}
