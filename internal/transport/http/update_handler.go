package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "stockseason/internal/errors"
	"stockseason/internal/services"
)

// UpdateHandler exposes reconciliation triggering and progress.
type UpdateHandler struct {
	service      *services.UpdateService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewUpdateHandler creates an update handler.
func NewUpdateHandler(service *services.UpdateService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *UpdateHandler {
	return &UpdateHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "update_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the update routes.
func (h *UpdateHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/", h.Trigger)
	r.Get("/progress", h.Progress)

	return r
}

// Trigger starts a reconciliation run. Responds 202 with the run ID, or
// 409 when a run is already active.
func (h *UpdateHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req services.TriggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
			return
		}
	}

	resp, err := h.service.Trigger(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, resp)
}

// Progress reports the active or last run's state.
func (h *UpdateHandler) Progress(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Progress(r.Context()))
}
