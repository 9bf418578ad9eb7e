package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "stockseason/internal/errors"
	"stockseason/internal/services"
)

// CatalogHandler exposes instrument search, provider summaries and
// cross-provider comparison.
type CatalogHandler struct {
	service      *services.StatsService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewCatalogHandler creates a catalog handler.
func NewCatalogHandler(service *services.StatsService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *CatalogHandler {
	return &CatalogHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "catalog_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the catalog routes, mounted under /api/stocks.
func (h *CatalogHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/search", h.Search)
	r.Get("/{code}/compare", h.Compare)

	return r
}

const defaultSearchLimit = 20

// Providers handles GET /api/providers.
func (h *CatalogHandler) Providers(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.ProviderSummaries(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, summaries)
}

// Search handles GET /search?q=.
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), defaultSearchLimit)
	if err != nil || limit < 1 {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("limit", "must be a positive integer"))
		return
	}

	results, err := h.service.SearchInstruments(r.Context(), q.Get("q"), limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, results)
}

// Compare handles GET /{code}/compare?year=&month=.
func (h *CatalogHandler) Compare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	year, err := intParam(q.Get("year"), 0)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("year", "must be an integer"))
		return
	}
	month, err := intParam(q.Get("month"), 0)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("month", "must be an integer"))
		return
	}

	resp, err := h.service.CompareProviders(r.Context(), chi.URLParam(r, "code"), year, month)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}
