package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "stockseason/internal/errors"
	"stockseason/internal/services"
)

// StatsHandler exposes the seasonal statistics queries and catalog
// lookups.
type StatsHandler struct {
	service      *services.StatsService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(service *services.StatsService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *StatsHandler {
	return &StatsHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "stats_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the stats routes.
func (h *StatsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/stock", h.StockStat)
	r.Get("/stock/months", h.StockMultiMonth)
	r.Get("/ranking", h.Ranking)
	r.Get("/industry", h.IndustryStats)
	r.Get("/industry/stocks", h.IndustryTopStocks)

	return r
}

// StockStat handles GET /stock?code=&month=.
func (h *StatsHandler) StockStat(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := services.StockStatRequest{
		Code:     q.Get("code"),
		Provider: q.Get("provider"),
	}

	var err error
	if req.Month, err = intParam(q.Get("month"), 0); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("month", "must be an integer"))
		return
	}
	if req.YearFrom, req.YearTo, err = yearRange(q.Get("year_from"), q.Get("year_to")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	result, err := h.service.StockStat(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// StockMultiMonth handles GET /stock/months?code=&months=1,2,3. Months
// omitted means all twelve; months without data are left out.
func (h *StatsHandler) StockMultiMonth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := services.MultiMonthRequest{
		Code:     q.Get("code"),
		Provider: q.Get("provider"),
	}

	var err error
	if req.Months, err = monthList(q.Get("months")); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("months", "must be a comma-separated list of integers"))
		return
	}
	if req.YearFrom, req.YearTo, err = yearRange(q.Get("year_from"), q.Get("year_to")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	results, err := h.service.StockMultiMonth(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, results)
}

// Ranking handles GET /ranking?month=&top_n=&min_count=.
func (h *StatsHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := services.RankingRequest{Provider: q.Get("provider")}

	var err error
	if req.Month, err = intParam(q.Get("month"), 0); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("month", "must be an integer"))
		return
	}
	if req.TopN, err = intParam(q.Get("top_n"), 0); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("top_n", "must be an integer"))
		return
	}
	if req.MinCount, err = intParam(q.Get("min_count"), 0); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("min_count", "must be an integer"))
		return
	}
	if req.YearFrom, req.YearTo, err = yearRange(q.Get("year_from"), q.Get("year_to")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	results, err := h.service.Ranking(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, results)
}

// IndustryStats handles GET /industry?month=&scheme=.
func (h *StatsHandler) IndustryStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := services.IndustryRequest{
		Scheme:   q.Get("scheme"),
		Provider: q.Get("provider"),
	}

	var err error
	if req.Month, err = intParam(q.Get("month"), 0); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("month", "must be an integer"))
		return
	}
	if req.YearFrom, req.YearTo, err = yearRange(q.Get("year_from"), q.Get("year_to")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	results, err := h.service.IndustryStats(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, results)
}

// IndustryTopStocks handles GET /industry/stocks?industry=&month=.
func (h *StatsHandler) IndustryTopStocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := services.IndustryTopRequest{
		Industry: q.Get("industry"),
		Scheme:   q.Get("scheme"),
		Provider: q.Get("provider"),
	}

	var err error
	if req.Month, err = intParam(q.Get("month"), 0); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("month", "must be an integer"))
		return
	}
	if req.TopN, err = intParam(q.Get("top_n"), 0); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("top_n", "must be an integer"))
		return
	}
	if req.MinCount, err = intParam(q.Get("min_count"), 0); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("min_count", "must be an integer"))
		return
	}
	if req.YearFrom, req.YearTo, err = yearRange(q.Get("year_from"), q.Get("year_to")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	results, err := h.service.IndustryTopStocks(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, results)
}

// intParam parses an optional integer query parameter.
func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// yearRange parses the optional year_from/year_to pair.
func yearRange(fromRaw, toRaw string) (int, int, error) {
	from, err := intParam(fromRaw, 0)
	if err != nil {
		return 0, 0, apierrors.ErrValidation("year_from", "must be an integer")
	}
	to, err := intParam(toRaw, 0)
	if err != nil {
		return 0, 0, apierrors.ErrValidation("year_to", "must be an integer")
	}
	if from != 0 && to != 0 && to < from {
		return 0, 0, apierrors.ErrValidation("year_to", "must not precede year_from")
	}
	return from, to, nil
}

// monthList parses an optional comma-separated month list.
func monthList(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	months := make([]int, 0, len(parts))
	for _, part := range parts {
		m, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		months = append(months, m)
	}
	return months, nil
}
