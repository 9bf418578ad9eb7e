package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"

	apierrors "stockseason/internal/errors"
	"stockseason/internal/stats"
	"stockseason/internal/store"
	"stockseason/pkg/contracts/domain"
)

// StatsService validates stat queries and delegates to the aggregation
// engine and store.
type StatsService struct {
	engine   *stats.Engine
	store    *store.Store
	validate *validator.Validate
	logger   *slog.Logger
}

// NewStatsService creates a stats service.
func NewStatsService(engine *stats.Engine, st *store.Store, logger *slog.Logger) *StatsService {
	return &StatsService{
		engine:   engine,
		store:    st,
		validate: validator.New(),
		logger:   logger.With(slog.String("service", "stats")),
	}
}

// StockStatRequest asks for one instrument's seasonal stat.
type StockStatRequest struct {
	Code     string `json:"code" validate:"required"`
	Month    int    `json:"month" validate:"required,min=1,max=12"`
	YearFrom int    `json:"year_from" validate:"omitempty,min=1900"`
	YearTo   int    `json:"year_to" validate:"omitempty,min=1900"`
	Provider string `json:"provider"`
}

// StockStat computes the seasonal stat for one instrument and month.
func (s *StatsService) StockStat(ctx context.Context, req StockStatRequest) (*domain.StatResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	result, err := s.engine.StockMonthStat(ctx, req.Code, stats.StatQuery{
		Month:    req.Month,
		YearFrom: req.YearFrom,
		YearTo:   req.YearTo,
		Provider: req.Provider,
	})
	if err != nil {
		return nil, apierrors.StorageError("stock stat", err)
	}
	return &result, nil
}

// MultiMonthRequest asks for one instrument's stats across several months.
// An empty month list means all twelve.
type MultiMonthRequest struct {
	Code     string `json:"code" validate:"required"`
	Months   []int  `json:"months" validate:"omitempty,dive,min=1,max=12"`
	YearFrom int    `json:"year_from" validate:"omitempty,min=1900"`
	YearTo   int    `json:"year_to" validate:"omitempty,min=1900"`
	Provider string `json:"provider"`
}

// StockMultiMonth computes the seasonal stat for each requested month,
// sorted by month, keeping only months with data.
func (s *StatsService) StockMultiMonth(ctx context.Context, req MultiMonthRequest) ([]domain.StatResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	months := req.Months
	if len(months) == 0 {
		months = make([]int, 12)
		for i := range months {
			months[i] = i + 1
		}
	}
	sort.Ints(months)

	results := make([]domain.StatResult, 0, len(months))
	for _, month := range months {
		result, err := s.engine.StockMonthStat(ctx, req.Code, stats.StatQuery{
			Month:    month,
			YearFrom: req.YearFrom,
			YearTo:   req.YearTo,
			Provider: req.Provider,
		})
		if err != nil {
			return nil, apierrors.StorageError("stock multi month", err)
		}
		if result.TotalCount > 0 {
			results = append(results, result)
		}
	}
	return results, nil
}

// RankingRequest asks for the month-filtered ranking across the catalog.
type RankingRequest struct {
	Month    int    `json:"month" validate:"required,min=1,max=12"`
	YearFrom int    `json:"year_from" validate:"omitempty,min=1900"`
	YearTo   int    `json:"year_to" validate:"omitempty,min=1900"`
	TopN     int    `json:"top_n" validate:"omitempty,min=1,max=500"`
	MinCount int    `json:"min_count" validate:"omitempty,min=0"`
	Provider string `json:"provider"`
}

// Ranking computes the catalog-wide up-probability ranking for one month.
func (s *StatsService) Ranking(ctx context.Context, req RankingRequest) ([]domain.StatResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.TopN == 0 {
		req.TopN = 50
	}

	results, err := s.engine.MonthFilterRanking(ctx, stats.StatQuery{
		Month:    req.Month,
		YearFrom: req.YearFrom,
		YearTo:   req.YearTo,
		Provider: req.Provider,
	}, req.TopN, req.MinCount)
	if err != nil {
		return nil, apierrors.StorageError("ranking", err)
	}
	return results, nil
}

// IndustryRequest asks for industry-level aggregates.
type IndustryRequest struct {
	Month    int    `json:"month" validate:"required,min=1,max=12"`
	YearFrom int    `json:"year_from" validate:"omitempty,min=1900"`
	YearTo   int    `json:"year_to" validate:"omitempty,min=1900"`
	Scheme   string `json:"scheme" validate:"omitempty,oneof=sw citics"`
	Provider string `json:"provider"`
}

func (r IndustryRequest) scheme() domain.ClassificationScheme {
	if r.Scheme == "" {
		return domain.SchemeShenwan
	}
	return domain.ClassificationScheme(r.Scheme)
}

// IndustryStats computes count-weighted industry aggregates for one month.
func (s *StatsService) IndustryStats(ctx context.Context, req IndustryRequest) ([]domain.IndustryStat, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	results, err := s.engine.IndustryStats(ctx, stats.StatQuery{
		Month:    req.Month,
		YearFrom: req.YearFrom,
		YearTo:   req.YearTo,
		Provider: req.Provider,
	}, req.scheme())
	if err != nil {
		return nil, apierrors.StorageError("industry stats", err)
	}
	return results, nil
}

// IndustryTopRequest asks for the ranking within one industry.
type IndustryTopRequest struct {
	Industry string `json:"industry" validate:"required"`
	Month    int    `json:"month" validate:"required,min=1,max=12"`
	YearFrom int    `json:"year_from" validate:"omitempty,min=1900"`
	YearTo   int    `json:"year_to" validate:"omitempty,min=1900"`
	Scheme   string `json:"scheme" validate:"omitempty,oneof=sw citics"`
	TopN     int    `json:"top_n" validate:"omitempty,min=1,max=500"`
	MinCount int    `json:"min_count" validate:"omitempty,min=0"`
	Provider string `json:"provider"`
}

// IndustryTopStocks ranks one industry's members for one month.
func (s *StatsService) IndustryTopStocks(ctx context.Context, req IndustryTopRequest) ([]domain.StatResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.TopN == 0 {
		req.TopN = 20
	}

	scheme := domain.SchemeShenwan
	if req.Scheme != "" {
		scheme = domain.ClassificationScheme(req.Scheme)
	}

	results, err := s.engine.IndustryTopStocks(ctx, req.Industry, stats.StatQuery{
		Month:    req.Month,
		YearFrom: req.YearFrom,
		YearTo:   req.YearTo,
		Provider: req.Provider,
	}, scheme, req.TopN, req.MinCount)
	if err != nil {
		return nil, apierrors.StorageError("industry top stocks", err)
	}
	return results, nil
}

// SearchInstruments finds catalog entries by keyword.
func (s *StatsService) SearchInstruments(ctx context.Context, keyword string, limit int) ([]domain.Instrument, error) {
	if keyword == "" {
		return nil, apierrors.ErrValidation("q", "search keyword is required")
	}
	results, err := s.store.SearchInstruments(ctx, keyword, limit)
	if err != nil {
		return nil, apierrors.StorageError("search", err)
	}
	return results, nil
}

// ProviderSummaries reports each provider's stored footprint.
func (s *StatsService) ProviderSummaries(ctx context.Context) ([]domain.ProviderSummary, error) {
	summaries, err := s.store.ProviderSummaries(ctx)
	if err != nil {
		return nil, apierrors.StorageError("provider summaries", err)
	}
	return summaries, nil
}

// CompareResponse pairs an instrument with its cross-provider records.
type CompareResponse struct {
	Instrument *domain.Instrument       `json:"instrument,omitempty"`
	Providers  []string                 `json:"providers"`
	Records    []domain.CanonicalRecord `json:"records"`
}

// CompareProviders returns one instrument's records across all stored
// providers, optionally narrowed to a year/month. Unknown codes are a
// not-found error.
func (s *StatsService) CompareProviders(ctx context.Context, code string, year, month int) (*CompareResponse, error) {
	if code == "" {
		return nil, apierrors.ErrValidation("code", "instrument code is required")
	}
	if month < 0 || month > 12 {
		return nil, apierrors.ErrValidation("month", "month must be between 1 and 12")
	}

	inst, err := s.store.InstrumentByCode(ctx, code)
	if err != nil {
		return nil, apierrors.StorageError("compare", err)
	}
	if inst == nil {
		return nil, apierrors.NotFoundError("instrument " + code)
	}

	providers, err := s.store.AvailableProviders(ctx, code)
	if err != nil {
		return nil, apierrors.StorageError("compare", err)
	}
	records, err := s.store.CompareProviders(ctx, code, year, month)
	if err != nil {
		return nil, apierrors.StorageError("compare", err)
	}

	return &CompareResponse{Instrument: inst, Providers: providers, Records: records}, nil
}

// validationError flattens validator output into field-level errors.
func validationError(err error) error {
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return apierrors.InvalidRequestWithError(err)
	}

	fields := make([]apierrors.ValidationError, 0, len(invalid))
	for _, fe := range invalid {
		fields = append(fields, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: "failed " + fe.Tag() + " validation",
		})
	}
	return apierrors.NewValidationErrors(fields)
}
