// Package stats computes seasonal statistics over stored canonical
// records: per-stock month stats, rankings and industry aggregates. The
// engine is pure read-side; it never touches the network or writes.
package stats

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"stockseason/internal/store"
	"stockseason/pkg/contracts/domain"
)

// defaultConcurrency bounds the parallel per-instrument stat computation
// during ranking. Reads are cheap; this only caps goroutine fan-out.
const defaultConcurrency = 8

// Engine computes aggregates from the store.
type Engine struct {
	store       *store.Store
	logger      *slog.Logger
	concurrency int
}

// NewEngine creates an aggregation engine.
func NewEngine(st *store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:       st,
		logger:      logger.With(slog.String("component", "stats")),
		concurrency: defaultConcurrency,
	}
}

// StatQuery narrows a stat computation. YearFrom/YearTo of zero mean an
// unbounded range; Provider empty means all providers.
type StatQuery struct {
	Month    int
	YearFrom int
	YearTo   int
	Provider string
}

// StockMonthStat computes the seasonal aggregate for one instrument and one
// calendar month. Zero stored records yield a zero-valued result, not an
// error.
func (e *Engine) StockMonthStat(ctx context.Context, code string, q StatQuery) (domain.StatResult, error) {
	records, err := e.store.Query(ctx, store.QueryFilter{
		Code:     code,
		Provider: q.Provider,
		Month:    q.Month,
		YearFrom: q.YearFrom,
		YearTo:   q.YearTo,
	})
	if err != nil {
		return domain.StatResult{}, err
	}

	result := aggregate(records)
	result.Code = code
	result.Month = q.Month

	if inst, err := e.store.InstrumentByCode(ctx, code); err == nil && inst != nil {
		result.Symbol = inst.Symbol
		result.Name = inst.Name
	}
	return result, nil
}

// MonthFilterRanking computes StockMonthStat for every listed instrument,
// discards zero-total results and results below minCount observations,
// sorts descending by up probability (stable; ties keep catalog order) and
// truncates to topN.
func (e *Engine) MonthFilterRanking(ctx context.Context, q StatQuery, topN, minCount int) ([]domain.StatResult, error) {
	instruments, err := e.store.Instruments(ctx, false)
	if err != nil {
		return nil, err
	}

	// Indexed results keep catalog order deterministic regardless of
	// goroutine completion order.
	results := make([]domain.StatResult, len(instruments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, inst := range instruments {
		i, inst := i, inst
		g.Go(func() error {
			records, err := e.store.Query(gctx, store.QueryFilter{
				Code:     inst.Code,
				Provider: q.Provider,
				Month:    q.Month,
				YearFrom: q.YearFrom,
				YearTo:   q.YearTo,
			})
			if err != nil {
				return err
			}
			result := aggregate(records)
			result.Code = inst.Code
			result.Symbol = inst.Symbol
			result.Name = inst.Name
			result.Month = q.Month
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return rank(results, topN, minCount), nil
}

// IndustryStats pools member instruments' stats per industry with
// count-weighted averaging and returns industries sorted descending by up
// probability. Industries with zero observations are excluded.
func (e *Engine) IndustryStats(ctx context.Context, q StatQuery, scheme domain.ClassificationScheme) ([]domain.IndustryStat, error) {
	industries, err := e.store.Industries(ctx, scheme)
	if err != nil {
		return nil, err
	}

	var stats []domain.IndustryStat
	for _, industry := range industries {
		stat, err := e.industryStat(ctx, industry, q, scheme)
		if err != nil {
			return nil, err
		}
		if stat.TotalCount == 0 {
			continue
		}
		stats = append(stats, stat)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].UpProbability > stats[j].UpProbability
	})
	return stats, nil
}

func (e *Engine) industryStat(ctx context.Context, industry string, q StatQuery, scheme domain.ClassificationScheme) (domain.IndustryStat, error) {
	members, err := e.store.IndustryInstruments(ctx, industry, scheme)
	if err != nil {
		return domain.IndustryStat{}, err
	}

	stat := domain.IndustryStat{Industry: industry, Month: q.Month}
	var upWeighted, downWeighted float64

	for _, member := range members {
		records, err := e.store.Query(ctx, store.QueryFilter{
			Code:     member.Code,
			Provider: q.Provider,
			Month:    q.Month,
			YearFrom: q.YearFrom,
			YearTo:   q.YearTo,
		})
		if err != nil {
			return domain.IndustryStat{}, err
		}
		s := aggregate(records)
		if s.TotalCount == 0 {
			continue
		}

		stat.StockCount++
		stat.TotalCount += s.TotalCount
		stat.UpCount += s.UpCount
		stat.DownCount += s.DownCount
		// Weight each member's average by its own observation counts so a
		// stock with ten up months moves the industry more than one with
		// a single up month.
		upWeighted += s.AvgUpPct * float64(s.UpCount)
		downWeighted += s.AvgDownPct * float64(s.DownCount)
	}

	if stat.UpCount > 0 {
		stat.AvgUpPct = round2(upWeighted / float64(stat.UpCount))
	}
	if stat.DownCount > 0 {
		stat.AvgDownPct = round2(downWeighted / float64(stat.DownCount))
	}
	if stat.TotalCount > 0 {
		stat.UpProbability = round2(float64(stat.UpCount) / float64(stat.TotalCount) * 100)
		stat.DownProbability = round2(float64(stat.DownCount) / float64(stat.TotalCount) * 100)
	}
	return stat, nil
}

// IndustryTopStocks ranks one industry's member instruments, with the same
// filtering and ordering rules as MonthFilterRanking.
func (e *Engine) IndustryTopStocks(ctx context.Context, industry string, q StatQuery, scheme domain.ClassificationScheme, topN, minCount int) ([]domain.StatResult, error) {
	members, err := e.store.IndustryInstruments(ctx, industry, scheme)
	if err != nil {
		return nil, err
	}

	results := make([]domain.StatResult, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, member := range members {
		i, member := i, member
		g.Go(func() error {
			records, err := e.store.Query(gctx, store.QueryFilter{
				Code:     member.Code,
				Provider: q.Provider,
				Month:    q.Month,
				YearFrom: q.YearFrom,
				YearTo:   q.YearTo,
			})
			if err != nil {
				return err
			}
			result := aggregate(records)
			result.Code = member.Code
			result.Symbol = member.Symbol
			result.Name = member.Name
			result.Month = q.Month
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return rank(results, topN, minCount), nil
}

// aggregate folds a record slice into a StatResult. Only records with a
// reported percent change contribute; strictly positive counts as up,
// strictly negative as down, zero as neither.
func aggregate(records []domain.CanonicalRecord) domain.StatResult {
	var result domain.StatResult
	var upSum, downSum float64

	for _, r := range records {
		if !r.HasPctChange() {
			continue
		}
		result.TotalCount++
		switch {
		case r.PctChange > 0:
			result.UpCount++
			upSum += r.PctChange
		case r.PctChange < 0:
			result.DownCount++
			downSum += r.PctChange
		}
	}

	if result.UpCount > 0 {
		result.AvgUpPct = round2(upSum / float64(result.UpCount))
	}
	if result.DownCount > 0 {
		result.AvgDownPct = round2(downSum / float64(result.DownCount))
	}
	if result.TotalCount > 0 {
		result.UpProbability = round2(float64(result.UpCount) / float64(result.TotalCount) * 100)
		result.DownProbability = round2(float64(result.DownCount) / float64(result.TotalCount) * 100)
	}
	return result
}

// rank filters out empty and under-observed results, sorts stable by up
// probability descending and truncates.
func rank(results []domain.StatResult, topN, minCount int) []domain.StatResult {
	filtered := make([]domain.StatResult, 0, len(results))
	for _, r := range results {
		if r.TotalCount == 0 {
			continue
		}
		if minCount > 0 && r.UpCount+r.DownCount < minCount {
			continue
		}
		filtered = append(filtered, r)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].UpProbability > filtered[j].UpProbability
	})

	if topN > 0 && len(filtered) > topN {
		filtered = filtered[:topN]
	}
	return filtered
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
