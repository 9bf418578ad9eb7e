package stats

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockseason/internal/store"
	"stockseason/pkg/contracts/domain"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewEngine(st, logger), st
}

func marchRecord(code string, year int, pct float64) domain.CanonicalRecord {
	return domain.CanonicalRecord{
		Code:      code,
		TradeDate: domain.DateFromYearMonth(year, 3, 31),
		Year:      year,
		Month:     3,
		Open:      10,
		Close:     10.5,
		PctChange: pct,
		Provider:  "p1",
	}
}

func TestStockMonthStat_WorkedExample(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, []domain.CanonicalRecord{
		marchRecord("000001.SZ", 2019, 2.1),
		marchRecord("000001.SZ", 2020, -1.5),
		marchRecord("000001.SZ", 2021, 0.8),
	})
	require.NoError(t, err)

	result, err := engine.StockMonthStat(ctx, "000001.SZ", StatQuery{
		Month:    3,
		YearFrom: 2019,
		YearTo:   2021,
		Provider: "p1",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 2, result.UpCount)
	assert.Equal(t, 1, result.DownCount)
	assert.InDelta(t, 66.67, result.UpProbability, 1e-9)
	assert.InDelta(t, 33.33, result.DownProbability, 1e-9)
	assert.InDelta(t, 1.45, result.AvgUpPct, 1e-9)
	assert.InDelta(t, -1.5, result.AvgDownPct, 1e-9)
}

func TestStockMonthStat_Empty(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.StockMonthStat(context.Background(), "999999.SZ", StatQuery{Month: 3})
	require.NoError(t, err)

	assert.Zero(t, result.TotalCount)
	assert.Zero(t, result.UpCount)
	assert.Zero(t, result.UpProbability)
	assert.Zero(t, result.AvgUpPct)
}

func TestStockMonthStat_ZeroPctIsNeither(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, []domain.CanonicalRecord{
		marchRecord("000001.SZ", 2019, 1.0),
		marchRecord("000001.SZ", 2020, 0.0),
		marchRecord("000001.SZ", 2021, -1.0),
	})
	require.NoError(t, err)

	result, err := engine.StockMonthStat(ctx, "000001.SZ", StatQuery{Month: 3})
	require.NoError(t, err)

	// The flat month counts in the total only.
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 1, result.UpCount)
	assert.Equal(t, 1, result.DownCount)
	assert.True(t, result.UpProbability+result.DownProbability < 100)
}

func TestStockMonthStat_SkipsNullPct(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, []domain.CanonicalRecord{
		marchRecord("000001.SZ", 2019, 2.0),
		marchRecord("000001.SZ", 2020, math.NaN()),
	})
	require.NoError(t, err)

	result, err := engine.StockMonthStat(ctx, "000001.SZ", StatQuery{Month: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalCount)
}

func seedRankingData(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.SaveInstruments(ctx, []domain.Instrument{
		{Code: "000001.SZ", Symbol: "000001", Name: "平安银行"},
		{Code: "600000.SH", Symbol: "600000", Name: "浦发银行"},
		{Code: "600519.SH", Symbol: "600519", Name: "贵州茅台"},
	}))

	var records []domain.CanonicalRecord
	// 000001: 3 up of 4 (75%), 600000: 2 up of 4 (50%),
	// 600519: 1 up of 1 (100% but only one observation).
	for year, pct := range map[int]float64{2018: 1.2, 2019: 2.1, 2020: -1.5, 2021: 0.8} {
		records = append(records, marchRecord("000001.SZ", year, pct))
	}
	for year, pct := range map[int]float64{2018: -0.4, 2019: 1.1, 2020: -2.0, 2021: 3.0} {
		records = append(records, marchRecord("600000.SH", year, pct))
	}
	records = append(records, marchRecord("600519.SH", 2021, 5.0))

	_, err := st.Upsert(ctx, records)
	require.NoError(t, err)
}

func TestMonthFilterRanking(t *testing.T) {
	engine, st := newTestEngine(t)
	seedRankingData(t, st)

	results, err := engine.MonthFilterRanking(context.Background(), StatQuery{Month: 3}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "600519.SH", results[0].Code) // 100%
	assert.Equal(t, "000001.SZ", results[1].Code) // 75%
	assert.Equal(t, "600000.SH", results[2].Code) // 50%
}

func TestMonthFilterRanking_MinCountExcludesDespitePerfectProbability(t *testing.T) {
	engine, st := newTestEngine(t)
	seedRankingData(t, st)

	// 600519 has a 100% up probability but only one observation.
	results, err := engine.MonthFilterRanking(context.Background(), StatQuery{Month: 3}, 10, 4)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "000001.SZ", results[0].Code)
	assert.Equal(t, "600000.SH", results[1].Code)
}

func TestMonthFilterRanking_TopNTruncation(t *testing.T) {
	engine, st := newTestEngine(t)
	seedRankingData(t, st)

	results, err := engine.MonthFilterRanking(context.Background(), StatQuery{Month: 3}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "600519.SH", results[0].Code)
}

func TestMonthFilterRanking_Deterministic(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	// Two instruments with identical stats: catalog order breaks the tie,
	// and repeated calls must agree.
	require.NoError(t, st.SaveInstruments(ctx, []domain.Instrument{
		{Code: "000001.SZ", Symbol: "000001", Name: "平安银行"},
		{Code: "600000.SH", Symbol: "600000", Name: "浦发银行"},
	}))
	_, err := st.Upsert(ctx, []domain.CanonicalRecord{
		marchRecord("000001.SZ", 2021, 1.0),
		marchRecord("600000.SH", 2021, 2.0),
	})
	require.NoError(t, err)

	first, err := engine.MonthFilterRanking(ctx, StatQuery{Month: 3}, 10, 0)
	require.NoError(t, err)
	second, err := engine.MonthFilterRanking(ctx, StatQuery{Month: 3}, 10, 0)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "000001.SZ", first[0].Code)
	assert.Equal(t, "600000.SH", first[1].Code)
}

func TestIndustryStats_CountWeighted(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, st.SaveInstruments(ctx, []domain.Instrument{
		{Code: "000001.SZ", Symbol: "000001", Name: "平安银行"},
		{Code: "600000.SH", Symbol: "600000", Name: "浦发银行"},
		{Code: "600519.SH", Symbol: "600519", Name: "贵州茅台"},
	}))
	require.NoError(t, st.SaveMemberships(ctx, domain.SchemeShenwan, []domain.IndustryMembership{
		{Code: "000001.SZ", Industry: "银行", Scheme: domain.SchemeShenwan},
		{Code: "600000.SH", Industry: "银行", Scheme: domain.SchemeShenwan},
		{Code: "600519.SH", Industry: "食品饮料", Scheme: domain.SchemeShenwan},
	}))

	// 000001: two up months averaging 2.0; 600000: one up month at 5.0.
	// Count-weighted industry average = (2*2.0 + 1*5.0) / 3 = 3.0, not the
	// simple mean of 3.5.
	_, err := st.Upsert(ctx, []domain.CanonicalRecord{
		marchRecord("000001.SZ", 2020, 1.0),
		marchRecord("000001.SZ", 2021, 3.0),
		marchRecord("600000.SH", 2021, 5.0),
		marchRecord("600519.SH", 2021, -2.0),
	})
	require.NoError(t, err)

	stats, err := engine.IndustryStats(ctx, StatQuery{Month: 3}, domain.SchemeShenwan)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	banks := stats[0]
	assert.Equal(t, "银行", banks.Industry)
	assert.Equal(t, 2, banks.StockCount)
	assert.Equal(t, 3, banks.TotalCount)
	assert.Equal(t, 3, banks.UpCount)
	assert.InDelta(t, 3.0, banks.AvgUpPct, 1e-9)
	assert.InDelta(t, 100.0, banks.UpProbability, 1e-9)

	food := stats[1]
	assert.Equal(t, "食品饮料", food.Industry)
	assert.InDelta(t, 0.0, food.UpProbability, 1e-9)
}

func TestIndustryStats_ExcludesEmptyIndustries(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, st.SaveInstruments(ctx, []domain.Instrument{
		{Code: "000001.SZ", Symbol: "000001", Name: "平安银行"},
	}))
	require.NoError(t, st.SaveMemberships(ctx, domain.SchemeShenwan, []domain.IndustryMembership{
		{Code: "000001.SZ", Industry: "银行", Scheme: domain.SchemeShenwan},
		{Code: "999999.SZ", Industry: "空行业", Scheme: domain.SchemeShenwan},
	}))

	stats, err := engine.IndustryStats(ctx, StatQuery{Month: 3}, domain.SchemeShenwan)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestIndustryTopStocks(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, st.SaveInstruments(ctx, []domain.Instrument{
		{Code: "000001.SZ", Symbol: "000001", Name: "平安银行"},
		{Code: "600000.SH", Symbol: "600000", Name: "浦发银行"},
		{Code: "600519.SH", Symbol: "600519", Name: "贵州茅台"},
	}))
	require.NoError(t, st.SaveMemberships(ctx, domain.SchemeShenwan, []domain.IndustryMembership{
		{Code: "000001.SZ", Industry: "银行", Scheme: domain.SchemeShenwan},
		{Code: "600000.SH", Industry: "银行", Scheme: domain.SchemeShenwan},
		{Code: "600519.SH", Industry: "食品饮料", Scheme: domain.SchemeShenwan},
	}))
	_, err := st.Upsert(ctx, []domain.CanonicalRecord{
		marchRecord("000001.SZ", 2020, -1.0),
		marchRecord("000001.SZ", 2021, 1.0),
		marchRecord("600000.SH", 2021, 5.0),
		marchRecord("600519.SH", 2021, 9.0),
	})
	require.NoError(t, err)

	// Maotai's 100% month is outside the requested industry.
	results, err := engine.IndustryTopStocks(ctx, "银行", StatQuery{Month: 3}, domain.SchemeShenwan, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "600000.SH", results[0].Code)
	assert.Equal(t, "000001.SZ", results[1].Code)
}

func TestProbabilityConsistency(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	_, err := st.Upsert(ctx, []domain.CanonicalRecord{
		marchRecord("000001.SZ", 2018, 1.5),
		marchRecord("000001.SZ", 2019, 0.0),
		marchRecord("000001.SZ", 2020, -2.5),
		marchRecord("000001.SZ", 2021, 3.1),
	})
	require.NoError(t, err)

	result, err := engine.StockMonthStat(ctx, "000001.SZ", StatQuery{Month: 3})
	require.NoError(t, err)

	assert.LessOrEqual(t, result.UpCount+result.DownCount, result.TotalCount)
	assert.LessOrEqual(t, result.UpProbability+result.DownProbability, 100.0)
}
