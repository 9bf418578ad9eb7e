package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "stockseason/internal/errors"
	"stockseason/pkg/contracts/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s, err := New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewFailsOnBadPath(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	_, err := New(filepath.Join(t.TempDir(), "missing", "db.sqlite"), logger)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrTypeStorage, appErr.Type)
}

func record(code, tradeDate, provider string, pct float64) domain.CanonicalRecord {
	year, month, _ := domain.YearMonthFromDate(tradeDate)
	return domain.CanonicalRecord{
		Code:      code,
		TradeDate: tradeDate,
		Year:      year,
		Month:     month,
		Open:      10,
		Close:     10.5,
		High:      10.8,
		Low:       9.9,
		Volume:    100,
		Amount:    1000,
		PctChange: pct,
		Provider:  provider,
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record("000001.SZ", "20210329", "p1", 2.1)

	n, err := s.Upsert(ctx, []domain.CanonicalRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Re-applying the same key replaces, never duplicates.
	rec.Close = 11
	_, err = s.Upsert(ctx, []domain.CanonicalRecord{rec})
	require.NoError(t, err)

	records, err := s.Query(ctx, QueryFilter{Code: "000001.SZ"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.InDelta(t, 11, records[0].Close, 1e-9)
}

func TestUpsert_NaNPersistsAsNull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record("000001.SZ", "20210329", "p1", math.NaN())
	rec.Amount = math.NaN()

	_, err := s.Upsert(ctx, []domain.CanonicalRecord{rec})
	require.NoError(t, err)

	records, err := s.Query(ctx, QueryFilter{Code: "000001.SZ"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].HasPctChange())
	assert.True(t, math.IsNaN(records[0].Amount))
	assert.InDelta(t, 10.5, records[0].Close, 1e-9)
}

func TestLatestDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []domain.CanonicalRecord{
		record("000001.SZ", "20210129", "p1", 1),
		record("000001.SZ", "20210226", "p1", 2),
		record("000001.SZ", "20210331", "p2", 3),
		record("600519.SH", "20210430", "p1", 4),
	})
	require.NoError(t, err)

	latest, err := s.LatestDate(ctx, "000001.SZ", "p1")
	require.NoError(t, err)
	assert.Equal(t, "20210226", latest)

	latest, err = s.LatestDate(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "20210430", latest)

	latest, err = s.LatestDate(ctx, "999999.SZ", "")
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestQuery_FiltersAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []domain.CanonicalRecord{
		record("000001.SZ", "20200331", "p1", 1),
		record("000001.SZ", "20210331", "p1", 2),
		record("000001.SZ", "20220331", "p1", 3),
		record("000001.SZ", "20210430", "p1", 4),
		record("000001.SZ", "20210331", "p2", 5),
	})
	require.NoError(t, err)

	records, err := s.Query(ctx, QueryFilter{
		Code:     "000001.SZ",
		Provider: "p1",
		Month:    3,
		YearFrom: 2020,
		YearTo:   2021,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "20200331", records[0].TradeDate)
	assert.Equal(t, "20210331", records[1].TradeDate)
}

func TestDeleteByProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []domain.CanonicalRecord{
		record("000001.SZ", "20210331", "p1", 1),
		record("000001.SZ", "20210430", "p1", 2),
		record("000001.SZ", "20210331", "p2", 3),
	})
	require.NoError(t, err)

	count, err := s.DeleteByProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	remaining, err := s.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "p2", remaining[0].Provider)
}

func TestAvailableProviders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []domain.CanonicalRecord{
		record("000001.SZ", "20210331", "p2", 1),
		record("000001.SZ", "20210331", "p1", 2),
		record("600519.SH", "20210331", "p3", 3),
	})
	require.NoError(t, err)

	providers, err := s.AvailableProviders(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, providers)

	providers, err = s.AvailableProviders(ctx, "000001.SZ")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, providers)
}

func TestCompareProviders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []domain.CanonicalRecord{
		record("000001.SZ", "20210331", "p1", 2.1),
		record("000001.SZ", "20210331", "p2", 2.3),
		record("000001.SZ", "20210430", "p1", 1.0),
	})
	require.NoError(t, err)

	records, err := s.CompareProviders(ctx, "000001.SZ", 2021, 3)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "p1", records[0].Provider)
	assert.Equal(t, "p2", records[1].Provider)
}

func TestProviderSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []domain.CanonicalRecord{
		record("000001.SZ", "20210331", "p1", 1),
		record("600519.SH", "20210430", "p1", 2),
		record("000001.SZ", "20210331", "p2", 3),
	})
	require.NoError(t, err)

	summaries, err := s.ProviderSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "p1", summaries[0].Provider)
	assert.Equal(t, 2, summaries[0].RecordCount)
	assert.Equal(t, 2, summaries[0].InstrumentCount)
	assert.Equal(t, "20210430", summaries[0].LatestDate)
}

func TestSaveInstruments_ReplaceOnRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := []domain.Instrument{
		{Code: "000001.SZ", Symbol: "000001", Name: "平安银行"},
		{Code: "600519.SH", Symbol: "600519", Name: "贵州茅台"},
	}
	require.NoError(t, s.SaveInstruments(ctx, first))

	second := []domain.Instrument{
		{Code: "600519.SH", Symbol: "600519", Name: "贵州茅台"},
	}
	require.NoError(t, s.SaveInstruments(ctx, second))

	instruments, err := s.Instruments(ctx, true)
	require.NoError(t, err)
	require.Len(t, instruments, 1)
	assert.Equal(t, "600519.SH", instruments[0].Code)
}

func TestInstruments_ExcludesDelisted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInstruments(ctx, []domain.Instrument{
		{Code: "000001.SZ", Symbol: "000001", Name: "平安银行"},
		{Code: "000002.SZ", Symbol: "000002", Name: "已退市", DelistDate: "20200101"},
	}))

	listed, err := s.Instruments(ctx, false)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "000001.SZ", listed[0].Code)

	all, err := s.Instruments(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInstrumentByCode_Missing(t *testing.T) {
	s := newTestStore(t)

	inst, err := s.InstrumentByCode(context.Background(), "999999.XX")
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestSearchInstruments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInstruments(ctx, []domain.Instrument{
		{Code: "600000.SH", Symbol: "600000", Name: "浦发银行"},
		{Code: "000001.SZ", Symbol: "000001", Name: "平安银行"},
	}))

	// Exact symbol match ranks first even though the other row also matches.
	results, err := s.SearchInstruments(ctx, "000001", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "000001.SZ", results[0].Code)

	results, err = s.SearchInstruments(ctx, "银行", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestMemberships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInstruments(ctx, []domain.Instrument{
		{Code: "000001.SZ", Symbol: "000001", Name: "平安银行"},
		{Code: "600000.SH", Symbol: "600000", Name: "浦发银行"},
		{Code: "600519.SH", Symbol: "600519", Name: "贵州茅台"},
	}))

	require.NoError(t, s.SaveMemberships(ctx, domain.SchemeShenwan, []domain.IndustryMembership{
		{Code: "000001.SZ", Industry: "银行", Level: "L1", Scheme: domain.SchemeShenwan},
		{Code: "600000.SH", Industry: "银行", Level: "L1", Scheme: domain.SchemeShenwan},
		{Code: "600519.SH", Industry: "食品饮料", Level: "L1", Scheme: domain.SchemeShenwan},
	}))

	banks, err := s.IndustryInstruments(ctx, "银行", domain.SchemeShenwan)
	require.NoError(t, err)
	require.Len(t, banks, 2)
	assert.Equal(t, "000001.SZ", banks[0].Code)

	industries, err := s.Industries(ctx, domain.SchemeShenwan)
	require.NoError(t, err)
	assert.Len(t, industries, 2)

	// Saving a scheme again replaces that scheme only.
	require.NoError(t, s.SaveMemberships(ctx, domain.SchemeShenwan, []domain.IndustryMembership{
		{Code: "600519.SH", Industry: "食品饮料", Level: "L1", Scheme: domain.SchemeShenwan},
	}))
	industries, err = s.Industries(ctx, domain.SchemeShenwan)
	require.NoError(t, err)
	assert.Equal(t, []string{"食品饮料"}, industries)
}
