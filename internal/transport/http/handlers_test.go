package http

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"stockseason/internal/config"
	apierrors "stockseason/internal/errors"
	"stockseason/internal/reconcile"
	"stockseason/internal/services"
	"stockseason/internal/source"
	"stockseason/internal/stats"
	"stockseason/internal/store"
	"stockseason/pkg/contracts/domain"
)

// stubAdapter serves one instrument with one record per run.
type stubAdapter struct{}

func (stubAdapter) Name() string { return "stub" }

func (stubAdapter) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	return []domain.Instrument{{Code: "000001.SZ", Symbol: "000001", Name: "平安银行", ListDate: "20200101"}}, nil
}

func (stubAdapter) FetchMonthlySeries(ctx context.Context, code, start, end string) ([]domain.CanonicalRecord, error) {
	return []domain.CanonicalRecord{{
		Code: code, TradeDate: "20210331", Year: 2021, Month: 3,
		Open: 10, Close: 10.2, High: 10.3, Low: 9.8,
		Volume: 1000, Amount: math.NaN(), PctChange: 2.0, Provider: "stub",
	}}, nil
}

var _ source.Adapter = stubAdapter{}

type testServer struct {
	store  *store.Store
	update *services.UpdateService
	stats  *services.StatsService
	server *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Source.StartYear = 2000
	cfg.Source.FetchTimeout = 5 * time.Second

	coordinator := reconcile.NewCoordinator(stubAdapter{}, st, cfg, nil, logger)
	update := services.NewUpdateService(coordinator, logger)
	statsSvc := services.NewStatsService(stats.NewEngine(st, logger), st, logger)
	health := services.NewHealthService("test", st, update, logger)

	errorHandler := apierrors.NewErrorHandler(logger, false)

	r := chi.NewRouter()
	r.Mount("/api/update", NewUpdateHandler(update, logger, errorHandler).Routes())
	r.Mount("/api/stats", NewStatsHandler(statsSvc, logger, errorHandler).Routes())
	r.Mount("/api/health", NewHealthHandler(health, logger).Routes())

	catalog := NewCatalogHandler(statsSvc, logger, errorHandler)
	r.Mount("/api/stocks", catalog.Routes())
	r.Get("/api/providers", catalog.Providers)
	r.Method("GET", "/api/update/stream", NewStreamHandler(update, logger, errorHandler))

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &testServer{store: st, update: update, stats: statsSvc, server: ts}
}

// seed loads a small fixture: two instruments, three years of March
// records for the first, one for the second.
func (s *testServer) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.store.SaveInstruments(ctx, []domain.Instrument{
		{Code: "000001.SZ", Symbol: "000001", Name: "平安银行", Exchange: "SZ"},
		{Code: "600519.SH", Symbol: "600519", Name: "贵州茅台", Exchange: "SH"},
	}))

	records := []domain.CanonicalRecord{
		{Code: "000001.SZ", TradeDate: "20190329", Year: 2019, Month: 3, Open: 10, Close: 10.5, PctChange: 5.0, Provider: "tushare"},
		{Code: "000001.SZ", TradeDate: "20200331", Year: 2020, Month: 3, Open: 11, Close: 10.8, PctChange: -1.8, Provider: "tushare"},
		{Code: "000001.SZ", TradeDate: "20210331", Year: 2021, Month: 3, Open: 10.8, Close: 11.1, PctChange: 2.8, Provider: "tushare"},
		{Code: "600519.SH", TradeDate: "20210331", Year: 2021, Month: 3, Open: 2000, Close: 2100, PctChange: 5.0, Provider: "tushare"},
	}
	for i := range records {
		records[i].High = records[i].Close
		records[i].Low = records[i].Open
		records[i].Volume = 100
		records[i].Amount = math.NaN()
	}
	_, err := s.store.Upsert(ctx, records)
	require.NoError(t, err)

	require.NoError(t, s.store.SaveMemberships(ctx, domain.SchemeShenwan, []domain.IndustryMembership{
		{Code: "000001.SZ", Industry: "银行", Scheme: domain.SchemeShenwan},
		{Code: "600519.SH", Industry: "食品饮料", Scheme: domain.SchemeShenwan},
	}))
}

func waitForIdle(t *testing.T, svc *services.UpdateService) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p := svc.Progress(context.Background())
		if !p.IsRunning && p.RunID != "" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
}
