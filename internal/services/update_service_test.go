package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockseason/internal/config"
	apierrors "stockseason/internal/errors"
	"stockseason/internal/reconcile"
	"stockseason/internal/source"
	"stockseason/internal/store"
	"stockseason/pkg/contracts/domain"
)

// stubAdapter serves one instrument with one record.
type stubAdapter struct{}

func (stubAdapter) Name() string { return "stub" }

func (stubAdapter) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	return []domain.Instrument{{Code: "000001.SZ", Symbol: "000001", Name: "平安银行", ListDate: "20200101"}}, nil
}

func (stubAdapter) FetchMonthlySeries(ctx context.Context, code, start, end string) ([]domain.CanonicalRecord, error) {
	return []domain.CanonicalRecord{{
		Code: code, TradeDate: "20210331", Year: 2021, Month: 3,
		Open: 10, Close: 10.2, PctChange: 2.0, Provider: "stub",
	}}, nil
}

var _ source.Adapter = stubAdapter{}

func newUpdateService(t *testing.T) *UpdateService {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Source.StartYear = 2000
	cfg.Source.FetchTimeout = 5 * time.Second

	coordinator := reconcile.NewCoordinator(stubAdapter{}, st, cfg, nil, logger)
	return NewUpdateService(coordinator, logger)
}

func waitForServiceIdle(t *testing.T, svc *UpdateService) *ProgressResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p := svc.Progress(context.Background())
		if !p.IsRunning && p.RunID != "" {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return nil
}

func TestTrigger_StartsRun(t *testing.T) {
	svc := newUpdateService(t)

	resp, err := svc.Trigger(context.Background(), TriggerRequest{Mode: "full"})
	require.NoError(t, err)
	assert.True(t, resp.Started)
	assert.NotEmpty(t, resp.RunID)

	progress := waitForServiceIdle(t, svc)
	assert.Equal(t, 100.0, progress.Percent)
	assert.Contains(t, progress.Message, "completed")
}

func TestTrigger_DefaultsToIncremental(t *testing.T) {
	svc := newUpdateService(t)

	resp, err := svc.Trigger(context.Background(), TriggerRequest{})
	require.NoError(t, err)
	assert.True(t, resp.Started)
	waitForServiceIdle(t, svc)
}

func TestTrigger_InvalidMode(t *testing.T) {
	svc := newUpdateService(t)

	_, err := svc.Trigger(context.Background(), TriggerRequest{Mode: "sideways"})
	require.Error(t, err)

	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "VALIDATION_FAILED", apiErr.ErrorCode)
}

func TestProgress_BeforeAnyRun(t *testing.T) {
	svc := newUpdateService(t)

	p := svc.Progress(context.Background())
	assert.False(t, p.IsRunning)
	assert.Zero(t, p.Percent)
}
