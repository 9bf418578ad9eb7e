package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockseason/internal/config"
	"stockseason/internal/source"
	"stockseason/internal/store"
	"stockseason/pkg/contracts/domain"
)

// fakeAdapter is a scriptable in-memory provider.
type fakeAdapter struct {
	mu          sync.Mutex
	catalog     []domain.Instrument
	catalogErr  error
	seriesErr   map[string]error // per-code fetch failures
	memberships []domain.IndustryMembership
	memberErr   error
	fetchCalls  map[string][]string // code -> [start, end] of last call
	block       chan struct{}       // when set, FetchMonthlySeries blocks until closed
}

func newFakeAdapter(codes ...string) *fakeAdapter {
	f := &fakeAdapter{
		seriesErr:  make(map[string]error),
		fetchCalls: make(map[string][]string),
	}
	for _, code := range codes {
		f.catalog = append(f.catalog, domain.Instrument{
			Code: code, Symbol: code[:6], Name: "stock " + code, ListDate: "20200101",
		})
	}
	return f
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	return f.catalog, nil
}

func (f *fakeAdapter) FetchMonthlySeries(ctx context.Context, code, start, end string) ([]domain.CanonicalRecord, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.fetchCalls[code] = []string{start, end}
	err := f.seriesErr[code]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []domain.CanonicalRecord{{
		Code: code, TradeDate: "20210331", Year: 2021, Month: 3,
		Open: 10, Close: 10.5, PctChange: 2.1, Provider: "fake",
	}}, nil
}

func (f *fakeAdapter) ListMemberships(ctx context.Context, scheme domain.ClassificationScheme) ([]domain.IndustryMembership, error) {
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	if scheme != domain.SchemeShenwan {
		return nil, source.ErrClassificationUnavailable
	}
	return f.memberships, nil
}

func (f *fakeAdapter) lastFetch(code string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[code]
}

func newTestCoordinator(t *testing.T, adapter source.Adapter) (*Coordinator, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Source.StartYear = 2000
	cfg.Source.FetchTimeout = 5 * time.Second
	// No throttling in tests.
	cfg.Source.Throttle.Delay = 0
	cfg.Source.Throttle.StrictDelay = 0

	return NewCoordinator(adapter, st, cfg, nil, logger), st
}

func waitForIdle(t *testing.T, c *Coordinator) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := c.Snapshot()
		if !snap.IsRunning && snap.RunID != "" {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return Snapshot{}
}

func TestTrigger_FullRun(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ", "600519.SH")
	c, st := newTestCoordinator(t, adapter)

	runID, err := c.Trigger(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	snap := waitForIdle(t, c)
	assert.Equal(t, snap.Total, snap.Current)
	assert.Equal(t, 2, snap.Upserted)
	assert.Zero(t, snap.Failed)
	assert.Contains(t, snap.Message, "completed")

	records, err := st.Query(context.Background(), store.QueryFilter{Provider: "fake"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	instruments, err := st.Instruments(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, instruments, 2)
}

func TestTrigger_RejectsConcurrentRun(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ")
	adapter.block = make(chan struct{})
	c, _ := newTestCoordinator(t, adapter)

	_, err := c.Trigger(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	// Wait until the run is past the catalog step and blocking in a fetch.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && c.Snapshot().Total == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	_, err = c.Trigger(context.Background(), Options{Mode: ModeFull})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(adapter.block)
	waitForIdle(t, c)

	// Once idle a new trigger succeeds.
	adapter.block = nil
	_, err = c.Trigger(context.Background(), Options{Mode: ModeIncremental})
	assert.NoError(t, err)
	waitForIdle(t, c)
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ", "000002.SZ", "600519.SH")
	adapter.seriesErr["000002.SZ"] = fmt.Errorf("%w: connection refused", source.ErrFetchFailed)
	c, st := newTestCoordinator(t, adapter)

	_, err := c.Trigger(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	snap := waitForIdle(t, c)

	// The failing middle instrument never aborts the run; the other two
	// still land and progress reaches 100%.
	assert.Equal(t, snap.Total, snap.Current)
	assert.Equal(t, 2, snap.Upserted)
	assert.Equal(t, 1, snap.Failed)
	assert.Contains(t, snap.Message, "1 instruments failed")

	records, err := st.Query(context.Background(), store.QueryFilter{Provider: "fake"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "000001.SZ", records[0].Code)
	assert.Equal(t, "600519.SH", records[1].Code)
}

func TestRun_CatalogFailureIsFatal(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ")
	adapter.catalogErr = fmt.Errorf("upstream 502")
	c, _ := newTestCoordinator(t, adapter)

	_, err := c.Trigger(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	snap := waitForIdle(t, c)
	assert.Contains(t, snap.Message, "failed")
	assert.Zero(t, snap.Upserted)

	// The running flag resets even on failure, so a new trigger is accepted.
	_, err = c.Trigger(context.Background(), Options{Mode: ModeFull})
	assert.NoError(t, err)
	waitForIdle(t, c)
}

func TestRun_EmptyCatalogIsFatal(t *testing.T) {
	adapter := newFakeAdapter() // zero instruments
	c, _ := newTestCoordinator(t, adapter)

	_, err := c.Trigger(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	snap := waitForIdle(t, c)
	assert.Contains(t, snap.Message, "failed")
	assert.Contains(t, snap.Message, "empty catalog")
}

func TestRun_IncrementalWindow(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ")
	c, st := newTestCoordinator(t, adapter)

	_, err := st.Upsert(context.Background(), []domain.CanonicalRecord{{
		Code: "000001.SZ", TradeDate: "20210226", Year: 2021, Month: 2,
		Open: 10, Close: 10.2, PctChange: 1.0, Provider: "fake",
	}})
	require.NoError(t, err)

	_, err = c.Trigger(context.Background(), Options{Mode: ModeIncremental})
	require.NoError(t, err)
	waitForIdle(t, c)

	call := adapter.lastFetch("000001.SZ")
	require.NotNil(t, call)
	// Strictly after the latest stored date.
	assert.Equal(t, "20210227", call[0])
}

func TestRun_IncrementalFreshInstrumentUsesListDate(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ")
	c, _ := newTestCoordinator(t, adapter)

	_, err := c.Trigger(context.Background(), Options{Mode: ModeIncremental})
	require.NoError(t, err)
	waitForIdle(t, c)

	call := adapter.lastFetch("000001.SZ")
	require.NotNil(t, call)
	assert.Equal(t, "20200101", call[0])
}

func TestRun_OverwriteDeletesExisting(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ")
	c, st := newTestCoordinator(t, adapter)
	ctx := context.Background()

	_, err := st.Upsert(ctx, []domain.CanonicalRecord{{
		Code: "999999.SZ", TradeDate: "20200131", Year: 2020, Month: 1,
		Open: 5, Close: 5.5, PctChange: 3.0, Provider: "fake",
	}})
	require.NoError(t, err)

	_, err = c.Trigger(ctx, Options{Mode: ModeFull, Overwrite: true})
	require.NoError(t, err)
	waitForIdle(t, c)

	records, err := st.Query(ctx, store.QueryFilter{Provider: "fake"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "000001.SZ", records[0].Code)
}

func TestRun_ClassificationRebuild(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ")
	adapter.memberships = []domain.IndustryMembership{
		{Code: "000001.SZ", Industry: "银行", Scheme: domain.SchemeShenwan},
	}
	c, st := newTestCoordinator(t, adapter)

	_, err := c.Trigger(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)
	waitForIdle(t, c)

	industries, err := st.Industries(context.Background(), domain.SchemeShenwan)
	require.NoError(t, err)
	assert.Equal(t, []string{"银行"}, industries)
}

func TestRun_ClassificationFailureIsSwallowed(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ")
	adapter.memberErr = fmt.Errorf("%w: quota exceeded", source.ErrClassificationUnavailable)
	c, _ := newTestCoordinator(t, adapter)

	_, err := c.Trigger(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	snap := waitForIdle(t, c)
	assert.Contains(t, snap.Message, "completed")
	assert.Equal(t, 1, snap.Upserted)
}

func TestProgressCallback(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ", "600519.SH")
	c, _ := newTestCoordinator(t, adapter)

	var mu sync.Mutex
	var messages []string
	c.SetProgressFunc(func(current, total int, message string) {
		mu.Lock()
		messages = append(messages, fmt.Sprintf("%d/%d %s", current, total, message))
		mu.Unlock()
	})

	_, err := c.Trigger(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)
	waitForIdle(t, c)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[len(messages)-1], "completed")
}

func TestSubscribe_ReceivesFinalEvent(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ")
	c, _ := newTestCoordinator(t, adapter)

	events, cancel := c.Subscribe()
	defer cancel()

	_, err := c.Trigger(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)
	waitForIdle(t, c)

	var final Snapshot
	for {
		select {
		case snap := <-events:
			final = snap
			if !snap.IsRunning {
				assert.Contains(t, final.Message, "completed")
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no final event received")
		}
	}
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("full")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, mode)

	_, err = ParseMode("sideways")
	assert.Error(t, err)
}

func TestSnapshot_BeforeAnyRun(t *testing.T) {
	adapter := newFakeAdapter("000001.SZ")
	c, _ := newTestCoordinator(t, adapter)

	snap := c.Snapshot()
	assert.False(t, snap.IsRunning)
	assert.Equal(t, "idle", snap.Message)
}
