// Package reconcile brings the store up to date with the active provider.
// One run executes at a time on a background goroutine: catalog refresh,
// optional overwrite delete, sequential per-instrument fetch/upsert with
// throttling, best-effort industry classification rebuild.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockseason/internal/config"
	"stockseason/internal/infrastructure"
	"stockseason/internal/source"
	"stockseason/internal/store"
	"stockseason/pkg/contracts/domain"
)

// Mode selects the fetch window strategy.
type Mode string

const (
	// ModeFull fetches the entire history for every instrument.
	ModeFull Mode = "full"
	// ModeIncremental fetches only records strictly after each
	// instrument's latest stored date.
	ModeIncremental Mode = "incremental"
)

// ParseMode validates a caller-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeIncremental:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be full or incremental", s)
	}
}

// ErrAlreadyRunning is returned when a trigger arrives while a run is
// active. The caller reports it and moves on; triggers are never queued.
var ErrAlreadyRunning = errors.New("reconciliation already in progress")

// errMessageLimit truncates per-instrument errors in progress messages.
const errMessageLimit = 120

// Options configure one run.
type Options struct {
	Mode      Mode `json:"mode"`
	Overwrite bool `json:"overwrite"`
}

// Coordinator owns the single-run state machine (Idle, Running, Idle) and
// drives the adapter and store. Queries run concurrently with an active
// run; only the trigger path is guarded.
type Coordinator struct {
	adapter  source.Adapter
	store    *store.Store
	cfg      *config.Config
	throttle *ThrottlePolicy
	metrics  *infrastructure.ReconcileMetrics
	logger   *slog.Logger
	callback ProgressFunc

	mu          sync.Mutex
	running     bool
	current     *runContext
	subscribers map[chan Snapshot]struct{}
}

// NewCoordinator wires a coordinator for the given adapter. metrics may be
// nil when telemetry is disabled.
func NewCoordinator(adapter source.Adapter, st *store.Store, cfg *config.Config, metrics *infrastructure.ReconcileMetrics, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		adapter:     adapter,
		store:       st,
		cfg:         cfg,
		throttle:    NewThrottlePolicy(cfg.ThrottleDelayFor(adapter.Name())),
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "reconcile"), slog.String("provider", adapter.Name())),
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// SetProgressFunc wires the single per-process progress callback. Must be
// called before Trigger.
func (c *Coordinator) SetProgressFunc(fn ProgressFunc) {
	c.callback = fn
}

// Trigger starts a run on a background goroutine and returns its ID
// immediately. A second trigger while running returns ErrAlreadyRunning.
func (c *Coordinator) Trigger(ctx context.Context, opts Options) (string, error) {
	if opts.Mode == "" {
		opts.Mode = ModeIncremental
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	runID := uuid.New().String()
	rc := newRunContext(runID, opts.Mode, c.adapter.Name(), c.callback, c.broadcast)
	c.running = true
	c.current = rc
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "run triggered",
		slog.String("run_id", runID),
		slog.String("mode", string(opts.Mode)),
		slog.Bool("overwrite", opts.Overwrite))

	go c.execute(infrastructure.EnsureTraceID(context.Background()), rc, opts)
	return runID, nil
}

// Snapshot returns the state of the active or last run. Before any run it
// reports an idle zero snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	rc := c.current
	c.mu.Unlock()

	if rc == nil {
		return Snapshot{Message: "idle"}
	}
	return rc.snapshot()
}

// Subscribe registers a progress event channel. The returned cancel
// function must be called to release it. Slow subscribers miss events
// rather than blocking the run.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.subscribers, ch)
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Coordinator) broadcast(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

// execute runs the whole pipeline. The running flag reset and the final
// progress emission are deferred so they happen on every exit path,
// including panics.
func (c *Coordinator) execute(ctx context.Context, rc *runContext, opts Options) {
	start := time.Now()
	logger := infrastructure.ContextLogger(ctx, c.logger)
	failure := ""

	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Sprintf("run panicked: %v", r)
			logger.Error("run panicked", slog.Any("panic", r))
		}

		snap := rc.snapshot()
		if failure != "" {
			rc.finish("failed: " + failure)
		} else {
			rc.finish(fmt.Sprintf("completed: %d records upserted, %d instruments failed", snap.Upserted, snap.Failed))
		}

		c.mu.Lock()
		c.running = false
		c.mu.Unlock()

		c.metrics.RecordRun(ctx, c.adapter.Name(), time.Since(start), failure == "")
		logger.Info("run finished",
			slog.String("run_id", snap.RunID),
			slog.Bool("success", failure == ""),
			slog.Int("upserted", snap.Upserted),
			slog.Int("failed", snap.Failed),
			slog.Duration("elapsed", time.Since(start)))
	}()

	// Catalog refresh is the hard prerequisite: a failed or empty catalog
	// fails the whole run.
	rc.update(0, 0, "fetching instrument catalog")
	catalog, err := c.fetchCatalog(ctx)
	if err != nil {
		failure = truncate(err.Error(), errMessageLimit)
		return
	}

	if err := c.store.SaveInstruments(ctx, catalog); err != nil {
		failure = truncate("save catalog: "+err.Error(), errMessageLimit)
		return
	}

	if opts.Overwrite {
		deleted, err := c.store.DeleteByProvider(ctx, c.adapter.Name())
		if err != nil {
			failure = truncate("overwrite delete: "+err.Error(), errMessageLimit)
			return
		}
		rc.update(0, len(catalog), fmt.Sprintf("overwrite: deleted %d existing records", deleted))
	}

	c.processInstruments(ctx, rc, catalog, opts)
	c.rebuildClassification(ctx, logger)
}

func (c *Coordinator) fetchCatalog(ctx context.Context) ([]domain.Instrument, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.Source.FetchTimeout)
	defer cancel()

	catalog, err := c.adapter.ListInstruments(fetchCtx)
	if err != nil {
		return nil, err
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty catalog", source.ErrCatalogUnavailable, c.adapter.Name())
	}
	return catalog, nil
}

// processInstruments walks the catalog sequentially. Per-instrument
// failures are absorbed: logged, reflected in the progress message, counted,
// never fatal.
func (c *Coordinator) processInstruments(ctx context.Context, rc *runContext, catalog []domain.Instrument, opts Options) {
	total := len(catalog)
	endDate := time.Now().Format("20060102")
	logger := infrastructure.ContextLogger(ctx, c.logger)

	for i, inst := range catalog {
		startDate, skip, err := c.fetchWindow(ctx, inst, opts, endDate)
		if err == nil && !skip {
			err = c.fetchAndUpsert(ctx, rc, inst.Code, startDate, endDate)
		}

		if err != nil {
			rc.addFailed()
			if c.metrics != nil {
				c.metrics.InstrumentsFailed.Add(ctx, 1)
			}
			msg := truncate(err.Error(), errMessageLimit)
			logger.Warn("instrument failed",
				slog.String("code", inst.Code),
				slog.String("error", msg))
			rc.update(i+1, total, fmt.Sprintf("%s failed: %s", inst.Code, msg))
		} else {
			rc.update(i+1, total, fmt.Sprintf("processed %s (%d/%d)", inst.Code, i+1, total))
		}

		if err := c.throttle.Wait(ctx); err != nil {
			return
		}
	}
}

// fetchWindow computes the inclusive fetch range start for one instrument.
// skip is true when the instrument is already up to date.
func (c *Coordinator) fetchWindow(ctx context.Context, inst domain.Instrument, opts Options, endDate string) (string, bool, error) {
	historyStart := inst.ListDate
	if historyStart == "" {
		historyStart = strconv.Itoa(c.cfg.Source.StartYear) + "0101"
	}

	if opts.Mode == ModeFull || opts.Overwrite {
		return historyStart, false, nil
	}

	latest, err := c.store.LatestDate(ctx, inst.Code, c.adapter.Name())
	if err != nil {
		return "", false, err
	}
	if latest == "" {
		return historyStart, false, nil
	}

	next, err := nextDay(latest)
	if err != nil {
		return historyStart, false, nil
	}
	if next > endDate {
		return "", true, nil
	}
	return next, false, nil
}

func (c *Coordinator) fetchAndUpsert(ctx context.Context, rc *runContext, code, startDate, endDate string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.Source.FetchTimeout)
	defer cancel()

	records, err := c.adapter.FetchMonthlySeries(fetchCtx, code, startDate, endDate)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	n, err := c.store.Upsert(ctx, records)
	if err != nil {
		return err
	}
	rc.addUpserted(n)
	if c.metrics != nil {
		c.metrics.RecordsUpserted.Add(ctx, int64(n))
	}
	return nil
}

// rebuildClassification refreshes industry memberships when the adapter can
// supply them. Failures are swallowed; classification never fails a run.
func (c *Coordinator) rebuildClassification(ctx context.Context, logger *slog.Logger) {
	classifier, ok := c.adapter.(source.IndustryClassifier)
	if !ok {
		return
	}

	for _, scheme := range []domain.ClassificationScheme{domain.SchemeShenwan, domain.SchemeCITICS} {
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.Source.FetchTimeout)
		memberships, err := classifier.ListMemberships(fetchCtx, scheme)
		cancel()
		if err != nil {
			logger.Debug("classification skipped",
				slog.String("scheme", string(scheme)),
				slog.String("error", err.Error()))
			continue
		}
		if err := c.store.SaveMemberships(ctx, scheme, memberships); err != nil {
			logger.Warn("classification save failed",
				slog.String("scheme", string(scheme)),
				slog.String("error", err.Error()))
		}
	}
}

func nextDay(date string) (string, error) {
	t, err := time.Parse("20060102", date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, 1).Format("20060102"), nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
