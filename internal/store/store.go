// Package store persists canonical records, the instrument catalog and
// industry memberships in SQLite. Records are keyed by (code, trade_date,
// provider); upserts are last-write-wins per key. Readers may run
// concurrently with a reconciliation run's writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	apperrors "stockseason/internal/errors"
	"stockseason/pkg/contracts/domain"
)

// Store is the SQLite-backed time series store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// SQLite allows one writer at a time; serialize writes here instead of
	// relying on the driver's busy handler.
	mu sync.Mutex
}

// New opens (or creates) the SQLite database at path and runs migrations.
// Use ":memory:" for an ephemeral store in tests.
func New(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewStorageError("open sqlite", err)
	}

	// WAL mode so aggregation reads proceed while a run writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("set WAL mode", err)
	}

	s := &Store{db: db, logger: logger.With(slog.String("component", "store"))}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("migrate", err)
	}

	s.logger.Info("store opened", slog.String("path", path))
	return s, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			code       TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			year       INTEGER NOT NULL,
			month      INTEGER NOT NULL,
			open       REAL,
			close      REAL,
			high       REAL,
			low        REAL,
			volume     REAL,
			amount     REAL,
			pct_change REAL,
			provider   TEXT NOT NULL,
			UNIQUE(code, trade_date, provider)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_code_month ON records(code, month)`,
		`CREATE INDEX IF NOT EXISTS idx_records_provider ON records(provider)`,

		`CREATE TABLE IF NOT EXISTS instruments (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			code        TEXT NOT NULL UNIQUE,
			symbol      TEXT NOT NULL,
			name        TEXT NOT NULL,
			list_date   TEXT,
			delist_date TEXT,
			exchange    TEXT,
			industry    TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS industry_memberships (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			code     TEXT NOT NULL,
			industry TEXT NOT NULL,
			level    TEXT,
			scheme   TEXT NOT NULL,
			UNIQUE(code, industry, scheme)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_industry ON industry_memberships(industry, scheme)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.logger.Info("closing store")
	return s.db.Close()
}

// Upsert writes records, replacing any existing row with the same
// (code, trade_date, provider) key. NaN numeric fields persist as NULL.
// Returns the number of records written.
func (s *Store) Upsert(ctx context.Context, records []domain.CanonicalRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records
		(code, trade_date, year, month, open, close, high, low, volume, amount, pct_change, provider)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(code, trade_date, provider) DO UPDATE SET
			year=excluded.year, month=excluded.month,
			open=excluded.open, close=excluded.close,
			high=excluded.high, low=excluded.low,
			volume=excluded.volume, amount=excluded.amount,
			pct_change=excluded.pct_change`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Code, r.TradeDate, r.Year, r.Month,
			nullable(r.Open), nullable(r.Close), nullable(r.High), nullable(r.Low),
			nullable(r.Volume), nullable(r.Amount), nullable(r.PctChange),
			r.Provider,
		); err != nil {
			return written, fmt.Errorf("upsert %s/%s: %w", r.Code, r.TradeDate, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return written, nil
}

// LatestDate returns the maximum trade date matching the optional code and
// provider filters, or empty when no records match.
func (s *Store) LatestDate(ctx context.Context, code, provider string) (string, error) {
	query := "SELECT MAX(trade_date) FROM records WHERE 1=1"
	var args []interface{}
	if code != "" {
		query += " AND code = ?"
		args = append(args, code)
	}
	if provider != "" {
		query += " AND provider = ?"
		args = append(args, provider)
	}

	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&latest); err != nil {
		return "", fmt.Errorf("latest date: %w", err)
	}
	if !latest.Valid {
		return "", nil
	}
	return latest.String, nil
}

// QueryFilter narrows a Query call. Zero values mean "no filter".
type QueryFilter struct {
	Code     string
	Provider string
	Year     int
	Month    int
	YearFrom int
	YearTo   int
}

// Query returns matching records ordered by trade date ascending.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]domain.CanonicalRecord, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT code, trade_date, year, month, open, close, high, low, volume, amount, pct_change, provider
		FROM records WHERE 1=1`)
	var args []interface{}

	if f.Code != "" {
		sb.WriteString(" AND code = ?")
		args = append(args, f.Code)
	}
	if f.Provider != "" {
		sb.WriteString(" AND provider = ?")
		args = append(args, f.Provider)
	}
	if f.Year != 0 {
		sb.WriteString(" AND year = ?")
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		sb.WriteString(" AND month = ?")
		args = append(args, f.Month)
	}
	if f.YearFrom != 0 {
		sb.WriteString(" AND year >= ?")
		args = append(args, f.YearFrom)
	}
	if f.YearTo != 0 {
		sb.WriteString(" AND year <= ?")
		args = append(args, f.YearTo)
	}
	sb.WriteString(" ORDER BY trade_date ASC")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DeleteByProvider removes every record for one provider and returns the
// count removed. Used by overwrite-mode reconciliation.
func (s *Store) DeleteByProvider(ctx context.Context, provider string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE provider = ?", provider)
	if err != nil {
		return 0, fmt.Errorf("delete by provider: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted: %w", err)
	}

	s.logger.Info("deleted provider records",
		slog.String("provider", provider),
		slog.Int64("count", count))
	return count, nil
}

// AvailableProviders returns the distinct provider tags present, optionally
// scoped to one instrument.
func (s *Store) AvailableProviders(ctx context.Context, code string) ([]string, error) {
	query := "SELECT DISTINCT provider FROM records"
	var args []interface{}
	if code != "" {
		query += " WHERE code = ?"
		args = append(args, code)
	}
	query += " ORDER BY provider"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("available providers: %w", err)
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// CompareProviders returns every stored record for one instrument and one
// calendar month across all providers, ordered by trade date then provider.
func (s *Store) CompareProviders(ctx context.Context, code string, year, month int) ([]domain.CanonicalRecord, error) {
	query := `SELECT code, trade_date, year, month, open, close, high, low, volume, amount, pct_change, provider
		FROM records WHERE code = ?`
	args := []interface{}{code}

	if year != 0 {
		query += " AND year = ?"
		args = append(args, year)
	}
	if month != 0 {
		query += " AND month = ?"
		args = append(args, month)
	}
	query += " ORDER BY trade_date ASC, provider ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compare providers: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ProviderSummaries describes each provider's stored footprint.
func (s *Store) ProviderSummaries(ctx context.Context) ([]domain.ProviderSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, COUNT(*), COUNT(DISTINCT code), MAX(trade_date)
		FROM records GROUP BY provider ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("provider summaries: %w", err)
	}
	defer rows.Close()

	var summaries []domain.ProviderSummary
	for rows.Next() {
		var sum domain.ProviderSummary
		var latest sql.NullString
		if err := rows.Scan(&sum.Provider, &sum.RecordCount, &sum.InstrumentCount, &latest); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.LatestDate = latest.String
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]domain.CanonicalRecord, error) {
	var records []domain.CanonicalRecord
	for rows.Next() {
		var r domain.CanonicalRecord
		var open, close, high, low, volume, amount, pct sql.NullFloat64
		if err := rows.Scan(&r.Code, &r.TradeDate, &r.Year, &r.Month,
			&open, &close, &high, &low, &volume, &amount, &pct, &r.Provider); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Open = floatOrNaN(open)
		r.Close = floatOrNaN(close)
		r.High = floatOrNaN(high)
		r.Low = floatOrNaN(low)
		r.Volume = floatOrNaN(volume)
		r.Amount = floatOrNaN(amount)
		r.PctChange = floatOrNaN(pct)
		records = append(records, r)
	}
	return records, rows.Err()
}

// nullable converts NaN to a SQL NULL.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
