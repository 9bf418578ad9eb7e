package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"stockseason/pkg/contracts/domain"
)

// SaveInstruments replaces the whole catalog. Insertion order is preserved
// and defines catalog order for ranking ties.
func (s *Store) SaveInstruments(ctx context.Context, instruments []domain.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM instruments"); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO instruments
		(code, symbol, name, list_date, delist_date, exchange, industry)
		VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare catalog insert: %w", err)
	}
	defer stmt.Close()

	for _, inst := range instruments {
		if _, err := stmt.ExecContext(ctx,
			inst.Code, inst.Symbol, inst.Name,
			inst.ListDate, inst.DelistDate, inst.Exchange, inst.Industry,
		); err != nil {
			return fmt.Errorf("insert instrument %s: %w", inst.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog save: %w", err)
	}

	s.logger.Info("catalog saved", slog.Int("instruments", len(instruments)))
	return nil
}

// Instruments returns the catalog in its stored (catalog) order.
func (s *Store) Instruments(ctx context.Context, includeDelisted bool) ([]domain.Instrument, error) {
	query := `SELECT code, symbol, name, list_date, delist_date, exchange, industry FROM instruments`
	if !includeDelisted {
		query += " WHERE delist_date IS NULL OR delist_date = ''"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	defer rows.Close()

	return scanInstruments(rows)
}

// InstrumentByCode looks one instrument up by canonical code. A missing
// instrument yields (nil, nil).
func (s *Store) InstrumentByCode(ctx context.Context, code string) (*domain.Instrument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT code, symbol, name, list_date, delist_date, exchange, industry
		FROM instruments WHERE code = ?`, code)

	inst, err := scanInstrument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("instrument by code: %w", err)
	}
	return inst, nil
}

// SearchInstruments matches a keyword against code, symbol and name.
// Exact symbol matches sort first.
func (s *Store) SearchInstruments(ctx context.Context, keyword string, limit int) ([]domain.Instrument, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + keyword + "%"

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, symbol, name, list_date, delist_date, exchange, industry
		FROM instruments
		WHERE code LIKE ? OR symbol LIKE ? OR name LIKE ?
		ORDER BY CASE WHEN symbol = ? THEN 0 ELSE 1 END, id
		LIMIT ?`,
		pattern, pattern, pattern, keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("search instruments: %w", err)
	}
	defer rows.Close()

	return scanInstruments(rows)
}

// SaveMemberships replaces all memberships for one classification scheme.
func (s *Store) SaveMemberships(ctx context.Context, scheme domain.ClassificationScheme, memberships []domain.IndustryMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin membership save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM industry_memberships WHERE scheme = ?", string(scheme)); err != nil {
		return fmt.Errorf("clear memberships: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO industry_memberships
		(code, industry, level, scheme) VALUES (?,?,?,?)
		ON CONFLICT(code, industry, scheme) DO UPDATE SET level=excluded.level`)
	if err != nil {
		return fmt.Errorf("prepare membership insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range memberships {
		if _, err := stmt.ExecContext(ctx, m.Code, m.Industry, m.Level, string(m.Scheme)); err != nil {
			return fmt.Errorf("insert membership %s/%s: %w", m.Code, m.Industry, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit membership save: %w", err)
	}

	s.logger.Info("memberships saved",
		slog.String("scheme", string(scheme)),
		slog.Int("count", len(memberships)))
	return nil
}

// IndustryInstruments returns the catalog entries belonging to one industry
// under one scheme, in catalog order.
func (s *Store) IndustryInstruments(ctx context.Context, industry string, scheme domain.ClassificationScheme) ([]domain.Instrument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.code, i.symbol, i.name, i.list_date, i.delist_date, i.exchange, i.industry
		FROM instruments i
		JOIN industry_memberships m ON m.code = i.code
		WHERE m.industry = ? AND m.scheme = ?
		ORDER BY i.id`,
		industry, string(scheme))
	if err != nil {
		return nil, fmt.Errorf("industry instruments: %w", err)
	}
	defer rows.Close()

	return scanInstruments(rows)
}

// Industries lists the distinct industry labels known under one scheme.
func (s *Store) Industries(ctx context.Context, scheme domain.ClassificationScheme) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT industry FROM industry_memberships WHERE scheme = ? ORDER BY industry",
		string(scheme))
	if err != nil {
		return nil, fmt.Errorf("list industries: %w", err)
	}
	defer rows.Close()

	var industries []string
	for rows.Next() {
		var industry string
		if err := rows.Scan(&industry); err != nil {
			return nil, fmt.Errorf("scan industry: %w", err)
		}
		industries = append(industries, industry)
	}
	return industries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstrument(row rowScanner) (*domain.Instrument, error) {
	var inst domain.Instrument
	var listDate, delistDate, exchange, industry sql.NullString
	if err := row.Scan(&inst.Code, &inst.Symbol, &inst.Name,
		&listDate, &delistDate, &exchange, &industry); err != nil {
		return nil, err
	}
	inst.ListDate = listDate.String
	inst.DelistDate = delistDate.String
	inst.Exchange = exchange.String
	inst.Industry = industry.String
	return &inst, nil
}

func scanInstruments(rows *sql.Rows) ([]domain.Instrument, error) {
	var instruments []domain.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		instruments = append(instruments, *inst)
	}
	return instruments, rows.Err()
}
