// Package store is the persistence layer: SQLite-backed tables for
// daily quotes, fundamentals snapshots, tickers, watchlists, and
// portfolios. The market-data core is the sole writer on cache-miss
// paths; everything goes through this narrow interface, never raw SQL
// from callers.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"finvestor/internal/provider"
)

const dateFormat = "2006-01-02"

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for concurrent reads while request handlers write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tickers (
			symbol   TEXT PRIMARY KEY,
			name     TEXT,
			exchange TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS quotes (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			open   REAL,
			high   REAL,
			low    REAL,
			close  REAL NOT NULL,
			volume INTEGER,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_symbol_date ON quotes(symbol, date)`,

		`CREATE TABLE IF NOT EXISTS fundamentals (
			symbol      TEXT PRIMARY KEY,
			pe_ratio    REAL,
			market_cap  REAL,
			beta        REAL,
			week52_high REAL,
			week52_low  REAL,
			source      TEXT NOT NULL,
			fetched_at  TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS watchlists (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS watchlist_symbols (
			watchlist_id TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			PRIMARY KEY (watchlist_id, symbol)
		)`,

		`CREATE TABLE IF NOT EXISTS portfolios (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			description    TEXT,
			inception_date TEXT NOT NULL,
			created_at     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS holdings (
			portfolio_id TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			qty          REAL NOT NULL,
			avg_cost     REAL NOT NULL,
			as_of_date   TEXT NOT NULL,
			auto_priced  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (portfolio_id, symbol)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// UpsertQuotes inserts or overwrites daily bars keyed by (symbol, date).
// Upsert rather than insert: restated data from a provider silently
// replaces the cached row. Last writer wins; historical closes are
// deterministic so concurrent writers cannot disagree.
func (s *Store) UpsertQuotes(quotes []provider.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO quotes (symbol, date, open, high, low, close, volume)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, q := range quotes {
		if _, err := stmt.Exec(q.Symbol, q.Date.Format(dateFormat), q.Open, q.High, q.Low, q.Close, q.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert %s %s: %w", q.Symbol, q.Date.Format(dateFormat), err)
		}
	}
	return tx.Commit()
}

// Quotes returns persisted bars for symbol within [from, to], oldest
// first.
func (s *Store) Quotes(symbol string, from, to time.Time) ([]provider.Quote, error) {
	rows, err := s.db.Query(`SELECT symbol, date, open, high, low, close, volume
		FROM quotes WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date ASC`,
		symbol, from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return nil, fmt.Errorf("query quotes: %w", err)
	}
	defer rows.Close()
	var out []provider.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// QuoteOn returns the bar for symbol on an exact date, if persisted.
func (s *Store) QuoteOn(symbol string, date time.Time) (provider.Quote, bool, error) {
	row := s.db.QueryRow(`SELECT symbol, date, open, high, low, close, volume
		FROM quotes WHERE symbol = ? AND date = ?`, symbol, date.Format(dateFormat))
	q, err := scanQuote(row)
	if err == sql.ErrNoRows {
		return provider.Quote{}, false, nil
	}
	if err != nil {
		return provider.Quote{}, false, err
	}
	return q, true, nil
}

// QuoteSpan reports the persisted date range and row count for symbol.
func (s *Store) QuoteSpan(symbol string) (first, last time.Time, n int, err error) {
	row := s.db.QueryRow(`SELECT COALESCE(MIN(date),''), COALESCE(MAX(date),''), COUNT(*)
		FROM quotes WHERE symbol = ?`, symbol)
	var minStr, maxStr string
	if err = row.Scan(&minStr, &maxStr, &n); err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("quote span: %w", err)
	}
	if n == 0 {
		return time.Time{}, time.Time{}, 0, nil
	}
	if first, err = time.Parse(dateFormat, minStr); err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("parse span start: %w", err)
	}
	if last, err = time.Parse(dateFormat, maxStr); err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("parse span end: %w", err)
	}
	return first, last, n, nil
}

// UpsertFundamentals overwrites the current snapshot for the symbol in
// place; snapshots are not versioned.
func (s *Store) UpsertFundamentals(f provider.Fundamentals) error {
	_, err := s.db.Exec(`INSERT INTO fundamentals
		(symbol, pe_ratio, market_cap, beta, week52_high, week52_low, source, fetched_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (symbol) DO UPDATE SET
			pe_ratio=excluded.pe_ratio, market_cap=excluded.market_cap,
			beta=excluded.beta, week52_high=excluded.week52_high,
			week52_low=excluded.week52_low, source=excluded.source,
			fetched_at=excluded.fetched_at`,
		f.Symbol, optional(f.PERatio), optional(f.MarketCap), optional(f.Beta),
		optional(f.Week52High), optional(f.Week52Low), f.Source, f.FetchedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert fundamentals %s: %w", f.Symbol, err)
	}
	return nil
}

// Fundamentals returns the current snapshot for symbol, if any.
func (s *Store) Fundamentals(symbol string) (provider.Fundamentals, bool, error) {
	row := s.db.QueryRow(`SELECT symbol, pe_ratio, market_cap, beta, week52_high, week52_low, source, fetched_at
		FROM fundamentals WHERE symbol = ?`, symbol)
	var f provider.Fundamentals
	var pe, cap, beta, hi, lo sql.NullFloat64
	var fetchedAt string
	err := row.Scan(&f.Symbol, &pe, &cap, &beta, &hi, &lo, &f.Source, &fetchedAt)
	if err == sql.ErrNoRows {
		return provider.Fundamentals{}, false, nil
	}
	if err != nil {
		return provider.Fundamentals{}, false, fmt.Errorf("query fundamentals: %w", err)
	}
	f.PERatio = fromNull(pe)
	f.MarketCap = fromNull(cap)
	f.Beta = fromNull(beta)
	f.Week52High = fromNull(hi)
	f.Week52Low = fromNull(lo)
	if f.FetchedAt, err = time.Parse(time.RFC3339, fetchedAt); err != nil {
		return provider.Fundamentals{}, false, fmt.Errorf("parse fetched_at: %w", err)
	}
	return f, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuote(row scanner) (provider.Quote, error) {
	var q provider.Quote
	var dateStr string
	var open, high, low sql.NullFloat64
	var volume sql.NullInt64
	if err := row.Scan(&q.Symbol, &dateStr, &open, &high, &low, &q.Close, &volume); err != nil {
		return provider.Quote{}, err
	}
	date, err := time.Parse(dateFormat, dateStr)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("parse quote date: %w", err)
	}
	q.Date = date
	q.Open = open.Float64
	q.High = high.Float64
	q.Low = low.Float64
	q.Volume = volume.Int64
	return q, nil
}

func optional(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
