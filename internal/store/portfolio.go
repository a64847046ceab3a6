package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Ticker is one row of the searchable symbol registry.
type Ticker struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange,omitempty"`
}

// Watchlist is a named set of symbols.
type Watchlist struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Symbols   []string  `json:"symbols"`
}

// Portfolio groups holdings under an inception date.
type Portfolio struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	InceptionDate time.Time `json:"inception_date"`
	CreatedAt     time.Time `json:"created_at"`
}

// Holding is one position within a portfolio. AutoPriced marks an
// avg_cost that was filled from historical closing data rather than
// entered by the user.
type Holding struct {
	PortfolioID string    `json:"-"`
	Symbol      string    `json:"symbol"`
	Qty         float64   `json:"qty"`
	AvgCost     float64   `json:"avg_cost"`
	AsOfDate    time.Time `json:"as_of_date"`
	AutoPriced  bool      `json:"auto_priced"`
}

// UpsertTicker inserts or refreshes a registry row.
func (s *Store) UpsertTicker(t Ticker) error {
	_, err := s.db.Exec(`INSERT INTO tickers (symbol, name, exchange) VALUES (?,?,?)
		ON CONFLICT (symbol) DO UPDATE SET name=excluded.name, exchange=excluded.exchange`,
		t.Symbol, t.Name, t.Exchange)
	if err != nil {
		return fmt.Errorf("upsert ticker %s: %w", t.Symbol, err)
	}
	return nil
}

// SearchTickers matches symbol or name, case-insensitive, capped rows.
func (s *Store) SearchTickers(q string, limit int) ([]Ticker, error) {
	like := "%" + strings.ToUpper(q) + "%"
	rows, err := s.db.Query(`SELECT symbol, COALESCE(name, symbol), COALESCE(exchange, '')
		FROM tickers WHERE UPPER(symbol) LIKE ? OR UPPER(name) LIKE ?
		ORDER BY symbol LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search tickers: %w", err)
	}
	defer rows.Close()
	var out []Ticker
	for rows.Next() {
		var t Ticker
		if err := rows.Scan(&t.Symbol, &t.Name, &t.Exchange); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CreateWatchlist(w Watchlist) error {
	_, err := s.db.Exec(`INSERT INTO watchlists (id, name, created_at) VALUES (?,?,?)`,
		w.ID, w.Name, w.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create watchlist: %w", err)
	}
	return nil
}

func (s *Store) Watchlists() ([]Watchlist, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM watchlists ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query watchlists: %w", err)
	}
	defer rows.Close()
	var out []Watchlist
	for rows.Next() {
		var w Watchlist
		var createdAt string
		if err := rows.Scan(&w.ID, &w.Name, &createdAt); err != nil {
			return nil, err
		}
		if w.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if w.Symbols, err = s.WatchlistSymbols(w.ID); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWatchlist(id string) error {
	if _, err := s.db.Exec(`DELETE FROM watchlist_symbols WHERE watchlist_id = ?`, id); err != nil {
		return fmt.Errorf("delete watchlist symbols: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM watchlists WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete watchlist: %w", err)
	}
	return nil
}

func (s *Store) AddWatchlistSymbol(id, symbol string) error {
	_, err := s.db.Exec(`INSERT INTO watchlist_symbols (watchlist_id, symbol) VALUES (?,?)
		ON CONFLICT (watchlist_id, symbol) DO NOTHING`, id, symbol)
	if err != nil {
		return fmt.Errorf("add watchlist symbol: %w", err)
	}
	return nil
}

func (s *Store) RemoveWatchlistSymbol(id, symbol string) error {
	_, err := s.db.Exec(`DELETE FROM watchlist_symbols WHERE watchlist_id = ? AND symbol = ?`, id, symbol)
	if err != nil {
		return fmt.Errorf("remove watchlist symbol: %w", err)
	}
	return nil
}

func (s *Store) WatchlistSymbols(id string) ([]string, error) {
	rows, err := s.db.Query(`SELECT symbol FROM watchlist_symbols WHERE watchlist_id = ? ORDER BY symbol`, id)
	if err != nil {
		return nil, fmt.Errorf("query watchlist symbols: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *Store) CreatePortfolio(p Portfolio) error {
	_, err := s.db.Exec(`INSERT INTO portfolios (id, name, description, inception_date, created_at)
		VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Description, p.InceptionDate.Format(dateFormat), p.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create portfolio: %w", err)
	}
	return nil
}

func (s *Store) Portfolio(id string) (Portfolio, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, COALESCE(description,''), inception_date, created_at
		FROM portfolios WHERE id = ?`, id)
	p, err := scanPortfolio(row)
	if err == sql.ErrNoRows {
		return Portfolio{}, false, nil
	}
	if err != nil {
		return Portfolio{}, false, err
	}
	return p, true, nil
}

func (s *Store) Portfolios() ([]Portfolio, error) {
	rows, err := s.db.Query(`SELECT id, name, COALESCE(description,''), inception_date, created_at
		FROM portfolios ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query portfolios: %w", err)
	}
	defer rows.Close()
	var out []Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePortfolio(id string) error {
	if _, err := s.db.Exec(`DELETE FROM holdings WHERE portfolio_id = ?`, id); err != nil {
		return fmt.Errorf("delete holdings: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM portfolios WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete portfolio: %w", err)
	}
	return nil
}

func (s *Store) UpsertHolding(h Holding) error {
	_, err := s.db.Exec(`INSERT INTO holdings (portfolio_id, symbol, qty, avg_cost, as_of_date, auto_priced)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (portfolio_id, symbol) DO UPDATE SET
			qty=excluded.qty, avg_cost=excluded.avg_cost,
			as_of_date=excluded.as_of_date, auto_priced=excluded.auto_priced`,
		h.PortfolioID, h.Symbol, h.Qty, h.AvgCost, h.AsOfDate.Format(dateFormat), boolInt(h.AutoPriced))
	if err != nil {
		return fmt.Errorf("upsert holding %s: %w", h.Symbol, err)
	}
	return nil
}

func (s *Store) Holdings(portfolioID string) ([]Holding, error) {
	rows, err := s.db.Query(`SELECT portfolio_id, symbol, qty, avg_cost, as_of_date, auto_priced
		FROM holdings WHERE portfolio_id = ? ORDER BY symbol`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()
	var out []Holding
	for rows.Next() {
		var h Holding
		var asOf string
		var auto int
		if err := rows.Scan(&h.PortfolioID, &h.Symbol, &h.Qty, &h.AvgCost, &asOf, &auto); err != nil {
			return nil, err
		}
		if h.AsOfDate, err = time.Parse(dateFormat, asOf); err != nil {
			return nil, fmt.Errorf("parse as_of_date: %w", err)
		}
		h.AutoPriced = auto != 0
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) DeleteHolding(portfolioID, symbol string) error {
	_, err := s.db.Exec(`DELETE FROM holdings WHERE portfolio_id = ? AND symbol = ?`, portfolioID, symbol)
	if err != nil {
		return fmt.Errorf("delete holding: %w", err)
	}
	return nil
}

func scanPortfolio(row scanner) (Portfolio, error) {
	var p Portfolio
	var inception, createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &inception, &createdAt); err != nil {
		return Portfolio{}, err
	}
	var err error
	if p.InceptionDate, err = time.Parse(dateFormat, inception); err != nil {
		return Portfolio{}, fmt.Errorf("parse inception_date: %w", err)
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Portfolio{}, fmt.Errorf("parse created_at: %w", err)
	}
	return p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
