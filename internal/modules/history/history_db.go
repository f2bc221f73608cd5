// Package history reads daily closing prices from the local SQLite store and
// hands them to the engine as price series.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/modules/markowitz"
	"github.com/rs/zerolog"
)

// schema creates the daily price table. Dates are unix seconds at UTC
// midnight.
var schema = []string{`
CREATE TABLE IF NOT EXISTS daily_prices (
	symbol TEXT NOT NULL,
	date   INTEGER NOT NULL,
	open   REAL,
	high   REAL,
	low    REAL,
	close  REAL NOT NULL,
	volume INTEGER,
	PRIMARY KEY (symbol, date)
)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date)`,
}

// HistoryDB provides access to historical price data
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// DailyPrice represents a daily OHLCV price point
type DailyPrice struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume *int64  `json:"volume,omitempty"`
}

// EnsureSchema creates the price table if it does not exist.
func (h *HistoryDB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create daily_prices schema: %w", err)
		}
	}
	return nil
}

// GetDailyPrices fetches the most recent daily prices of a symbol, newest
// first.
func (h *HistoryDB) GetDailyPrices(ctx context.Context, symbol string, limit int) ([]DailyPrice, error) {
	query := `
		SELECT date, close, high, low, open, volume
		FROM daily_prices
		WHERE symbol = ?
		ORDER BY date DESC
		LIMIT ?
	`

	rows, err := h.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		var open, high, low sql.NullFloat64
		var volume sql.NullInt64
		var dateUnix int64

		if err := rows.Scan(&dateUnix, &p.Close, &high, &low, &open, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}

		p.Date = time.Unix(dateUnix, 0).UTC().Format("2006-01-02")
		p.Open, p.High, p.Low = open.Float64, high.Float64, low.Float64
		if volume.Valid {
			p.Volume = &volume.Int64
		}
		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return prices, nil
}

// GetPriceSeries loads the closes of symbols between the first day of
// startYear and the last day of endYear. Series come back in the order of
// symbols; a symbol without rows gets an empty series so the engine can
// report it as unavailable.
func (h *HistoryDB) GetPriceSeries(ctx context.Context, symbols []string, startYear, endYear int) ([]markowitz.PriceSeries, error) {
	if len(symbols) == 0 {
		return []markowitz.PriceSeries{}, nil
	}

	from := time.Date(startYear, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	to := time.Date(endYear+1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	query := `
		SELECT symbol, date, close
		FROM daily_prices
		WHERE symbol IN (` + placeholders + `) AND date >= ? AND date < ?
		ORDER BY symbol, date
	`

	args := make([]interface{}, 0, len(symbols)+2)
	for _, s := range symbols {
		args = append(args, s)
	}
	args = append(args, from, to)

	started := time.Now()
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price series: %w", err)
	}
	defer rows.Close()

	bySymbol := make(map[string][]markowitz.PricePoint, len(symbols))
	count := 0
	for rows.Next() {
		var symbol string
		var dateUnix int64
		var closePrice sql.NullFloat64
		if err := rows.Scan(&symbol, &dateUnix, &closePrice); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		if !closePrice.Valid {
			continue
		}
		bySymbol[symbol] = append(bySymbol[symbol], markowitz.PricePoint{
			Date:  time.Unix(dateUnix, 0).UTC(),
			Close: closePrice.Float64,
		})
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price series: %w", err)
	}

	series := make([]markowitz.PriceSeries, len(symbols))
	for i, s := range symbols {
		series[i] = markowitz.PriceSeries{Ticker: s, Points: bySymbol[s]}
	}

	h.log.Debug().
		Strs("symbols", symbols).
		Int("rows", count).
		Dur("duration", time.Since(started)).
		Msg("Loaded price series")

	return series, nil
}

// ListSymbols returns every symbol with at least one stored price.
func (h *HistoryDB) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM daily_prices ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	symbols := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// UpsertDailyPrices stores prices for symbol in one transaction, replacing
// rows for dates that already exist.
func (h *HistoryDB) UpsertDailyPrices(ctx context.Context, symbol string, prices []DailyPrice) (err error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO daily_prices (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range prices {
		date, perr := time.Parse("2006-01-02", p.Date)
		if perr != nil {
			return fmt.Errorf("invalid date %q for %s: %w", p.Date, symbol, perr)
		}
		var volume interface{}
		if p.Volume != nil {
			volume = *p.Volume
		}
		if _, err = stmt.ExecContext(ctx, symbol, date.Unix(), p.Open, p.High, p.Low, p.Close, volume); err != nil {
			return fmt.Errorf("failed to insert price for %s on %s: %w", symbol, p.Date, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prices for %s: %w", symbol, err)
	}

	h.log.Info().Str("symbol", symbol).Int("rows", len(prices)).Msg("Stored daily prices")
	return nil
}
