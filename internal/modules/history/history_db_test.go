package history

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupHistoryDB(t *testing.T) *HistoryDB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	h := NewHistoryDB(db, zerolog.Nop())
	require.NoError(t, h.EnsureSchema(context.Background()))
	return h
}

func seedPrices(t *testing.T, h *HistoryDB, symbol string, prices ...DailyPrice) {
	t.Helper()
	require.NoError(t, h.UpsertDailyPrices(context.Background(), symbol, prices))
}

func TestGetPriceSeries(t *testing.T) {
	h := setupHistoryDB(t)
	seedPrices(t, h, "AAPL",
		DailyPrice{Date: "2019-12-31", Close: 73.4},
		DailyPrice{Date: "2020-01-02", Close: 75.1},
		DailyPrice{Date: "2020-01-03", Close: 74.4},
		DailyPrice{Date: "2021-01-04", Close: 129.4},
	)
	seedPrices(t, h, "MSFT",
		DailyPrice{Date: "2020-01-03", Close: 158.6},
		DailyPrice{Date: "2020-01-02", Close: 160.6},
	)

	series, err := h.GetPriceSeries(context.Background(), []string{"MSFT", "AAPL", "NOPE"}, 2020, 2020)
	require.NoError(t, err)
	require.Len(t, series, 3)

	assert.Equal(t, "MSFT", series[0].Ticker)
	require.Len(t, series[0].Points, 2)
	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), series[0].Points[0].Date)
	assert.Equal(t, 160.6, series[0].Points[0].Close)

	assert.Equal(t, "AAPL", series[1].Ticker)
	assert.Len(t, series[1].Points, 2, "prices outside 2020 are excluded")

	assert.Equal(t, "NOPE", series[2].Ticker)
	assert.Empty(t, series[2].Points)
}

func TestGetPriceSeries_NoSymbols(t *testing.T) {
	h := setupHistoryDB(t)
	series, err := h.GetPriceSeries(context.Background(), nil, 2020, 2021)
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestGetDailyPrices(t *testing.T) {
	h := setupHistoryDB(t)
	vol := int64(1200)
	seedPrices(t, h, "AAPL",
		DailyPrice{Date: "2020-01-02", Open: 74, High: 75.2, Low: 73.8, Close: 75.1, Volume: &vol},
		DailyPrice{Date: "2020-01-03", Close: 74.4},
		DailyPrice{Date: "2020-01-06", Close: 74.9},
	)

	prices, err := h.GetDailyPrices(context.Background(), "AAPL", 2)
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, "2020-01-06", prices[0].Date)
	assert.Equal(t, "2020-01-03", prices[1].Date)

	all, err := h.GetDailyPrices(context.Background(), "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	oldest := all[2]
	assert.Equal(t, 75.2, oldest.High)
	require.NotNil(t, oldest.Volume)
	assert.Equal(t, int64(1200), *oldest.Volume)
}

func TestUpsertDailyPrices_ReplacesExistingDates(t *testing.T) {
	h := setupHistoryDB(t)
	seedPrices(t, h, "AAPL", DailyPrice{Date: "2020-01-02", Close: 1})
	seedPrices(t, h, "AAPL", DailyPrice{Date: "2020-01-02", Close: 2})

	prices, err := h.GetDailyPrices(context.Background(), "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, 2.0, prices[0].Close)
}

func TestUpsertDailyPrices_RollsBackOnBadDate(t *testing.T) {
	h := setupHistoryDB(t)
	err := h.UpsertDailyPrices(context.Background(), "AAPL", []DailyPrice{
		{Date: "2020-01-02", Close: 1},
		{Date: "02/01/2020", Close: 2},
	})
	require.Error(t, err)

	prices, err := h.GetDailyPrices(context.Background(), "AAPL", 10)
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestListSymbols(t *testing.T) {
	h := setupHistoryDB(t)

	symbols, err := h.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Empty(t, symbols)

	seedPrices(t, h, "MSFT", DailyPrice{Date: "2020-01-02", Close: 1})
	seedPrices(t, h, "AAPL", DailyPrice{Date: "2020-01-02", Close: 1}, DailyPrice{Date: "2020-01-03", Close: 1})

	symbols, err = h.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)
}

func TestReadCSV(t *testing.T) {
	input := `Date,Open,High,Low,Close,Adj Close,Volume
2020-01-02,74.06,75.15,73.80,75.09,73.45,135480400
2020-01-03,74.29,75.14,74.13,74.36,72.74,146322800
`
	prices, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, prices, 2)

	assert.Equal(t, "2020-01-02", prices[0].Date)
	assert.Equal(t, 73.45, prices[0].Close, "adjusted close is preferred")
	assert.Equal(t, 74.06, prices[0].Open)
	require.NotNil(t, prices[1].Volume)
	assert.Equal(t, int64(146322800), *prices[1].Volume)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no date column", "when,close\n2020-01-02,1\n"},
		{"no close column", "date,open\n2020-01-02,1\n"},
		{"bad date", "date,close\n01/02/2020,1\n"},
		{"bad close", "date,close\n2020-01-02,n/a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}
