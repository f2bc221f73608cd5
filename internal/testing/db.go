// Package testing provides test helpers shared across packages.
package testing

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/history"
)

// NewTestDB creates a file-backed SQLite database in the test's temp
// directory with the price schema applied. The connection is closed when the
// test finishes.
func NewTestDB(t *testing.T, name string) (*database.DB, *history.HistoryDB) {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	t.Cleanup(func() {
		// Tests may close the database themselves.
		_ = db.Close()
	})

	store := history.NewHistoryDB(db.Conn(), zerolog.Nop())
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("Failed to create schema in %s: %v", name, err)
	}
	return db, store
}

// SyntheticPrices returns weekday closes between from and to whose log price
// grows by drift per day plus a sine of amplitude amp and frequency freq.
// The series is deterministic and never flat, so covariances are well
// conditioned when frequencies differ between assets.
func SyntheticPrices(from, to time.Time, drift, amp, freq float64) []history.DailyPrice {
	var prices []history.DailyPrice
	step := 0.0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		px := 100 * math.Exp(drift*step+amp*math.Sin(freq*step))
		prices = append(prices, history.DailyPrice{
			Date:  d.Format("2006-01-02"),
			Open:  px,
			High:  px,
			Low:   px,
			Close: px,
		})
		step++
	}
	return prices
}

// Seed stores synthetic prices for 2019-2020 under symbol.
func Seed(t *testing.T, store *history.HistoryDB, symbol string, drift, amp, freq float64) {
	t.Helper()
	from := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2020, time.December, 31, 0, 0, 0, 0, time.UTC)
	if err := store.UpsertDailyPrices(context.Background(), symbol, SyntheticPrices(from, to, drift, amp, freq)); err != nil {
		t.Fatalf("Failed to seed %s: %v", symbol, err)
	}
}
