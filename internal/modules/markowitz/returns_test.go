package markowitz

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func pricesOn(ticker string, dates []time.Time, closes ...float64) PriceSeries {
	s := PriceSeries{Ticker: ticker}
	for i, c := range closes {
		s.Points = append(s.Points, PricePoint{Date: dates[i], Close: c})
	}
	return s
}

func TestEstimateReturnStatistics_KnownValues(t *testing.T) {
	dates := []time.Time{day(2020, 1, 2), day(2020, 1, 3), day(2020, 1, 6), day(2020, 1, 7)}
	series := []PriceSeries{
		pricesOn("A", dates, 100, 110, 99, 108.9), // +10%, -10%, +10%
		pricesOn("B", dates, 50, 50, 55, 55),      // 0%, +10%, 0%
	}

	stats, err := EstimateReturnStatistics(series, []string{"A", "B"}, 2019, 2021)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, stats.Tickers)
	assert.Equal(t, 3, stats.SampleSize)
	assert.Equal(t, dates[0], stats.Start)
	assert.Equal(t, dates[3], stats.End)
	assert.Equal(t, dates[1:], stats.Dates)

	assert.InDelta(t, 8.4, stats.Mu[0], 1e-9)
	assert.InDelta(t, 8.4, stats.Mu[1], 1e-9)
	assert.InDelta(t, 3.36, stats.Sigma.At(0, 0), 1e-9)
	assert.InDelta(t, 0.84, stats.Sigma.At(1, 1), 1e-9)
	assert.InDelta(t, -1.68, stats.Sigma.At(0, 1), 1e-9)

	rows, cols := stats.Returns.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 2, cols)
	assert.InDelta(t, -0.1, stats.Returns.At(1, 0), 1e-12)
	assert.InDelta(t, 0.1, stats.Returns.At(1, 1), 1e-12)
}

func TestEstimateReturnStatistics_Symmetry(t *testing.T) {
	stats := universeStats(t)
	n := stats.NumAssets()
	for i := 0; i < n; i++ {
		assert.GreaterOrEqual(t, stats.Sigma.At(i, i), 0.0)
		for j := 0; j < n; j++ {
			assert.Equal(t, stats.Sigma.At(i, j), stats.Sigma.At(j, i), "Σ[%d][%d]", i, j)
		}
	}
}

func TestEstimateReturnStatistics_Alignment(t *testing.T) {
	dates := []time.Time{day(2020, 3, 2), day(2020, 3, 3), day(2020, 3, 4), day(2020, 3, 5), day(2020, 3, 6)}

	t.Run("dates missing for one ticker are dropped for all", func(t *testing.T) {
		a := pricesOn("A", dates, 10, 11, 12, 13, 14)
		b := pricesOn("B", []time.Time{dates[0], dates[1], dates[3], dates[4]}, 20, 21, 23, 24)

		stats, err := EstimateReturnStatistics([]PriceSeries{a, b}, []string{"A", "B"}, 2020, 2021)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.SampleSize)
		// 11 -> 13 spans the dropped date.
		assert.InDelta(t, 2.0/11.0, stats.Returns.At(1, 0), 1e-12)
	})

	t.Run("non-positive and NaN closes count as missing", func(t *testing.T) {
		a := pricesOn("A", dates, 10, 0, 12, math.NaN(), 14)
		b := pricesOn("B", dates, 20, 21, 22, 23, 24)

		stats, err := EstimateReturnStatistics([]PriceSeries{a, b}, []string{"A", "B"}, 2020, 2021)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.SampleSize)
		assert.Equal(t, dates[0], stats.Start)
		assert.Equal(t, dates[4], stats.End)
	})

	t.Run("prices outside the year window are ignored", func(t *testing.T) {
		early := []time.Time{day(2018, 12, 28), day(2018, 12, 31)}
		a := pricesOn("A", append(early, dates...), 1, 2, 10, 11, 12, 13, 14)
		b := pricesOn("B", append(early, dates...), 1, 2, 20, 21, 22, 23, 24)

		stats, err := EstimateReturnStatistics([]PriceSeries{a, b}, []string{"A", "B"}, 2019, 2020)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.SampleSize)
		assert.Equal(t, dates[0], stats.Start)
	})

	t.Run("requested ticker order is kept", func(t *testing.T) {
		a := pricesOn("A", dates, 10, 11, 12, 13, 14)
		b := pricesOn("B", dates, 20, 20, 20, 20, 21)

		stats, err := EstimateReturnStatistics([]PriceSeries{a, b}, []string{"B", "A"}, 2020, 2021)
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "A"}, stats.Tickers)
		assert.Less(t, stats.Mu[0], stats.Mu[1])
	})
}

func TestEstimateReturnStatistics_Errors(t *testing.T) {
	dates := []time.Time{day(2020, 3, 2), day(2020, 3, 3), day(2020, 3, 4)}
	a := pricesOn("A", dates, 10, 11, 12)
	b := pricesOn("B", dates, 20, 21, 22)

	tests := []struct {
		name    string
		series  []PriceSeries
		tickers []string
		start   int
		end     int
		want    error
	}{
		{"no tickers", []PriceSeries{a}, nil, 2020, 2021, ErrInvalidParameters},
		{"missing series", []PriceSeries{a}, []string{"A", "B"}, 2020, 2021, ErrDataUnavailable},
		{"series outside range", []PriceSeries{a, b}, []string{"A", "B"}, 2015, 2016, ErrDataUnavailable},
		{"no overlap", []PriceSeries{a, pricesOn("B", []time.Time{day(2020, 4, 1)}, 5)}, []string{"A", "B"}, 2020, 2021, ErrInsufficientHistory},
		{"single return", []PriceSeries{pricesOn("A", dates[:2], 1, 2), pricesOn("B", dates[:2], 1, 2)}, []string{"A", "B"}, 2020, 2021, ErrInsufficientHistory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EstimateReturnStatistics(tt.series, tt.tickers, tt.start, tt.end)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewReturnStatistics_Validation(t *testing.T) {
	_, err := NewReturnStatistics([]string{"A", "B"}, []float64{0.1}, [][]float64{{1, 0}, {0, 1}}, nil)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = NewReturnStatistics([]string{"A", "B"}, []float64{0.1, 0.2}, [][]float64{{1, 0.5}, {0.4, 1}}, nil)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = NewReturnStatistics([]string{"A"}, []float64{0.1}, [][]float64{{-1}}, nil)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	stats, err := NewReturnStatistics([]string{"A"}, []float64{0.1}, [][]float64{{0.04}}, [][]float64{{0.01}, {-0.02}})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.SampleSize)
}
