package markowitz

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// twoAssetStats is the textbook pair: σ_A = 0.20, σ_B = 0.30, ρ = 0.3.
func twoAssetStats(t *testing.T) *ReturnStatistics {
	t.Helper()
	stats, err := NewReturnStatistics(
		[]string{"A", "B"},
		[]float64{0.08, 0.12},
		[][]float64{{0.04, 0.018}, {0.018, 0.09}},
		nil,
	)
	require.NoError(t, err)
	return stats
}

// threeAssetStats has an unconstrained minimum variance portfolio that
// shorts the third asset.
func threeAssetStats(t *testing.T) *ReturnStatistics {
	t.Helper()
	stats, err := NewReturnStatistics(
		[]string{"A", "B", "C"},
		[]float64{0.06, 0.10, 0.14},
		[][]float64{
			{0.04, 0.006, 0.012},
			{0.006, 0.0225, 0.027},
			{0.012, 0.027, 0.09},
		},
		nil,
	)
	require.NoError(t, err)
	return stats
}

// wave builds a deterministic price path: log price drifts linearly and
// oscillates, so returns are bounded, sometimes negative, and nearly
// uncorrelated between tickers with different frequencies.
type wave struct {
	ticker string
	drift  float64
	amp    float64
	freq   float64
	phase  float64
}

func (w wave) series(from, to time.Time) PriceSeries {
	s := PriceSeries{Ticker: w.ticker}
	step := 0.0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		logp := w.drift*step +
			w.amp*math.Sin(w.freq*step+w.phase) +
			0.5*w.amp*math.Sin(2.7*w.freq*step)
		s.Points = append(s.Points, PricePoint{Date: d, Close: 100 * math.Exp(logp)})
		step++
	}
	return s
}

func testUniverse() []PriceSeries {
	from := time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2020, time.December, 31, 0, 0, 0, 0, time.UTC)
	waves := []wave{
		{"AAA", 0.0003, 0.02, 0.9, 0.0},
		{"BBB", 0.0005, 0.03, 1.7, 0.4},
		{"CCC", 0.0007, 0.04, 2.3, 1.1},
		{"DDD", 0.0009, 0.06, 0.5, 2.0},
	}
	out := make([]PriceSeries, len(waves))
	for i, w := range waves {
		out[i] = w.series(from, to)
	}
	return out
}

func universeStats(t *testing.T) *ReturnStatistics {
	t.Helper()
	stats, err := EstimateReturnStatistics(testUniverse(), []string{"AAA", "BBB", "CCC", "DDD"}, 2018, 2020)
	require.NoError(t, err)
	return stats
}

func requireBudget(t *testing.T, w []float64) {
	t.Helper()
	require.InDelta(t, 1.0, floats.Sum(w), WeightTolerance, "weights %v", w)
}

func requireLongOnly(t *testing.T, w []float64) {
	t.Helper()
	for i, wi := range w {
		require.GreaterOrEqual(t, wi, -WeightTolerance, "weight %d of %v", i, w)
	}
}

func unit(n, i int) []float64 {
	w := make([]float64, n)
	w[i] = 1
	return w
}
