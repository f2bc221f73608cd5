// Package markowitz implements the mean-variance analytics engine: return
// statistics estimation, efficient frontier and tangency portfolio solvers,
// and portfolio risk metrics.
//
// Every function in this package is a pure function of its inputs. Nothing is
// cached between calls, so an Analyzer may serve concurrent requests without
// locking.
package markowitz

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// TradingDaysPerYear annualises daily statistics.
const TradingDaysPerYear = 252

// DefaultFrontierPoints is the frontier sample density used when a request
// does not specify one.
const DefaultFrontierPoints = 100

// Tolerance for the budget and no-short invariants on returned weights.
const WeightTolerance = 1e-6

// PricePoint is one daily closing price.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PriceSeries is the raw price history of one ticker, as supplied by a price
// source. Points need not be sorted or aligned with other tickers.
type PriceSeries struct {
	Ticker string       `json:"ticker"`
	Points []PricePoint `json:"points"`
}

// ReturnStatistics holds the annualised moments of the aligned return series.
type ReturnStatistics struct {
	Tickers []string

	// Mu is the annualised mean simple return per asset.
	Mu []float64

	// Sigma is the annualised sample covariance, symmetric by construction.
	Sigma *mat.SymDense

	// Returns is the T×n matrix of aligned per-period simple returns and
	// Dates the date of each row.
	Returns *mat.Dense
	Dates   []time.Time

	SampleSize int
	Start      time.Time
	End        time.Time
}

// NewReturnStatistics builds statistics from precomputed moments. returns may
// be nil when no realised series is available; Sortino ratios are then
// undefined.
func NewReturnStatistics(tickers []string, mu []float64, cov [][]float64, returns [][]float64) (*ReturnStatistics, error) {
	n := len(tickers)
	if len(mu) != n {
		return nil, invalidf("mean vector has %d entries for %d tickers", len(mu), n)
	}
	if len(cov) != n {
		return nil, invalidf("covariance matrix has %d rows for %d tickers", len(cov), n)
	}

	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, invalidf("covariance row %d has %d entries, expected %d", i, len(cov[i]), n)
		}
		for j := i; j < n; j++ {
			if math.Abs(cov[i][j]-cov[j][i]) > 1e-12*math.Max(1, math.Abs(cov[i][j])) {
				return nil, invalidf("covariance matrix is not symmetric at (%d,%d)", i, j)
			}
			sigma.SetSym(i, j, cov[i][j])
		}
		if cov[i][i] < 0 {
			return nil, invalidf("negative variance for %s", tickers[i])
		}
	}

	stats := &ReturnStatistics{
		Tickers: append([]string(nil), tickers...),
		Mu:      append([]float64(nil), mu...),
		Sigma:   sigma,
	}

	if len(returns) > 0 {
		r := mat.NewDense(len(returns), n, nil)
		for t, row := range returns {
			if len(row) != n {
				return nil, invalidf("return row %d has %d entries, expected %d", t, len(row), n)
			}
			r.SetRow(t, row)
		}
		stats.Returns = r
		stats.SampleSize = len(returns)
	}

	return stats, nil
}

// NumAssets returns the number of assets covered by the statistics.
func (s *ReturnStatistics) NumAssets() int {
	return len(s.Mu)
}

// Portfolio is a weight vector with its expected return and risk.
type Portfolio struct {
	Weights []float64 `json:"weights"`
	Return  float64   `json:"return"`
	Risk    float64   `json:"risk"`
}

// FrontierPoint is one independently solved point of the frontier.
type FrontierPoint struct {
	Weights []float64 `json:"weights"`
	Return  float64   `json:"return"`
	Risk    float64   `json:"risk"`

	// Efficient is false on the lower-return branch below the minimum
	// variance portfolio.
	Efficient bool     `json:"efficient"`
	Sharpe    *float64 `json:"sharpe"`
}

// Tangency is the maximum-Sharpe portfolio of a request. Fallback names the
// substitute used when the tangency portfolio is not defined.
type Tangency struct {
	Weights  []float64 `json:"weights"`
	Return   float64   `json:"return"`
	Risk     float64   `json:"risk"`
	Fallback string    `json:"fallback,omitempty"`
}

// FallbackMinVariance marks a tangency replaced by the global minimum
// variance portfolio.
const FallbackMinVariance = "min_variance"

// RiskMetrics are the derived ratios of one portfolio. Nil ratios are
// undefined for the portfolio (zero risk or zero downside variance).
type RiskMetrics struct {
	Return           float64  `json:"return"`
	Volatility       float64  `json:"volatility"`
	Sharpe           *float64 `json:"sharpe"`
	Sortino          *float64 `json:"sortino"`
	DownsideVariance float64  `json:"downside_variance"`

	// RealizedReturn is the compound annual growth of the portfolio over the
	// sample window. Nil when no return series is available or the growth
	// overflows.
	RealizedReturn *float64 `json:"realized_return"`
}

// AssetDatapoint is the standalone return/risk of one asset.
type AssetDatapoint struct {
	Ticker string  `json:"ticker"`
	Return float64 `json:"return"`
	Risk   float64 `json:"risk"`
}

// AnalysisRequest is the per-request input tuple.
type AnalysisRequest struct {
	Tickers            []string `json:"assets"`
	StartYear          int      `json:"startYear"`
	EndYear            int      `json:"endYear"`
	RiskFreeRate       float64  `json:"riskFreeRate"`
	AllowShortSelling  bool     `json:"allowShortSelling"`
	Points             int      `json:"points"`
	IncludeInefficient bool     `json:"includeInefficient"`
}

// Validate checks the request parameters. It does not look at price data.
func (r AnalysisRequest) Validate() error {
	seen := make(map[string]bool, len(r.Tickers))
	for i, t := range r.Tickers {
		if t == "" {
			return invalidf("ticker %d is empty", i)
		}
		if seen[t] {
			return invalidf("duplicate ticker %s", t)
		}
		seen[t] = true
	}
	if r.StartYear >= r.EndYear {
		return invalidf("start year %d must be before end year %d", r.StartYear, r.EndYear)
	}
	if r.Points < 0 {
		return invalidf("frontier points must not be negative, got %d", r.Points)
	}
	if math.IsNaN(r.RiskFreeRate) || math.IsInf(r.RiskFreeRate, 0) {
		return invalidf("risk-free rate must be finite")
	}
	return nil
}

// AnalysisResult is everything produced for one request.
type AnalysisResult struct {
	ID         string           `json:"id"`
	Tickers    []string         `json:"tickers"`
	Frontier   []FrontierPoint  `json:"frontier"`
	Tangency   Tangency         `json:"tangency_portfolio"`
	Metrics    *RiskMetrics     `json:"metrics,omitempty"`
	Assets     []AssetDatapoint `json:"asset_datapoints"`
	SampleSize int              `json:"sample_size"`
	StartDate  string           `json:"start_date,omitempty"`
	EndDate    string           `json:"end_date,omitempty"`
}

func emptyResult(id string) *AnalysisResult {
	return &AnalysisResult{
		ID:       id,
		Tickers:  []string{},
		Frontier: []FrontierPoint{},
		Tangency: Tangency{Weights: []float64{}},
		Assets:   []AssetDatapoint{},
	}
}

func checkWeights(w []float64, s *ReturnStatistics) error {
	if len(w) != s.NumAssets() {
		return fmt.Errorf("%w: %d weights for %d assets", ErrInvalidParameters, len(w), s.NumAssets())
	}
	return nil
}
