package markowitz

import (
	"errors"
	"fmt"
	"math"

	"github.com/aristath/frontier/pkg/formulas"
	"gonum.org/v1/gonum/mat"
)

// Volatility is the annualised standard deviation sqrt(w'Σw).
func Volatility(w []float64, stats *ReturnStatistics) (float64, error) {
	if err := checkWeights(w, stats); err != nil {
		return 0, err
	}
	return portfolioRisk(w, stats.Sigma), nil
}

// SharpeRatio computes (w·μ - r_f) / sqrt(w'Σw).
func SharpeRatio(w []float64, stats *ReturnStatistics, riskFreeRate float64) (float64, error) {
	risk, err := Volatility(w, stats)
	if err != nil {
		return 0, err
	}
	if risk <= riskEpsilon {
		return 0, fmt.Errorf("%w: portfolio volatility is %g", ErrDegenerateRisk, risk)
	}
	return (portfolioReturn(w, stats.Mu) - riskFreeRate) / risk, nil
}

// portfolioSeries is the realised per-period return of w over the aligned
// sample. It is nil when no return matrix is available.
func portfolioSeries(w []float64, stats *ReturnStatistics) []float64 {
	if stats.Returns == nil {
		return nil
	}
	periods, _ := stats.Returns.Dims()
	series := mat.NewVecDense(periods, nil)
	series.MulVec(stats.Returns, mat.NewVecDense(len(w), append([]float64(nil), w...)))
	return series.RawVector().Data
}

// DownsideVariance is the annualised mean square of the negative realised
// portfolio returns: (252/T) Σ min(0, p_t)². It is zero when the sample is
// empty or never negative.
func DownsideVariance(w []float64, stats *ReturnStatistics) (float64, error) {
	if err := checkWeights(w, stats); err != nil {
		return 0, err
	}
	series := portfolioSeries(w, stats)
	if len(series) == 0 {
		return 0, nil
	}

	var sum float64
	for _, p := range series {
		if p < 0 {
			sum += p * p
		}
	}
	return TradingDaysPerYear * sum / float64(len(series)), nil
}

// SortinoRatio computes (w·μ - r_f) / sqrt(downside variance).
func SortinoRatio(w []float64, stats *ReturnStatistics, riskFreeRate float64) (float64, error) {
	dv, err := DownsideVariance(w, stats)
	if err != nil {
		return 0, err
	}
	if dv <= 0 {
		return 0, fmt.Errorf("%w: no negative portfolio return in %d periods", ErrDegenerateRisk, stats.SampleSize)
	}
	return (portfolioReturn(w, stats.Mu) - riskFreeRate) / math.Sqrt(dv), nil
}

// ComputeRiskMetrics gathers the ratios of one portfolio. Undefined ratios
// are left nil instead of failing the call; only malformed weights are
// reported as an error.
func ComputeRiskMetrics(w []float64, stats *ReturnStatistics, riskFreeRate float64) (*RiskMetrics, error) {
	vol, err := Volatility(w, stats)
	if err != nil {
		return nil, err
	}
	dv, err := DownsideVariance(w, stats)
	if err != nil {
		return nil, err
	}

	metrics := &RiskMetrics{
		Return:           portfolioReturn(w, stats.Mu),
		Volatility:       vol,
		DownsideVariance: dv,
	}
	if series := portfolioSeries(w, stats); len(series) > 0 {
		realized := formulas.CalculateAnnualReturn(series)
		if !math.IsNaN(realized) && !math.IsInf(realized, 0) {
			metrics.RealizedReturn = &realized
		}
	}

	if sharpe, err := SharpeRatio(w, stats, riskFreeRate); err == nil {
		metrics.Sharpe = &sharpe
	} else if !errors.Is(err, ErrDegenerateRisk) {
		return nil, err
	}
	if sortino, err := SortinoRatio(w, stats, riskFreeRate); err == nil {
		metrics.Sortino = &sortino
	} else if !errors.Is(err, ErrDegenerateRisk) {
		return nil, err
	}

	return metrics, nil
}
