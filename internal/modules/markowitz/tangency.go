package markowitz

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SolveTangency returns the portfolio maximising (w·μ - r_f) / sqrt(w'Σw)
// under the budget constraint.
//
// With short selling the weights are Σ⁻¹e / 1'Σ⁻¹e for excess returns
// e = μ - r_f. Without it the equivalent program
//
//	minimise w'Σw  subject to  e'w = 1, w >= 0
//
// is solved and the result rescaled to sum to one.
//
// ErrDegenerateTangency is returned when no asset beats the risk-free rate,
// or when the risk-free rate lies at or above the minimum variance return so
// that the closed form would select the lower branch of the frontier.
func SolveTangency(ctx context.Context, stats *ReturnStatistics, riskFreeRate float64, allowShortSelling bool) (*Portfolio, error) {
	if stats == nil || stats.NumAssets() == 0 {
		return nil, invalidf("no assets to optimise")
	}

	excess := make([]float64, stats.NumAssets())
	for i, m := range stats.Mu {
		excess[i] = m - riskFreeRate
	}

	if allowShortSelling {
		return closedFormTangency(ctx, stats, excess)
	}
	return longOnlyTangency(ctx, stats, excess)
}

func closedFormTangency(ctx context.Context, stats *ReturnStatistics, excess []float64) (*Portfolio, error) {
	solver, err := newCovarianceSolver(stats.Sigma)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolverTimeout, err)
	}
	if floats.Max(excess) <= 0 {
		return nil, fmt.Errorf("%w: highest excess return is %g", ErrDegenerateTangency, floats.Max(excess))
	}

	x, err := solver.solve(excess)
	if err != nil {
		return nil, err
	}
	denom := floats.Sum(x)
	if denom <= riskEpsilon {
		return nil, fmt.Errorf("%w: 1'Σ⁻¹(μ-r_f) = %g", ErrDegenerateTangency, denom)
	}
	floats.Scale(1/denom, x)
	return newPortfolio(x, stats), nil
}

func longOnlyTangency(ctx context.Context, stats *ReturnStatistics, excess []float64) (*Portfolio, error) {
	best := floats.MaxIdx(excess)
	if excess[best] <= 0 {
		return nil, fmt.Errorf("%w: highest excess return is %g", ErrDegenerateTangency, excess[best])
	}

	n := stats.NumAssets()
	w0 := make([]float64, n)
	w0[best] = 1 / excess[best]

	a := mat.NewDense(1, n, append([]float64(nil), excess...))
	qp := &longOnlyQP{sigma: stats.Sigma, a: a, b: []float64{1}}
	w, err := qp.solve(ctx, w0)
	if err != nil {
		return nil, err
	}
	w, err = cleanLongOnly(w)
	if err != nil {
		return nil, err
	}
	return newPortfolio(w, stats), nil
}

// SolveMinimumVariance returns the global minimum variance portfolio.
func SolveMinimumVariance(ctx context.Context, stats *ReturnStatistics, allowShortSelling bool) (*Portfolio, error) {
	if stats == nil || stats.NumAssets() == 0 {
		return nil, invalidf("no assets to optimise")
	}
	n := stats.NumAssets()

	if allowShortSelling {
		solver, err := newCovarianceSolver(stats.Sigma)
		if err != nil {
			return nil, err
		}
		y, err := solver.solve(ones(n))
		if err != nil {
			return nil, err
		}
		if err := normalize(y); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
		}
		return newPortfolio(y, stats), nil
	}

	w0 := ones(n)
	floats.Scale(1/float64(n), w0)
	qp := &longOnlyQP{sigma: stats.Sigma, a: mat.NewDense(1, n, ones(n)), b: []float64{1}}
	w, err := qp.solve(ctx, w0)
	if err != nil {
		return nil, err
	}
	w, err = cleanLongOnly(w)
	if err != nil {
		return nil, err
	}
	return newPortfolio(w, stats), nil
}
