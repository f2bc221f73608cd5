package markowitz

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/aristath/frontier/pkg/formulas"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FrontierOptions controls how the efficient frontier is sampled.
type FrontierOptions struct {
	AllowShortSelling bool

	// Points is the number of target returns; zero means
	// DefaultFrontierPoints.
	Points int

	// IncludeInefficient extends the target grid down to the lowest asset
	// return so the branch below the minimum variance portfolio is sampled.
	IncludeInefficient bool
}

// SolveFrontier samples the minimum-variance frontier at target returns
// spaced linearly from the global minimum variance return up to the highest
// single-asset return, both inclusive. With short selling, when the minimum
// variance return is at or above every asset return, the grid instead runs
// from it upward by the spread of asset returns.
//
// With short selling the frontier has a closed form and a singular covariance
// fails the whole call. Without it every target is solved as an independent
// quadratic program; targets that cannot be reached with non-negative weights
// are left out of the result. A context deadline aborts the whole frontier
// with ErrSolverTimeout.
func SolveFrontier(ctx context.Context, stats *ReturnStatistics, opts FrontierOptions) ([]FrontierPoint, error) {
	if stats == nil || stats.NumAssets() == 0 {
		return nil, invalidf("no assets to optimise")
	}
	points := opts.Points
	if points <= 0 {
		points = DefaultFrontierPoints
	}

	if opts.AllowShortSelling {
		return closedFormFrontier(ctx, stats, points, opts.IncludeInefficient)
	}
	return longOnlyFrontier(ctx, stats, points, opts.IncludeInefficient)
}

// twoFund holds the scalars of two-fund separation: with x = Σ⁻¹μ and
// y = Σ⁻¹1, a = μ'x, c = 1'x, f = 1'y and d = af - c².
type twoFund struct {
	x, y       []float64
	a, c, f, d float64
}

func newTwoFund(stats *ReturnStatistics) (*twoFund, error) {
	solver, err := newCovarianceSolver(stats.Sigma)
	if err != nil {
		return nil, err
	}
	x, err := solver.solve(stats.Mu)
	if err != nil {
		return nil, err
	}
	y, err := solver.solve(ones(stats.NumAssets()))
	if err != nil {
		return nil, err
	}

	tf := &twoFund{x: x, y: y}
	tf.a = floats.Dot(stats.Mu, x)
	tf.c = floats.Sum(x)
	tf.f = floats.Sum(y)
	tf.d = tf.a*tf.f - tf.c*tf.c
	if tf.f <= 0 {
		return nil, fmt.Errorf("%w: 1'Σ⁻¹1 = %g", ErrSingularCovariance, tf.f)
	}
	return tf, nil
}

func (tf *twoFund) minVarianceReturn() float64 {
	return tf.c / tf.f
}

// weights returns the minimum-variance weights for target return r. When all
// expected returns coincide (d ≈ 0) only the minimum variance portfolio
// exists and is returned for every target.
func (tf *twoFund) weights(r float64) []float64 {
	w := make([]float64, len(tf.x))
	if math.Abs(tf.d) <= 1e-12*math.Max(1, math.Abs(tf.a*tf.f)) {
		floats.ScaleTo(w, 1/tf.f, tf.y)
		return w
	}
	l1 := (tf.f*r - tf.c) / tf.d
	l2 := (tf.a - tf.c*r) / tf.d
	floats.ScaleTo(w, l1, tf.x)
	floats.AddScaled(w, l2, tf.y)
	return w
}

func closedFormFrontier(ctx context.Context, stats *ReturnStatistics, points int, includeInefficient bool) ([]FrontierPoint, error) {
	tf, err := newTwoFund(stats)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolverTimeout, err)
	}

	gmv := tf.minVarianceReturn()
	targets := targetReturns(gmv, stats.Mu, points, includeInefficient, true)
	frontier := make([]FrontierPoint, 0, len(targets))
	for _, r := range targets {
		frontier = append(frontier, newFrontierPoint(tf.weights(r), stats, gmv))
	}
	return frontier, nil
}

func longOnlyFrontier(ctx context.Context, stats *ReturnStatistics, points int, includeInefficient bool) ([]FrontierPoint, error) {
	gmvPortfolio, err := SolveMinimumVariance(ctx, stats, false)
	if err != nil {
		return nil, err
	}
	gmv := gmvPortfolio.Return
	targets := targetReturns(gmv, stats.Mu, points, includeInefficient, false)

	results := make([]*FrontierPoint, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, target := range targets {
		if gctx.Err() != nil {
			break
		}
		i, target := i, target
		g.Go(func() error {
			w, err := solveTargetReturn(gctx, stats, target)
			switch {
			case err == nil:
			case errors.Is(err, ErrSolverTimeout):
				return err
			case errors.Is(err, ErrInfeasibleConstraint):
				return nil
			default:
				return err
			}
			p := newFrontierPoint(w, stats, gmv)
			results[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolverTimeout, err)
	}

	frontier := make([]FrontierPoint, 0, len(results))
	for _, p := range results {
		if p != nil {
			frontier = append(frontier, *p)
		}
	}
	return frontier, nil
}

// solveTargetReturn minimises variance at expected return target under
// w >= 0, starting from the mix of the lowest and highest return assets that
// hits the target.
func solveTargetReturn(ctx context.Context, stats *ReturnStatistics, target float64) ([]float64, error) {
	n := stats.NumAssets()
	lo, hi := floats.MinIdx(stats.Mu), floats.MaxIdx(stats.Mu)
	muLo, muHi := stats.Mu[lo], stats.Mu[hi]

	tol := WeightTolerance * math.Max(1, math.Abs(target))
	if target < muLo-tol || target > muHi+tol {
		return nil, fmt.Errorf("%w: target return %g outside [%g, %g]", ErrInfeasibleConstraint, target, muLo, muHi)
	}

	w0 := make([]float64, n)
	if muHi-muLo <= tol {
		w0[hi] = 1
	} else {
		t := math.Min(1, math.Max(0, (target-muLo)/(muHi-muLo)))
		w0[lo] = 1 - t
		w0[hi] = t
		target = portfolioReturn(w0, stats.Mu)
	}

	a := mat.NewDense(2, n, nil)
	a.SetRow(0, stats.Mu)
	a.SetRow(1, ones(n))
	qp := &longOnlyQP{sigma: stats.Sigma, a: a, b: []float64{target, 1}}

	w, err := qp.solve(ctx, w0)
	if err != nil {
		return nil, err
	}
	return cleanLongOnly(w)
}

// cleanLongOnly removes rounding residue below zero and restores the budget.
func cleanLongOnly(w []float64) ([]float64, error) {
	for i := range w {
		if w[i] < 0 {
			w[i] = 0
		}
	}
	if err := normalize(w); err != nil {
		return nil, err
	}
	return w, nil
}

// targetReturns is the grid of target returns. The upper end is the highest
// single-asset return; the lower end is the minimum variance return, or the
// lowest asset return when the inefficient branch is requested.
//
// With short selling the efficient branch is unbounded above. When the
// minimum variance return already reaches the highest asset return, the
// upper end becomes gmv plus the spread of asset returns.
func targetReturns(gmv float64, mu []float64, points int, includeInefficient, shortSelling bool) []float64 {
	lo, hi := gmv, floats.Max(mu)
	if shortSelling && hi <= gmv {
		hi = gmv + (hi - floats.Min(mu))
	}
	if includeInefficient {
		lo = math.Min(lo, floats.Min(mu))
	}
	if hi <= lo+1e-12*math.Max(1, math.Abs(lo)) {
		return []float64{lo}
	}
	return formulas.Linspace(lo, hi, points)
}

func newFrontierPoint(w []float64, stats *ReturnStatistics, gmv float64) FrontierPoint {
	p := newPortfolio(w, stats)
	return FrontierPoint{
		Weights:   p.Weights,
		Return:    p.Return,
		Risk:      p.Risk,
		Efficient: p.Return >= gmv-1e-9*math.Max(1, math.Abs(gmv)),
	}
}
