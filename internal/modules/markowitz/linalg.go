package markowitz

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// maxCondition bounds the condition number accepted from a factorisation.
// Beyond it the solve is dominated by rounding error.
const maxCondition = 1e12

// riskEpsilon is the smallest portfolio risk treated as non-zero.
const riskEpsilon = 1e-12

// covarianceSolver solves Σx = b through a Cholesky factorisation of Σ.
type covarianceSolver struct {
	chol mat.Cholesky
	n    int
}

func newCovarianceSolver(sigma *mat.SymDense) (*covarianceSolver, error) {
	s := &covarianceSolver{n: sigma.SymmetricDim()}
	if ok := s.chol.Factorize(sigma); !ok {
		return nil, fmt.Errorf("%w: cholesky factorisation failed", ErrSingularCovariance)
	}
	if c := s.chol.Cond(); math.IsInf(c, 0) || math.IsNaN(c) || c > maxCondition {
		return nil, fmt.Errorf("%w: condition number %.3g", ErrSingularCovariance, c)
	}
	return s, nil
}

func (s *covarianceSolver) solve(b []float64) ([]float64, error) {
	x := mat.NewVecDense(s.n, nil)
	if err := s.chol.SolveVecTo(x, mat.NewVecDense(s.n, append([]float64(nil), b...))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
	}
	return x.RawVector().Data, nil
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func portfolioReturn(w, mu []float64) float64 {
	return floats.Dot(w, mu)
}

func portfolioVariance(w []float64, sigma mat.Symmetric) float64 {
	v := mat.NewVecDense(len(w), append([]float64(nil), w...))
	return mat.Inner(v, sigma, v)
}

// portfolioRisk clamps tiny negative variances from rounding to zero.
func portfolioRisk(w []float64, sigma mat.Symmetric) float64 {
	return math.Sqrt(math.Max(0, portfolioVariance(w, sigma)))
}

func newPortfolio(w []float64, stats *ReturnStatistics) *Portfolio {
	return &Portfolio{
		Weights: w,
		Return:  portfolioReturn(w, stats.Mu),
		Risk:    portfolioRisk(w, stats.Sigma),
	}
}

// normalize rescales w in place so that it sums to one.
func normalize(w []float64) error {
	sum := floats.Sum(w)
	if math.Abs(sum) < riskEpsilon {
		return fmt.Errorf("%w: weights sum to zero", ErrInfeasibleConstraint)
	}
	floats.Scale(1/sum, w)
	return nil
}
