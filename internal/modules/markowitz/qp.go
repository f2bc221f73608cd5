package markowitz

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// longOnlyQP is the quadratic program
//
//	minimise  w'Σw
//	subject to A w = b, w >= 0
//
// solved with a primal active-set method from a feasible starting point. The
// working set holds the indices pinned at zero; each iteration minimises the
// objective over the null space of the equality rows restricted to the free
// indices.
type longOnlyQP struct {
	sigma *mat.SymDense
	a     *mat.Dense
	b     []float64
}

const (
	qpStepTolerance       = 1e-11
	qpMultiplierTolerance = 1e-10
	qpRankTolerance       = 1e-10
)

func (q *longOnlyQP) maxIterations() int {
	return 20*q.sigma.SymmetricDim() + 50
}

// solve runs the active-set iterations from w0, which must satisfy A w0 = b
// and w0 >= 0. The returned slice is freshly allocated.
func (q *longOnlyQP) solve(ctx context.Context, w0 []float64) ([]float64, error) {
	n := q.sigma.SymmetricDim()
	if err := q.checkFeasible(w0); err != nil {
		return nil, err
	}

	w := append([]float64(nil), w0...)
	active := make([]bool, n)
	for i, wi := range w {
		if wi <= qpStepTolerance {
			w[i] = 0
			active[i] = true
		}
	}

	grad := mat.NewVecDense(n, nil)
	for iter := 0; iter < q.maxIterations(); iter++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w after %d iterations: %v", ErrSolverTimeout, iter, err)
		}

		// g = 2Σw
		grad.MulVec(q.sigma, mat.NewVecDense(n, w))
		grad.ScaleVec(2, grad)
		g := grad.RawVector().Data

		free := freeIndices(active)
		if len(free) == 0 {
			return nil, fmt.Errorf("%w: every weight is pinned at zero", ErrInfeasibleConstraint)
		}

		sub, err := q.subspace(free)
		if err != nil {
			return nil, err
		}

		step, err := q.newtonStep(sub, free, g)
		if err != nil {
			return nil, err
		}

		if floats.Norm(step, math.Inf(1)) <= qpStepTolerance*(1+floats.Norm(w, math.Inf(1))) {
			release := q.releaseCandidate(sub, free, active, g)
			if release < 0 {
				return w, nil
			}
			active[release] = false
			continue
		}

		alpha, blocking := 1.0, -1
		for k, i := range free {
			if step[k] < -qpStepTolerance {
				if ratio := -w[i] / step[k]; ratio < alpha {
					alpha, blocking = ratio, i
				}
			}
		}
		for k, i := range free {
			w[i] += alpha * step[k]
		}
		if blocking >= 0 {
			w[blocking] = 0
			active[blocking] = true
		}
	}

	return nil, fmt.Errorf("%w: no convergence in %d iterations", ErrInfeasibleConstraint, q.maxIterations())
}

func (q *longOnlyQP) checkFeasible(w []float64) error {
	m, n := q.a.Dims()
	if len(w) != n {
		return fmt.Errorf("%w: starting point has %d weights for %d assets", ErrInvalidParameters, len(w), n)
	}
	var res mat.VecDense
	res.MulVec(q.a, mat.NewVecDense(n, append([]float64(nil), w...)))
	for r := 0; r < m; r++ {
		if math.Abs(res.AtVec(r)-q.b[r]) > WeightTolerance*math.Max(1, math.Abs(q.b[r])) {
			return fmt.Errorf("%w: starting point violates equality %d", ErrInfeasibleConstraint, r)
		}
	}
	for i, wi := range w {
		if wi < -WeightTolerance {
			return fmt.Errorf("%w: starting weight %d is negative", ErrInfeasibleConstraint, i)
		}
	}
	return nil
}

// freeSubspace is the SVD of the equality rows over the free columns.
type freeSubspace struct {
	u, v   mat.Dense
	values []float64
	rank   int
}

func (q *longOnlyQP) subspace(free []int) (*freeSubspace, error) {
	m, _ := q.a.Dims()
	af := mat.NewDense(m, len(free), nil)
	for k, i := range free {
		for r := 0; r < m; r++ {
			af.Set(r, k, q.a.At(r, i))
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(af, mat.SVDFull); !ok {
		return nil, fmt.Errorf("%w: constraint factorisation failed", ErrInfeasibleConstraint)
	}

	sub := &freeSubspace{values: svd.Values(nil)}
	svd.UTo(&sub.u)
	svd.VTo(&sub.v)
	if len(sub.values) > 0 {
		cutoff := qpRankTolerance * math.Max(1, sub.values[0])
		for _, s := range sub.values {
			if s > cutoff {
				sub.rank++
			}
		}
	}
	return sub, nil
}

// newtonStep returns the step over the free indices that minimises the
// objective within the null space of the free equality rows.
func (q *longOnlyQP) newtonStep(sub *freeSubspace, free []int, g []float64) ([]float64, error) {
	k := len(free)
	dim := k - sub.rank
	step := make([]float64, k)
	if dim == 0 {
		return step, nil
	}

	z := sub.v.Slice(0, k, sub.rank, k)

	sigmaFF := mat.NewSymDense(k, nil)
	gF := mat.NewVecDense(k, nil)
	for a, i := range free {
		gF.SetVec(a, g[i])
		for b := a; b < k; b++ {
			sigmaFF.SetSym(a, b, 2*q.sigma.At(i, free[b]))
		}
	}

	var hz, h mat.Dense
	hz.Mul(sigmaFF, z)
	h.Mul(z.T(), &hz)
	reduced := mat.NewSymDense(dim, nil)
	for r := 0; r < dim; r++ {
		for c := r; c < dim; c++ {
			reduced.SetSym(r, c, 0.5*(h.At(r, c)+h.At(c, r)))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(reduced); !ok {
		return nil, fmt.Errorf("%w: reduced hessian is not positive definite", ErrInfeasibleConstraint)
	}
	if c := chol.Cond(); c > maxCondition {
		return nil, fmt.Errorf("%w: reduced hessian condition number %.3g", ErrInfeasibleConstraint, c)
	}

	rhs := mat.NewVecDense(dim, nil)
	rhs.MulVec(z.T(), gF)
	rhs.ScaleVec(-1, rhs)

	y := mat.NewVecDense(dim, nil)
	if err := chol.SolveVecTo(y, rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfeasibleConstraint, err)
	}

	p := mat.NewVecDense(k, step)
	p.MulVec(z, y)
	return step, nil
}

// releaseCandidate estimates the equality multipliers by least squares and
// returns the pinned index with the most negative bound multiplier, or -1
// when the current point satisfies the optimality conditions.
func (q *longOnlyQP) releaseCandidate(sub *freeSubspace, free []int, active []bool, g []float64) int {
	m, n := q.a.Dims()

	lambda := make([]float64, m)
	for r := 0; r < sub.rank; r++ {
		var proj float64
		for a, i := range free {
			proj += sub.v.At(a, r) * g[i]
		}
		scale := proj / sub.values[r]
		for row := 0; row < m; row++ {
			lambda[row] += sub.u.At(row, r) * scale
		}
	}

	worst, release := -qpMultiplierTolerance*math.Max(1, floats.Norm(g, math.Inf(1))), -1
	for i := 0; i < n; i++ {
		if !active[i] {
			continue
		}
		nu := g[i]
		for row := 0; row < m; row++ {
			nu -= q.a.At(row, i) * lambda[row]
		}
		if nu < worst {
			worst, release = nu, i
		}
	}
	return release
}

func freeIndices(active []bool) []int {
	free := make([]int, 0, len(active))
	for i, pinned := range active {
		if !pinned {
			free = append(free, i)
		}
	}
	return free
}
