package markowitz

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by the engine. Callers match them with errors.Is; every
// failure leaving Analyzer.Analyze is additionally wrapped in a *RequestError.
var (
	ErrInvalidParameters    = errors.New("invalid parameters")
	ErrDataUnavailable      = errors.New("price data unavailable")
	ErrInsufficientHistory  = errors.New("insufficient price history")
	ErrSingularCovariance   = errors.New("covariance matrix is singular")
	ErrInfeasibleConstraint = errors.New("constraints are infeasible")
	ErrDegenerateTangency   = errors.New("no asset beats the risk-free rate")
	ErrDegenerateRisk       = errors.New("risk denominator is zero")

	// ErrSolverTimeout also matches ErrInfeasibleConstraint.
	ErrSolverTimeout = fmt.Errorf("solver deadline exceeded: %w", ErrInfeasibleConstraint)
)

// RequestError carries the inputs of a failed analysis for diagnostics.
type RequestError struct {
	Tickers   []string
	StartYear int
	EndYear   int
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("analysis of [%s] over %d-%d failed: %v",
		strings.Join(e.Tickers, ","), e.StartYear, e.EndYear, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Kind returns a stable snake_case label for err, used in logs, metrics and
// HTTP responses. Unknown errors map to "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSolverTimeout):
		return "solver_timeout"
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, ErrSingularCovariance):
		return "singular_covariance"
	case errors.Is(err, ErrInfeasibleConstraint):
		return "infeasible_constraint"
	case errors.Is(err, ErrDegenerateTangency):
		return "degenerate_tangency"
	case errors.Is(err, ErrDegenerateRisk):
		return "degenerate_risk"
	default:
		return "internal"
	}
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}
