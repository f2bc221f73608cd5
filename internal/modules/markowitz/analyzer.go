package markowitz

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Observer receives timings and outcomes of analyses. Implementations must be
// safe for concurrent use.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveOutcome(kind string)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) ObserveOutcome(string)              {}

// Analysis stages reported to the Observer.
const (
	StageEstimate = "estimate"
	StageFrontier = "frontier"
	StageTangency = "tangency"
	StageMetrics  = "metrics"
)

// Analyzer runs the full per-request pipeline. It holds no request state and
// may be shared between goroutines.
type Analyzer struct {
	log     zerolog.Logger
	obs     Observer
	timeout time.Duration
}

// NewAnalyzer creates an analyzer. A nil observer disables instrumentation and
// a non-positive timeout leaves the caller's context deadline untouched.
func NewAnalyzer(log zerolog.Logger, obs Observer, timeout time.Duration) *Analyzer {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Analyzer{
		log:     log.With().Str("component", "markowitz").Logger(),
		obs:     obs,
		timeout: timeout,
	}
}

// Analyze estimates return statistics from series and computes the frontier,
// the tangency portfolio and its risk metrics.
//
// Fewer than two tickers is not an error: the result is empty with a zero
// weight tangency. A tangency that is undefined because no asset beats the
// risk-free rate is replaced by the minimum variance portfolio and flagged
// with FallbackMinVariance. All other failures are returned as *RequestError.
func (a *Analyzer) Analyze(ctx context.Context, req AnalysisRequest, series []PriceSeries) (*AnalysisResult, error) {
	id := uuid.New().String()
	log := a.log.With().
		Str("analysis_id", id).
		Strs("tickers", req.Tickers).
		Int("start_year", req.StartYear).
		Int("end_year", req.EndYear).
		Logger()

	if len(req.Tickers) < 2 {
		log.Debug().Msg("Fewer than two tickers, returning empty analysis")
		a.obs.ObserveOutcome(Kind(nil))
		return emptyResult(id), nil
	}

	started := time.Now()
	result, err := a.analyze(ctx, log, id, req, series)
	a.obs.ObserveOutcome(Kind(err))
	if err != nil {
		log.Warn().Err(err).Str("kind", Kind(err)).Msg("Analysis failed")
		return nil, &RequestError{
			Tickers:   append([]string(nil), req.Tickers...),
			StartYear: req.StartYear,
			EndYear:   req.EndYear,
			Err:       err,
		}
	}

	log.Info().
		Int("points", len(result.Frontier)).
		Int("sample_size", result.SampleSize).
		Str("fallback", result.Tangency.Fallback).
		Dur("duration", time.Since(started)).
		Msg("Analysis completed")
	return result, nil
}

func (a *Analyzer) analyze(ctx context.Context, log zerolog.Logger, id string, req AnalysisRequest, series []PriceSeries) (*AnalysisResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var stats *ReturnStatistics
	err := a.stage(log, StageEstimate, func() (err error) {
		stats, err = EstimateReturnStatistics(series, req.Tickers, req.StartYear, req.EndYear)
		return err
	})
	if err != nil {
		return nil, err
	}

	points := req.Points
	if points == 0 {
		points = DefaultFrontierPoints
	}

	var frontier []FrontierPoint
	err = a.stage(log, StageFrontier, func() (err error) {
		frontier, err = SolveFrontier(ctx, stats, FrontierOptions{
			AllowShortSelling:  req.AllowShortSelling,
			Points:             points,
			IncludeInefficient: req.IncludeInefficient,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if dropped := points - len(frontier); dropped > 0 && len(frontier) > 1 {
		log.Debug().Int("dropped", dropped).Msg("Unreachable frontier targets omitted")
	}

	var tangency Tangency
	err = a.stage(log, StageTangency, func() error {
		t, err := a.tangency(ctx, log, stats, req)
		tangency = t
		return err
	})
	if err != nil {
		return nil, err
	}

	var metrics *RiskMetrics
	err = a.stage(log, StageMetrics, func() (err error) {
		metrics, err = ComputeRiskMetrics(tangency.Weights, stats, req.RiskFreeRate)
		if err != nil {
			return err
		}
		for i := range frontier {
			if sharpe, err := SharpeRatio(frontier[i].Weights, stats, req.RiskFreeRate); err == nil {
				frontier[i].Sharpe = &sharpe
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &AnalysisResult{
		ID:         id,
		Tickers:    append([]string(nil), stats.Tickers...),
		Frontier:   frontier,
		Tangency:   tangency,
		Metrics:    metrics,
		Assets:     assetDatapoints(stats),
		SampleSize: stats.SampleSize,
		StartDate:  stats.Start.Format("2006-01-02"),
		EndDate:    stats.End.Format("2006-01-02"),
	}, nil
}

func (a *Analyzer) tangency(ctx context.Context, log zerolog.Logger, stats *ReturnStatistics, req AnalysisRequest) (Tangency, error) {
	p, err := SolveTangency(ctx, stats, req.RiskFreeRate, req.AllowShortSelling)
	if err == nil {
		return Tangency{Weights: p.Weights, Return: p.Return, Risk: p.Risk}, nil
	}
	if !errors.Is(err, ErrDegenerateTangency) {
		return Tangency{}, err
	}

	log.Info().Err(err).Msg("Tangency undefined, using minimum variance portfolio")
	gmv, gmvErr := SolveMinimumVariance(ctx, stats, req.AllowShortSelling)
	if gmvErr != nil {
		return Tangency{}, gmvErr
	}
	return Tangency{
		Weights:  gmv.Weights,
		Return:   gmv.Return,
		Risk:     gmv.Risk,
		Fallback: FallbackMinVariance,
	}, nil
}

func (a *Analyzer) stage(log zerolog.Logger, name string, fn func() error) error {
	started := time.Now()
	err := fn()
	elapsed := time.Since(started)
	a.obs.ObserveStage(name, elapsed)
	log.Debug().Str("stage", name).Dur("duration", elapsed).Err(err).Msg("Stage finished")
	return err
}

func assetDatapoints(stats *ReturnStatistics) []AssetDatapoint {
	assets := make([]AssetDatapoint, stats.NumAssets())
	for i, t := range stats.Tickers {
		assets[i] = AssetDatapoint{
			Ticker: t,
			Return: stats.Mu[i],
			Risk:   math.Sqrt(math.Max(0, stats.Sigma.At(i, i))),
		}
	}
	return assets
}
