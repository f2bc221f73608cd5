package markowitz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	stages   []string
	outcomes []string
}

func (r *recordingObserver) ObserveStage(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recordingObserver) ObserveOutcome(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, kind)
}

func universeRequest() AnalysisRequest {
	return AnalysisRequest{
		Tickers:      []string{"AAA", "BBB", "CCC", "DDD"},
		StartYear:    2018,
		EndYear:      2020,
		RiskFreeRate: 0.02,
		Points:       20,
	}
}

func TestAnalyzer_FewerThanTwoTickers(t *testing.T) {
	obs := &recordingObserver{}
	a := NewAnalyzer(zerolog.Nop(), obs, time.Second)

	for _, tickers := range [][]string{nil, {"AAA"}} {
		// Even parameters that would fail validation take the empty path.
		result, err := a.Analyze(context.Background(), AnalysisRequest{Tickers: tickers}, nil)
		require.NoError(t, err)

		assert.NotEmpty(t, result.ID)
		assert.Empty(t, result.Tickers)
		assert.NotNil(t, result.Tickers)
		assert.Empty(t, result.Frontier)
		assert.Empty(t, result.Tangency.Weights)
		assert.NotNil(t, result.Tangency.Weights)
		assert.Equal(t, 0.0, result.Tangency.Risk)
		assert.Equal(t, 0.0, result.Tangency.Return)
		assert.Nil(t, result.Metrics)
	}
	assert.Equal(t, []string{"ok", "ok"}, obs.outcomes)
	assert.Empty(t, obs.stages)
}

func TestAnalyzer_FullAnalysis(t *testing.T) {
	for _, short := range []bool{true, false} {
		obs := &recordingObserver{}
		a := NewAnalyzer(zerolog.Nop(), obs, 10*time.Second)

		req := universeRequest()
		req.AllowShortSelling = short
		result, err := a.Analyze(context.Background(), req, testUniverse())
		require.NoError(t, err)

		assert.Equal(t, req.Tickers, result.Tickers)
		assert.Len(t, result.Frontier, 20)
		assert.Len(t, result.Assets, 4)
		assert.Equal(t, "2018-01-01", result.StartDate)
		assert.Equal(t, "2020-12-31", result.EndDate)
		assert.Equal(t, 783, result.SampleSize)
		assert.Empty(t, result.Tangency.Fallback)

		requireBudget(t, result.Tangency.Weights)
		require.NotNil(t, result.Metrics)
		require.NotNil(t, result.Metrics.Sharpe)
		require.NotNil(t, result.Metrics.Sortino)
		assert.InDelta(t, result.Tangency.Risk, result.Metrics.Volatility, 1e-12)

		for _, p := range result.Frontier {
			requireBudget(t, p.Weights)
			if !short {
				requireLongOnly(t, p.Weights)
			}
			require.NotNil(t, p.Sharpe)
			assert.GreaterOrEqual(t, *result.Metrics.Sharpe, *p.Sharpe-1e-9)
		}
		for _, asset := range result.Assets {
			assert.GreaterOrEqual(t, *result.Metrics.Sharpe, (asset.Return-req.RiskFreeRate)/asset.Risk-1e-9)
		}

		assert.Equal(t, []string{StageEstimate, StageFrontier, StageTangency, StageMetrics}, obs.stages)
		assert.Equal(t, []string{"ok"}, obs.outcomes)
	}
}

func TestAnalyzer_DegenerateTangencyFallsBack(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop(), nil, time.Second)

	req := universeRequest()
	req.RiskFreeRate = 5.0
	result, err := a.Analyze(context.Background(), req, testUniverse())
	require.NoError(t, err)

	assert.Equal(t, FallbackMinVariance, result.Tangency.Fallback)
	requireBudget(t, result.Tangency.Weights)
	requireLongOnly(t, result.Tangency.Weights)
	assert.InDelta(t, result.Frontier[0].Risk, result.Tangency.Risk, 1e-8)
}

func TestAnalyzer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AnalysisRequest)
		series []PriceSeries
		want   error
		kind   string
	}{
		{
			name:   "duplicate tickers",
			mutate: func(r *AnalysisRequest) { r.Tickers = []string{"AAA", "AAA"} },
			series: testUniverse(),
			want:   ErrInvalidParameters,
			kind:   "invalid_parameters",
		},
		{
			name:   "reversed years",
			mutate: func(r *AnalysisRequest) { r.StartYear, r.EndYear = 2020, 2018 },
			series: testUniverse(),
			want:   ErrInvalidParameters,
			kind:   "invalid_parameters",
		},
		{
			name:   "unknown ticker",
			mutate: func(r *AnalysisRequest) { r.Tickers = []string{"AAA", "ZZZ"} },
			series: testUniverse(),
			want:   ErrDataUnavailable,
			kind:   "data_unavailable",
		},
		{
			name:   "range without data",
			mutate: func(r *AnalysisRequest) { r.StartYear, r.EndYear = 2010, 2012 },
			series: testUniverse(),
			want:   ErrDataUnavailable,
			kind:   "data_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			a := NewAnalyzer(zerolog.Nop(), obs, time.Second)

			req := universeRequest()
			tt.mutate(&req)
			result, err := a.Analyze(context.Background(), req, tt.series)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, Kind(err))
			assert.Equal(t, []string{tt.kind}, obs.outcomes)

			var reqErr *RequestError
			require.True(t, errors.As(err, &reqErr))
			assert.Equal(t, req.Tickers, reqErr.Tickers)
			assert.Equal(t, req.StartYear, reqErr.StartYear)
			assert.Equal(t, req.EndYear, reqErr.EndYear)
		})
	}
}

func TestAnalyzer_SingularCovariance(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop(), nil, time.Second)

	series := testUniverse()
	twin := PriceSeries{Ticker: "TWIN", Points: series[0].Points}
	req := AnalysisRequest{
		Tickers:           []string{"AAA", "TWIN"},
		StartYear:         2018,
		EndYear:           2020,
		RiskFreeRate:      0.02,
		AllowShortSelling: true,
	}

	_, err := a.Analyze(context.Background(), req, append(series, twin))
	assert.ErrorIs(t, err, ErrSingularCovariance)
}

func TestAnalyzer_Timeout(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop(), nil, time.Nanosecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Analyze(ctx, universeRequest(), testUniverse())
	assert.ErrorIs(t, err, ErrSolverTimeout)
	assert.ErrorIs(t, err, ErrInfeasibleConstraint)
	assert.Equal(t, "solver_timeout", Kind(err))
}

func TestAnalyzer_DefaultPoints(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop(), nil, 0)

	req := universeRequest()
	req.Points = 0
	req.AllowShortSelling = true
	result, err := a.Analyze(context.Background(), req, testUniverse())
	require.NoError(t, err)
	assert.Len(t, result.Frontier, DefaultFrontierPoints)
}
