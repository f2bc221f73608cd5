package markowitz

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/frontier/pkg/formulas"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// EstimateReturnStatistics aligns the price series of tickers on the dates
// they all share inside [startYear-01-01, endYear-12-31] and returns the
// annualised mean and covariance of their simple returns.
//
// Closes that are missing, non-finite or not positive are treated as absent,
// so the date is dropped for every ticker. series may hold more tickers than
// requested; extra series are ignored.
func EstimateReturnStatistics(series []PriceSeries, tickers []string, startYear, endYear int) (*ReturnStatistics, error) {
	if len(tickers) == 0 {
		return nil, invalidf("no tickers requested")
	}

	from := time.Date(startYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(endYear+1, time.January, 1, 0, 0, 0, 0, time.UTC)

	bySymbol := make(map[string]map[time.Time]float64, len(series))
	for _, s := range series {
		closes, ok := bySymbol[s.Ticker]
		if !ok {
			closes = make(map[time.Time]float64, len(s.Points))
			bySymbol[s.Ticker] = closes
		}
		for _, p := range s.Points {
			day := tradingDay(p.Date)
			if day.Before(from) || !day.Before(to) {
				continue
			}
			if math.IsNaN(p.Close) || math.IsInf(p.Close, 0) || p.Close <= 0 {
				continue
			}
			closes[day] = p.Close
		}
	}

	for _, t := range tickers {
		if len(bySymbol[t]) == 0 {
			return nil, fmt.Errorf("%w: no prices for %s in %d-%d", ErrDataUnavailable, t, startYear, endYear)
		}
	}

	dates := intersectDates(bySymbol, tickers)
	if len(dates) < 3 {
		return nil, fmt.Errorf("%w: %d common trading days for %d tickers, need at least 3",
			ErrInsufficientHistory, len(dates), len(tickers))
	}

	n := len(tickers)
	periods := len(dates) - 1
	returns := mat.NewDense(periods, n, nil)
	mu := make([]float64, n)

	prices := make([]float64, len(dates))
	for j, t := range tickers {
		closes := bySymbol[t]
		for i, d := range dates {
			prices[i] = closes[d]
		}
		r := formulas.CalculateReturns(prices)
		returns.SetCol(j, r)
		mu[j] = formulas.Mean(r) * TradingDaysPerYear
	}

	sigma := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(sigma, returns, nil)
	sigma.ScaleSym(TradingDaysPerYear, sigma)

	return &ReturnStatistics{
		Tickers:    append([]string(nil), tickers...),
		Mu:         mu,
		Sigma:      sigma,
		Returns:    returns,
		Dates:      dates[1:],
		SampleSize: periods,
		Start:      dates[0],
		End:        dates[len(dates)-1],
	}, nil
}

// tradingDay strips the clock so that closes stamped at different times of
// the same UTC day line up.
func tradingDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intersectDates(bySymbol map[string]map[time.Time]float64, tickers []string) []time.Time {
	base := bySymbol[tickers[0]]
	dates := make([]time.Time, 0, len(base))
	for d := range base {
		shared := true
		for _, t := range tickers[1:] {
			if _, ok := bySymbol[t][d]; !ok {
				shared = false
				break
			}
		}
		if shared {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
