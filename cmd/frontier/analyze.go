package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/history"
	"github.com/aristath/frontier/internal/modules/markowitz"
	"github.com/aristath/frontier/internal/utils"
)

func analyzeCmd(opts *globalOptions) *cobra.Command {
	var (
		assets      string
		startYear   int
		endYear     int
		rf          float64
		short       bool
		points      int
		inefficient bool
		output      string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute the efficient frontier and tangency portfolio of a set of assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}

			cfg, log, db, err := opts.setup(database.ProfileReadOnly)
			if err != nil {
				return err
			}
			defer db.Close()

			req := markowitz.AnalysisRequest{
				Tickers:            utils.ParseTickers(assets),
				StartYear:          startYear,
				EndYear:            endYear,
				RiskFreeRate:       cfg.RiskFreeRate,
				AllowShortSelling:  short,
				Points:             cfg.FrontierPoints,
				IncludeInefficient: inefficient,
			}
			if cmd.Flags().Changed("rf") {
				req.RiskFreeRate = rf
			}
			if cmd.Flags().Changed("points") {
				req.Points = points
			}
			if req.Points > cfg.MaxFrontierPoints {
				err := fmt.Errorf("%w: %d frontier points requested, at most %d allowed",
					markowitz.ErrInvalidParameters, req.Points, cfg.MaxFrontierPoints)
				return fmt.Errorf("%w (%s)", err, markowitz.Kind(err))
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.SolverTimeout
			}

			var series []markowitz.PriceSeries
			if len(req.Tickers) >= 2 {
				store := history.NewHistoryDB(db.Conn(), log)
				series, err = store.GetPriceSeries(cmd.Context(), req.Tickers, req.StartYear, req.EndYear)
				if err != nil {
					return err
				}
			}

			result, err := markowitz.NewAnalyzer(log, nil, timeout).Analyze(cmd.Context(), req, series)
			if err != nil {
				return fmt.Errorf("%w (%s)", err, markowitz.Kind(err))
			}
			return writeResult(cmd.OutOrStdout(), format, result)
		},
	}
	cmd.Flags().StringVar(&assets, "assets", "", "comma-separated tickers")
	cmd.Flags().IntVar(&startYear, "start", time.Now().Year()-3, "first calendar year of the sample")
	cmd.Flags().IntVar(&endYear, "end", time.Now().Year()-1, "last calendar year of the sample")
	cmd.Flags().Float64Var(&rf, "rf", 0, "annual risk-free rate (default $RISK_FREE_RATE)")
	cmd.Flags().BoolVar(&short, "short", false, "allow negative weights")
	cmd.Flags().IntVar(&points, "points", 0, "frontier points (default $FRONTIER_POINTS)")
	cmd.Flags().BoolVar(&inefficient, "inefficient", false, "include the branch below the minimum variance portfolio")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json|yaml")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "solver deadline (default $SOLVER_TIMEOUT)")
	return cmd
}
