package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/history"
)

func pricesCmd(opts *globalOptions) *cobra.Command {
	var (
		symbol string
		last   int
		output string
	)
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Show the most recent stored closes of a ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			if last <= 0 {
				return fmt.Errorf("--last must be positive, got %d", last)
			}

			_, log, db, err := opts.setup(database.ProfileReadOnly)
			if err != nil {
				return err
			}
			defer db.Close()

			ticker := strings.ToUpper(strings.TrimSpace(symbol))
			prices, err := history.NewHistoryDB(db.Conn(), log).GetDailyPrices(cmd.Context(), ticker, last)
			if err != nil {
				return err
			}
			if len(prices) == 0 {
				return fmt.Errorf("no prices stored for %s", ticker)
			}
			return writeResult(cmd.OutOrStdout(), format, prices)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "ticker to show")
	cmd.Flags().IntVar(&last, "last", 10, "number of most recent days")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json|yaml")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}
