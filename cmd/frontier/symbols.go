package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/history"
)

func symbolsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "symbols",
		Short: "List tickers with stored prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, db, err := opts.setup(database.ProfileReadOnly)
			if err != nil {
				return err
			}
			defer db.Close()

			symbols, err := history.NewHistoryDB(db.Conn(), log).ListSymbols(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range symbols {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}
