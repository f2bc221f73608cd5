package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/history"
)

func importCmd(opts *globalOptions) *cobra.Command {
	var (
		symbol string
		path   string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load daily closes from a CSV file into the history database",
		Long: "Load daily closes from a CSV file into the history database.\n" +
			"The file needs a header with date and close (or adj close) columns;\n" +
			"open, high, low and volume are stored when present. Use --csv - for stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol = strings.ToUpper(strings.TrimSpace(symbol))
			if symbol == "" {
				return fmt.Errorf("--symbol is required")
			}

			var in io.Reader = cmd.InOrStdin()
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				defer f.Close()
				in = f
			}

			prices, err := history.ReadCSV(in)
			if err != nil {
				return err
			}

			_, log, db, err := opts.setup(database.ProfileStandard)
			if err != nil {
				return err
			}
			defer db.Close()

			store := history.NewHistoryDB(db.Conn(), log)
			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			if err := store.UpsertDailyPrices(cmd.Context(), symbol, prices); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d prices for %s\n", len(prices), symbol)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "ticker the prices belong to")
	cmd.Flags().StringVar(&path, "csv", "-", "CSV file to read")
	return cmd
}
