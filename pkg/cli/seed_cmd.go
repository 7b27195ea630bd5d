package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"trade-export/internal/app"
)

func newSeedCmd(rt *runtime) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Append trades from a CSV file to the backing relation",
		Long: `Loads trades from CSV. The header must name ticker, exchange,
participant_timestamp, price and trade_size; del_t and del_p are optional.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file) //nolint:gosec // operator-supplied path
				if err != nil {
					return fmt.Errorf("open %s: %w", file, err)
				}
				defer f.Close() //nolint:errcheck
				r = f
			}

			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			n, err := app.SeedTrades(cmd.Context(), a.Trades, a.Exchanges, r)
			if err != nil {
				return fmt.Errorf("seed after %d trades: %w", n, err)
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]int{"inserted": n})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "inserted %d trades\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "CSV file to load (- for stdin)")
	return cmd
}
