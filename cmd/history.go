// -- cmd/history.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parityscan/parity-cli/internal/history"
	"github.com/parityscan/parity-cli/internal/observability"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent comparison runs from the history database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.History.DSN == "" {
			return fmt.Errorf("history.dsn is not configured")
		}
		store, err := history.Connect(cmd.Context(), cfg.History.DSN, observability.GetLogger())
		if err != nil {
			return err
		}
		runs, err := store.Recent(cmd.Context(), flagHistoryLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %-16s  %3d mismatches  %8s  %s -> %s\n",
				r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status,
				r.MismatchCount, r.Duration.Truncate(1e6), r.DesignURL, r.WebURL)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "number of runs to list")
	rootCmd.AddCommand(historyCmd)
}
