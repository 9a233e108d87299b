// -- cmd/stats.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the effective browser pool and pipeline limits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Browser pool")
		fmt.Fprintf(out, "  max browsers:          %d\n", cfg.Pool.MaxBrowsers)
		fmt.Fprintf(out, "  max pages per browser: %d\n", cfg.Pool.MaxPagesPerBrowser)
		fmt.Fprintf(out, "  max idle time:         %s\n", cfg.Pool.MaxIdleTime)
		fmt.Fprintf(out, "  sweep interval:        %s\n", cfg.Pool.SweepInterval)
		fmt.Fprintf(out, "  on exhausted:          %s\n", cfg.Pool.OnExhausted)
		fmt.Fprintf(out, "  headless:              %t\n", cfg.Pool.Headless)
		fmt.Fprintln(out, "Pipeline")
		fmt.Fprintf(out, "  stage timeout:         %s\n", cfg.Pipeline.StageTimeout)
		fmt.Fprintf(out, "  figma timeout:         %s\n", cfg.Figma.Timeout)
		fmt.Fprintf(out, "  web timeout:           %s\n", cfg.Web.Timeout)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
