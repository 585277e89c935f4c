// Command reportgen runs report batches from the command line.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reportgen",
		Short: "Generate one PDF report per spreadsheet row",
		Long: `reportgen turns a patient spreadsheet (.xlsx, .xlsm or .csv) into a ZIP
archive holding one PDF report per row.

Configuration sources (in order of precedence):
1. Environment variables (CONCURRENCY, ENGINE, PAGE_SIZE, ...)
2. Config file (--config or CONFIG_FILE)
3. Default values

Examples:
  reportgen inspect --input ward_b.xlsx
  reportgen process --input ward_b.xlsx --output ward_b.zip
  ENGINE=chrome reportgen process --input ward_b.csv`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().String("config", "", "Path to a config file (yaml, toml or json)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log per-record progress")

	root.AddCommand(newProcessCmd())
	root.AddCommand(newInspectCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
