package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/reportbatchflow/internal/config"
	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/services"
)

func newProcessCmd() *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Generate the report archive for a spreadsheet",
		Long: `Generate one PDF per row and write them to a ZIP archive.

Rows whose template cannot be rendered are skipped and listed. Any
document engine failure aborts the run and no archive is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if output == "" {
				output = cfg.ArchiveName
			}
			return runProcess(cmd, cfg, input, output)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Spreadsheet to process")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Archive to write (default: archive_name in the current directory)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runProcess(cmd *cobra.Command, cfg *config.Config, input, output string) error {
	source, err := os.ReadFile(input)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", input)
	}

	rt, err := services.NewRuntime(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("Failed to shut down document engine.", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := rt.Pipeline.ProcessBatch(ctx, filepath.Base(input), source)
	if !res.Completed() {
		return res.Failure
	}

	tmp := output + ".partial"
	if err := os.WriteFile(tmp, res.Archive, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, output); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "failed to move archive to %s", output)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s: %d reports, %d skipped (run %s)\n", output, len(res.Entries), res.SkippedCount, res.RunID)
	for _, s := range res.Skipped {
		fmt.Fprintf(out, "  skipped row %d (%s): %s\n", s.Position, s.ID, s.Reason)
	}
	return nil
}
