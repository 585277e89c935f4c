package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/reportbatchflow/internal/config"
	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/pipeline"
	"github.com/Lllllllleong/reportbatchflow/internal/render"
)

func newInspectCmd() *cobra.Command {
	var input, format string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the report file each row would produce",
		Long:  "Parse the spreadsheet and print the identifier resolved for every row, without generating anything.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			source, err := os.ReadFile(input)
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", input)
			}

			// Inspect never renders or generates, so no engine is needed.
			p := pipeline.New(render.NewRenderer(render.NewProvider(cfg.TemplateDir), cfg.TemplateName), nil, cfg.PipelineSettings())
			records, err := p.Inspect(filepath.Base(input), source)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			case "table":
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ROW\tFILE\tFIELDS")
				for _, r := range records {
					fmt.Fprintf(tw, "%d\t%s.pdf\t%d\n", r.Position, r.Identifier, r.FieldCount)
				}
				return tw.Flush()
			default:
				return errors.Newf("unknown format %q (use table or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Spreadsheet to inspect")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
