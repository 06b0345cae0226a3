package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"licensor/internal/telemetry"
)

func newTelemetryCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Work with the local license event log",
	}
	cmd.AddCommand(newTelemetryExportCommand(c))
	return cmd
}

func newTelemetryExportCommand(c *cli) *cobra.Command {
	var (
		format string
		out    string
		limit  int
		bom    bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded license events",
		Example: `  licensectl telemetry export --format csv --out events.csv
  licensectl telemetry export --format xlsx --out events.xlsx --limit 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "csv", "json", "xlsx":
			default:
				return fmt.Errorf("unknown format %q; use csv, json or xlsx", format)
			}
			if format == "xlsx" && out == "" {
				return errors.New("xlsx export needs --out")
			}
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}

			core, err := c.openCore(cmd)
			if err != nil {
				return err
			}
			defer core.Close()
			if core.Events == nil {
				return errors.New("telemetry is disabled in the configuration")
			}

			events, err := core.Events.Events(cmd.Context(), limit)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			switch format {
			case "csv":
				err = telemetry.ExportCSV(w, events, bom)
			case "xlsx":
				err = telemetry.ExportXLSX(w, events)
			default:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				err = enc.Encode(events)
			}
			if err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d events to %s\n", len(events), out)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&format, "format", "f", "csv", "Output format: csv, json or xlsx")
	flags.StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	flags.IntVarP(&limit, "limit", "n", 500, "Most recent events to export; 0 exports all")
	flags.BoolVar(&bom, "bom", false, "Prefix CSV output with a UTF-8 byte order mark")
	return cmd
}
