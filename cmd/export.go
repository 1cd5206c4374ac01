package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayurtrace/ayurtrace/internal/app"
	"github.com/ayurtrace/ayurtrace/internal/config"
	"github.com/ayurtrace/ayurtrace/internal/export"
	"github.com/ayurtrace/ayurtrace/internal/ledger"
)

func newExportCmd() *cobra.Command {
	var output string
	var format string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every herb and its processing history",
		Long: `Reads all origin records and processing histories from the ledger and writes
them as Parquet, YAML or JSON Lines. The format follows the output file
extension unless --format is given.`,
		Example: `  # Parquet snapshot for a retraining dataset
  ayurtrace export --output herbs.parquet

  # Human-readable YAML
  ayurtrace export --output herbs.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			l, err := app.OpenLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			traces, err := ledger.Traces(cmd.Context(), l)
			if err != nil {
				return err
			}

			if err := export.WriteFile(output, format, traces, time.Now()); err != nil {
				return err
			}
			slog.Info("Export complete", "path", output, "records", len(traces))
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d herbs to %s\n", len(traces), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "herbs.parquet", "Output file path")
	cmd.Flags().StringVar(&format, "format", "", "Output format: parquet, yaml or jsonl (default from extension)")

	return cmd
}
