package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ayurtrace/ayurtrace/internal/app"
	"github.com/ayurtrace/ayurtrace/internal/config"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <image>",
		Short: "Classify a leaf image without recording it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			catalog, err := app.LoadCatalog(cfg)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			c := app.NewClassifier(cmd.Context(), cfg, catalog)
			pred, err := c.Classify(cmd.Context(), data)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %d%%\n", pred.Label, pred.ScientificName, pred.Confidence)
			return nil
		},
	}
}
