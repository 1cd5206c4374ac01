package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ayurtrace/ayurtrace/internal/config"
)

func NewRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "ayurtrace",
		Short: "Herb provenance backend with species verification and a blockchain ledger",
		Long: `AyurTrace records where Ayurvedic herbs come from and how they were processed.

Farmers submit a leaf photo with its location; the species is verified by an
image classifier and the origin is appended to a provenance ledger. Processors
append handling steps, consumers trace a herb by id or QR code, and an LLM
answers growing and usage questions.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			setupLogging(verbose)
		},
	}

	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging (overrides LOG_LEVEL)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDeployCmd())
	cmd.AddCommand(newRolesCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newAskCmd())

	return cmd
}

func setupLogging(verbose bool) {
	level := (&config.Config{LogLevel: os.Getenv("LOG_LEVEL")}).SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
