package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ayurtrace/ayurtrace/internal/config"
	"github.com/ayurtrace/ayurtrace/internal/ledger"
)

func newDeployCmd() *cobra.Command {
	var artifactPath string
	var output string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the provenance contract and grant the processor role",
		Long: `Deploys the compiled provenance contract from the admin account, grants the
processor role to the processor account once, and writes the contract
descriptor (address and ABI) that the server reads at startup.

The artifact is the compiler output for the contract: a Hardhat or Truffle
artifact, Foundry output, or a solc standard-json contract entry.`,
		Example: `  # Deploy to a local Ganache node
  AYURTRACE_ADMIN_KEY=0x... AYURTRACE_PROCESSOR_KEY=0x... \
    ayurtrace deploy --artifact artifacts/HerbTraceability.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if output == "" {
				output = cfg.ContractFile
			}

			artifact, err := ledger.LoadArtifact(artifactPath)
			if err != nil {
				return err
			}

			d, err := ledger.Deploy(cmd.Context(), ledger.DeployOptions{
				RPCURL:       cfg.RPCURL,
				Artifact:     artifact,
				AdminKey:     cfg.AdminKey,
				ProcessorKey: cfg.ProcessorKey,
				GasLimit:     cfg.GasLimit,
			})
			if err != nil {
				return err
			}

			if err := d.Save(output); err != nil {
				return err
			}
			slog.Info("Contract descriptor written", "path", output, "address", d.Address)
			fmt.Fprintf(cmd.OutOrStdout(), "Contract deployed at %s\n", d.Address)
			return nil
		},
	}

	cmd.Flags().StringVar(&artifactPath, "artifact", "", "Path to the compiled contract artifact (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Descriptor output path (default AYURTRACE_CONTRACT_FILE)")

	_ = cmd.MarkFlagRequired("artifact")

	return cmd
}
