package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ayurtrace/ayurtrace/internal/app"
	"github.com/ayurtrace/ayurtrace/internal/config"
)

func newRolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage ledger roles",
		Long: `Inspect and provision the processor role on the configured ledger.

Processing steps are only accepted from an account holding the processor
role. Granting is a one-time setup step; it is safe to repeat.`,
	}

	cmd.AddCommand(newRolesGrantCmd())
	cmd.AddCommand(newRolesCheckCmd())

	return cmd
}

func newRolesGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant",
		Short: "Grant the processor role to the processor account if missing",
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

			granted, err := l.EnsureProcessor(cmd.Context())
			if err != nil {
				return err
			}
			if granted {
				fmt.Fprintln(cmd.OutOrStdout(), "Processor role granted")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Processor role already held")
			}
			return nil
		},
	}
}

func newRolesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the processor account holds the processor role",
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

			has, err := l.HasProcessorRole(cmd.Context())
			if err != nil {
				return err
			}
			if !has {
				return fmt.Errorf("processor role not granted; run `ayurtrace roles grant`")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Processor role held")
			return nil
		},
	}
}
