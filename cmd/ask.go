package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ayurtrace/ayurtrace/internal/advice"
	"github.com/ayurtrace/ayurtrace/internal/app"
	"github.com/ayurtrace/ayurtrace/internal/config"
)

func newAskCmd() *cobra.Command {
	var herb string
	var location string
	var persona string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the advice model a one-off question",
		Example: `  ayurtrace ask --herb Tulasi --persona farmer "When should I harvest?"
  ayurtrace ask --persona query "Can tulasi be taken daily?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc, err := app.NewAdvice(cfg)
			if err != nil {
				return err
			}

			q := advice.Query{Herb: herb, Question: strings.Join(args, " "), Location: location}
			out := cmd.OutOrStdout()

			switch persona {
			case "farmer":
				reply, err := svc.FarmerAdvice(cmd.Context(), q)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply)
			case "consumer":
				reply, err := svc.ConsumerChat(cmd.Context(), q)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply)
			case "query":
				answer, err := svc.Query(cmd.Context(), q)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(answer)
			default:
				return fmt.Errorf("unknown persona %q (want farmer, consumer or query)", persona)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&herb, "herb", "", "Herb the question is about")
	cmd.Flags().StringVar(&location, "location", "", "Grower or buyer location")
	cmd.Flags().StringVar(&persona, "persona", "consumer", "Persona: farmer, consumer or query")

	return cmd
}
