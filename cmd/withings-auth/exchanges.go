package main

import (
	"fmt"

	"github.com/alexjbarnes/withings-auth/internal/models"
	"github.com/alexjbarnes/withings-auth/internal/state"
	"github.com/spf13/cobra"
)

func newExchangesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exchanges [id]",
		Short: "List recorded token exchanges",
		Long: `List the token exchanges recorded by the server, oldest first, or
show one by ID. Records hold the user ID, scope and expiry; token values
are never stored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := state.LoadAt(a.cfg.StateDB)
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			defer st.Close()

			if len(args) == 1 {
				rec, err := st.GetExchange(args[0])
				if err != nil {
					return err
				}

				if rec == nil {
					return fmt.Errorf("no exchange with id %q", args[0])
				}

				return printJSON(cmd.OutOrStdout(), rec)
			}

			records, err := st.AllExchanges()
			if err != nil {
				return err
			}

			if records == nil {
				records = []models.ExchangeRecord{}
			}

			return printJSON(cmd.OutOrStdout(), records)
		},
	}
}
