package main

import (
	"context"
	"fmt"

	"github.com/ayo6706/payout-reconciler/internal/app"
	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check the ledger counters against the payouts behind them",
		Long: `Run the ledger integrity checks once. Discrepancies are printed and
the command exits non-zero; nothing is corrected automatically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *app.Services) error {
				found, err := svcs.Auditor.Run(ctx)
				if err != nil {
					return err
				}
				if len(found) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "ledger balanced")
					return nil
				}
				if err := printJSON(cmd, found); err != nil {
					return err
				}
				return fmt.Errorf("%d ledger discrepancies found", len(found))
			})
		},
	}
}
