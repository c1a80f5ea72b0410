package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ayo6706/payout-reconciler/internal/app"
	"github.com/ayo6706/payout-reconciler/internal/service"
	"github.com/spf13/cobra"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and administer the system ledger",
	}
	cmd.AddCommand(ledgerShowCmd())
	cmd.AddCommand(ledgerGuardrailsCmd())
	cmd.AddCommand(ledgerAutoCmd())
	cmd.AddCommand(ledgerDepositCmd())
	return cmd
}

func ledgerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show balances, guardrails, the pending queue and today's auto volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *app.Services) error {
				snapshot, err := svcs.Ledger.Snapshot(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, snapshot)
			})
		},
	}
}

func ledgerGuardrailsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guardrails",
		Short: "Set the minimum reserve and/or the daily cap (minor units)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req service.UpdateGuardrailsRequest
			if cmd.Flags().Changed("min-reserve") {
				v, _ := cmd.Flags().GetInt64("min-reserve")
				req.MinimumReserve = &v
			}
			if cmd.Flags().Changed("daily-cap") {
				v, _ := cmd.Flags().GetInt64("daily-cap")
				req.DailyCap = &v
			}
			if req.MinimumReserve == nil && req.DailyCap == nil {
				return fmt.Errorf("set --min-reserve and/or --daily-cap")
			}
			actor, err := adminID(cmd)
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, svcs *app.Services) error {
				ledger, err := svcs.Ledger.UpdateGuardrails(ctx, req, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd, ledger)
			})
		},
	}
	cmd.Flags().Int64("min-reserve", 0, "Minimum reserve in minor units")
	cmd.Flags().Int64("daily-cap", 0, "Daily auto-processing cap in minor units")
	return cmd
}

func ledgerAutoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto [on|off|toggle]",
		Short: "Set or flip the auto-processing switch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled *bool
			switch args[0] {
			case "on", "off":
				v := args[0] == "on"
				enabled = &v
			case "toggle":
			default:
				return fmt.Errorf("expected on, off or toggle, got %q", args[0])
			}
			actor, err := adminID(cmd)
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, svcs *app.Services) error {
				ledger, err := svcs.Ledger.SetAutoProcessing(ctx, enabled, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd, ledger)
			})
		},
	}
}

func ledgerDepositCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit [amount]",
		Short: "Record a liquidity deposit in minor units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			note, _ := cmd.Flags().GetString("note")
			actor, err := adminID(cmd)
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, svcs *app.Services) error {
				ledger, err := svcs.Ledger.Deposit(ctx, service.DepositRequest{Amount: amount, Note: note}, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd, ledger)
			})
		},
	}
	cmd.Flags().StringP("note", "n", "", "Free-form note stored in the audit log")
	return cmd
}
