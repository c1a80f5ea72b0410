package main

import (
	"context"
	"fmt"

	"github.com/ayo6706/payout-reconciler/internal/app"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one automatic payout batch now",
		Long: `Run one guarded batch: the auto-processing switch, the minimum reserve
and the daily cap all apply. Mock settlements are awaited before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *app.Services) error {
				result, err := svcs.Engine.ProcessBatch(ctx)
				if err != nil {
					return fmt.Errorf("process batch: %w", err)
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func processOneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-one [payout-id]",
		Short: "Process a single pending payout, bypassing the daily cap and the switch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid payout id: %w", err)
			}
			actor, err := adminID(cmd)
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, svcs *app.Services) error {
				result, err := svcs.Engine.ProcessSingle(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}
