package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayo6706/payout-reconciler/internal/app"
	"github.com/ayo6706/payout-reconciler/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "payoutctl",
		Short:         "payoutctl - operate the payout engine and system ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("admin-id", "", "Admin id recorded in the audit log")

	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(processOneCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withServices loads configuration, wires the services and runs fn with them.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svcs *app.Services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx := cmd.Context()
	svcs, err := app.NewServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()
	return fn(ctx, svcs)
}

func adminID(cmd *cobra.Command) (*uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("admin-id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --admin-id: %w", err)
	}
	return &id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
