package main

import (
	"fmt"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/api/middleware"
	"github.com/ayo6706/payout-reconciler/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			actor, err := adminID(cmd)
			if err != nil {
				return err
			}
			id := uuid.New()
			if actor != nil {
				id = *actor
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			auth := middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
			token, err := auth.IssueToken(id, middleware.RoleAdmin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
