package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devbridge/marketplace/internal/middleware"
)

func tokenCmd(load configLoader) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token [actor-id]",
		Short: "Issue a signed access token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			switch role {
			case middleware.RoleAdmin, middleware.RoleCommissioner, middleware.RoleClient, middleware.RoleDeveloper:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := middleware.IssueToken([]byte(cfg.Auth.JWTSecret), args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", middleware.RoleCommissioner, "actor role (admin, commissioner, client, developer)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
