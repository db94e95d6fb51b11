package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devbridge/marketplace/internal/app/storage/postgres"
	"github.com/devbridge/marketplace/internal/platform/migrations"
)

func migrateCmd(load configLoader) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate [up|down|version]",
		Short: "Manage the Postgres schema",
		Long: `Manage the Postgres schema with the embedded migrations.

Examples:
  marketplace migrate up
  marketplace migrate down --steps 1
  marketplace migrate version`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			_, db, err := postgres.Open(ctx, cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			switch args[0] {
			case "up":
				if err := migrations.Up(db); err != nil {
					return err
				}
				fmt.Fprintln(out, "migrations applied")
			case "down":
				if err := migrations.Down(db, steps); err != nil {
					return err
				}
				fmt.Fprintf(out, "rolled back %d migration(s)\n", steps)
			case "version":
				version, dirty, err := migrations.Version(db)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "version %d (dirty: %t)\n", version, dirty)
			default:
				return fmt.Errorf("unknown migrate action %q", args[0])
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}
