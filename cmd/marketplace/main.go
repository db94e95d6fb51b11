// Command marketplace runs the commission, escrow and lead allocation engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devbridge/marketplace/internal/config"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           "marketplace",
		Short:         "Commission, escrow and lead allocation engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env", ".env", "optional .env file loaded before the environment is decoded")

	load := func() (*config.Config, error) {
		return config.Load(envFile)
	}

	cmd.AddCommand(serveCmd(load))
	cmd.AddCommand(migrateCmd(load))
	cmd.AddCommand(payoutCmd(load))
	cmd.AddCommand(tokenCmd(load))
	return cmd
}

type configLoader func() (*config.Config, error)
