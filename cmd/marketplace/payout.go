package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	domcommission "github.com/devbridge/marketplace/internal/app/domain/commission"
)

func payoutCmd(load configLoader) *cobra.Command {
	var (
		value     int64
		tier      string
		hasParent bool
	)

	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Print the commission split for a project value",
		Long: `Print the commission split for a project value using the configured
rate table and cap. Amounts are minor currency units.

Examples:
  marketplace payout --value 100000 --tier gold --parent`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			calc, err := cfg.Engine.Calculator()
			if err != nil {
				return err
			}
			t, ok := domcommission.ParseTier(tier)
			if !ok {
				return fmt.Errorf("unknown tier %q", tier)
			}
			payout, err := calc.Compute(value, t, hasParent)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(payout)
		},
	}
	cmd.Flags().Int64Var(&value, "value", 0, "project value in minor units")
	cmd.Flags().StringVar(&tier, "tier", "bronze", "commissioner tier (bronze, silver, gold)")
	cmd.Flags().BoolVar(&hasParent, "parent", false, "the commissioner has a parent")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}
