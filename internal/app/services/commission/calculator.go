// Package commission computes capped, tiered payout splits for completed
// projects.
//
// Amounts are integer minor units and rates are basis points. Each payout
// amount is floored exactly once, at the end of an exact integer computation;
// whatever the floor discards stays with the agency.
package commission

import (
	"fmt"
	"math/big"

	domain "github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/errors"
)

// BasisPoints per whole (100%).
const BasisPoints = 10000

// DefaultCapBps is the hard cap on direct plus override payouts.
const DefaultCapBps = 3500

// Rates is the direct and override rate of one tier.
type Rates struct {
	DirectBps   int64 `json:"direct_bps" yaml:"direct_bps"`
	OverrideBps int64 `json:"override_bps" yaml:"override_bps"`
}

// RateTable maps tiers to rates.
type RateTable map[domain.Tier]Rates

// DefaultRates is the stock tier table.
func DefaultRates() RateTable {
	return RateTable{
		domain.TierBronze: {DirectBps: 2500, OverrideBps: 0},
		domain.TierSilver: {DirectBps: 2500, OverrideBps: 200},
		domain.TierGold:   {DirectBps: 3000, OverrideBps: 500},
	}
}

// Payout is the result of splitting one project's value.
type Payout struct {
	DirectAmount   int64 `json:"direct_amount"`
	OverrideAmount int64 `json:"override_amount"`
	TotalPayout    int64 `json:"total_payout"`
	IsCapped       bool  `json:"is_capped"`
	AgencyNet      int64 `json:"agency_net"`
}

// Calculator is immutable and safe for concurrent use.
type Calculator struct {
	rates  RateTable
	capBps int64
}

// New validates the table and cap and returns a calculator.
func New(rates RateTable, capBps int64) (*Calculator, error) {
	if len(rates) == 0 {
		return nil, fmt.Errorf("rate table is empty")
	}
	if capBps <= 0 || capBps > BasisPoints {
		return nil, fmt.Errorf("cap must be within (0, %d] basis points, got %d", BasisPoints, capBps)
	}
	copied := make(RateTable, len(rates))
	for tier, r := range rates {
		if r.DirectBps < 0 || r.OverrideBps < 0 {
			return nil, fmt.Errorf("tier %s: negative rate", tier)
		}
		if r.DirectBps > BasisPoints || r.OverrideBps > BasisPoints {
			return nil, fmt.Errorf("tier %s: rate above %d basis points", tier, BasisPoints)
		}
		copied[tier] = r
	}
	return &Calculator{rates: copied, capBps: capBps}, nil
}

// NewDefault returns a calculator over DefaultRates and DefaultCapBps.
func NewDefault() *Calculator {
	c, _ := New(DefaultRates(), DefaultCapBps)
	return c
}

// CapBps returns the configured hard cap.
func (c *Calculator) CapBps() int64 { return c.capBps }

// Rates returns the rates configured for tier.
func (c *Calculator) Rates(tier domain.Tier) (Rates, bool) {
	r, ok := c.rates[tier]
	return r, ok
}

// Compute splits value for a commissioner of the given tier. The override is
// paid only when hasParent is true. When direct and override together exceed
// the cap both are scaled by the same factor; landing exactly on the cap is
// not capping.
func (c *Calculator) Compute(value int64, tier domain.Tier, hasParent bool) (Payout, error) {
	if value <= 0 {
		return Payout{}, errors.Validation("value", "must be greater than zero")
	}
	r, ok := c.rates[tier]
	if !ok {
		return Payout{}, errors.Validation("tier", fmt.Sprintf("unknown tier %q", tier))
	}

	direct := r.DirectBps
	override := int64(0)
	if hasParent {
		override = r.OverrideBps
	}

	var out Payout
	if combined := direct + override; combined > c.capBps {
		out.IsCapped = true
		out.DirectAmount = scaled(value, direct, c.capBps, combined)
		out.OverrideAmount = scaled(value, override, c.capBps, combined)
	} else {
		out.DirectAmount = scaled(value, direct, 1, 1)
		out.OverrideAmount = scaled(value, override, 1, 1)
	}
	out.TotalPayout = out.DirectAmount + out.OverrideAmount
	out.AgencyNet = value - out.TotalPayout
	return out, nil
}

// scaled returns floor(value * bps * num / (den * BasisPoints)).
func scaled(value, bps, num, den int64) int64 {
	if bps == 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(value), big.NewInt(bps))
	n.Mul(n, big.NewInt(num))
	d := new(big.Int).Mul(big.NewInt(den), big.NewInt(BasisPoints))
	return n.Quo(n, d).Int64()
}
