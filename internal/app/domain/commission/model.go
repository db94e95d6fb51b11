package commission

import (
	"strings"
	"time"
)

// Tier is a commissioner's rank.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// ParseTier normalises a tier name. The boolean is false for unknown tiers.
func ParseTier(raw string) (Tier, bool) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(raw))); t {
	case TierBronze, TierSilver, TierGold:
		return t, true
	default:
		return t, false
	}
}

// Commissioner is a referral agent. Tier and parent are assigned by admins.
type Commissioner struct {
	ID           string `json:"id" db:"id"`
	Tier         Tier   `json:"tier" db:"tier"`
	ParentID     string `json:"parent_commissioner_id,omitempty" db:"parent_commissioner_id"`
	ReferralCode string `json:"referral_code" db:"referral_code"`
}

// HasParent reports whether an override is owed to a parent referrer.
func (c Commissioner) HasParent() bool { return c.ParentID != "" }

// Status of a commission transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAvailable Status = "available"
)

// Transaction records the payout owed for one completed project.
type Transaction struct {
	ID             string     `json:"id" db:"id"`
	ProjectID      string     `json:"project_id" db:"project_id"`
	CommissionerID string     `json:"commissioner_id" db:"commissioner_id"`
	ParentID       string     `json:"parent_commissioner_id,omitempty" db:"parent_commissioner_id"`
	DirectAmount   int64      `json:"direct_amount" db:"direct_amount"`
	OverrideAmount int64      `json:"override_amount" db:"override_amount"`
	IsCapped       bool       `json:"is_capped" db:"is_capped"`
	Status         Status     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	AvailableAt    *time.Time `json:"available_at,omitempty" db:"available_at"`
}

// Total is the combined direct and override payout.
func (t Transaction) Total() int64 { return t.DirectAmount + t.OverrideAmount }
