package developer

import (
	"strings"
	"time"
)

// ExperienceLevel is a developer's seniority band.
type ExperienceLevel string

const (
	LevelJunior ExperienceLevel = "junior"
	LevelMid    ExperienceLevel = "mid"
	LevelSenior ExperienceLevel = "senior"
)

// KYCStatus is the identity verification state.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCApproved KYCStatus = "approved"
	KYCRejected KYCStatus = "rejected"
)

// Profile is the ranking-relevant view of a developer.
type Profile struct {
	ID               string          `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	Skills           []string        `json:"skills" db:"-"`
	ReliabilityScore float64         `json:"reliability_score" db:"reliability_score"`
	ExperienceLevel  ExperienceLevel `json:"experience_level" db:"experience_level"`
	ActiveJobsCount  int             `json:"active_jobs_count" db:"active_jobs_count"`
	IsBlacklisted    bool            `json:"is_blacklisted" db:"is_blacklisted"`
	KYCStatus        KYCStatus       `json:"kyc_status" db:"kyc_status"`
}

// Eligible reports whether the developer may be offered work.
func (p Profile) Eligible() bool {
	return !p.IsBlacklisted && KYCStatus(strings.ToLower(string(p.KYCStatus))) == KYCApproved
}

// Account holds a developer's escrow-derived balances in minor units.
type Account struct {
	DeveloperID      string    `json:"developer_id" db:"developer_id"`
	PendingBalance   int64     `json:"pending_balance" db:"pending_balance"`
	AvailableBalance int64     `json:"available_balance" db:"available_balance"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Release moves up to limit from pending to available and returns the amount moved.
func (a *Account) Release(limit int64) int64 {
	amount := limit
	if a.PendingBalance < amount {
		amount = a.PendingBalance
	}
	if amount < 0 {
		amount = 0
	}
	a.PendingBalance -= amount
	if a.PendingBalance < 0 {
		a.PendingBalance = 0
	}
	a.AvailableBalance += amount
	return amount
}
