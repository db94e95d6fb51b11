package project

import "time"

// Status is the lifecycle state of a project.
type Status string

const (
	StatusPending        Status = "pending"
	StatusDepositPending Status = "deposit_pending"
	StatusActive         Status = "active"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// EscrowStatus tracks the funds held against a project.
type EscrowStatus string

const (
	EscrowNoDeposit EscrowStatus = "no_deposit"
	EscrowHeld      EscrowStatus = "held"
	EscrowReleased  EscrowStatus = "released"
)

// Project is a client engagement whose value is settled through escrow.
// Monetary fields are minor currency units.
type Project struct {
	ID               string       `json:"id" db:"id"`
	ClientID         string       `json:"client_id" db:"client_id"`
	Title            string       `json:"title" db:"title"`
	Value            int64        `json:"value" db:"value"`
	Status           Status       `json:"status" db:"status"`
	EscrowStatus     EscrowStatus `json:"escrow_status" db:"escrow_status"`
	EscrowBalance    int64        `json:"escrow_balance" db:"escrow_balance"`
	CommissionerID   string       `json:"commissioner_id,omitempty" db:"commissioner_id"`
	DeveloperID      string       `json:"developer_id,omitempty" db:"developer_id"`
	LeadID           string       `json:"lead_id,omitempty" db:"lead_id"`
	Requirements     []string     `json:"requirements" db:"-"`
	PaymentReference string       `json:"payment_reference,omitempty" db:"payment_reference"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
}

// HasDeveloper reports whether a developer is assigned.
func (p Project) HasDeveloper() bool { return p.DeveloperID != "" }

// HasCommissioner reports whether the project was referred by a commissioner.
func (p Project) HasCommissioner() bool { return p.CommissionerID != "" }

// ReleaseBase is the amount a shipment may move to the developer: the
// escrowed balance, or the full value when nothing was escrowed.
func (p Project) ReleaseBase() int64 {
	if p.EscrowBalance > 0 {
		return p.EscrowBalance
	}
	return p.Value
}
