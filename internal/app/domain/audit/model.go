package audit

import "time"

// Actions recorded by the engine.
const (
	ActionLeadClaimed      = "lead.claimed"
	ActionLeadContacted    = "lead.contacted"
	ActionLeadProgressed   = "lead.progressed"
	ActionLeadConverted    = "lead.converted"
	ActionDepositRequested = "project.deposit_requested"
	ActionDepositConfirmed = "project.deposit_confirmed"
	ActionProjectShipped   = "project.shipped"
)

// Entry is one append-only audit record.
type Entry struct {
	ID        string            `json:"id" db:"id"`
	Actor     string            `json:"actor" db:"actor"`
	Action    string            `json:"action" db:"action"`
	Subject   string            `json:"subject" db:"subject"`
	Timestamp time.Time         `json:"timestamp" db:"created_at"`
	Details   map[string]string `json:"details,omitempty" db:"-"`
}
