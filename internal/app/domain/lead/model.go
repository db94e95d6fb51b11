package lead

import "time"

// Status is the pipeline state of a lead.
type Status string

const (
	StatusNew        Status = "new"
	StatusClaimed    Status = "claimed"
	StatusContacted  Status = "contacted"
	StatusInProgress Status = "in_progress"
	StatusConverted  Status = "converted"
	StatusLost       Status = "lost"
)

// ActiveStatuses count against a commissioner's capacity.
var ActiveStatuses = []Status{StatusClaimed, StatusContacted, StatusInProgress}

// IsActive reports whether s counts against capacity.
func (s Status) IsActive() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Contactable reports whether first contact may be recorded in status s.
func (s Status) Contactable() bool {
	return s == StatusClaimed || s == StatusContacted
}

// transitions lists the owner-driven moves after a claim. Claiming itself and
// reopening lost leads are handled elsewhere.
var transitions = map[Status]map[Status]bool{
	StatusClaimed:    {StatusContacted: true, StatusLost: true},
	StatusContacted:  {StatusInProgress: true, StatusConverted: true, StatusLost: true},
	StatusInProgress: {StatusConverted: true, StatusLost: true},
	StatusConverted:  {},
	StatusLost:       {},
}

// CanTransition reports whether the owner may move a lead from one status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Lead is a prospective client in the shared pool.
type Lead struct {
	ID             string     `json:"id" db:"id"`
	Company        string     `json:"company" db:"company"`
	ContactEmail   string     `json:"contact_email" db:"contact_email"`
	Status         Status     `json:"status" db:"status"`
	ClaimedBy      string     `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	FirstContactAt *time.Time `json:"first_contact_at,omitempty" db:"first_contact_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// IsClaimed reports whether any commissioner owns the lead.
func (l Lead) IsClaimed() bool { return l.ClaimedBy != "" }
