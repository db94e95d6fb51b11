package storage

import (
	"context"
	"time"

	"github.com/devbridge/marketplace/internal/app/domain/audit"
	"github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/app/domain/developer"
	"github.com/devbridge/marketplace/internal/app/domain/lead"
	"github.com/devbridge/marketplace/internal/app/domain/project"
)

// ProjectStore persists projects outside of shipment.
type ProjectStore interface {
	CreateProject(ctx context.Context, p project.Project) (project.Project, error)
	GetProject(ctx context.Context, id string) (project.Project, error)
	// MarkDepositPending moves a pending, unfunded project to deposit_pending
	// and records the gateway reference. Conflict when the project is not in
	// that state.
	MarkDepositPending(ctx context.Context, id, reference string, now time.Time) (project.Project, error)
}

// CommissionerStore reads commissioner records.
type CommissionerStore interface {
	GetCommissioner(ctx context.Context, id string) (commission.Commissioner, error)
}

// LeadStore persists the shared lead pool. Mutations are single atomic
// conditional updates; implementations never read-then-write.
type LeadStore interface {
	GetLead(ctx context.Context, id string) (lead.Lead, error)
	// ClaimLead assigns an unclaimed lead to commissionerID provided the
	// commissioner holds fewer than capacity active leads.
	ClaimLead(ctx context.Context, leadID, commissionerID string, capacity int, now time.Time) (lead.Lead, error)
	// MarkLeadContacted records first contact on a lead owned by commissionerID.
	MarkLeadContacted(ctx context.Context, leadID, commissionerID string, now time.Time) (lead.Lead, error)
	// TransitionLead moves an owned lead from one status to another.
	TransitionLead(ctx context.Context, leadID, commissionerID string, from, to lead.Status, now time.Time) (lead.Lead, error)
	ListActiveLeads(ctx context.Context, commissionerID string) ([]lead.Lead, error)
	CountLeadsByStatus(ctx context.Context) (map[lead.Status]int, error)
}

// DeveloperStore reads developer profiles and balances.
type DeveloperStore interface {
	ListEligibleDevelopers(ctx context.Context) ([]developer.Profile, error)
	GetDeveloperAccount(ctx context.Context, developerID string) (developer.Account, error)
}

// AuditStore is an append-only audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry audit.Entry) error
	ListAudit(ctx context.Context, subject string, limit int) ([]audit.Entry, error)
}

// CommissionStore reads recorded commission transactions.
type CommissionStore interface {
	GetCommissionByProject(ctx context.Context, projectID string) (commission.Transaction, error)
}

// LedgerStore runs escrow mutations in one all-or-nothing unit.
type LedgerStore interface {
	// WithinTx runs fn inside a transaction. Any error returned by fn rolls
	// every change back.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
	// EscrowHeldTotal sums escrow balances still held.
	EscrowHeldTotal(ctx context.Context) (int64, error)
}

// LedgerTx is the set of operations available inside a ledger transaction.
// Reads lock the returned rows until the transaction ends.
type LedgerTx interface {
	ProjectForUpdate(ctx context.Context, id string) (project.Project, error)
	CommissionerByID(ctx context.Context, id string) (commission.Commissioner, error)
	DeveloperAccountForUpdate(ctx context.Context, developerID string) (developer.Account, error)
	SaveDeveloperAccount(ctx context.Context, acct developer.Account) error
	InsertCommission(ctx context.Context, txn commission.Transaction) (commission.Transaction, error)
	MarkCommissionAvailable(ctx context.Context, id string, at time.Time) error
	// HoldEscrow moves a deposit_pending project with the given reference to
	// active/held with the given balance. Zero affected rows is a Conflict.
	HoldEscrow(ctx context.Context, projectID, reference string, amount int64, now time.Time) (project.Project, error)
	// CompleteProject marks a project completed and its escrow released.
	// Zero affected rows (already completed) is a Conflict.
	CompleteProject(ctx context.Context, projectID string, now time.Time) (project.Project, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	ProjectStore
	CommissionerStore
	LeadStore
	DeveloperStore
	AuditStore
	CommissionStore
	LedgerStore
}
