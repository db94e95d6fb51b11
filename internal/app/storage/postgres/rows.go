package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/devbridge/marketplace/internal/app/domain/audit"
	"github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/app/domain/developer"
	"github.com/devbridge/marketplace/internal/app/domain/lead"
	"github.com/devbridge/marketplace/internal/app/domain/project"
	"github.com/devbridge/marketplace/internal/errors"
)

// Row types mirror nullable columns; toDomain flattens them.

type projectRow struct {
	ID               string         `db:"id"`
	ClientID         string         `db:"client_id"`
	Title            string         `db:"title"`
	Value            int64          `db:"value"`
	Status           string         `db:"status"`
	EscrowStatus     string         `db:"escrow_status"`
	EscrowBalance    int64          `db:"escrow_balance"`
	CommissionerID   sql.NullString `db:"commissioner_id"`
	DeveloperID      sql.NullString `db:"developer_id"`
	LeadID           sql.NullString `db:"lead_id"`
	Requirements     pq.StringArray `db:"requirements"`
	PaymentReference sql.NullString `db:"payment_reference"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
}

func (r projectRow) toDomain() project.Project {
	return project.Project{
		ID:               r.ID,
		ClientID:         r.ClientID,
		Title:            r.Title,
		Value:            r.Value,
		Status:           project.Status(r.Status),
		EscrowStatus:     project.EscrowStatus(r.EscrowStatus),
		EscrowBalance:    r.EscrowBalance,
		CommissionerID:   r.CommissionerID.String,
		DeveloperID:      r.DeveloperID.String,
		LeadID:           r.LeadID.String,
		Requirements:     []string(r.Requirements),
		PaymentReference: r.PaymentReference.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		CompletedAt:      timePtr(r.CompletedAt),
	}
}

type leadRow struct {
	ID             string         `db:"id"`
	Company        string         `db:"company"`
	ContactEmail   string         `db:"contact_email"`
	Status         string         `db:"status"`
	ClaimedBy      sql.NullString `db:"claimed_by"`
	ClaimedAt      sql.NullTime   `db:"claimed_at"`
	FirstContactAt sql.NullTime   `db:"first_contact_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r leadRow) toDomain() lead.Lead {
	return lead.Lead{
		ID:             r.ID,
		Company:        r.Company,
		ContactEmail:   r.ContactEmail,
		Status:         lead.Status(r.Status),
		ClaimedBy:      r.ClaimedBy.String,
		ClaimedAt:      timePtr(r.ClaimedAt),
		FirstContactAt: timePtr(r.FirstContactAt),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type commissionerRow struct {
	ID           string         `db:"id"`
	Tier         string         `db:"tier"`
	ParentID     sql.NullString `db:"parent_commissioner_id"`
	ReferralCode string         `db:"referral_code"`
}

func (r commissionerRow) toDomain() commission.Commissioner {
	return commission.Commissioner{
		ID:           r.ID,
		Tier:         commission.Tier(r.Tier),
		ParentID:     r.ParentID.String,
		ReferralCode: r.ReferralCode,
	}
}

type commissionRow struct {
	ID             string         `db:"id"`
	ProjectID      string         `db:"project_id"`
	CommissionerID string         `db:"commissioner_id"`
	ParentID       sql.NullString `db:"parent_commissioner_id"`
	DirectAmount   int64          `db:"direct_amount"`
	OverrideAmount int64          `db:"override_amount"`
	IsCapped       bool           `db:"is_capped"`
	Status         string         `db:"status"`
	CreatedAt      time.Time      `db:"created_at"`
	AvailableAt    sql.NullTime   `db:"available_at"`
}

func (r commissionRow) toDomain() commission.Transaction {
	return commission.Transaction{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		CommissionerID: r.CommissionerID,
		ParentID:       r.ParentID.String,
		DirectAmount:   r.DirectAmount,
		OverrideAmount: r.OverrideAmount,
		IsCapped:       r.IsCapped,
		Status:         commission.Status(r.Status),
		CreatedAt:      r.CreatedAt,
		AvailableAt:    timePtr(r.AvailableAt),
	}
}

type profileRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Skills           pq.StringArray `db:"skills"`
	ReliabilityScore float64        `db:"reliability_score"`
	ExperienceLevel  string         `db:"experience_level"`
	ActiveJobsCount  int            `db:"active_jobs_count"`
	IsBlacklisted    bool           `db:"is_blacklisted"`
	KYCStatus        string         `db:"kyc_status"`
}

func (r profileRow) toDomain() developer.Profile {
	return developer.Profile{
		ID:               r.ID,
		Name:             r.Name,
		Skills:           []string(r.Skills),
		ReliabilityScore: r.ReliabilityScore,
		ExperienceLevel:  developer.ExperienceLevel(r.ExperienceLevel),
		ActiveJobsCount:  r.ActiveJobsCount,
		IsBlacklisted:    r.IsBlacklisted,
		KYCStatus:        developer.KYCStatus(r.KYCStatus),
	}
}

type auditRow struct {
	ID        string    `db:"id"`
	Actor     string    `db:"actor"`
	Action    string    `db:"action"`
	Subject   string    `db:"subject"`
	Details   []byte    `db:"details"`
	CreatedAt time.Time `db:"created_at"`
}

func (r auditRow) toDomain() (audit.Entry, error) {
	entry := audit.Entry{
		ID:        r.ID,
		Actor:     r.Actor,
		Action:    r.Action,
		Subject:   r.Subject,
		Timestamp: r.CreatedAt,
	}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &entry.Details); err != nil {
			return audit.Entry{}, errors.Internal("decode audit details for "+r.ID, err)
		}
	}
	return entry, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
