package database

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/devbridge/marketplace/internal/app/domain/audit"
	"github.com/devbridge/marketplace/internal/app/domain/developer"
	"github.com/devbridge/marketplace/internal/app/domain/lead"
	"github.com/devbridge/marketplace/internal/app/storage"
	"github.com/devbridge/marketplace/internal/errors"
)

const (
	tableLeads     = "leads"
	tableProfiles  = "developer_profiles"
	tableAccounts  = "developer_accounts"
	tableAuditLog  = "audit_log"
	claimLeadRPC   = "claim_lead"
	raisedErrCode  = "P0001"
	uniqueViolated = "23505"
)

// Repository serves the lead pool, developer directory and audit log from
// Supabase. Lead mutations are conditional PATCHes or the claim_lead
// function so that concurrent writers never overwrite each other.
type Repository struct {
	client *Client
}

var (
	_ storage.LeadStore      = (*Repository)(nil)
	_ storage.DeveloperStore = (*Repository)(nil)
	_ storage.AuditStore     = (*Repository)(nil)
)

// NewRepository creates a repository over the given client.
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

// --- LeadStore --------------------------------------------------------------

func (r *Repository) GetLead(ctx context.Context, id string) (lead.Lead, error) {
	q := newQuery().Eq("id", id).Limit(1)
	data, err := r.client.request(ctx, http.MethodGet, tableLeads, nil, q.String())
	if err != nil {
		return lead.Lead{}, translate(err, "lead", id)
	}
	return firstLead(data, "lead", id)
}

func (r *Repository) ClaimLead(ctx context.Context, leadID, commissionerID string, capacity int, now time.Time) (lead.Lead, error) {
	params := map[string]interface{}{
		"p_lead_id":         leadID,
		"p_commissioner_id": commissionerID,
		"p_capacity":        capacity,
		"p_now":             now.UTC(),
	}
	data, err := r.client.rpc(ctx, claimLeadRPC, params)
	if err != nil {
		var apiErr *APIError
		if stderrors.As(err, &apiErr) && apiErr.Code == raisedErrCode {
			switch apiErr.Message {
			case "capacity_exceeded":
				return lead.Lead{}, errors.CapacityExceeded(capacity)
			case "already_claimed":
				return lead.Lead{}, errors.Conflict("already claimed")
			case "lead_not_found":
				return lead.Lead{}, errors.NotFound("lead", leadID)
			case "commissioner_not_found":
				return lead.Lead{}, errors.NotFound("commissioner", commissionerID)
			}
		}
		return lead.Lead{}, translate(err, "lead", leadID)
	}
	return firstLead(data, "lead", leadID)
}

func (r *Repository) MarkLeadContacted(ctx context.Context, leadID, commissionerID string, now time.Time) (lead.Lead, error) {
	owned := func() *query {
		return newQuery().
			Eq("id", leadID).
			Eq("claimed_by", commissionerID).
			In("status", string(lead.StatusClaimed), string(lead.StatusContacted))
	}

	// First contact sets the timestamp; later contacts leave it untouched.
	first := map[string]interface{}{
		"status":           lead.StatusContacted,
		"first_contact_at": now.UTC(),
		"updated_at":       now.UTC(),
	}
	data, err := r.client.request(ctx, http.MethodPatch, tableLeads, first, owned().Is("first_contact_at", "null").String())
	if err != nil {
		return lead.Lead{}, translate(err, "lead", leadID)
	}
	if updated, ok, err := decodeFirstLead(data); err != nil || ok {
		return updated, err
	}

	again := map[string]interface{}{
		"status":     lead.StatusContacted,
		"updated_at": now.UTC(),
	}
	data, err = r.client.request(ctx, http.MethodPatch, tableLeads, again, owned().String())
	if err != nil {
		return lead.Lead{}, translate(err, "lead", leadID)
	}
	if updated, ok, err := decodeFirstLead(data); err != nil || ok {
		return updated, err
	}
	return lead.Lead{}, r.classifyLead(ctx, leadID, commissionerID)
}

func (r *Repository) TransitionLead(ctx context.Context, leadID, commissionerID string, from, to lead.Status, now time.Time) (lead.Lead, error) {
	q := newQuery().Eq("id", leadID).Eq("claimed_by", commissionerID).Eq("status", string(from))
	body := map[string]interface{}{
		"status":     to,
		"updated_at": now.UTC(),
	}
	data, err := r.client.request(ctx, http.MethodPatch, tableLeads, body, q.String())
	if err != nil {
		return lead.Lead{}, translate(err, "lead", leadID)
	}
	if updated, ok, err := decodeFirstLead(data); err != nil || ok {
		return updated, err
	}
	return lead.Lead{}, r.classifyLead(ctx, leadID, commissionerID)
}

// classifyLead explains why a conditional PATCH matched no rows.
func (r *Repository) classifyLead(ctx context.Context, leadID, commissionerID string) error {
	current, err := r.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	if current.ClaimedBy != commissionerID {
		return errors.Forbidden("lead is not claimed by this commissioner")
	}
	return errors.Conflict("lead is " + string(current.Status))
}

func (r *Repository) ListActiveLeads(ctx context.Context, commissionerID string) ([]lead.Lead, error) {
	statuses := make([]string, 0, len(lead.ActiveStatuses))
	for _, s := range lead.ActiveStatuses {
		statuses = append(statuses, string(s))
	}
	q := newQuery().Eq("claimed_by", commissionerID).In("status", statuses...).Order("id.asc")
	data, err := r.client.request(ctx, http.MethodGet, tableLeads, nil, q.String())
	if err != nil {
		return nil, translate(err, "lead", commissionerID)
	}
	var leads []lead.Lead
	if err := json.Unmarshal(data, &leads); err != nil {
		return nil, errors.Internal("decode leads", err)
	}
	return leads, nil
}

func (r *Repository) CountLeadsByStatus(ctx context.Context) (map[lead.Status]int, error) {
	data, err := r.client.request(ctx, http.MethodGet, tableLeads, nil, newQuery().Select("status").String())
	if err != nil {
		return nil, translate(err, "lead", "")
	}
	counts := make(map[lead.Status]int)
	gjson.ParseBytes(data).ForEach(func(_, row gjson.Result) bool {
		counts[lead.Status(row.Get("status").String())]++
		return true
	})
	return counts, nil
}

// --- DeveloperStore ---------------------------------------------------------

func (r *Repository) ListEligibleDevelopers(ctx context.Context) ([]developer.Profile, error) {
	q := newQuery().
		Is("is_blacklisted", "false").
		Eq("kyc_status", string(developer.KYCApproved)).
		Order("id.asc")
	data, err := r.client.request(ctx, http.MethodGet, tableProfiles, nil, q.String())
	if err != nil {
		return nil, translate(err, "developer", "")
	}
	var profiles []developer.Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, errors.Internal("decode developer profiles", err)
	}
	return profiles, nil
}

func (r *Repository) GetDeveloperAccount(ctx context.Context, developerID string) (developer.Account, error) {
	q := newQuery().Eq("developer_id", developerID).Limit(1)
	data, err := r.client.request(ctx, http.MethodGet, tableAccounts, nil, q.String())
	if err != nil {
		return developer.Account{}, translate(err, "developer account", developerID)
	}
	var accounts []developer.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return developer.Account{}, errors.Internal("decode developer accounts", err)
	}
	if len(accounts) == 0 {
		return developer.Account{}, errors.NotFound("developer account", developerID)
	}
	return accounts[0], nil
}

// --- AuditStore -------------------------------------------------------------

type auditRecord struct {
	ID        string            `json:"id"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Subject   string            `json:"subject"`
	Details   map[string]string `json:"details"`
	CreatedAt time.Time         `json:"created_at"`
}

func (r *Repository) AppendAudit(ctx context.Context, entry audit.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	details := entry.Details
	if details == nil {
		details = map[string]string{}
	}
	record := auditRecord{
		ID:        entry.ID,
		Actor:     entry.Actor,
		Action:    entry.Action,
		Subject:   entry.Subject,
		Details:   details,
		CreatedAt: entry.Timestamp,
	}
	if _, err := r.client.request(ctx, http.MethodPost, tableAuditLog, record, ""); err != nil {
		return translate(err, "audit entry", entry.ID)
	}
	return nil
}

func (r *Repository) ListAudit(ctx context.Context, subject string, limit int) ([]audit.Entry, error) {
	q := newQuery()
	if subject != "" {
		q.Eq("subject", subject)
	}
	q.Order("created_at.desc").Limit(limit)

	data, err := r.client.request(ctx, http.MethodGet, tableAuditLog, nil, q.String())
	if err != nil {
		return nil, translate(err, "audit entry", subject)
	}
	var records []auditRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Internal("decode audit log", err)
	}
	out := make([]audit.Entry, 0, len(records))
	for _, rec := range records {
		details := rec.Details
		if len(details) == 0 {
			details = nil
		}
		out = append(out, audit.Entry{
			ID:        rec.ID,
			Actor:     rec.Actor,
			Action:    rec.Action,
			Subject:   rec.Subject,
			Timestamp: rec.CreatedAt,
			Details:   details,
		})
	}
	return out, nil
}

// --- helpers ----------------------------------------------------------------

func decodeFirstLead(data []byte) (lead.Lead, bool, error) {
	var leads []lead.Lead
	if err := json.Unmarshal(data, &leads); err != nil {
		return lead.Lead{}, false, errors.Internal("decode leads", err)
	}
	if len(leads) == 0 {
		return lead.Lead{}, false, nil
	}
	return leads[0], true, nil
}

func firstLead(data []byte, resource, id string) (lead.Lead, error) {
	l, ok, err := decodeFirstLead(data)
	if err != nil {
		return lead.Lead{}, err
	}
	if !ok {
		return lead.Lead{}, errors.NotFound(resource, id)
	}
	return l, nil
}

// translate maps PostgREST failures onto the service error taxonomy.
func translate(err error, resource, id string) error {
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return errors.Internal("supabase request failed", err)
	}
	switch {
	case apiErr.Code == uniqueViolated:
		return errors.Conflict(resource + " already exists")
	case apiErr.Status == http.StatusNotFound:
		return errors.NotFound(resource, id)
	case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
		return errors.Internal("supabase rejected service credentials", err)
	case strings.HasPrefix(apiErr.Code, "22"):
		return errors.Validation(resource, apiErr.Message)
	default:
		return errors.Internal("supabase request failed", err)
	}
}
