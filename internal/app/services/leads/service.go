// Package leads allocates pooled leads to commissioners under a per-commissioner
// capacity and drives owned leads through the sales pipeline.
package leads

import (
	"context"
	"strings"
	"time"

	"github.com/devbridge/marketplace/internal/app/domain/audit"
	"github.com/devbridge/marketplace/internal/app/domain/lead"
	"github.com/devbridge/marketplace/internal/app/domain/project"
	"github.com/devbridge/marketplace/internal/app/metrics"
	"github.com/devbridge/marketplace/internal/app/storage"
	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/internal/notify"
	"github.com/devbridge/marketplace/pkg/logger"
)

// DefaultCapacity is the number of active leads a commissioner may hold.
const DefaultCapacity = 3

// ProjectDraft describes the project created when a lead converts.
type ProjectDraft struct {
	ClientID     string   `json:"client_id"`
	Title        string   `json:"title"`
	Value        int64    `json:"value"`
	DeveloperID  string   `json:"developer_id,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// Service coordinates lead claims and transitions.
type Service struct {
	leads    storage.LeadStore
	projects storage.ProjectStore
	audits   storage.AuditStore
	notifier notify.Notifier
	capacity int
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a lead service. capacity <= 0 selects DefaultCapacity.
func New(leads storage.LeadStore, projects storage.ProjectStore, audits storage.AuditStore, notifier notify.Notifier, capacity int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("leads")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		leads:    leads,
		projects: projects,
		audits:   audits,
		notifier: notifier,
		capacity: capacity,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Capacity returns the configured active-lead limit.
func (s *Service) Capacity() int { return s.capacity }

// Get returns a lead.
func (s *Service) Get(ctx context.Context, leadID string) (lead.Lead, error) {
	if strings.TrimSpace(leadID) == "" {
		return lead.Lead{}, errors.Validation("lead_id", "is required")
	}
	return s.leads.GetLead(ctx, leadID)
}

// Claim assigns an unclaimed lead to commissionerID. The capacity check and
// the assignment are one atomic store operation.
func (s *Service) Claim(ctx context.Context, leadID, commissionerID string) (lead.Lead, error) {
	if err := requireIDs(leadID, commissionerID); err != nil {
		return lead.Lead{}, err
	}

	claimed, err := s.leads.ClaimLead(ctx, leadID, commissionerID, s.capacity, s.now())
	metrics.RecordLeadClaim(claimResult(err))
	if err != nil {
		s.log.WithContext(ctx).
			WithField("lead_id", leadID).
			WithField("commissioner_id", commissionerID).
			WithError(err).
			Debug("lead claim rejected")
		return lead.Lead{}, err
	}

	s.log.WithContext(ctx).
		WithField("lead_id", leadID).
		WithField("commissioner_id", commissionerID).
		Info("lead claimed")
	s.record(ctx, commissionerID, audit.ActionLeadClaimed, leadID, nil)
	s.publish(ctx, notify.Event{
		Type:       notify.EventLeadClaimed,
		Subject:    leadID,
		Actor:      commissionerID,
		Recipients: []string{commissionerID},
	})
	return claimed, nil
}

// MarkContacted moves an owned lead to contacted. first_contact_at is set
// on the first call only; repeat contacts keep the original timestamp.
func (s *Service) MarkContacted(ctx context.Context, leadID, commissionerID string) (lead.Lead, error) {
	if err := requireIDs(leadID, commissionerID); err != nil {
		return lead.Lead{}, err
	}
	updated, err := s.leads.MarkLeadContacted(ctx, leadID, commissionerID, s.now())
	if err != nil {
		return lead.Lead{}, err
	}
	s.record(ctx, commissionerID, audit.ActionLeadContacted, leadID, nil)
	return updated, nil
}

// Progress moves an owned lead along the pipeline. Moving to contacted is
// delegated to MarkContacted so first contact is recorded.
func (s *Service) Progress(ctx context.Context, leadID, commissionerID string, to lead.Status) (lead.Lead, error) {
	if err := requireIDs(leadID, commissionerID); err != nil {
		return lead.Lead{}, err
	}
	to = lead.Status(strings.ToLower(strings.TrimSpace(string(to))))
	if to == lead.StatusContacted {
		return s.MarkContacted(ctx, leadID, commissionerID)
	}

	current, err := s.owned(ctx, leadID, commissionerID)
	if err != nil {
		return lead.Lead{}, err
	}
	if !lead.CanTransition(current.Status, to) {
		return lead.Lead{}, errors.Conflict("lead cannot move from " + string(current.Status) + " to " + string(to)).
			WithDetails("status", string(current.Status))
	}

	updated, err := s.leads.TransitionLead(ctx, leadID, commissionerID, current.Status, to, s.now())
	if err != nil {
		return lead.Lead{}, err
	}
	s.record(ctx, commissionerID, audit.ActionLeadProgressed, leadID, map[string]string{
		"from": string(current.Status),
		"to":   string(to),
	})
	return updated, nil
}

// Convert closes an owned lead as converted and opens a pending project for
// it, referred by the converting commissioner. The lead returns to its
// previous status when the project cannot be created.
func (s *Service) Convert(ctx context.Context, leadID, commissionerID string, draft ProjectDraft) (project.Project, error) {
	if err := requireIDs(leadID, commissionerID); err != nil {
		return project.Project{}, err
	}
	if strings.TrimSpace(draft.ClientID) == "" {
		return project.Project{}, errors.Validation("client_id", "is required")
	}
	if draft.Value <= 0 {
		return project.Project{}, errors.Validation("value", "must be greater than zero")
	}
	if s.projects == nil {
		return project.Project{}, errors.Internal("project store is not configured", nil)
	}

	current, err := s.owned(ctx, leadID, commissionerID)
	if err != nil {
		return project.Project{}, err
	}
	if !lead.CanTransition(current.Status, lead.StatusConverted) {
		return project.Project{}, errors.Conflict("lead in status " + string(current.Status) + " cannot convert")
	}
	if _, err := s.leads.TransitionLead(ctx, leadID, commissionerID, current.Status, lead.StatusConverted, s.now()); err != nil {
		return project.Project{}, err
	}

	title := strings.TrimSpace(draft.Title)
	if title == "" {
		title = current.Company
	}
	created, err := s.projects.CreateProject(ctx, project.Project{
		ClientID:       draft.ClientID,
		Title:          title,
		Value:          draft.Value,
		Status:         project.StatusPending,
		EscrowStatus:   project.EscrowNoDeposit,
		CommissionerID: commissionerID,
		DeveloperID:    draft.DeveloperID,
		LeadID:         leadID,
		Requirements:   draft.Requirements,
	})
	if err != nil {
		if _, rerr := s.leads.TransitionLead(ctx, leadID, commissionerID, lead.StatusConverted, current.Status, s.now()); rerr != nil {
			s.log.WithContext(ctx).WithError(rerr).WithField("lead_id", leadID).Error("project creation failed and lead could not be reverted")
		}
		return project.Project{}, err
	}

	s.log.WithContext(ctx).
		WithField("lead_id", leadID).
		WithField("project_id", created.ID).
		Info("lead converted")
	s.record(ctx, commissionerID, audit.ActionLeadConverted, leadID, map[string]string{"project_id": created.ID})
	s.publish(ctx, notify.Event{
		Type:       notify.EventLeadConverted,
		Subject:    leadID,
		Actor:      commissionerID,
		Recipients: []string{commissionerID, draft.ClientID},
		Data:       map[string]string{"project_id": created.ID},
	})
	return created, nil
}

// ListActive returns the commissioner's leads that count against capacity.
func (s *Service) ListActive(ctx context.Context, commissionerID string) ([]lead.Lead, error) {
	if strings.TrimSpace(commissionerID) == "" {
		return nil, errors.Validation("commissioner_id", "is required")
	}
	return s.leads.ListActiveLeads(ctx, commissionerID)
}

func (s *Service) owned(ctx context.Context, leadID, commissionerID string) (lead.Lead, error) {
	l, err := s.leads.GetLead(ctx, leadID)
	if err != nil {
		return lead.Lead{}, err
	}
	if l.ClaimedBy != commissionerID {
		return lead.Lead{}, errors.Forbidden("lead is not owned by " + commissionerID)
	}
	return l, nil
}

func (s *Service) record(ctx context.Context, actor, action, subject string, details map[string]string) {
	if s.audits == nil {
		return
	}
	err := s.audits.AppendAudit(ctx, audit.Entry{
		Actor:     actor,
		Action:    action,
		Subject:   subject,
		Timestamp: s.now(),
		Details:   details,
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("action", action).Warn("append audit entry")
	}
}

func (s *Service) publish(ctx context.Context, evt notify.Event) {
	evt.OccurredAt = s.now()
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.notifier.Notify(nctx, evt); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("event", evt.Type).Warn("notification failed")
	}
}

func requireIDs(leadID, commissionerID string) error {
	if strings.TrimSpace(leadID) == "" {
		return errors.Validation("lead_id", "is required")
	}
	if strings.TrimSpace(commissionerID) == "" {
		return errors.Validation("commissioner_id", "is required")
	}
	return nil
}

func claimResult(err error) string {
	switch {
	case err == nil:
		return "claimed"
	case errors.IsCapacityExceeded(err):
		return "capacity"
	case errors.IsConflict(err):
		return "conflict"
	case errors.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
