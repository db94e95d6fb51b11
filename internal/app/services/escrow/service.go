// Package escrow moves project funds through the escrow lifecycle: deposit
// request, deposit confirmation and the one-time release on shipment.
package escrow

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/devbridge/marketplace/internal/app/domain/audit"
	domcommission "github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/app/domain/developer"
	"github.com/devbridge/marketplace/internal/app/domain/project"
	"github.com/devbridge/marketplace/internal/app/metrics"
	"github.com/devbridge/marketplace/internal/app/services/commission"
	"github.com/devbridge/marketplace/internal/app/storage"
	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/internal/notify"
	"github.com/devbridge/marketplace/internal/payments"
	"github.com/devbridge/marketplace/pkg/logger"
)

const notifyTimeout = 5 * time.Second

// Store is the persistence the escrow service needs.
type Store interface {
	storage.ProjectStore
	storage.CommissionStore
	storage.DeveloperStore
	storage.LedgerStore
}

// ShipResult describes a completed shipment.
type ShipResult struct {
	Project    project.Project            `json:"project"`
	Released   int64                      `json:"released"`
	Commission *domcommission.Transaction `json:"commission,omitempty"`
}

// DepositRequest is the outcome of asking the gateway for a deposit.
type DepositRequest struct {
	Project project.Project      `json:"project"`
	Payment payments.PaymentLink `json:"payment"`
}

// Service manages escrow state transitions.
type Service struct {
	store    Store
	audits   storage.AuditStore
	calc     *commission.Calculator
	gateway  payments.Gateway
	notifier notify.Notifier
	log      *logger.Logger
	now      func() time.Time
}

// New constructs an escrow service. A nil gateway disables RequestDeposit and
// a nil notifier drops events.
func New(store Store, audits storage.AuditStore, calc *commission.Calculator, gateway payments.Gateway, notifier notify.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("escrow")
	}
	if calc == nil {
		calc = commission.NewDefault()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		store:    store,
		audits:   audits,
		calc:     calc,
		gateway:  gateway,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a project.
func (s *Service) Get(ctx context.Context, projectID string) (project.Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return project.Project{}, errors.Validation("project_id", "is required")
	}
	return s.store.GetProject(ctx, projectID)
}

// Commission returns the commission recorded for a shipped project.
func (s *Service) Commission(ctx context.Context, projectID string) (domcommission.Transaction, error) {
	if strings.TrimSpace(projectID) == "" {
		return domcommission.Transaction{}, errors.Validation("project_id", "is required")
	}
	return s.store.GetCommissionByProject(ctx, projectID)
}

// DeveloperAccount returns a developer's balances.
func (s *Service) DeveloperAccount(ctx context.Context, developerID string) (developer.Account, error) {
	if strings.TrimSpace(developerID) == "" {
		return developer.Account{}, errors.Validation("developer_id", "is required")
	}
	return s.store.GetDeveloperAccount(ctx, developerID)
}

// RequestDeposit asks the payment gateway for a deposit link covering the
// project value and parks the project in deposit_pending.
func (s *Service) RequestDeposit(ctx context.Context, projectID, payer string) (DepositRequest, error) {
	if s.gateway == nil {
		return DepositRequest{}, errors.Internal("payment gateway is not configured", nil)
	}
	p, err := s.Get(ctx, projectID)
	if err != nil {
		return DepositRequest{}, err
	}
	if p.Status != project.StatusPending || p.EscrowStatus != project.EscrowNoDeposit {
		return DepositRequest{}, errors.Conflict("project is not awaiting a deposit").
			WithDetails("status", string(p.Status))
	}
	if p.Value <= 0 {
		return DepositRequest{}, errors.Validation("value", "project has no value to deposit")
	}

	link, err := s.gateway.CreatePayment(ctx, payments.PaymentRequest{
		ProjectID: p.ID,
		Amount:    p.Value,
		Payer:     payer,
	})
	if err != nil {
		if errors.GetServiceError(err) != nil {
			return DepositRequest{}, err
		}
		return DepositRequest{}, errors.Internal("payment gateway request failed", err)
	}

	updated, err := s.store.MarkDepositPending(ctx, p.ID, link.Reference, s.now())
	if err != nil {
		return DepositRequest{}, err
	}

	s.log.WithContext(ctx).
		WithField("project_id", p.ID).
		WithField("reference", link.Reference).
		Info("deposit requested")
	s.record(ctx, payer, audit.ActionDepositRequested, p.ID, map[string]string{"reference": link.Reference})
	s.publish(ctx, notify.Event{
		Type:       notify.EventDepositRequested,
		Subject:    p.ID,
		Actor:      payer,
		Recipients: []string{p.ClientID},
		Data:       map[string]string{"url": link.URL},
	})
	return DepositRequest{Project: updated, Payment: link}, nil
}

// ConfirmDeposit records a gateway-confirmed deposit: escrow becomes held
// and an assigned developer's pending balance is credited. The amount must
// equal the project value; any other amount leaves the project in
// deposit_pending.
func (s *Service) ConfirmDeposit(ctx context.Context, projectID, reference string, amount int64) (project.Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return project.Project{}, errors.Validation("project_id", "is required")
	}
	if strings.TrimSpace(reference) == "" {
		return project.Project{}, errors.Validation("reference", "is required")
	}
	if amount <= 0 {
		return project.Project{}, errors.Validation("amount", "must be greater than zero")
	}

	now := s.now()
	var held project.Project
	err := s.store.WithinTx(ctx, func(tx storage.LedgerTx) error {
		p, err := tx.ProjectForUpdate(ctx, projectID)
		if err != nil {
			return err
		}
		if p.EscrowStatus != project.EscrowNoDeposit {
			return errors.Conflict("deposit already confirmed")
		}
		if amount != p.Value {
			return errors.Validation("amount", "must equal the project value").
				WithDetails("expected", p.Value).
				WithDetails("received", amount)
		}
		if held, err = tx.HoldEscrow(ctx, projectID, reference, amount, now); err != nil {
			return err
		}
		if !p.HasDeveloper() {
			return nil
		}
		acct, err := tx.DeveloperAccountForUpdate(ctx, p.DeveloperID)
		switch {
		case errors.IsNotFound(err):
			acct = developer.Account{DeveloperID: p.DeveloperID}
		case err != nil:
			return err
		}
		acct.PendingBalance += amount
		return tx.SaveDeveloperAccount(ctx, acct)
	})
	if err != nil {
		return project.Project{}, err
	}

	s.log.WithContext(ctx).
		WithField("project_id", projectID).
		WithField("amount", amount).
		Info("deposit confirmed")
	s.record(ctx, "payment-gateway", audit.ActionDepositConfirmed, projectID, map[string]string{
		"reference": reference,
		"amount":    strconv.FormatInt(amount, 10),
	})
	s.refreshHeld(ctx)
	s.publish(ctx, notify.Event{
		Type:       notify.EventDepositConfirmed,
		Subject:    projectID,
		Recipients: recipients(held.ClientID, held.DeveloperID),
	})
	return held, nil
}

// Ship releases a project's escrow and records its commission. Every write
// happens in one ledger transaction; a project ships at most once.
func (s *Service) Ship(ctx context.Context, projectID, actor string) (ShipResult, error) {
	if strings.TrimSpace(projectID) == "" {
		return ShipResult{}, errors.Validation("project_id", "is required")
	}

	started := time.Now()
	now := s.now()
	var result ShipResult
	err := s.store.WithinTx(ctx, func(tx storage.LedgerTx) error {
		result = ShipResult{}

		p, err := tx.ProjectForUpdate(ctx, projectID)
		if err != nil {
			return err
		}
		if p.Status == project.StatusCompleted {
			return errors.Conflict("already processed")
		}

		if p.HasDeveloper() {
			acct, err := tx.DeveloperAccountForUpdate(ctx, p.DeveloperID)
			if errors.IsNotFound(err) {
				return errors.Internal("developer account missing for "+p.DeveloperID, nil)
			}
			if err != nil {
				return err
			}
			result.Released = acct.Release(p.ReleaseBase())
			if err := tx.SaveDeveloperAccount(ctx, acct); err != nil {
				return err
			}
		}

		if p.HasCommissioner() {
			txn, err := s.recordCommission(ctx, tx, p, now)
			if err != nil {
				return err
			}
			result.Commission = &txn
		}

		result.Project, err = tx.CompleteProject(ctx, projectID, now)
		return err
	})
	if err != nil {
		metrics.RecordShip(shipResult(err), time.Since(started))
		return ShipResult{}, err
	}

	metrics.RecordShip("shipped", time.Since(started))
	entry := s.log.WithContext(ctx).
		WithField("project_id", projectID).
		WithField("released", result.Released)
	details := map[string]string{"released": strconv.FormatInt(result.Released, 10)}
	if c := result.Commission; c != nil {
		metrics.RecordPayout(c.DirectAmount, c.OverrideAmount)
		entry = entry.WithField("commission", c.Total()).WithField("capped", c.IsCapped)
		details["commission"] = strconv.FormatInt(c.Total(), 10)
	}
	entry.Info("project shipped")

	s.record(ctx, actor, audit.ActionProjectShipped, projectID, details)
	s.refreshHeld(ctx)
	s.publish(ctx, notify.Event{
		Type:       notify.EventProjectShipped,
		Subject:    projectID,
		Actor:      actor,
		Recipients: recipients(result.Project.ClientID, result.Project.DeveloperID, result.Project.CommissionerID),
	})
	return result, nil
}

func (s *Service) recordCommission(ctx context.Context, tx storage.LedgerTx, p project.Project, now time.Time) (domcommission.Transaction, error) {
	c, err := tx.CommissionerByID(ctx, p.CommissionerID)
	if errors.IsNotFound(err) {
		return domcommission.Transaction{}, errors.Internal("commissioner missing for "+p.CommissionerID, nil)
	}
	if err != nil {
		return domcommission.Transaction{}, err
	}

	payout, err := s.calc.Compute(p.Value, c.Tier, c.HasParent())
	if err != nil {
		return domcommission.Transaction{}, err
	}

	txn, err := tx.InsertCommission(ctx, domcommission.Transaction{
		ProjectID:      p.ID,
		CommissionerID: c.ID,
		ParentID:       c.ParentID,
		DirectAmount:   payout.DirectAmount,
		OverrideAmount: payout.OverrideAmount,
		IsCapped:       payout.IsCapped,
		Status:         domcommission.StatusPending,
		CreatedAt:      now,
	})
	if err != nil {
		return domcommission.Transaction{}, err
	}
	if err := tx.MarkCommissionAvailable(ctx, txn.ID, now); err != nil {
		return domcommission.Transaction{}, err
	}
	availableAt := now
	txn.Status = domcommission.StatusAvailable
	txn.AvailableAt = &availableAt
	return txn, nil
}

func (s *Service) record(ctx context.Context, actor, action, subject string, details map[string]string) {
	if s.audits == nil {
		return
	}
	if actor == "" {
		actor = "system"
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
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = s.now()
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(nctx, evt); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("event", evt.Type).Warn("notification failed")
	}
}

func (s *Service) refreshHeld(ctx context.Context) {
	total, err := s.store.EscrowHeldTotal(ctx)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Debug("escrow held total")
		return
	}
	metrics.SetEscrowHeld(total)
}

func shipResult(err error) string {
	switch {
	case errors.IsConflict(err):
		return "conflict"
	case errors.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

func recipients(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
