package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devbridge/marketplace/internal/app/domain/audit"
	"github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/app/domain/developer"
	"github.com/devbridge/marketplace/internal/app/domain/lead"
	"github.com/devbridge/marketplace/internal/app/domain/project"
	"github.com/devbridge/marketplace/internal/app/storage"
	"github.com/devbridge/marketplace/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
// Every mutation runs under a single lock, which makes conditional updates and
// ledger transactions atomic.
type Store struct {
	mu            sync.RWMutex
	projects      map[string]project.Project
	commissioners map[string]commission.Commissioner
	leads         map[string]lead.Lead
	developers    map[string]developer.Profile
	accounts      map[string]developer.Account
	commissions   map[string]commission.Transaction
	audit         []audit.Entry
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		projects:      make(map[string]project.Project),
		commissioners: make(map[string]commission.Commissioner),
		leads:         make(map[string]lead.Lead),
		developers:    make(map[string]developer.Profile),
		accounts:      make(map[string]developer.Account),
		commissions:   make(map[string]commission.Transaction),
	}
}

// Seeding helpers -------------------------------------------------------------

// PutCommissioner inserts or replaces a commissioner.
func (s *Store) PutCommissioner(c commission.Commissioner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commissioners[c.ID] = c
}

// PutLead inserts or replaces a lead, defaulting to status new.
func (s *Store) PutLead(l lead.Lead) lead.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = lead.StatusNew
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	s.leads[l.ID] = l
	return cloneLead(l)
}

// PutDeveloper inserts or replaces a developer profile.
func (s *Store) PutDeveloper(p developer.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Skills = append([]string(nil), p.Skills...)
	s.developers[p.ID] = p
}

// PutDeveloperAccount inserts or replaces a developer balance row.
func (s *Store) PutDeveloperAccount(a developer.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.DeveloperID] = a
}

// ProjectStore implementation -------------------------------------------------

func (s *Store) CreateProject(_ context.Context, p project.Project) (project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, exists := s.projects[p.ID]; exists {
		return project.Project{}, errors.Conflict("project " + p.ID + " already exists")
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Requirements = append([]string(nil), p.Requirements...)
	s.projects[p.ID] = p
	return cloneProject(p), nil
}

func (s *Store) GetProject(_ context.Context, id string) (project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return project.Project{}, errors.NotFound("project", id)
	}
	return cloneProject(p), nil
}

func (s *Store) MarkDepositPending(_ context.Context, id, reference string, now time.Time) (project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return project.Project{}, errors.NotFound("project", id)
	}
	if p.Status != project.StatusPending || p.EscrowStatus != project.EscrowNoDeposit {
		return project.Project{}, errors.Conflict("project is not awaiting a deposit")
	}
	p.Status = project.StatusDepositPending
	p.PaymentReference = reference
	p.UpdatedAt = now
	s.projects[id] = p
	return cloneProject(p), nil
}

// CommissionerStore implementation --------------------------------------------

func (s *Store) GetCommissioner(_ context.Context, id string) (commission.Commissioner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commissioners[id]
	if !ok {
		return commission.Commissioner{}, errors.NotFound("commissioner", id)
	}
	return c, nil
}

// LeadStore implementation ----------------------------------------------------

func (s *Store) GetLead(_ context.Context, id string) (lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.leads[id]
	if !ok {
		return lead.Lead{}, errors.NotFound("lead", id)
	}
	return cloneLead(l), nil
}

func (s *Store) ClaimLead(_ context.Context, leadID, commissionerID string, capacity int, now time.Time) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.commissioners[commissionerID]; !ok {
		return lead.Lead{}, errors.NotFound("commissioner", commissionerID)
	}
	if s.activeCountLocked(commissionerID) >= capacity {
		return lead.Lead{}, errors.CapacityExceeded(capacity)
	}

	l, ok := s.leads[leadID]
	if !ok {
		return lead.Lead{}, errors.NotFound("lead", leadID)
	}
	if l.ClaimedBy != "" || l.Status != lead.StatusNew {
		return lead.Lead{}, errors.Conflict("already claimed")
	}

	claimedAt := now
	l.ClaimedBy = commissionerID
	l.ClaimedAt = &claimedAt
	l.Status = lead.StatusClaimed
	l.UpdatedAt = now
	s.leads[leadID] = l
	return cloneLead(l), nil
}

func (s *Store) MarkLeadContacted(_ context.Context, leadID, commissionerID string, now time.Time) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[leadID]
	if !ok {
		return lead.Lead{}, errors.NotFound("lead", leadID)
	}
	if l.ClaimedBy != commissionerID {
		return lead.Lead{}, errors.Forbidden("lead is not claimed by this commissioner")
	}
	if !l.Status.Contactable() {
		return lead.Lead{}, errors.Conflict("lead is " + string(l.Status))
	}

	if l.FirstContactAt == nil {
		contactedAt := now
		l.FirstContactAt = &contactedAt
	}
	l.Status = lead.StatusContacted
	l.UpdatedAt = now
	s.leads[leadID] = l
	return cloneLead(l), nil
}

func (s *Store) TransitionLead(_ context.Context, leadID, commissionerID string, from, to lead.Status, now time.Time) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[leadID]
	if !ok {
		return lead.Lead{}, errors.NotFound("lead", leadID)
	}
	if l.ClaimedBy != commissionerID {
		return lead.Lead{}, errors.Forbidden("lead is not claimed by this commissioner")
	}
	if l.Status != from {
		return lead.Lead{}, errors.Conflict("lead is " + string(l.Status))
	}

	l.Status = to
	l.UpdatedAt = now
	s.leads[leadID] = l
	return cloneLead(l), nil
}

func (s *Store) ListActiveLeads(_ context.Context, commissionerID string) ([]lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []lead.Lead
	for _, l := range s.leads {
		if l.ClaimedBy == commissionerID && l.Status.IsActive() {
			out = append(out, cloneLead(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountLeadsByStatus(_ context.Context) (map[lead.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[lead.Status]int)
	for _, l := range s.leads {
		counts[l.Status]++
	}
	return counts, nil
}

func (s *Store) activeCountLocked(commissionerID string) int {
	n := 0
	for _, l := range s.leads {
		if l.ClaimedBy == commissionerID && l.Status.IsActive() {
			n++
		}
	}
	return n
}

// DeveloperStore implementation -----------------------------------------------

func (s *Store) ListEligibleDevelopers(_ context.Context) ([]developer.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]developer.Profile, 0, len(s.developers))
	for _, d := range s.developers {
		if !d.Eligible() {
			continue
		}
		d.Skills = append([]string(nil), d.Skills...)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetDeveloperAccount(_ context.Context, developerID string) (developer.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[developerID]
	if !ok {
		return developer.Account{}, errors.NotFound("developer account", developerID)
	}
	return a, nil
}

// AuditStore implementation ---------------------------------------------------

func (s *Store) AppendAudit(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.Details = copyMap(entry.Details)
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) ListAudit(_ context.Context, subject string, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if subject != "" && e.Subject != subject {
			continue
		}
		e.Details = copyMap(e.Details)
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CommissionStore implementation ----------------------------------------------

func (s *Store) GetCommissionByProject(_ context.Context, projectID string) (commission.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.commissions {
		if t.ProjectID == projectID {
			return t, nil
		}
	}
	return commission.Transaction{}, errors.NotFound("commission for project", projectID)
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) EscrowHeldTotal(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, p := range s.projects {
		if p.EscrowStatus == project.EscrowHeld {
			total += p.EscrowBalance
		}
	}
	return total, nil
}

// WithinTx holds the store lock for the whole of fn and stages writes so that
// an error from fn leaves the store untouched.
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:       s,
		projects:    make(map[string]project.Project),
		accounts:    make(map[string]developer.Account),
		commissions: make(map[string]commission.Transaction),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, p := range tx.projects {
		s.projects[id] = p
	}
	for id, a := range tx.accounts {
		s.accounts[id] = a
	}
	for id, c := range tx.commissions {
		s.commissions[id] = c
	}
	return nil
}

type memTx struct {
	store       *Store
	projects    map[string]project.Project
	accounts    map[string]developer.Account
	commissions map[string]commission.Transaction
}

func (t *memTx) project(id string) (project.Project, bool) {
	if p, ok := t.projects[id]; ok {
		return p, true
	}
	p, ok := t.store.projects[id]
	return p, ok
}

func (t *memTx) ProjectForUpdate(_ context.Context, id string) (project.Project, error) {
	p, ok := t.project(id)
	if !ok {
		return project.Project{}, errors.NotFound("project", id)
	}
	return cloneProject(p), nil
}

func (t *memTx) CommissionerByID(_ context.Context, id string) (commission.Commissioner, error) {
	c, ok := t.store.commissioners[id]
	if !ok {
		return commission.Commissioner{}, errors.NotFound("commissioner", id)
	}
	return c, nil
}

func (t *memTx) DeveloperAccountForUpdate(_ context.Context, developerID string) (developer.Account, error) {
	if a, ok := t.accounts[developerID]; ok {
		return a, nil
	}
	a, ok := t.store.accounts[developerID]
	if !ok {
		return developer.Account{}, errors.NotFound("developer account", developerID)
	}
	return a, nil
}

func (t *memTx) SaveDeveloperAccount(_ context.Context, acct developer.Account) error {
	if acct.PendingBalance < 0 || acct.AvailableBalance < 0 {
		return errors.Validation("balance", "must not be negative")
	}
	acct.UpdatedAt = time.Now().UTC()
	t.accounts[acct.DeveloperID] = acct
	return nil
}

func (t *memTx) InsertCommission(_ context.Context, txn commission.Transaction) (commission.Transaction, error) {
	for _, existing := range t.store.commissions {
		if existing.ProjectID == txn.ProjectID {
			return commission.Transaction{}, errors.Conflict("commission already recorded for project")
		}
	}
	for _, staged := range t.commissions {
		if staged.ProjectID == txn.ProjectID {
			return commission.Transaction{}, errors.Conflict("commission already recorded for project")
		}
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	t.commissions[txn.ID] = txn
	return txn, nil
}

func (t *memTx) MarkCommissionAvailable(_ context.Context, id string, at time.Time) error {
	txn, ok := t.commissions[id]
	if !ok {
		if txn, ok = t.store.commissions[id]; !ok {
			return errors.NotFound("commission", id)
		}
	}
	if txn.Status != commission.StatusPending {
		return errors.Conflict("commission is " + string(txn.Status))
	}
	availableAt := at
	txn.Status = commission.StatusAvailable
	txn.AvailableAt = &availableAt
	t.commissions[id] = txn
	return nil
}

func (t *memTx) HoldEscrow(_ context.Context, projectID, reference string, amount int64, now time.Time) (project.Project, error) {
	p, ok := t.project(projectID)
	if !ok {
		return project.Project{}, errors.NotFound("project", projectID)
	}
	if p.Status != project.StatusDepositPending || p.PaymentReference != reference {
		return project.Project{}, errors.Conflict("project is not awaiting this deposit")
	}
	p.Status = project.StatusActive
	p.EscrowStatus = project.EscrowHeld
	p.EscrowBalance = amount
	p.UpdatedAt = now
	t.projects[projectID] = p
	return cloneProject(p), nil
}

func (t *memTx) CompleteProject(_ context.Context, projectID string, now time.Time) (project.Project, error) {
	p, ok := t.project(projectID)
	if !ok {
		return project.Project{}, errors.NotFound("project", projectID)
	}
	if p.Status == project.StatusCompleted {
		return project.Project{}, errors.Conflict("already processed")
	}
	completedAt := now
	p.Status = project.StatusCompleted
	p.EscrowStatus = project.EscrowReleased
	p.EscrowBalance = 0
	p.CompletedAt = &completedAt
	p.UpdatedAt = now
	t.projects[projectID] = p
	return cloneProject(p), nil
}

// helpers ---------------------------------------------------------------------

func cloneProject(p project.Project) project.Project {
	p.Requirements = append([]string(nil), p.Requirements...)
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		p.CompletedAt = &at
	}
	return p
}

func cloneLead(l lead.Lead) lead.Lead {
	if l.ClaimedAt != nil {
		at := *l.ClaimedAt
		l.ClaimedAt = &at
	}
	if l.FirstContactAt != nil {
		at := *l.FirstContactAt
		l.FirstContactAt = &at
	}
	return l
}

func copyMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
