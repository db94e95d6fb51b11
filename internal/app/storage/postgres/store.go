package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/devbridge/marketplace/internal/app/domain/audit"
	"github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/app/domain/developer"
	"github.com/devbridge/marketplace/internal/app/domain/lead"
	"github.com/devbridge/marketplace/internal/app/domain/project"
	"github.com/devbridge/marketplace/internal/app/storage"
	"github.com/devbridge/marketplace/internal/errors"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, *sql.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, nil, err
	}
	return &Store{db: db}, db.DB, nil
}

const (
	projectColumns = `id, client_id, title, value, status, escrow_status, escrow_balance,
		commissioner_id, developer_id, lead_id, requirements, payment_reference,
		created_at, updated_at, completed_at`
	leadColumns         = `id, company, contact_email, status, claimed_by, claimed_at, first_contact_at, created_at, updated_at`
	commissionerColumns = `id, tier, parent_commissioner_id, referral_code`
	commissionColumns   = `id, project_id, commissioner_id, parent_commissioner_id, direct_amount,
		override_amount, is_capped, status, created_at, available_at`
	accountColumns = `developer_id, pending_balance, available_balance, updated_at`
)

// --- ProjectStore -----------------------------------------------------------

func (s *Store) CreateProject(ctx context.Context, p project.Project) (project.Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = project.StatusPending
	}
	if p.EscrowStatus == "" {
		p.EscrowStatus = project.EscrowNoDeposit
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, client_id, title, value, status, escrow_status, escrow_balance,
			commissioner_id, developer_id, lead_id, requirements, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.ClientID, p.Title, p.Value, p.Status, p.EscrowStatus, p.EscrowBalance,
		nullString(p.CommissionerID), nullString(p.DeveloperID), nullString(p.LeadID),
		pq.StringArray(requirementsOrEmpty(p.Requirements)), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return project.Project{}, translate(err, "project", p.ID)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (project.Project, error) {
	return getProject(ctx, s.db, id, false)
}

func (s *Store) MarkDepositPending(ctx context.Context, id, reference string, now time.Time) (project.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE projects
		SET status = 'deposit_pending', payment_reference = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND escrow_status = 'no_deposit'
		RETURNING `+projectColumns, id, reference, now)
	if stderrors.Is(err, sql.ErrNoRows) {
		return project.Project{}, classifyProject(ctx, s.db, id, "project is not awaiting a deposit")
	}
	if err != nil {
		return project.Project{}, translate(err, "project", id)
	}
	return row.toDomain(), nil
}

func classifyProject(ctx context.Context, q sqlx.QueryerContext, id, conflict string) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, id); err != nil {
		return translate(err, "project", id)
	}
	if !exists {
		return errors.NotFound("project", id)
	}
	return errors.Conflict(conflict)
}

func getProject(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (project.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row projectRow
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		return project.Project{}, translate(err, "project", id)
	}
	return row.toDomain(), nil
}

// --- CommissionerStore ------------------------------------------------------

func (s *Store) GetCommissioner(ctx context.Context, id string) (commission.Commissioner, error) {
	return getCommissioner(ctx, s.db, id)
}

func getCommissioner(ctx context.Context, q sqlx.QueryerContext, id string) (commission.Commissioner, error) {
	var row commissionerRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+commissionerColumns+` FROM commissioners WHERE id = $1`, id)
	if err != nil {
		return commission.Commissioner{}, translate(err, "commissioner", id)
	}
	return row.toDomain(), nil
}

// --- LeadStore --------------------------------------------------------------

func (s *Store) GetLead(ctx context.Context, id string) (lead.Lead, error) {
	var row leadRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id); err != nil {
		return lead.Lead{}, translate(err, "lead", id)
	}
	return row.toDomain(), nil
}

// ClaimLead locks the commissioner row so concurrent claims by the same
// commissioner serialise on the capacity count, then takes the lead with a
// conditional update.
func (s *Store) ClaimLead(ctx context.Context, leadID, commissionerID string, capacity int, now time.Time) (lead.Lead, error) {
	var claimed lead.Lead
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var locked string
		err := tx.GetContext(ctx, &locked, `SELECT id FROM commissioners WHERE id = $1 FOR UPDATE`, commissionerID)
		if err != nil {
			return translate(err, "commissioner", commissionerID)
		}

		var active int
		err = tx.GetContext(ctx, &active, `
			SELECT COUNT(*) FROM leads
			WHERE claimed_by = $1 AND status = ANY($2)
		`, commissionerID, activeStatuses())
		if err != nil {
			return translate(err, "lead", leadID)
		}
		if active >= capacity {
			return errors.CapacityExceeded(capacity)
		}

		var row leadRow
		err = tx.GetContext(ctx, &row, `
			UPDATE leads
			SET claimed_by = $2, claimed_at = $3, status = 'claimed', updated_at = $3
			WHERE id = $1 AND claimed_by IS NULL AND status = 'new'
			RETURNING `+leadColumns, leadID, commissionerID, now)
		if stderrors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, leadID); err != nil {
				return translate(err, "lead", leadID)
			}
			if !exists {
				return errors.NotFound("lead", leadID)
			}
			return errors.Conflict("already claimed")
		}
		if err != nil {
			return translate(err, "lead", leadID)
		}
		claimed = row.toDomain()
		return nil
	})
	return claimed, err
}

func (s *Store) MarkLeadContacted(ctx context.Context, leadID, commissionerID string, now time.Time) (lead.Lead, error) {
	var row leadRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE leads
		SET status = 'contacted', first_contact_at = COALESCE(first_contact_at, $3), updated_at = $3
		WHERE id = $1 AND claimed_by = $2 AND status IN ('claimed', 'contacted')
		RETURNING `+leadColumns, leadID, commissionerID, now)
	if stderrors.Is(err, sql.ErrNoRows) {
		return lead.Lead{}, s.classifyLead(ctx, leadID, commissionerID)
	}
	if err != nil {
		return lead.Lead{}, translate(err, "lead", leadID)
	}
	return row.toDomain(), nil
}

func (s *Store) TransitionLead(ctx context.Context, leadID, commissionerID string, from, to lead.Status, now time.Time) (lead.Lead, error) {
	var row leadRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE leads
		SET status = $4, updated_at = $5
		WHERE id = $1 AND claimed_by = $2 AND status = $3
		RETURNING `+leadColumns, leadID, commissionerID, string(from), string(to), now)
	if stderrors.Is(err, sql.ErrNoRows) {
		return lead.Lead{}, s.classifyLead(ctx, leadID, commissionerID)
	}
	if err != nil {
		return lead.Lead{}, translate(err, "lead", leadID)
	}
	return row.toDomain(), nil
}

// classifyLead explains why a conditional lead update matched no rows.
func (s *Store) classifyLead(ctx context.Context, leadID, commissionerID string) error {
	current, err := s.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	if current.ClaimedBy != commissionerID {
		return errors.Forbidden("lead is not claimed by this commissioner")
	}
	return errors.Conflict("lead is " + string(current.Status))
}

func (s *Store) ListActiveLeads(ctx context.Context, commissionerID string) ([]lead.Lead, error) {
	var rows []leadRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+leadColumns+` FROM leads
		WHERE claimed_by = $1 AND status = ANY($2)
		ORDER BY id
	`, commissionerID, activeStatuses())
	if err != nil {
		return nil, translate(err, "lead", commissionerID)
	}
	out := make([]lead.Lead, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CountLeadsByStatus(ctx context.Context) (map[lead.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM leads GROUP BY status`); err != nil {
		return nil, translate(err, "lead", "")
	}
	counts := make(map[lead.Status]int, len(rows))
	for _, r := range rows {
		counts[lead.Status(r.Status)] = r.Count
	}
	return counts, nil
}

// --- DeveloperStore ---------------------------------------------------------

func (s *Store) ListEligibleDevelopers(ctx context.Context) ([]developer.Profile, error) {
	var rows []profileRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, skills, reliability_score, experience_level, active_jobs_count, is_blacklisted, kyc_status
		FROM developer_profiles
		WHERE NOT is_blacklisted AND LOWER(kyc_status) = 'approved'
		ORDER BY id
	`)
	if err != nil {
		return nil, translate(err, "developer", "")
	}
	out := make([]developer.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) GetDeveloperAccount(ctx context.Context, developerID string) (developer.Account, error) {
	return getAccount(ctx, s.db, developerID, false)
}

func getAccount(ctx context.Context, q sqlx.QueryerContext, developerID string, forUpdate bool) (developer.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM developer_accounts WHERE developer_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var acct developer.Account
	if err := sqlx.GetContext(ctx, q, &acct, query, developerID); err != nil {
		return developer.Account{}, translate(err, "developer account", developerID)
	}
	return acct, nil
}

// --- AuditStore -------------------------------------------------------------

func (s *Store) AppendAudit(ctx context.Context, entry audit.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	details, err := json.Marshal(detailsOrEmpty(entry.Details))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor, action, subject, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.Actor, entry.Action, entry.Subject, details, entry.Timestamp)
	return translate(err, "audit entry", entry.ID)
}

func (s *Store) ListAudit(ctx context.Context, subject string, limit int) ([]audit.Entry, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor, action, subject, details, created_at
		FROM audit_log
		WHERE ($1 = '' OR subject = $1)
		ORDER BY created_at DESC
		LIMIT NULLIF($2::int, 0)
	`, subject, limit)
	if err != nil {
		return nil, translate(err, "audit entry", subject)
	}
	out := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		entry, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// --- CommissionStore --------------------------------------------------------

func (s *Store) GetCommissionByProject(ctx context.Context, projectID string) (commission.Transaction, error) {
	var row commissionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+commissionColumns+` FROM commission_transactions WHERE project_id = $1`, projectID)
	if err != nil {
		return commission.Transaction{}, translate(err, "commission for project", projectID)
	}
	return row.toDomain(), nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) EscrowHeldTotal(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(escrow_balance), 0) FROM projects WHERE escrow_status = 'held'`)
	if err != nil {
		return 0, translate(err, "project", "")
	}
	return total, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Internal("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Internal("commit transaction", err)
	}
	return nil
}

type ledgerTx struct {
	tx *sqlx.Tx
}

func (t *ledgerTx) ProjectForUpdate(ctx context.Context, id string) (project.Project, error) {
	return getProject(ctx, t.tx, id, true)
}

func (t *ledgerTx) CommissionerByID(ctx context.Context, id string) (commission.Commissioner, error) {
	return getCommissioner(ctx, t.tx, id)
}

func (t *ledgerTx) DeveloperAccountForUpdate(ctx context.Context, developerID string) (developer.Account, error) {
	return getAccount(ctx, t.tx, developerID, true)
}

func (t *ledgerTx) SaveDeveloperAccount(ctx context.Context, acct developer.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO developer_accounts (developer_id, pending_balance, available_balance, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (developer_id) DO UPDATE
		SET pending_balance = EXCLUDED.pending_balance,
			available_balance = EXCLUDED.available_balance,
			updated_at = EXCLUDED.updated_at
	`, acct.DeveloperID, acct.PendingBalance, acct.AvailableBalance, time.Now().UTC())
	return translate(err, "developer account", acct.DeveloperID)
}

func (t *ledgerTx) InsertCommission(ctx context.Context, txn commission.Transaction) (commission.Transaction, error) {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO commission_transactions (id, project_id, commissioner_id, parent_commissioner_id,
			direct_amount, override_amount, is_capped, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, txn.ID, txn.ProjectID, txn.CommissionerID, nullString(txn.ParentID),
		txn.DirectAmount, txn.OverrideAmount, txn.IsCapped, txn.Status, txn.CreatedAt)
	if err != nil {
		return commission.Transaction{}, translate(err, "commission", txn.ID)
	}
	return txn, nil
}

func (t *ledgerTx) MarkCommissionAvailable(ctx context.Context, id string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE commission_transactions
		SET status = 'available', available_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, at)
	if err != nil {
		return translate(err, "commission", id)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Conflict("commission " + id + " is not pending")
	}
	return nil
}

func (t *ledgerTx) HoldEscrow(ctx context.Context, projectID, reference string, amount int64, now time.Time) (project.Project, error) {
	var row projectRow
	err := t.tx.GetContext(ctx, &row, `
		UPDATE projects
		SET status = 'active', escrow_status = 'held', escrow_balance = $3, updated_at = $4
		WHERE id = $1 AND status = 'deposit_pending' AND payment_reference = $2
		RETURNING `+projectColumns, projectID, reference, amount, now)
	if stderrors.Is(err, sql.ErrNoRows) {
		return project.Project{}, classifyProject(ctx, t.tx, projectID, "project is not awaiting this deposit")
	}
	if err != nil {
		return project.Project{}, translate(err, "project", projectID)
	}
	return row.toDomain(), nil
}

func (t *ledgerTx) CompleteProject(ctx context.Context, projectID string, now time.Time) (project.Project, error) {
	var row projectRow
	err := t.tx.GetContext(ctx, &row, `
		UPDATE projects
		SET status = 'completed', escrow_status = 'released', escrow_balance = 0,
			completed_at = $2, updated_at = $2
		WHERE id = $1 AND status <> 'completed'
		RETURNING `+projectColumns, projectID, now)
	if stderrors.Is(err, sql.ErrNoRows) {
		return project.Project{}, errors.Conflict("already processed")
	}
	if err != nil {
		return project.Project{}, translate(err, "project", projectID)
	}
	return row.toDomain(), nil
}

// --- helpers ----------------------------------------------------------------

// translate maps driver errors onto the service error taxonomy.
func translate(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if errors.GetServiceError(err) != nil {
		return err
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(resource, id)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
		return errors.Conflict(resource + " already exists")
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Internal("database error", err)
}

func activeStatuses() pq.StringArray {
	out := make(pq.StringArray, 0, len(lead.ActiveStatuses))
	for _, s := range lead.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func requirementsOrEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func detailsOrEmpty(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	return in
}
