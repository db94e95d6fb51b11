package postgres

import (
	"context"
	"database/sql"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/app/domain/lead"
	"github.com/devbridge/marketplace/internal/app/domain/project"
	"github.com/devbridge/marketplace/internal/app/storage"
	"github.com/devbridge/marketplace/internal/errors"
	"github.com/devbridge/marketplace/internal/platform/migrations"
)

var leadCols = []string{"id", "company", "contact_email", "status", "claimed_by", "claimed_at", "first_contact_at", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestClaimLeadCommits(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM commissioners WHERE id = $1 FOR UPDATE")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM leads")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE leads SET claimed_by = $2")).
		WillReturnRows(sqlmock.NewRows(leadCols).AddRow("l1", "Acme", "a@acme.test", "claimed", "c1", now, nil, now, now))
	mock.ExpectCommit()

	got, err := store.ClaimLead(context.Background(), "l1", "c1", 3, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.ClaimedBy != "c1" || got.Status != lead.StatusClaimed || got.FirstContactAt != nil {
		t.Fatalf("unexpected lead: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimLeadCapacityRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM commissioners")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM leads")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	_, err := store.ClaimLead(context.Background(), "l1", "c1", 3, time.Now())
	if !errors.IsCapacityExceeded(err) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimLeadAlreadyClaimed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM commissioners")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM leads")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE leads")).
		WillReturnRows(sqlmock.NewRows(leadCols))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM leads")).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := store.ClaimLead(context.Background(), "l1", "c1", 3, time.Now())
	if !errors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkLeadContactedForbidden(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE leads SET status = 'contacted'")).
		WillReturnRows(sqlmock.NewRows(leadCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM leads WHERE id = $1")).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows(leadCols).AddRow("l1", "Acme", "", "claimed", "c2", now, nil, now, now))

	_, err := store.MarkLeadContacted(context.Background(), "l1", "c1", now)
	if !errors.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestGetLeadNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM leads WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetLead(context.Background(), "missing"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteProjectTwiceIsConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE projects SET status = 'completed'")).
		WithArgs("p1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx storage.LedgerTx) error {
		_, err := tx.CompleteProject(context.Background(), "p1", time.Now())
		return err
	})
	if !errors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertCommissionUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO commission_transactions")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx storage.LedgerTx) error {
		_, err := tx.InsertCommission(context.Background(), commission.Transaction{
			ProjectID:      "p1",
			CommissionerID: "c1",
			DirectAmount:   100,
			Status:         commission.StatusPending,
		})
		return err
	})
	if !errors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestEscrowHeldTotal(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(escrow_balance), 0) FROM projects")).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(12500)))

	total, err := store.EscrowHeldTotal(context.Background())
	if err != nil {
		t.Fatalf("held total: %v", err)
	}
	if total != 12500 {
		t.Fatalf("expected 12500, got %d", total)
	}
}

func TestListAuditRejectsCorruptDetails(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	cols := []string{"id", "actor", "action", "subject", "details", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, actor, action, subject, details, created_at")).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a1", "ops", "project.shipped", "p1", []byte(`{"released":`), now))

	if _, err := store.ListAudit(context.Background(), "p1", 10); !errors.IsInternal(err) {
		t.Fatalf("expected internal error for corrupt details, got %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, actor, action, subject, details, created_at")).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a1", "ops", "project.shipped", "p1", []byte(`{"released":"100"}`), now))

	entries, err := store.ListAudit(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Details["released"] != "100" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	store, db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	suffix := time.Now().Format("150405.000000")
	if _, err := db.ExecContext(ctx, `INSERT INTO commissioners (id, tier, referral_code) VALUES ($1, 'gold', $2)`, "c-"+suffix, "ref-"+suffix); err != nil {
		t.Fatalf("seed commissioner: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO leads (id, company) VALUES ($1, 'Acme')`, "l-"+suffix); err != nil {
		t.Fatalf("seed lead: %v", err)
	}

	claimed, err := store.ClaimLead(ctx, "l-"+suffix, "c-"+suffix, 3, time.Now().UTC())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != lead.StatusClaimed {
		t.Fatalf("unexpected status %s", claimed.Status)
	}
	if _, err := store.ClaimLead(ctx, "l-"+suffix, "c-"+suffix, 3, time.Now().UTC()); !errors.IsConflict(err) {
		t.Fatalf("expected conflict on second claim, got %v", err)
	}

	p, err := store.CreateProject(ctx, project.Project{ClientID: "client", Value: 100000, CommissionerID: "c-" + suffix})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	complete := func() error {
		return store.WithinTx(ctx, func(tx storage.LedgerTx) error {
			_, err := tx.CompleteProject(ctx, p.ID, time.Now().UTC())
			return err
		})
	}
	if err := complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := complete(); !errors.IsConflict(err) {
		t.Fatalf("expected conflict on second completion, got %v", err)
	}
}
