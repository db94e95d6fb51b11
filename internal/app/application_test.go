package app

import (
	"context"
	"testing"

	domcommission "github.com/devbridge/marketplace/internal/app/domain/commission"
	"github.com/devbridge/marketplace/internal/app/domain/lead"
	"github.com/devbridge/marketplace/internal/app/domain/project"
	"github.com/devbridge/marketplace/internal/app/services/leads"
	"github.com/devbridge/marketplace/internal/app/storage/memory"
	"github.com/devbridge/marketplace/pkg/logger"
)

func TestApplicationLifecycle(t *testing.T) {
	store := memory.New()
	store.PutCommissioner(domcommission.Commissioner{ID: "c1", Tier: domcommission.TierSilver})

	application, err := New(Stores{Primary: store}, Options{LeadCapacity: 1}, logger.NewNop())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := application.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	if got := application.Leads.Capacity(); got != 1 {
		t.Fatalf("expected capacity 1, got %d", got)
	}

	l := store.PutLead(lead.Lead{Company: "Acme"})
	if _, err := application.Leads.Claim(ctx, l.ID, "c1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := application.Leads.MarkContacted(ctx, l.ID, "c1"); err != nil {
		t.Fatalf("contact: %v", err)
	}
	p, err := application.Leads.Convert(ctx, l.ID, "c1", leads.ProjectDraft{ClientID: "client-1", Value: 40000})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	dep, err := application.Escrow.RequestDeposit(ctx, p.ID, "client-1")
	if err != nil {
		t.Fatalf("request deposit: %v", err)
	}
	if _, err := application.Escrow.ConfirmDeposit(ctx, p.ID, dep.Payment.Reference, p.Value); err != nil {
		t.Fatalf("confirm deposit: %v", err)
	}
	res, err := application.Escrow.Ship(ctx, p.ID, "ops")
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if res.Project.Status != project.StatusCompleted {
		t.Fatalf("expected completed project, got %s", res.Project.Status)
	}
	// silver without a parent: 25% direct, no override.
	if res.Commission == nil || res.Commission.DirectAmount != 10000 || res.Commission.OverrideAmount != 0 {
		t.Fatalf("unexpected commission: %+v", res.Commission)
	}

	entries, err := application.Audit.ListAudit(ctx, p.ID, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries for the project, got %d", len(entries))
	}
}

func TestApplicationDefaults(t *testing.T) {
	application, err := New(Stores{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if application.Calculator == nil || application.PoolStats == nil {
		t.Fatalf("expected default calculator and pool stats job")
	}
	if err := application.Attach(application.PoolStats); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
