package app

import (
	"context"
	"fmt"

	"github.com/devbridge/marketplace/internal/app/jobs"
	"github.com/devbridge/marketplace/internal/app/services/commission"
	"github.com/devbridge/marketplace/internal/app/services/escrow"
	"github.com/devbridge/marketplace/internal/app/services/leads"
	"github.com/devbridge/marketplace/internal/app/services/matching"
	"github.com/devbridge/marketplace/internal/app/storage"
	"github.com/devbridge/marketplace/internal/app/storage/memory"
	"github.com/devbridge/marketplace/internal/app/system"
	"github.com/devbridge/marketplace/internal/notify"
	"github.com/devbridge/marketplace/internal/payments"
	"github.com/devbridge/marketplace/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil Primary defaults to
// the in-memory implementation; nil Leads, Developers and Audit default to
// Primary.
type Stores struct {
	// Primary owns projects, commissioners, commissions and the ledger.
	Primary storage.Store

	Leads      storage.LeadStore
	Developers storage.DeveloperStore
	Audit      storage.AuditStore
}

// Options tunes the engine.
type Options struct {
	Calculator        *commission.Calculator
	LeadCapacity      int
	MatchLimit        int
	PoolStatsSchedule string

	Gateway  payments.Gateway
	Notifier notify.Notifier
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Calculator *commission.Calculator
	Leads      *leads.Service
	Escrow     *escrow.Service
	Matching   *matching.Service
	Audit      storage.AuditStore
	PoolStats  *jobs.PoolStats
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if stores.Primary == nil {
		stores.Primary = memory.New()
	}
	if stores.Leads == nil {
		stores.Leads = stores.Primary
	}
	if stores.Developers == nil {
		stores.Developers = stores.Primary
	}
	if stores.Audit == nil {
		stores.Audit = stores.Primary
	}
	if opts.Calculator == nil {
		opts.Calculator = commission.NewDefault()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogNotifier(log)
	}
	if opts.Gateway == nil {
		log.Warn("no payment gateway configured; deposits use the sandbox gateway")
		opts.Gateway = payments.SandboxGateway{}
	}

	leadService := leads.New(stores.Leads, stores.Primary, stores.Audit, opts.Notifier, opts.LeadCapacity, log)
	escrowService := escrow.New(stores.Primary, stores.Audit, opts.Calculator, opts.Gateway, opts.Notifier, log)
	matchingService := matching.New(stores.Primary, stores.Developers, opts.MatchLimit, log)
	poolStats := jobs.NewPoolStats(stores.Leads, stores.Primary, opts.PoolStatsSchedule, log)

	manager := system.NewManager()
	if err := manager.Register(poolStats); err != nil {
		return nil, fmt.Errorf("register %s: %w", poolStats.Name(), err)
	}

	return &Application{
		manager:    manager,
		log:        log,
		Calculator: opts.Calculator,
		Leads:      leadService,
		Escrow:     escrowService,
		Matching:   matchingService,
		Audit:      stores.Audit,
		PoolStats:  poolStats,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
