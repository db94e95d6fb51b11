// Package jobs holds scheduled background work.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/devbridge/marketplace/internal/app/metrics"
	"github.com/devbridge/marketplace/internal/app/storage"
	"github.com/devbridge/marketplace/internal/app/system"
	"github.com/devbridge/marketplace/pkg/logger"
)

// DefaultSchedule refreshes pool statistics once a minute.
const DefaultSchedule = "@every 1m"

// PoolStats periodically publishes lead pool and escrow gauges.
type PoolStats struct {
	leads    storage.LeadStore
	ledger   storage.LedgerStore
	schedule string
	timeout  time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*PoolStats)(nil)

// NewPoolStats creates the refresher. An empty schedule selects DefaultSchedule.
func NewPoolStats(leads storage.LeadStore, ledger storage.LedgerStore, schedule string, log *logger.Logger) *PoolStats {
	if log == nil {
		log = logger.NewDefault("pool-stats")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &PoolStats{
		leads:    leads,
		ledger:   ledger,
		schedule: schedule,
		timeout:  10 * time.Second,
		log:      log,
	}
}

func (p *PoolStats) Name() string { return "pool-stats" }

func (p *PoolStats) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() { p.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule %q: %w", p.schedule, err)
	}
	c.Start()

	p.cron = c
	p.cancel = cancel
	p.running = true
	p.log.WithField("schedule", p.schedule).Info("pool stats refresher started")
	return nil
}

func (p *PoolStats) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel, p.running = nil, nil, false
	p.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *PoolStats) tick(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.Refresh(tctx); err != nil {
		p.log.WithError(err).Warn("refresh pool stats failed")
	}
}

// Refresh reads current counts and updates the gauges.
func (p *PoolStats) Refresh(ctx context.Context) error {
	if p.leads != nil {
		counts, err := p.leads.CountLeadsByStatus(ctx)
		if err != nil {
			return fmt.Errorf("count leads: %w", err)
		}
		gauges := make(map[string]int, len(counts))
		for status, n := range counts {
			gauges[string(status)] = n
		}
		metrics.SetLeadCounts(gauges)
	}
	if p.ledger != nil {
		held, err := p.ledger.EscrowHeldTotal(ctx)
		if err != nil {
			return fmt.Errorf("escrow held total: %w", err)
		}
		metrics.SetEscrowHeld(held)
	}
	return nil
}
