package service

import (
	"context"
	"sync"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

// Reconciler checks one tenant's on-hand caches
type Reconciler interface {
	Reconcile(ctx context.Context) ([]domain.StockDrift, error)
}

// ReconcileScheduler runs stock reconciliation periodically for every active tenant.
type ReconcileScheduler struct {
	reconciler Reconciler
	tenants    TenantLister
	interval   time.Duration
	logger     *logger.Logger
	cancel     context.CancelFunc
	done       sync.WaitGroup
}

// NewReconcileScheduler creates a new reconcile scheduler
func NewReconcileScheduler(reconciler Reconciler, tenants TenantLister, interval time.Duration, log *logger.Logger) *ReconcileScheduler {
	return &ReconcileScheduler{
		reconciler: reconciler,
		tenants:    tenants,
		interval:   interval,
		logger:     log.WithComponent("reconcile_scheduler"),
	}
}

// Start runs one cycle immediately and then one per interval until Stop.
func (s *ReconcileScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ctx = actor.WithActor(ctx, actor.SystemActor())

	s.done.Add(1)
	go func() {
		defer s.done.Done()
		s.logger.Info().Dur("interval", s.interval).Msg("reconcile scheduler started")

		s.RunCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("reconcile scheduler stopped")
				return
			case <-ticker.C:
				s.RunCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler and waits for a running cycle to finish
func (s *ReconcileScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.done.Wait()
}

// RunCycle reconciles every active tenant once. A failing tenant does not
// stop the others.
func (s *ReconcileScheduler) RunCycle(ctx context.Context) {
	start := time.Now()

	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query active tenants")
		return
	}

	drifting := 0
	for _, t := range tenants {
		if ctx.Err() != nil {
			return
		}
		tenantCtx := tenant.WithTenantContext(ctx, t.ID, t.Slug)

		drift, err := s.reconciler.Reconcile(tenantCtx)
		if err != nil {
			s.logger.Error().Err(err).Str("tenant_id", t.ID).Msg("reconciliation failed for tenant")
			continue
		}
		drifting += len(drift)
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("tenant_count", len(tenants)).
		Int("drifting_products", drifting).
		Msg("reconcile cycle completed")
}
