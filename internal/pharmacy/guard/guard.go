// Package guard applies lot quantity changes only when the lot still carries
// the version it was read at.
package guard

import (
	"context"
	"fmt"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/shopspring/decimal"
)

// LotWriter performs the conditional update. It reports false when no lot
// matched id and expectedVersion, or when the result would be negative.
type LotWriter interface {
	ApplyDeltaIfVersion(ctx context.Context, lotID string, delta decimal.Decimal, expectedVersion int64) (bool, error)
}

// Guard commits planned decrements and manual adjustments
type Guard struct {
	lots       LotWriter
	onConflict func(lotID string)
}

// Option configures a Guard
type Option func(*Guard)

// WithConflictHook registers fn to be called for every version conflict.
func WithConflictHook(fn func(lotID string)) Option {
	return func(g *Guard) { g.onConflict = fn }
}

// New creates a Guard
func New(lots LotWriter, opts ...Option) *Guard {
	g := &Guard{lots: lots}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Commit takes entry.Quantity out of the entry's lot. It does not retry.
func (g *Guard) Commit(ctx context.Context, entry domain.PlanEntry) error {
	if !entry.Quantity.IsPositive() {
		return errors.Validation(map[string]string{"quantity": "must be greater than 0"})
	}
	return g.Apply(ctx, entry.Lot, entry.Quantity.Neg())
}

// CommitPlan commits every entry in order and stops at the first failure.
// Earlier decrements are undone by the caller's transaction rollback.
func (g *Guard) CommitPlan(ctx context.Context, plan *domain.AllocationPlan) error {
	for _, entry := range plan.Entries {
		if err := g.Commit(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Apply adds delta (negative to remove) to the lot if its version is unchanged.
func (g *Guard) Apply(ctx context.Context, lot domain.VersionedLot, delta decimal.Decimal) error {
	ok, err := g.lots.ApplyDeltaIfVersion(ctx, lot.ID, delta, lot.Version)
	if err != nil {
		return fmt.Errorf("failed to update lot %s: %w", lot.ID, err)
	}
	if !ok {
		if g.onConflict != nil {
			g.onConflict(lot.ID)
		}
		return errors.VersionConflict(lot.ID, lot.Version)
	}
	return nil
}
