// Package allocator plans which lots a dispense draws from, earliest expiry first.
package allocator

import (
	"context"
	"fmt"
	"sort"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/shopspring/decimal"
)

// LotReader lists the lots of a product in a warehouse that still hold stock.
type LotReader interface {
	ListAvailable(ctx context.Context, warehouseID, productID string) ([]domain.Lot, error)
}

// Allocator builds FEFO allocation plans from the lot ledger. It never mutates stock.
type Allocator struct {
	lots LotReader
}

// New creates an Allocator
func New(lots LotReader) *Allocator {
	return &Allocator{lots: lots}
}

// Allocate reads the available lots and plans requested units across them.
func (a *Allocator) Allocate(ctx context.Context, warehouseID, productID string, requested decimal.Decimal) (*domain.AllocationPlan, error) {
	if err := validateRequested(requested); err != nil {
		return nil, err
	}

	lots, err := a.lots.ListAvailable(ctx, warehouseID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots for product %s: %w", productID, err)
	}

	plan, err := planFEFO(productID, lots, requested)
	if err != nil {
		return nil, err
	}
	plan.WarehouseID = warehouseID
	return plan, nil
}

// PlanFEFO covers requested from lots ordered by expiry (undated last), then
// creation time, then id. Empty lots are ignored. When the lots together hold
// less than requested it fails with InsufficientStock and plans nothing.
func PlanFEFO(lots []domain.Lot, requested decimal.Decimal) (*domain.AllocationPlan, error) {
	productID := ""
	if len(lots) > 0 {
		productID = lots[0].ProductID
	}
	return planFEFO(productID, lots, requested)
}

func planFEFO(productID string, lots []domain.Lot, requested decimal.Decimal) (*domain.AllocationPlan, error) {
	if err := validateRequested(requested); err != nil {
		return nil, err
	}

	candidates := make([]domain.Lot, 0, len(lots))
	available := decimal.Zero
	for _, l := range lots {
		if !l.Quantity.IsPositive() {
			continue
		}
		candidates = append(candidates, l)
		available = available.Add(l.Quantity)
	}

	if available.LessThan(requested) {
		return nil, errors.InsufficientStock(productID, available.String(), requested.String())
	}

	SortFEFO(candidates)

	plan := &domain.AllocationPlan{
		ProductID: productID,
		Requested: requested,
		Entries:   make([]domain.PlanEntry, 0, 1),
	}
	remaining := requested
	for _, l := range candidates {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(l.Quantity, remaining)
		plan.Entries = append(plan.Entries, domain.PlanEntry{
			Lot:         l.Versioned(),
			BatchNumber: l.BatchNumber,
			ExpiryDate:  l.ExpiryDate,
			Quantity:    take,
		})
		remaining = remaining.Sub(take)
	}
	if len(candidates) > 0 {
		plan.WarehouseID = candidates[0].WarehouseID
	}

	return plan, nil
}

// SortFEFO orders lots in place: earliest expiry first, lots without expiry
// last, ties broken by creation time and then id.
func SortFEFO(lots []domain.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return false
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return true
		case a.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func validateRequested(requested decimal.Decimal) error {
	if !requested.IsPositive() {
		return errors.Validation(map[string]string{"quantity": "must be greater than 0"})
	}
	return nil
}
