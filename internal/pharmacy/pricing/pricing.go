// Package pricing resolves the unit sell price of a dispensed product.
package pricing

import (
	"context"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/shopspring/decimal"
)

// Pricer returns the unit price a patient is charged for product.
// insurancePolicyID is nil for self-paying patients.
type Pricer interface {
	PriceFor(ctx context.Context, product *domain.Product, insurancePolicyID *string) (decimal.Decimal, error)
}

// CatalogPricer charges the product's catalog sell price
type CatalogPricer struct{}

// PriceFor returns product.SellPrice
func (CatalogPricer) PriceFor(_ context.Context, product *domain.Product, _ *string) (decimal.Decimal, error) {
	return product.SellPrice, nil
}
