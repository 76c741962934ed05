package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, generic_name, form, strength, sell_price, cost_price, on_hand, is_active, created_at, updated_at`

// ProductRepository handles product persistence
type ProductRepository struct {
	db *database.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *database.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByID gets a product by ID
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if err := r.db.Q(ctx).GetContext(ctx, &p, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &p, nil
}

// AdjustOnHand adds delta to the product's on-hand aggregate
func (r *ProductRepository) AdjustOnHand(ctx context.Context, id string, delta decimal.Decimal) error {
	query := `UPDATE products SET on_hand = on_hand + $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Q(ctx).ExecContext(ctx, query, id, delta)
	if err != nil {
		return database.MapError(err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("product")
	}
	return nil
}
