package repository

import (
	"context"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
)

// ReconcileRepository compares product on-hand caches with their lots
type ReconcileRepository struct {
	db *database.DB
}

// NewReconcileRepository creates a new reconcile repository
func NewReconcileRepository(db *database.DB) *ReconcileRepository {
	return &ReconcileRepository{db: db}
}

// FindDrift lists products whose on_hand differs from the sum of their lots
func (r *ReconcileRepository) FindDrift(ctx context.Context) ([]domain.StockDrift, error) {
	drift := []domain.StockDrift{}
	query := `
		SELECT p.id AS product_id, p.name, p.on_hand, COALESCE(SUM(l.quantity), 0) AS lot_total
		FROM products p
		LEFT JOIN lots l ON l.product_id = p.id
		GROUP BY p.id, p.name, p.on_hand
		HAVING p.on_hand <> COALESCE(SUM(l.quantity), 0)
		ORDER BY p.name
	`
	if err := r.db.Q(ctx).SelectContext(ctx, &drift, query); err != nil {
		return nil, err
	}
	return drift, nil
}
