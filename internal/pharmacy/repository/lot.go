package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/shopspring/decimal"
)

const lotColumns = `id, warehouse_id, product_id, batch_number, expiry_date, quantity, version, created_at, updated_at`

const fefoOrder = `ORDER BY expiry_date ASC NULLS LAST, created_at, id`

// LotRepository handles lot persistence. Quantities only change through
// ApplyDeltaIfVersion and UpsertReceipt, both of which bump the version.
type LotRepository struct {
	db *database.DB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB) *LotRepository {
	return &LotRepository{db: db}
}

// ListAvailable lists lots holding stock in FEFO order
func (r *LotRepository) ListAvailable(ctx context.Context, warehouseID, productID string) ([]domain.Lot, error) {
	lots := []domain.Lot{}
	query := `SELECT ` + lotColumns + ` FROM lots
		WHERE warehouse_id = $1 AND product_id = $2 AND quantity > 0
		` + fefoOrder
	if err := r.db.Q(ctx).SelectContext(ctx, &lots, query, warehouseID, productID); err != nil {
		return nil, err
	}
	return lots, nil
}

// ListByProduct lists every lot of a product in a warehouse, empty ones included
func (r *LotRepository) ListByProduct(ctx context.Context, warehouseID, productID string) ([]domain.Lot, error) {
	lots := []domain.Lot{}
	query := `SELECT ` + lotColumns + ` FROM lots
		WHERE warehouse_id = $1 AND product_id = $2
		` + fefoOrder
	if err := r.db.Q(ctx).SelectContext(ctx, &lots, query, warehouseID, productID); err != nil {
		return nil, err
	}
	return lots, nil
}

// GetByID gets a lot by ID
func (r *LotRepository) GetByID(ctx context.Context, id string) (*domain.Lot, error) {
	var lot domain.Lot
	query := `SELECT ` + lotColumns + ` FROM lots WHERE id = $1`
	if err := r.db.Q(ctx).GetContext(ctx, &lot, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// ApplyDeltaIfVersion adds delta to the lot when it still has expectedVersion
// and the result stays non-negative. It reports whether a row was updated.
func (r *LotRepository) ApplyDeltaIfVersion(ctx context.Context, lotID string, delta decimal.Decimal, expectedVersion int64) (bool, error) {
	query := `
		UPDATE lots SET quantity = quantity + $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3 AND quantity + $2 >= 0
	`
	result, err := r.db.Q(ctx).ExecContext(ctx, query, lotID, delta, expectedVersion)
	if err != nil {
		return false, database.MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// UpsertReceipt adds lot.Quantity to the lot with the same warehouse, product
// and batch, creating it at version 1 when absent. lot is overwritten with the
// stored row; an existing expiry is kept, so callers compare the returned
// ExpiryDate with the one they sent.
func (r *LotRepository) UpsertReceipt(ctx context.Context, lot *domain.Lot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	if lot.BatchNumber == "" {
		lot.BatchNumber = domain.NoBatch
	}

	query := `
		INSERT INTO lots (id, warehouse_id, product_id, batch_number, expiry_date, quantity, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT ON CONSTRAINT lots_natural_key DO UPDATE SET
			quantity = lots.quantity + EXCLUDED.quantity,
			version = lots.version + 1,
			expiry_date = COALESCE(lots.expiry_date, EXCLUDED.expiry_date),
			updated_at = NOW()
		RETURNING ` + lotColumns

	err := r.db.Q(ctx).QueryRowxContext(ctx, query,
		lot.ID, lot.WarehouseID, lot.ProductID, lot.BatchNumber, lot.ExpiryDate, lot.Quantity,
	).StructScan(lot)
	return database.MapError(err)
}
