package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
)

const movementColumns = `id, movement_type, product_id, warehouse_id, lot_id, batch_number, expiry_date,
	quantity, unit_cost, total_cost, reference, actor_id, note, created_at`

// MovementRepository appends to and reads the stock movement log.
// There is no update or delete; the table rejects both.
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Append records a movement
func (r *MovementRepository) Append(ctx context.Context, m *domain.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_movements (
			id, movement_type, product_id, warehouse_id, lot_id, batch_number, expiry_date,
			quantity, unit_cost, total_cost, reference, actor_id, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`
	err := r.db.Q(ctx).QueryRowxContext(ctx, query,
		m.ID, m.Type, m.ProductID, m.WarehouseID, m.LotID, m.BatchNumber, m.ExpiryDate,
		m.Quantity, m.UnitCost, m.TotalCost, m.Reference, m.ActorID, m.Note,
	).Scan(&m.CreatedAt)
	return database.MapError(err)
}

// List returns movements matching filter, newest first, with the total match count
func (r *MovementRepository) List(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, int64, error) {
	var conditions []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.ProductID != nil {
		add("product_id = $%d", *filter.ProductID)
	}
	if filter.WarehouseID != nil {
		add("warehouse_id = $%d", *filter.WarehouseID)
	}
	if filter.LotID != nil {
		add("lot_id = $%d", *filter.LotID)
	}
	if filter.Reference != nil {
		add("reference = $%d", *filter.Reference)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM stock_movements` + where
	if err := r.db.Q(ctx).GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM stock_movements%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		movementColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, filter.Offset)

	movements := []domain.StockMovement{}
	if err := r.db.Q(ctx).SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}
