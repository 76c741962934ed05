package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// DispenseRepository handles dispense records and their lines
type DispenseRepository struct {
	db *database.DB
}

// NewDispenseRepository creates a new dispense repository
func NewDispenseRepository(db *database.DB) *DispenseRepository {
	return &DispenseRepository{db: db}
}

// ExistsForPrescription reports whether the prescription was already dispensed
func (r *DispenseRepository) ExistsForPrescription(ctx context.Context, prescriptionID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM dispense_records WHERE prescription_id = $1)`
	if err := r.db.Q(ctx).GetContext(ctx, &exists, query, prescriptionID); err != nil {
		return false, err
	}
	return exists, nil
}

// Create inserts the record and its lines. A second record for the same
// prescription fails with InvalidState.
func (r *DispenseRepository) Create(ctx context.Context, rec *domain.DispenseRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	q := r.db.Q(ctx)
	query := `
		INSERT INTO dispense_records (
			id, prescription_id, warehouse_id, actor_id, billing_mode, note, total_amount, total_cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	if err := q.QueryRowxContext(ctx, query,
		rec.ID, rec.PrescriptionID, rec.WarehouseID, rec.ActorID, rec.BillingMode,
		rec.Note, rec.TotalAmount, rec.TotalCost,
	).Scan(&rec.CreatedAt); err != nil {
		return database.MapError(err)
	}

	lineQuery := `
		INSERT INTO dispense_lines (
			id, dispense_id, line_no, prescription_line_id, product_id, substituted,
			lot_id, batch_number, expiry_date, quantity, unit_price, line_total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for i := range rec.Lines {
		line := &rec.Lines[i]
		if line.ID == "" {
			line.ID = uuid.New().String()
		}
		line.DispenseID = rec.ID
		if _, err := q.ExecContext(ctx, lineQuery,
			line.ID, line.DispenseID, line.LineNo, line.PrescriptionLineID, line.ProductID, line.Substituted,
			line.LotID, line.BatchNumber, line.ExpiryDate, line.Quantity, line.UnitPrice, line.LineTotal,
		); err != nil {
			return database.MapError(err)
		}
	}
	return nil
}

// GetByID gets a dispense record with its lines
func (r *DispenseRepository) GetByID(ctx context.Context, id string) (*domain.DispenseRecord, error) {
	var rec domain.DispenseRecord
	query := `
		SELECT id, prescription_id, warehouse_id, actor_id, billing_mode, note, total_amount, total_cost, created_at
		FROM dispense_records WHERE id = $1
	`
	if err := r.db.Q(ctx).GetContext(ctx, &rec, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("dispense")
		}
		return nil, err
	}

	rec.Lines = []domain.DispenseLine{}
	linesQuery := `
		SELECT id, dispense_id, line_no, prescription_line_id, product_id, substituted,
			lot_id, batch_number, expiry_date, quantity, unit_price, line_total
		FROM dispense_lines WHERE dispense_id = $1
		ORDER BY line_no
	`
	if err := r.db.Q(ctx).SelectContext(ctx, &rec.Lines, linesQuery, id); err != nil {
		return nil, err
	}
	return &rec, nil
}
