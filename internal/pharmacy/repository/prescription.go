package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// PrescriptionRepository reads prescriptions and completes them
type PrescriptionRepository struct {
	db *database.DB
}

// NewPrescriptionRepository creates a new prescription repository
func NewPrescriptionRepository(db *database.DB) *PrescriptionRepository {
	return &PrescriptionRepository{db: db}
}

// GetForDispense loads a prescription with its lines and locks the
// prescription row until the surrounding transaction ends.
func (r *PrescriptionRepository) GetForDispense(ctx context.Context, id string) (*domain.Prescription, error) {
	var p domain.Prescription
	query := `
		SELECT id, patient_id, encounter_id, prescriber_id, insurance_policy_id, status, created_at, completed_at
		FROM prescriptions WHERE id = $1
		FOR UPDATE
	`
	if err := r.db.Q(ctx).GetContext(ctx, &p, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("prescription")
		}
		return nil, err
	}

	p.Lines = []domain.PrescriptionLine{}
	linesQuery := `
		SELECT id, prescription_id, line_no, product_id, quantity, instructions
		FROM prescription_lines WHERE prescription_id = $1
		ORDER BY line_no
	`
	if err := r.db.Q(ctx).SelectContext(ctx, &p.Lines, linesQuery, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkCompleted moves an active prescription to completed. It reports false
// when the prescription was no longer active.
func (r *PrescriptionRepository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE prescriptions SET status = 'completed', completed_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	result, err := r.db.Q(ctx).ExecContext(ctx, query, id)
	if err != nil {
		return false, database.MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
