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

// BillingRepository writes the billing artifacts of a dispense
type BillingRepository struct {
	db *database.DB
}

// NewBillingRepository creates a new billing repository
func NewBillingRepository(db *database.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

// OpenAccountForEncounter returns the newest open account of an encounter
func (r *BillingRepository) OpenAccountForEncounter(ctx context.Context, encounterID string) (*domain.PatientAccount, error) {
	var acct domain.PatientAccount
	query := `
		SELECT id, patient_id, encounter_id, status, created_at
		FROM patient_accounts
		WHERE encounter_id = $1 AND status = 'open'
		ORDER BY created_at DESC
		LIMIT 1
	`
	if err := r.db.Q(ctx).GetContext(ctx, &acct, query, encounterID); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("patient account")
		}
		return nil, err
	}
	return &acct, nil
}

// CreateCharge inserts a charge
func (r *BillingRepository) CreateCharge(ctx context.Context, c *domain.Charge) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Source == "" {
		c.Source = domain.ChargeSourcePharmacy
	}

	query := `
		INSERT INTO charges (id, account_id, invoice_id, dispense_id, source, description, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.db.Q(ctx).QueryRowxContext(ctx, query,
		c.ID, c.AccountID, c.InvoiceID, c.DispenseID, c.Source, c.Description, c.Amount,
	).Scan(&c.CreatedAt)
	return database.MapError(err)
}

// CreateInvoice inserts an invoice
func (r *BillingRepository) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}

	query := `
		INSERT INTO invoices (
			id, invoice_number, patient_id, encounter_id, dispense_id, total_amount, paid_amount, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err := r.db.Q(ctx).QueryRowxContext(ctx, query,
		inv.ID, inv.InvoiceNumber, inv.PatientID, inv.EncounterID, inv.DispenseID,
		inv.TotalAmount, inv.PaidAmount, inv.Status,
	).Scan(&inv.CreatedAt)
	return database.MapError(err)
}

// CreatePayment inserts a payment
func (r *BillingRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	query := `
		INSERT INTO payments (id, invoice_id, method, amount, received_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.Q(ctx).QueryRowxContext(ctx, query,
		p.ID, p.InvoiceID, p.Method, p.Amount, p.ReceivedBy,
	).Scan(&p.CreatedAt)
	return database.MapError(err)
}
