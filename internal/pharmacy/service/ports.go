package service

import (
	"context"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/shopspring/decimal"
)

// UnitOfWork runs fn in one tenant-scoped transaction
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductStore reads products and maintains their on-hand aggregate
type ProductStore interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	AdjustOnHand(ctx context.Context, id string, delta decimal.Decimal) error
}

// LotStore is the lot ledger
type LotStore interface {
	ListAvailable(ctx context.Context, warehouseID, productID string) ([]domain.Lot, error)
	ListByProduct(ctx context.Context, warehouseID, productID string) ([]domain.Lot, error)
	GetByID(ctx context.Context, id string) (*domain.Lot, error)
	ApplyDeltaIfVersion(ctx context.Context, lotID string, delta decimal.Decimal, expectedVersion int64) (bool, error)
	UpsertReceipt(ctx context.Context, lot *domain.Lot) error
}

// PrescriptionStore loads and completes prescriptions
type PrescriptionStore interface {
	GetForDispense(ctx context.Context, id string) (*domain.Prescription, error)
	MarkCompleted(ctx context.Context, id string) (bool, error)
}

// DispenseStore persists dispense records
type DispenseStore interface {
	ExistsForPrescription(ctx context.Context, prescriptionID string) (bool, error)
	Create(ctx context.Context, rec *domain.DispenseRecord) error
	GetByID(ctx context.Context, id string) (*domain.DispenseRecord, error)
}

// MovementStore is the append-only stock movement log
type MovementStore interface {
	Append(ctx context.Context, m *domain.StockMovement) error
	List(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, int64, error)
}

// BillingStore writes charges, invoices and payments
type BillingStore interface {
	OpenAccountForEncounter(ctx context.Context, encounterID string) (*domain.PatientAccount, error)
	CreateCharge(ctx context.Context, c *domain.Charge) error
	CreateInvoice(ctx context.Context, inv *domain.Invoice) error
	CreatePayment(ctx context.Context, p *domain.Payment) error
}

// DriftFinder lists products whose on-hand cache disagrees with their lots
type DriftFinder interface {
	FindDrift(ctx context.Context) ([]domain.StockDrift, error)
}

// TenantLister lists tenants the scheduler works through
type TenantLister interface {
	ListActive(ctx context.Context) ([]domain.Tenant, error)
}

// Stores bundles the persistence the services need
type Stores struct {
	UnitOfWork    UnitOfWork
	Products      ProductStore
	Lots          LotStore
	Prescriptions PrescriptionStore
	Dispenses     DispenseStore
	Movements     MovementStore
	Billing       BillingStore
	Drift         DriftFinder
}

// CostNotifier hands the cost of a committed dispense to accounting
type CostNotifier interface {
	NotifyCost(ctx context.Context, posting domain.CostPosting) error
}

// DispenseEvents is notified after a dispense commits
type DispenseEvents interface {
	PublishDispenseCompleted(ctx context.Context, rec *domain.DispenseRecord)
}

// StockEvents is notified after stock changes commit
type StockEvents interface {
	PublishStockReceived(ctx context.Context, lot *domain.Lot, received decimal.Decimal, actorID string)
	PublishStockAdjusted(ctx context.Context, lot *domain.Lot, delta decimal.Decimal, actorID, reason string)
	PublishStockDrift(ctx context.Context, drift []domain.StockDrift)
}
