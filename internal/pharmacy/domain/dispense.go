package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PrescriptionStatus is the lifecycle state of a prescription.
type PrescriptionStatus string

const (
	PrescriptionActive    PrescriptionStatus = "active"
	PrescriptionCompleted PrescriptionStatus = "completed"
	PrescriptionCancelled PrescriptionStatus = "cancelled"
)

// Prescription is read here and only moved from active to completed.
type Prescription struct {
	ID                string             `db:"id" json:"id"`
	PatientID         string             `db:"patient_id" json:"patient_id"`
	EncounterID       string             `db:"encounter_id" json:"encounter_id"`
	PrescriberID      *string            `db:"prescriber_id" json:"prescriber_id,omitempty"`
	InsurancePolicyID *string            `db:"insurance_policy_id" json:"insurance_policy_id,omitempty"`
	Status            PrescriptionStatus `db:"status" json:"status"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	CompletedAt       *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
	Lines             []PrescriptionLine `db:"-" json:"lines"`
}

// PrescriptionLine is one prescribed product and quantity.
type PrescriptionLine struct {
	ID             string          `db:"id" json:"id"`
	PrescriptionID string          `db:"prescription_id" json:"prescription_id"`
	LineNo         int             `db:"line_no" json:"line_no"`
	ProductID      string          `db:"product_id" json:"product_id"`
	Quantity       decimal.Decimal `db:"quantity" json:"quantity"`
	Instructions   *string         `db:"instructions" json:"instructions,omitempty"`
}

// LineOverride changes how one prescription line is dispensed.
// A nil field keeps the prescribed value.
type LineOverride struct {
	Quantity            *decimal.Decimal `json:"quantity,omitempty"`
	SubstituteProductID *string          `json:"substitute_product_id,omitempty"`
}

// LineOverrides maps prescription line id to its override.
type LineOverrides map[string]LineOverride

// DispenseRecord is the single dispensing event of a prescription.
type DispenseRecord struct {
	ID             string          `db:"id" json:"id"`
	PrescriptionID string          `db:"prescription_id" json:"prescription_id"`
	WarehouseID    string          `db:"warehouse_id" json:"warehouse_id"`
	ActorID        string          `db:"actor_id" json:"actor_id"`
	BillingMode    string          `db:"billing_mode" json:"billing_mode"`
	Note           *string         `db:"note" json:"note,omitempty"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	TotalCost      decimal.Decimal `db:"total_cost" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	Lines          []DispenseLine  `db:"-" json:"lines"`
}

// DispenseLine records the quantity taken from one lot for one prescription line.
type DispenseLine struct {
	ID                 string          `db:"id" json:"id"`
	DispenseID         string          `db:"dispense_id" json:"dispense_id"`
	LineNo             int             `db:"line_no" json:"line_no"`
	PrescriptionLineID string          `db:"prescription_line_id" json:"prescription_line_id"`
	ProductID          string          `db:"product_id" json:"product_id"`
	Substituted        bool            `db:"substituted" json:"substituted"`
	LotID              string          `db:"lot_id" json:"lot_id"`
	BatchNumber        string          `db:"batch_number" json:"batch_number"`
	ExpiryDate         *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	Quantity           decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice          decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal          decimal.Decimal `db:"line_total" json:"line_total"`
}

// CostPosting is the cost of goods of one committed dispense, handed to accounting.
type CostPosting struct {
	DispenseID     string
	PrescriptionID string
	WarehouseID    string
	TotalCost      decimal.Decimal
	OccurredAt     time.Time
}
