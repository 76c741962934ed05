package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingMode selects how a dispense is billed: ChargeOnly or CollectPayment.
type BillingMode interface {
	ModeName() string
	isBillingMode()
}

// Billing mode names as stored on dispense records.
const (
	ModeChargeOnly     = "charge_only"
	ModeCollectPayment = "collect_payment"
)

// ChargeOnly appends a charge to the encounter's open account.
type ChargeOnly struct{}

func (ChargeOnly) ModeName() string { return ModeChargeOnly }
func (ChargeOnly) isBillingMode()   {}

// CollectPayment invoices the dispense and records the tendered payment.
type CollectPayment struct {
	Method         PaymentMethod
	AmountTendered decimal.Decimal
}

func (CollectPayment) ModeName() string { return ModeCollectPayment }
func (CollectPayment) isBillingMode()   {}

// PaymentMethod is how a point-of-sale payment was made.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentMobile PaymentMethod = "mobile"
	PaymentCheque PaymentMethod = "cheque"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobile, PaymentCheque:
		return true
	}
	return false
}

// ChargeSourcePharmacy tags charges created by dispensing.
const ChargeSourcePharmacy = "pharmacy"

// PatientAccount is the running account of an encounter.
type PatientAccount struct {
	ID          string    `db:"id" json:"id"`
	PatientID   string    `db:"patient_id" json:"patient_id"`
	EncounterID string    `db:"encounter_id" json:"encounter_id"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Charge bills a dispense either to an account or through an invoice.
type Charge struct {
	ID          string          `db:"id" json:"id"`
	AccountID   *string         `db:"account_id" json:"account_id,omitempty"`
	InvoiceID   *string         `db:"invoice_id" json:"invoice_id,omitempty"`
	DispenseID  string          `db:"dispense_id" json:"dispense_id"`
	Source      string          `db:"source" json:"source"`
	Description string          `db:"description" json:"description"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// InvoiceStatus reflects how much of an invoice is paid.
type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "paid"
	InvoicePartial InvoiceStatus = "partial"
)

// Invoice is created for point-of-sale dispenses.
type Invoice struct {
	ID            string          `db:"id" json:"id"`
	InvoiceNumber string          `db:"invoice_number" json:"invoice_number"`
	PatientID     string          `db:"patient_id" json:"patient_id"`
	EncounterID   string          `db:"encounter_id" json:"encounter_id"`
	DispenseID    string          `db:"dispense_id" json:"dispense_id"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount    decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	Status        InvoiceStatus   `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Payment is the amount tendered against an invoice.
type Payment struct {
	ID         string          `db:"id" json:"id"`
	InvoiceID  string          `db:"invoice_id" json:"invoice_id"`
	Method     PaymentMethod   `db:"method" json:"method"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	ReceivedBy string          `db:"received_by" json:"received_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
