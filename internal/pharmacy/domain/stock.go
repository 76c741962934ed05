// Package domain holds the pharmacy dispensing model: products, lots,
// allocation plans, dispense records, stock movements and billing artifacts.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NoBatch is the batch number of lots received without batch tracking.
const NoBatch = "NO-BATCH"

// Product is a dispensable catalog item. OnHand caches the sum of its lots.
type Product struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	GenericName *string         `db:"generic_name" json:"generic_name,omitempty"`
	Form        *string         `db:"form" json:"form,omitempty"`
	Strength    *string         `db:"strength" json:"strength,omitempty"`
	SellPrice   decimal.Decimal `db:"sell_price" json:"sell_price"`
	CostPrice   decimal.Decimal `db:"cost_price" json:"cost_price"`
	OnHand      decimal.Decimal `db:"on_hand" json:"on_hand"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Lot is the on-hand quantity of one batch of a product in a warehouse.
// Quantity never goes negative and Version grows by one per mutation.
type Lot struct {
	ID          string          `db:"id" json:"id"`
	WarehouseID string          `db:"warehouse_id" json:"warehouse_id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	BatchNumber string          `db:"batch_number" json:"batch_number"`
	ExpiryDate  *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity"`
	Version     int64           `db:"version" json:"version"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Versioned returns the lot's identity, quantity and version as read.
func (l Lot) Versioned() VersionedLot {
	return VersionedLot{ID: l.ID, Quantity: l.Quantity, Version: l.Version}
}

// VersionedLot is a lot as observed at read time. It is the only carrier of a
// lot version between allocation and commit.
type VersionedLot struct {
	ID       string          `json:"id"`
	Quantity decimal.Decimal `json:"quantity"`
	Version  int64           `json:"version"`
}

// PlanEntry takes Quantity from one lot.
type PlanEntry struct {
	Lot         VersionedLot    `json:"lot"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// AllocationPlan covers a requested quantity of one product with lots in FEFO order.
type AllocationPlan struct {
	WarehouseID string          `json:"warehouse_id"`
	ProductID   string          `json:"product_id"`
	Requested   decimal.Decimal `json:"requested"`
	Entries     []PlanEntry     `json:"entries"`
}

// Total sums the planned quantities.
func (p *AllocationPlan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Entries {
		total = total.Add(e.Quantity)
	}
	return total
}

// MovementType classifies a stock movement.
type MovementType string

const (
	MovementReceipt    MovementType = "receipt"
	MovementAdjustment MovementType = "adjustment"
	MovementDispense   MovementType = "dispense"
)

// ReferenceManual marks movements entered by staff rather than a dispense.
const ReferenceManual = "manual"

// DispenseReference is the movement reference of a dispense.
func DispenseReference(dispenseID string) string {
	return "dispense:" + dispenseID
}

// StockMovement is one immutable audit row per lot touched.
// Quantity is signed: receipts positive, dispenses negative.
type StockMovement struct {
	ID          string          `db:"id" json:"id"`
	Type        MovementType    `db:"movement_type" json:"type"`
	ProductID   string          `db:"product_id" json:"product_id"`
	WarehouseID string          `db:"warehouse_id" json:"warehouse_id"`
	LotID       string          `db:"lot_id" json:"lot_id"`
	BatchNumber string          `db:"batch_number" json:"batch_number"`
	ExpiryDate  *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity"`
	UnitCost    decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	TotalCost   decimal.Decimal `db:"total_cost" json:"total_cost"`
	Reference   string          `db:"reference" json:"reference"`
	ActorID     string          `db:"actor_id" json:"actor_id"`
	Note        *string         `db:"note" json:"note,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// MovementFilter narrows a movement listing. Nil fields do not filter.
type MovementFilter struct {
	ProductID   *string
	WarehouseID *string
	LotID       *string
	Reference   *string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// StockDrift is a product whose on-hand cache differs from the sum of its lots.
type StockDrift struct {
	ProductID string          `db:"product_id" json:"product_id"`
	Name      string          `db:"name" json:"name"`
	OnHand    decimal.Decimal `db:"on_hand" json:"on_hand"`
	LotTotal  decimal.Decimal `db:"lot_total" json:"lot_total"`
}

// Tenant is a registered tenant; the reconciliation scheduler walks active ones.
type Tenant struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Slug     string `db:"slug" json:"slug"`
	IsActive bool   `db:"is_active" json:"is_active"`
}
