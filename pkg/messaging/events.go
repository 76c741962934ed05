package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Pharmacy events
	EventDispenseCompleted   = "pharmacy.dispense.completed"
	EventDispenseCostPosting = "pharmacy.dispense.cost_posting"
	EventStockReceived       = "pharmacy.stock.received"
	EventStockAdjusted       = "inventory.stock.adjusted"
	EventStockDrift          = "pharmacy.stock.drift"

	// Tenant events
	EventTenantCreated     = "tenant.created"
	EventTenantUpdated     = "tenant.updated"
	EventTenantDeactivated = "tenant.deactivated"
)

// Exchange names
const (
	ExchangePharmacyEvents = "pharmacy.events"
	ExchangeTenantEvents   = "tenant.events"
)

// Event is the envelope of every message on the bus
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data.
// An empty id gets a generated one.
func NewEvent(id, eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = GenerateEventID()
	}

	return &Event{
		ID:            id,
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Pharmacy Events

// DispenseCompletedEvent is published after a dispense commits
type DispenseCompletedEvent struct {
	DispenseID     string `json:"dispense_id"`
	PrescriptionID string `json:"prescription_id"`
	WarehouseID    string `json:"warehouse_id"`
	BillingMode    string `json:"billing_mode"`
	TotalAmount    string `json:"total_amount"`
	LineCount      int    `json:"line_count"`
	DispensedBy    string `json:"dispensed_by"`
}

// CostPostingEvent asks accounting to post the cost of goods dispensed.
// Consumers de-duplicate on DispenseID.
type CostPostingEvent struct {
	DispenseID     string    `json:"dispense_id"`
	PrescriptionID string    `json:"prescription_id"`
	WarehouseID    string    `json:"warehouse_id"`
	TotalCost      string    `json:"total_cost"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// StockReceivedEvent is published when a lot receipt commits
type StockReceivedEvent struct {
	LotID       string `json:"lot_id"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    string `json:"quantity"`
	NewQuantity string `json:"new_quantity"`
	Version     int64  `json:"version"`
	ReceivedBy  string `json:"received_by"`
}

// StockAdjustedEvent is published when a lot is adjusted manually
type StockAdjustedEvent struct {
	LotID       string `json:"lot_id"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	Adjustment  string `json:"adjustment"`
	NewQuantity string `json:"new_quantity"`
	Version     int64  `json:"version"`
	PerformedBy string `json:"performed_by"`
	Reason      string `json:"reason"`
}

// StockDriftEvent reports a product whose on-hand cache differs from its lots
type StockDriftEvent struct {
	ProductID string `json:"product_id"`
	OnHand    string `json:"on_hand"`
	LotTotal  string `json:"lot_total"`
}

// Tenant Events

// TenantEvent carries the tenant registry fields the pharmacy keeps locally
type TenantEvent struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
