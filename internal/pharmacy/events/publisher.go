// Package events publishes pharmacy events to the message bus.
package events

import (
	"context"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/shopspring/decimal"
)

// Source is the envelope source of every event published here
const Source = "pharmacy-service"

// Publisher is the subset of messaging.Publisher used here
type Publisher interface {
	Publish(ctx context.Context, eventType, messageID string, data interface{}) error
}

// PharmacyEventPublisher publishes pharmacy events. A nil publisher drops
// everything, which is how the service runs with messaging disabled.
type PharmacyEventPublisher struct {
	publisher Publisher
	currency  string
	logger    *logger.Logger
}

// NewPharmacyEventPublisher declares the pharmacy exchange and returns a publisher on it
func NewPharmacyEventPublisher(rmq *messaging.RabbitMQ, currency string, log *logger.Logger) (*PharmacyEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangePharmacyEvents, Source, log)
	if err != nil {
		return nil, err
	}
	return New(publisher, currency, log), nil
}

// New wraps an existing publisher
func New(publisher Publisher, currency string, log *logger.Logger) *PharmacyEventPublisher {
	return &PharmacyEventPublisher{
		publisher: publisher,
		currency:  currency,
		logger:    log.WithComponent("pharmacy_events"),
	}
}

// NotifyCost publishes the cost posting of a dispense. The dispense id is the
// message id, so a redelivered posting is recognisable downstream.
func (p *PharmacyEventPublisher) NotifyCost(ctx context.Context, posting domain.CostPosting) error {
	if p == nil {
		return nil
	}
	data := messaging.CostPostingEvent{
		DispenseID:     posting.DispenseID,
		PrescriptionID: posting.PrescriptionID,
		WarehouseID:    posting.WarehouseID,
		TotalCost:      posting.TotalCost.String(),
		Currency:       p.currency,
		OccurredAt:     posting.OccurredAt,
	}
	return p.publisher.Publish(ctx, messaging.EventDispenseCostPosting, posting.DispenseID, data)
}

// PublishDispenseCompleted publishes a dispense completed event
func (p *PharmacyEventPublisher) PublishDispenseCompleted(ctx context.Context, rec *domain.DispenseRecord) {
	if p == nil {
		return
	}
	data := messaging.DispenseCompletedEvent{
		DispenseID:     rec.ID,
		PrescriptionID: rec.PrescriptionID,
		WarehouseID:    rec.WarehouseID,
		BillingMode:    rec.BillingMode,
		TotalAmount:    rec.TotalAmount.String(),
		LineCount:      len(rec.Lines),
		DispensedBy:    rec.ActorID,
	}
	if err := p.publisher.Publish(ctx, messaging.EventDispenseCompleted, "", data); err != nil {
		p.logger.Error().Err(err).Str("dispense_id", rec.ID).Msg("failed to publish dispense completed event")
	}
}

// PublishStockReceived publishes a stock received event
func (p *PharmacyEventPublisher) PublishStockReceived(ctx context.Context, lot *domain.Lot, received decimal.Decimal, actorID string) {
	if p == nil {
		return
	}
	data := messaging.StockReceivedEvent{
		LotID:       lot.ID,
		ProductID:   lot.ProductID,
		WarehouseID: lot.WarehouseID,
		BatchNumber: lot.BatchNumber,
		Quantity:    received.String(),
		NewQuantity: lot.Quantity.String(),
		Version:     lot.Version,
		ReceivedBy:  actorID,
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockReceived, "", data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish stock received event")
	}
}

// PublishStockAdjusted publishes a stock adjusted event
func (p *PharmacyEventPublisher) PublishStockAdjusted(ctx context.Context, lot *domain.Lot, delta decimal.Decimal, actorID, reason string) {
	if p == nil {
		return
	}
	data := messaging.StockAdjustedEvent{
		LotID:       lot.ID,
		ProductID:   lot.ProductID,
		WarehouseID: lot.WarehouseID,
		Adjustment:  delta.String(),
		NewQuantity: lot.Quantity.String(),
		Version:     lot.Version,
		PerformedBy: actorID,
		Reason:      reason,
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockAdjusted, "", data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish stock adjusted event")
	}
}

// PublishStockDrift publishes one event per drifting product
func (p *PharmacyEventPublisher) PublishStockDrift(ctx context.Context, drift []domain.StockDrift) {
	if p == nil {
		return
	}
	for _, d := range drift {
		data := messaging.StockDriftEvent{
			ProductID: d.ProductID,
			OnHand:    d.OnHand.String(),
			LotTotal:  d.LotTotal.String(),
		}
		if err := p.publisher.Publish(ctx, messaging.EventStockDrift, "", data); err != nil {
			p.logger.Error().Err(err).Str("product_id", d.ProductID).Msg("failed to publish stock drift event")
		}
	}
}
