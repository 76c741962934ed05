package consumers

import (
	"context"
	"fmt"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

// TenantQueue is the queue the pharmacy service reads tenant events from
const TenantQueue = "pharmacy-service.tenant-events"

// TenantStore is the local tenant registry
type TenantStore interface {
	Upsert(ctx context.Context, t *domain.Tenant) error
	Deactivate(ctx context.Context, id string) error
}

// TenantEventConsumer keeps the local tenant registry in sync so the
// reconcile scheduler knows which tenants to visit.
type TenantEventConsumer struct {
	consumer *messaging.Consumer
	tenants  TenantStore
	logger   *logger.Logger
}

// NewTenantEventConsumer creates a new tenant event consumer
func NewTenantEventConsumer(rmq *messaging.RabbitMQ, tenants TenantStore, maxRetries int, log *logger.Logger) (*TenantEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, TenantQueue, maxRetries, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeTenantEvents, "tenant.#"); err != nil {
		return nil, err
	}

	c := &TenantEventConsumer{
		consumer: consumer,
		tenants:  tenants,
		logger:   log.WithComponent("tenant_consumer"),
	}

	consumer.RegisterHandler(messaging.EventTenantCreated, c.handleTenantUpserted)
	consumer.RegisterHandler(messaging.EventTenantUpdated, c.handleTenantUpserted)
	consumer.RegisterHandler(messaging.EventTenantDeactivated, c.handleTenantDeactivated)

	return c, nil
}

// Start starts consuming messages
func (c *TenantEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *TenantEventConsumer) handleTenantUpserted(ctx context.Context, event *messaging.Event) error {
	data, err := decodeTenant(event)
	if err != nil {
		return err
	}

	c.logger.Info().
		Str("tenant_id", data.TenantID).
		Str("slug", data.Slug).
		Str("event_type", event.Type).
		Msg("received tenant event")

	return c.tenants.Upsert(ctx, &domain.Tenant{
		ID:       data.TenantID,
		Name:     data.Name,
		Slug:     data.Slug,
		IsActive: true,
	})
}

func (c *TenantEventConsumer) handleTenantDeactivated(ctx context.Context, event *messaging.Event) error {
	data, err := decodeTenant(event)
	if err != nil {
		return err
	}

	c.logger.Info().
		Str("tenant_id", data.TenantID).
		Msg("received tenant deactivated event")

	err = c.tenants.Deactivate(ctx, data.TenantID)
	if errors.Is(err, errors.ErrNotFound) {
		// never seen this tenant; nothing to deactivate
		return nil
	}
	return err
}

func decodeTenant(event *messaging.Event) (*messaging.TenantEvent, error) {
	var data messaging.TenantEvent
	if err := event.UnmarshalData(&data); err != nil {
		return nil, err
	}
	if data.TenantID == "" {
		data.TenantID = event.TenantID
	}
	if err := tenant.Validate(data.TenantID); err != nil {
		return nil, fmt.Errorf("tenant event %s: %w", event.ID, err)
	}
	return &data, nil
}
