package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAck struct {
	acked, nacked, rejected, requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}
func (f *fakeAck) Reject(requeue bool) error {
	f.rejected, f.requeued = true, requeue
	return nil
}

func eventBody(t *testing.T, eventType, tenantID string) []byte {
	t.Helper()
	ev, err := NewEvent("", eventType, "test", "corr-1", TenantEvent{TenantID: tenantID, Slug: "clinic"})
	require.NoError(t, err)
	ev.TenantID = tenantID
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body
}

func TestConsumer_Handle(t *testing.T) {
	const tenantID = "2f1b6c2e-7f7c-4a53-9b1e-1c1f3b0b9a11"

	t.Run("acks handled event with tenant and correlation in context", func(t *testing.T) {
		c := newConsumer(nil, "q", 3, logger.Nop())
		var gotTenant, gotCorr string
		c.RegisterHandler(EventTenantCreated, func(ctx context.Context, e *Event) error {
			gotTenant, _ = tenant.TenantID(ctx)
			gotCorr = CorrelationID(ctx)
			return nil
		})

		ack := &fakeAck{}
		c.handle(context.Background(), eventBody(t, EventTenantCreated, tenantID), 0, ack)

		assert.True(t, ack.acked)
		assert.Equal(t, tenantID, gotTenant)
		assert.Equal(t, "corr-1", gotCorr)
	})

	t.Run("rejects malformed body without requeue", func(t *testing.T) {
		c := newConsumer(nil, "q", 3, logger.Nop())
		ack := &fakeAck{}
		c.handle(context.Background(), []byte("{not json"), 0, ack)
		assert.True(t, ack.rejected)
		assert.False(t, ack.requeued)
	})

	t.Run("acks events without handler", func(t *testing.T) {
		c := newConsumer(nil, "q", 3, logger.Nop())
		ack := &fakeAck{}
		c.handle(context.Background(), eventBody(t, "tenant.unknown", tenantID), 0, ack)
		assert.True(t, ack.acked)
	})

	t.Run("requeues failures until retries are exhausted", func(t *testing.T) {
		c := newConsumer(nil, "q", 2, logger.Nop())
		c.RegisterHandler(EventTenantCreated, func(context.Context, *Event) error { return errors.New("db down") })

		ack := &fakeAck{}
		c.handle(context.Background(), eventBody(t, EventTenantCreated, tenantID), 1, ack)
		assert.True(t, ack.nacked)
		assert.True(t, ack.requeued)

		ack = &fakeAck{}
		c.handle(context.Background(), eventBody(t, EventTenantCreated, tenantID), 2, ack)
		assert.True(t, ack.rejected)
		assert.False(t, ack.requeued)
	})
}

func TestDeathCount(t *testing.T) {
	assert.Equal(t, 0, deathCount(nil))
	assert.Equal(t, 2, deathCount(amqp.Table{
		"x-death": []interface{}{amqp.Table{"count": int64(2)}},
	}))
}

func TestNewEvent_UsesGivenID(t *testing.T) {
	ev, err := NewEvent("dispense-1", EventDispenseCostPosting, "pharmacy-service", "", CostPostingEvent{DispenseID: "dispense-1", TotalCost: "12.50"})
	require.NoError(t, err)
	assert.Equal(t, "dispense-1", ev.ID)

	var data CostPostingEvent
	require.NoError(t, ev.UnmarshalData(&data))
	assert.Equal(t, "12.50", data.TotalCost)

	generated, err := NewEvent("", EventStockAdjusted, "pharmacy-service", "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}
