package consumers

import (
	"context"
	"testing"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/memstore"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantID = "2f1b6c2e-7f7c-4a53-9b1e-1c1f3b0b9a11"

func newTestConsumer() (*TenantEventConsumer, *memstore.Store) {
	store := memstore.New()
	return &TenantEventConsumer{tenants: store.Tenants(), logger: logger.Nop()}, store
}

func tenantEvent(t *testing.T, eventType string, data messaging.TenantEvent) *messaging.Event {
	t.Helper()
	ev, err := messaging.NewEvent("", eventType, "tenant-service", "", data)
	require.NoError(t, err)
	return ev
}

func TestTenantLifecycle(t *testing.T) {
	c, store := newTestConsumer()
	ctx := context.Background()

	require.NoError(t, c.handleTenantUpserted(ctx, tenantEvent(t, messaging.EventTenantCreated,
		messaging.TenantEvent{TenantID: tenantID, Name: "St. Anna", Slug: "st-anna"})))

	active, err := store.Tenants().ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "st-anna", active[0].Slug)

	require.NoError(t, c.handleTenantUpserted(ctx, tenantEvent(t, messaging.EventTenantUpdated,
		messaging.TenantEvent{TenantID: tenantID, Name: "St. Anna Clinic", Slug: "st-anna"})))
	active, _ = store.Tenants().ListActive(ctx)
	assert.Equal(t, "St. Anna Clinic", active[0].Name)

	require.NoError(t, c.handleTenantDeactivated(ctx, tenantEvent(t, messaging.EventTenantDeactivated,
		messaging.TenantEvent{TenantID: tenantID})))
	active, _ = store.Tenants().ListActive(ctx)
	assert.Empty(t, active)
}

func TestTenantDeactivated_UnknownTenantIsIgnored(t *testing.T) {
	c, _ := newTestConsumer()
	err := c.handleTenantDeactivated(context.Background(), tenantEvent(t, messaging.EventTenantDeactivated,
		messaging.TenantEvent{TenantID: tenantID}))
	assert.NoError(t, err)
}

func TestTenantEvent_FallsBackToEnvelopeTenant(t *testing.T) {
	c, store := newTestConsumer()
	ev := tenantEvent(t, messaging.EventTenantCreated, messaging.TenantEvent{Name: "Envelope", Slug: "env"})
	ev.TenantID = tenantID

	require.NoError(t, c.handleTenantUpserted(context.Background(), ev))
	active, _ := store.Tenants().ListActive(context.Background())
	require.Len(t, active, 1)
	assert.Equal(t, tenantID, active[0].ID)
}

func TestTenantEvent_RejectsInvalidID(t *testing.T) {
	c, _ := newTestConsumer()
	err := c.handleTenantUpserted(context.Background(), tenantEvent(t, messaging.EventTenantCreated,
		messaging.TenantEvent{TenantID: "not-a-uuid"}))
	assert.Error(t, err)
}
