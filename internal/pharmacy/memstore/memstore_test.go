package memstore

import (
	"context"
	"testing"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *Store {
	s := New()
	s.AddProduct(domain.Product{ID: "p1", Name: "Ibuprofen", IsActive: true})
	s.AddLot(domain.Lot{ID: "l1", WarehouseID: "wh", ProductID: "p1", Quantity: testutil.Dec("5")})
	return s
}

func TestDo_RollsBackOnError(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	err := s.Do(ctx, func(ctx context.Context) error {
		ok, err := s.Lots().ApplyDeltaIfVersion(ctx, "l1", testutil.Dec("-2"), 1)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.Movements().Append(ctx, &domain.StockMovement{LotID: "l1"}))
		return errors.Internal("abort")
	})
	require.Error(t, err)

	l, _ := s.Lot("l1")
	testutil.AssertDecimal(t, "5", l.Quantity)
	assert.Equal(t, int64(1), l.Version)
	assert.Empty(t, s.AllMovements())
}

func TestDo_NestedCallsJoin(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	err := s.Do(ctx, func(ctx context.Context) error {
		return s.Do(ctx, func(ctx context.Context) error {
			return s.Products().AdjustOnHand(ctx, "p1", testutil.Dec("1"))
		})
	})
	require.NoError(t, err)
	p, _ := s.Product("p1")
	testutil.AssertDecimal(t, "6", p.OnHand)
}

func TestApplyDeltaIfVersion(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	lots := s.Lots()

	ok, err := lots.ApplyDeltaIfVersion(ctx, "l1", testutil.Dec("-1"), 9)
	require.NoError(t, err)
	assert.False(t, ok, "stale version")

	ok, err = lots.ApplyDeltaIfVersion(ctx, "l1", testutil.Dec("-6"), 1)
	require.NoError(t, err)
	assert.False(t, ok, "would go negative")

	s.ConflictOnLot("l1", 1)
	ok, err = lots.ApplyDeltaIfVersion(ctx, "l1", testutil.Dec("-1"), 1)
	require.NoError(t, err)
	assert.False(t, ok, "concurrent writer")

	ok, err = lots.ApplyDeltaIfVersion(ctx, "l1", testutil.Dec("-5"), 2)
	require.NoError(t, err)
	assert.True(t, ok)

	l, _ := s.Lot("l1")
	assert.True(t, l.Quantity.IsZero())
	assert.Equal(t, int64(3), l.Version)

	available, err := lots.ListAvailable(ctx, "wh", "p1")
	require.NoError(t, err)
	assert.Empty(t, available)
}

func TestFailNextFiresOnce(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	s.FailNext("billing.CreateCharge", errors.Internal("boom"))

	assert.Error(t, s.Billing().CreateCharge(ctx, &domain.Charge{DispenseID: "d1"}))
	assert.NoError(t, s.Billing().CreateCharge(ctx, &domain.Charge{DispenseID: "d1"}))
	require.Len(t, s.AllCharges(), 1)
	assert.Equal(t, domain.ChargeSourcePharmacy, s.AllCharges()[0].Source)
}
