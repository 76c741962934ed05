package service

import (
	"context"
	"testing"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/memstore"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/metrics"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStockEnv() (*memstore.Store, *fakeEvents, *metrics.Metrics, *StockService) {
	store := seed()
	events := &fakeEvents{}
	m := metrics.New("test")
	return store, events, m, NewStockService(storesOf(store), events, testPharmacy, m, logger.Nop())
}

func TestReceiveLot(t *testing.T) {
	t.Run("new batch creates a lot", func(t *testing.T) {
		store, events, m, svc := newStockEnv()

		lot, err := svc.ReceiveLot(testCtx(), ReceiveLotRequest{
			ProductID:   amoxID,
			BatchNumber: " A-2028 ",
			ExpiryDate:  date(2028, time.March, 31),
			Quantity:    testutil.Dec("12"),
			UnitCost:    testutil.DecPtr("0.750"),
		})
		require.NoError(t, err)
		assert.Equal(t, "A-2028", lot.BatchNumber)
		assert.Equal(t, testWarehouse, lot.WarehouseID)
		assert.Equal(t, int64(1), lot.Version)
		testutil.AssertDecimal(t, "12", lot.Quantity)
		testutil.AssertDecimal(t, "42", onHand(t, store, amoxID))

		movements := store.AllMovements()
		require.Len(t, movements, 1)
		assert.Equal(t, domain.MovementReceipt, movements[0].Type)
		assert.Equal(t, domain.ReferenceManual, movements[0].Reference)
		assert.Equal(t, lot.ID, movements[0].LotID)
		testutil.AssertDecimal(t, "0.750", movements[0].UnitCost)
		testutil.AssertDecimal(t, "9", movements[0].TotalCost)
		assert.Equal(t, testPharmacist, movements[0].ActorID)

		require.Len(t, events.received, 1)
		testutil.AssertDecimal(t, "12", events.received[0])
		assert.Equal(t, float64(1), promtest.ToFloat64(m.StockReceipts))
	})

	t.Run("existing batch accumulates", func(t *testing.T) {
		store, _, _, svc := newStockEnv()

		lot, err := svc.ReceiveLot(testCtx(), ReceiveLotRequest{ProductID: amoxID, BatchNumber: "A-2026", Quantity: testutil.Dec("5")})
		require.NoError(t, err)
		assert.Equal(t, lotAmoxEarly, lot.ID)
		assert.Equal(t, int64(2), lot.Version)
		testutil.AssertDecimal(t, "9", lotQty(t, store, lotAmoxEarly))
		testutil.AssertDecimal(t, "0.800", store.AllMovements()[0].UnitCost)
	})

	t.Run("existing batch with a different expiry is rejected", func(t *testing.T) {
		store, events, _, svc := newStockEnv()

		_, err := svc.ReceiveLot(testCtx(), ReceiveLotRequest{
			ProductID:   amoxID,
			BatchNumber: "A-2026",
			ExpiryDate:  date(2027, time.January, 31),
			Quantity:    testutil.Dec("5"),
		})
		assert.True(t, errors.Is(err, errors.ErrValidation))
		testutil.AssertDecimal(t, "4", lotQty(t, store, lotAmoxEarly))
		assert.Empty(t, store.AllMovements())
		assert.Empty(t, events.received)

		lot, err := svc.ReceiveLot(testCtx(), ReceiveLotRequest{
			ProductID:   amoxID,
			BatchNumber: "A-2026",
			ExpiryDate:  date(2026, time.December, 31),
			Quantity:    testutil.Dec("5"),
		})
		require.NoError(t, err)
		testutil.AssertDecimal(t, "9", lot.Quantity)
	})

	t.Run("empty batch goes to the unbatched lot", func(t *testing.T) {
		store, _, _, svc := newStockEnv()

		lot, err := svc.ReceiveLot(testCtx(), ReceiveLotRequest{ProductID: amoxID, Quantity: testutil.Dec("1")})
		require.NoError(t, err)
		assert.Equal(t, lotAmoxUndated, lot.ID)
		testutil.AssertDecimal(t, "21", lotQty(t, store, lotAmoxUndated))
	})

	t.Run("validation", func(t *testing.T) {
		store, events, _, svc := newStockEnv()

		_, err := svc.ReceiveLot(testCtx(), ReceiveLotRequest{ProductID: amoxID, Quantity: testutil.Dec("0")})
		assert.True(t, errors.Is(err, errors.ErrValidation))

		_, err = svc.ReceiveLot(testCtx(), ReceiveLotRequest{ProductID: amoxID, Quantity: testutil.Dec("1"), UnitCost: testutil.DecPtr("-1")})
		assert.True(t, errors.Is(err, errors.ErrValidation))

		_, err = svc.ReceiveLot(testCtx(), ReceiveLotRequest{ProductID: "prod-unknown", Quantity: testutil.Dec("1")})
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		assert.Empty(t, store.AllMovements())
		assert.Empty(t, events.received)
	})

	t.Run("movement failure rolls back the receipt", func(t *testing.T) {
		store, _, _, svc := newStockEnv()
		store.FailNext("movements.Append", errors.Internal("disk full"))

		_, err := svc.ReceiveLot(testCtx(), ReceiveLotRequest{ProductID: amoxID, BatchNumber: "A-2026", Quantity: testutil.Dec("5")})
		require.Error(t, err)
		testutil.AssertDecimal(t, "4", lotQty(t, store, lotAmoxEarly))
		testutil.AssertDecimal(t, "30", onHand(t, store, amoxID))
	})
}

func TestAdjustLot(t *testing.T) {
	t.Run("count lower than ledger", func(t *testing.T) {
		store, events, m, svc := newStockEnv()

		lot, err := svc.AdjustLot(testCtx(), AdjustLotRequest{
			LotID:           lotAmoxUndated,
			ExpectedVersion: 1,
			NewQuantity:     testutil.Dec("17"),
			Reason:          "breakage",
		})
		require.NoError(t, err)
		testutil.AssertDecimal(t, "17", lot.Quantity)
		assert.Equal(t, int64(2), lot.Version)
		testutil.AssertDecimal(t, "27", onHand(t, store, amoxID))

		movements := store.AllMovements()
		require.Len(t, movements, 1)
		assert.Equal(t, domain.MovementAdjustment, movements[0].Type)
		testutil.AssertDecimal(t, "-3", movements[0].Quantity)
		testutil.AssertDecimal(t, "2.400", movements[0].TotalCost)
		require.NotNil(t, movements[0].Note)
		assert.Equal(t, "breakage", *movements[0].Note)

		require.Len(t, events.adjusted, 1)
		testutil.AssertDecimal(t, "-3", events.adjusted[0])
		assert.Equal(t, float64(1), promtest.ToFloat64(m.StockAdjustments))
	})

	t.Run("count higher than ledger", func(t *testing.T) {
		store, _, _, svc := newStockEnv()

		_, err := svc.AdjustLot(testCtx(), AdjustLotRequest{LotID: lotPara, ExpectedVersion: 1, NewQuantity: testutil.Dec("55"), Reason: "found"})
		require.NoError(t, err)
		testutil.AssertDecimal(t, "55", lotQty(t, store, lotPara))
		testutil.AssertDecimal(t, "55", onHand(t, store, paraID))
	})

	t.Run("stale version", func(t *testing.T) {
		store, events, m, svc := newStockEnv()

		_, err := svc.AdjustLot(testCtx(), AdjustLotRequest{LotID: lotPara, ExpectedVersion: 7, NewQuantity: testutil.Dec("40"), Reason: "count"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrVersionConflict))
		testutil.AssertDecimal(t, "50", lotQty(t, store, lotPara))
		assert.Empty(t, events.adjusted)
		assert.Equal(t, float64(1), promtest.ToFloat64(m.VersionConflicts))
	})

	t.Run("concurrent writer between read and write", func(t *testing.T) {
		store, _, _, svc := newStockEnv()
		store.ConflictOnLot(lotPara, 1)

		_, err := svc.AdjustLot(testCtx(), AdjustLotRequest{LotID: lotPara, ExpectedVersion: 1, NewQuantity: testutil.Dec("40"), Reason: "count"})
		assert.True(t, errors.Is(err, errors.ErrVersionConflict))
		assert.Empty(t, store.AllMovements())
	})

	t.Run("validation", func(t *testing.T) {
		_, _, _, svc := newStockEnv()

		_, err := svc.AdjustLot(testCtx(), AdjustLotRequest{LotID: lotPara, ExpectedVersion: 1, NewQuantity: testutil.Dec("-1"), Reason: "count"})
		assert.True(t, errors.Is(err, errors.ErrValidation))

		_, err = svc.AdjustLot(testCtx(), AdjustLotRequest{LotID: lotPara, ExpectedVersion: 1, NewQuantity: testutil.Dec("50"), Reason: "count"})
		assert.True(t, errors.Is(err, errors.ErrValidation))

		_, err = svc.AdjustLot(testCtx(), AdjustLotRequest{LotID: lotPara, ExpectedVersion: 1, NewQuantity: testutil.Dec("10"), Reason: "  "})
		assert.True(t, errors.Is(err, errors.ErrValidation))

		_, err = svc.AdjustLot(testCtx(), AdjustLotRequest{LotID: "lot-missing", ExpectedVersion: 1, NewQuantity: testutil.Dec("10"), Reason: "count"})
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestListLots(t *testing.T) {
	_, _, _, svc := newStockEnv()
	_, err := svc.AdjustLot(testCtx(), AdjustLotRequest{LotID: lotAmoxEarly, ExpectedVersion: 1, NewQuantity: testutil.Dec("0"), Reason: "expired"})
	require.NoError(t, err)

	lots, err := svc.ListLots(testCtx(), amoxID, "")
	require.NoError(t, err)
	require.Len(t, lots, 3)
	assert.Equal(t, []string{lotAmoxEarly, lotAmoxLate, lotAmoxUndated}, []string{lots[0].ID, lots[1].ID, lots[2].ID})
	testutil.AssertDecimal(t, "0", lots[0].Quantity)

	lots, err = svc.ListLots(testCtx(), amoxID, "wh-other")
	require.NoError(t, err)
	assert.Empty(t, lots)

	_, err = svc.ListLots(testCtx(), "prod-unknown", "")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPreviewAllocation(t *testing.T) {
	store, _, _, svc := newStockEnv()

	plan, err := svc.PreviewAllocation(testCtx(), amoxID, "", testutil.Dec("12"))
	require.NoError(t, err)
	require.Len(t, plan.Entries, 3)
	assert.Equal(t, lotAmoxEarly, plan.Entries[0].Lot.ID)
	assert.Equal(t, lotAmoxLate, plan.Entries[1].Lot.ID)
	assert.Equal(t, lotAmoxUndated, plan.Entries[2].Lot.ID)
	testutil.AssertDecimal(t, "2", plan.Entries[2].Quantity)
	testutil.AssertDecimal(t, "12", plan.Total())
	assert.Equal(t, testWarehouse, plan.WarehouseID)

	testutil.AssertDecimal(t, "4", lotQty(t, store, lotAmoxEarly))
	assert.Empty(t, store.AllMovements())

	_, err = svc.PreviewAllocation(testCtx(), amoxID, "", testutil.Dec("31"))
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
}

func TestListMovements(t *testing.T) {
	store := seed()
	stock := NewStockService(storesOf(store), nil, testPharmacy, nil, logger.Nop())
	dispense := NewDispenseService(storesOf(store), nil, nil, nil, testPharmacy, nil, logger.Nop())

	res, err := dispense.ChargeOnly(testCtx(), DispenseRequest{PrescriptionID: "rx-1"})
	require.NoError(t, err)
	_, err = stock.ReceiveLot(testCtx(), ReceiveLotRequest{ProductID: paraID, BatchNumber: "P-2", Quantity: testutil.Dec("10")})
	require.NoError(t, err)

	page, err := stock.ListMovements(testCtx(), domain.MovementFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, 50, page.Limit)
	assert.Equal(t, domain.MovementReceipt, page.Movements[0].Type)

	ref := domain.DispenseReference(res.Dispense.ID)
	page, err = stock.ListMovements(testCtx(), domain.MovementFilter{Reference: &ref, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Movements, 2)

	para := paraID
	page, err = stock.ListMovements(testCtx(), domain.MovementFilter{ProductID: &para})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	from := time.Now()
	to := from.Add(-time.Hour)
	_, err = stock.ListMovements(testCtx(), domain.MovementFilter{From: &from, To: &to})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestReconcile(t *testing.T) {
	t.Run("clean ledger", func(t *testing.T) {
		_, events, _, svc := newStockEnv()

		drift, err := svc.Reconcile(testCtx())
		require.NoError(t, err)
		assert.Empty(t, drift)
		assert.Empty(t, events.drift)
	})

	t.Run("reports drift without correcting it", func(t *testing.T) {
		store, events, m, svc := newStockEnv()
		store.SetProductOnHand(paraID, testutil.Dec("48"))

		drift, err := svc.Reconcile(testCtx())
		require.NoError(t, err)
		require.Len(t, drift, 1)
		assert.Equal(t, paraID, drift[0].ProductID)
		testutil.AssertDecimal(t, "48", drift[0].OnHand)
		testutil.AssertDecimal(t, "50", drift[0].LotTotal)
		testutil.AssertDecimal(t, "48", onHand(t, store, paraID))

		assert.Len(t, events.drift, 1)
		assert.Equal(t, float64(1), promtest.ToFloat64(m.StockDrift.WithLabelValues(testTenantID)))
	})

	t.Run("requires tenant", func(t *testing.T) {
		_, _, _, svc := newStockEnv()
		_, err := svc.Reconcile(context.Background())
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
	})
}
