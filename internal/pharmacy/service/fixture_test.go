package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/memstore"
	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
	"github.com/shopspring/decimal"
)

const (
	testTenantID   = "6f1c1c9a-2c7e-4d7e-9a51-1f0c3b8d2e11"
	testWarehouse  = "wh-main"
	testPharmacist = "user-pharmacist"

	amoxID = "prod-amox"
	paraID = "prod-para"

	lotAmoxLate    = "lot-amox-2027"
	lotAmoxEarly   = "lot-amox-2026"
	lotAmoxUndated = "lot-amox-undated"
	lotPara        = "lot-para"
)

var testPharmacy = config.PharmacyConfig{DefaultWarehouseID: testWarehouse, Currency: "EUR"}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func testCtx() context.Context {
	ctx := tenant.WithTenantContext(context.Background(), testTenantID, "st-anna")
	return actor.WithActor(ctx, &actor.Actor{ID: testPharmacist, Name: "Pharmacist"})
}

// seed builds a pharmacy with two products:
//
//	amoxicillin: 4 @ 2026-12, 6 @ 2027-01, 20 undated  (sell 1.500, cost 0.800)
//	paracetamol: 50 @ 2027-06                         (sell 0.950, cost 0.400)
//
// and prescription rx-1 for 10 amoxicillin and 10 paracetamol on encounter enc-1,
// which has an open account.
func seed() *memstore.Store {
	store := memstore.New()

	store.AddProduct(domain.Product{ID: amoxID, Name: "Amoxicillin 500mg", SellPrice: testutil.Dec("1.500"), CostPrice: testutil.Dec("0.800"), IsActive: true})
	store.AddProduct(domain.Product{ID: paraID, Name: "Paracetamol 500mg", SellPrice: testutil.Dec("0.950"), CostPrice: testutil.Dec("0.400"), IsActive: true})

	store.AddLot(domain.Lot{ID: lotAmoxLate, WarehouseID: testWarehouse, ProductID: amoxID, BatchNumber: "A-2027", ExpiryDate: date(2027, time.January, 31), Quantity: testutil.Dec("6")})
	store.AddLot(domain.Lot{ID: lotAmoxEarly, WarehouseID: testWarehouse, ProductID: amoxID, BatchNumber: "A-2026", ExpiryDate: date(2026, time.December, 31), Quantity: testutil.Dec("4")})
	store.AddLot(domain.Lot{ID: lotAmoxUndated, WarehouseID: testWarehouse, ProductID: amoxID, Quantity: testutil.Dec("20")})
	store.AddLot(domain.Lot{ID: lotPara, WarehouseID: testWarehouse, ProductID: paraID, BatchNumber: "P-1", ExpiryDate: date(2027, time.June, 30), Quantity: testutil.Dec("50")})

	store.AddAccount(domain.PatientAccount{ID: "acct-1", PatientID: "pat-1", EncounterID: "enc-1"})
	store.AddPrescription(domain.Prescription{
		ID:          "rx-1",
		PatientID:   "pat-1",
		EncounterID: "enc-1",
		Lines: []domain.PrescriptionLine{
			{ID: "ln-1", LineNo: 1, ProductID: amoxID, Quantity: testutil.Dec("10")},
			{ID: "ln-2", LineNo: 2, ProductID: paraID, Quantity: testutil.Dec("10")},
		},
	})
	return store
}

func storesOf(m *memstore.Store) Stores {
	return Stores{
		UnitOfWork:    m,
		Products:      m.Products(),
		Lots:          m.Lots(),
		Prescriptions: m.Prescriptions(),
		Dispenses:     m.Dispenses(),
		Movements:     m.Movements(),
		Billing:       m.Billing(),
		Drift:         m.Reconcile(),
	}
}

type fakeCosts struct {
	mu       sync.Mutex
	postings []domain.CostPosting
	err      error
}

func (f *fakeCosts) NotifyCost(_ context.Context, p domain.CostPosting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postings = append(f.postings, p)
	return f.err
}

func (f *fakeCosts) all() []domain.CostPosting {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CostPosting(nil), f.postings...)
}

type fakeEvents struct {
	mu        sync.Mutex
	dispensed []string
	received  []decimal.Decimal
	adjusted  []decimal.Decimal
	drift     []domain.StockDrift
}

func (f *fakeEvents) PublishDispenseCompleted(_ context.Context, rec *domain.DispenseRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispensed = append(f.dispensed, rec.ID)
}

func (f *fakeEvents) PublishStockReceived(_ context.Context, _ *domain.Lot, received decimal.Decimal, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, received)
}

func (f *fakeEvents) PublishStockAdjusted(_ context.Context, _ *domain.Lot, delta decimal.Decimal, _, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adjusted = append(f.adjusted, delta)
}

func (f *fakeEvents) PublishStockDrift(_ context.Context, drift []domain.StockDrift) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drift = append(f.drift, drift...)
}

func lotQty(t *testing.T, store *memstore.Store, id string) decimal.Decimal {
	t.Helper()
	l, ok := store.Lot(id)
	if !ok {
		t.Fatalf("lot %s missing from %s", id, store)
	}
	return l.Quantity
}

func onHand(t *testing.T, store *memstore.Store, id string) decimal.Decimal {
	t.Helper()
	p, ok := store.Product(id)
	if !ok {
		t.Fatalf("product %s missing from %s", id, store)
	}
	return p.OnHand
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
