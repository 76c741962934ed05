// Package memstore is an in-memory implementation of the pharmacy stores.
// A unit of work holds the store lock for its whole duration and restores a
// snapshot when it fails, so it behaves like a serializable transaction.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/allocator"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/shopspring/decimal"
)

type state struct {
	products      map[string]domain.Product
	lots          map[string]domain.Lot
	prescriptions map[string]domain.Prescription
	dispenses     map[string]domain.DispenseRecord
	accounts      map[string]domain.PatientAccount
	invoices      map[string]domain.Invoice
	tenants       map[string]domain.Tenant
	movements     []domain.StockMovement
	charges       []domain.Charge
	payments      []domain.Payment
}

func newState() *state {
	return &state{
		products:      map[string]domain.Product{},
		lots:          map[string]domain.Lot{},
		prescriptions: map[string]domain.Prescription{},
		dispenses:     map[string]domain.DispenseRecord{},
		accounts:      map[string]domain.PatientAccount{},
		invoices:      map[string]domain.Invoice{},
		tenants:       map[string]domain.Tenant{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.prescriptions {
		c.prescriptions[k] = v
	}
	for k, v := range s.dispenses {
		c.dispenses[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	c.movements = append([]domain.StockMovement(nil), s.movements...)
	c.charges = append([]domain.Charge(nil), s.charges...)
	c.payments = append([]domain.Payment(nil), s.payments...)
	return c
}

type txKey struct{}

// Store holds all pharmacy state in memory
type Store struct {
	mu    sync.Mutex
	st    *state
	now   func() time.Time
	fail  map[string]error
	bumps map[string]int
}

// New creates an empty Store
func New() *Store {
	return &Store{
		st:    newState(),
		now:   time.Now,
		fail:  map[string]error{},
		bumps: map[string]int{},
	}
}

// Do runs fn while holding the store lock. State changes made by fn are
// discarded when it returns an error. Nested calls join the outer one.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// lock acquires the store lock unless ctx is inside Do.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// FailNext makes the next call of op return err. Ops are named
// "<store>.<method>", e.g. "billing.CreateCharge".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

// ConflictOnLot simulates a concurrent writer: the next n conditional
// updates of lotID see a version bumped right before they run.
func (s *Store) ConflictOnLot(lotID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumps[lotID] = n
}

func (s *Store) injected(op string) error {
	if err, ok := s.fail[op]; ok {
		delete(s.fail, op)
		return err
	}
	return nil
}

// Seed and inspection helpers

// AddProduct stores p
func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.st.products[p.ID] = p
}

// AddLot stores l and adds its quantity to the product's on-hand
func (s *Store) AddLot(l domain.Lot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.Version == 0 {
		l.Version = 1
	}
	if l.BatchNumber == "" {
		l.BatchNumber = domain.NoBatch
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	s.st.lots[l.ID] = l
	if p, ok := s.st.products[l.ProductID]; ok {
		p.OnHand = p.OnHand.Add(l.Quantity)
		s.st.products[p.ID] = p
	}
}

// AddPrescription stores rx with its lines
func (s *Store) AddPrescription(rx domain.Prescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rx.Status == "" {
		rx.Status = domain.PrescriptionActive
	}
	for i := range rx.Lines {
		rx.Lines[i].PrescriptionID = rx.ID
	}
	s.st.prescriptions[rx.ID] = rx
}

// AddAccount stores an open or closed patient account
func (s *Store) AddAccount(a domain.PatientAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Status == "" {
		a.Status = "open"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.st.accounts[a.ID] = a
}

// AddTenant stores a tenant
func (s *Store) AddTenant(t domain.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tenants[t.ID] = t
}

// Lot returns a copy of a lot
func (s *Store) Lot(id string) (domain.Lot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.lots[id]
	return l, ok
}

// Product returns a copy of a product
func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	return p, ok
}

// SetProductOnHand overwrites a product's cached on-hand, e.g. to create drift
func (s *Store) SetProductOnHand(id string, onHand decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.st.products[id]
	p.OnHand = onHand
	s.st.products[id] = p
}

// Prescription returns a copy of a prescription
func (s *Store) Prescription(id string) (domain.Prescription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rx, ok := s.st.prescriptions[id]
	return rx, ok
}

// DispenseCount returns the number of dispense records
func (s *Store) DispenseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.dispenses)
}

// AllMovements returns every movement in append order
func (s *Store) AllMovements() []domain.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StockMovement(nil), s.st.movements...)
}

// AllCharges returns every charge
func (s *Store) AllCharges() []domain.Charge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Charge(nil), s.st.charges...)
}

// AllInvoices returns every invoice
func (s *Store) AllInvoices() []domain.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Invoice, 0, len(s.st.invoices))
	for _, inv := range s.st.invoices {
		out = append(out, inv)
	}
	return out
}

// AllPayments returns every payment
func (s *Store) AllPayments() []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Payment(nil), s.st.payments...)
}

// Store views. Each implements one repository contract.

// Products returns the product store
func (s *Store) Products() *Products { return &Products{s} }

// Lots returns the lot store
func (s *Store) Lots() *Lots { return &Lots{s} }

// Prescriptions returns the prescription store
func (s *Store) Prescriptions() *Prescriptions { return &Prescriptions{s} }

// Dispenses returns the dispense store
func (s *Store) Dispenses() *Dispenses { return &Dispenses{s} }

// Movements returns the movement log
func (s *Store) Movements() *Movements { return &Movements{s} }

// Billing returns the billing store
func (s *Store) Billing() *Billing { return &Billing{s} }

// Reconcile returns the drift finder
func (s *Store) Reconcile() *Reconcile { return &Reconcile{s} }

// Tenants returns the tenant registry
func (s *Store) Tenants() *Tenants { return &Tenants{s} }

// Products is the in-memory product store
type Products struct{ s *Store }

func (r *Products) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	defer r.s.lock(ctx)()
	if err := r.s.injected("products.GetByID"); err != nil {
		return nil, err
	}
	p, ok := r.s.st.products[id]
	if !ok {
		return nil, errors.NotFound("product")
	}
	return &p, nil
}

func (r *Products) AdjustOnHand(ctx context.Context, id string, delta decimal.Decimal) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("products.AdjustOnHand"); err != nil {
		return err
	}
	p, ok := r.s.st.products[id]
	if !ok {
		return errors.NotFound("product")
	}
	next := p.OnHand.Add(delta)
	if next.IsNegative() {
		return errors.InvalidState("product on-hand would become negative", map[string]string{"product_id": id})
	}
	p.OnHand = next
	p.UpdatedAt = r.s.now()
	r.s.st.products[id] = p
	return nil
}

// Lots is the in-memory lot store
type Lots struct{ s *Store }

func (r *Lots) ListAvailable(ctx context.Context, warehouseID, productID string) ([]domain.Lot, error) {
	defer r.s.lock(ctx)()
	if err := r.s.injected("lots.ListAvailable"); err != nil {
		return nil, err
	}
	return r.s.lotsOf(warehouseID, productID, true), nil
}

func (r *Lots) ListByProduct(ctx context.Context, warehouseID, productID string) ([]domain.Lot, error) {
	defer r.s.lock(ctx)()
	return r.s.lotsOf(warehouseID, productID, false), nil
}

func (r *Lots) GetByID(ctx context.Context, id string) (*domain.Lot, error) {
	defer r.s.lock(ctx)()
	l, ok := r.s.st.lots[id]
	if !ok {
		return nil, errors.NotFound("lot")
	}
	return &l, nil
}

func (r *Lots) ApplyDeltaIfVersion(ctx context.Context, lotID string, delta decimal.Decimal, expectedVersion int64) (bool, error) {
	defer r.s.lock(ctx)()
	if err := r.s.injected("lots.ApplyDeltaIfVersion"); err != nil {
		return false, err
	}
	l, ok := r.s.st.lots[lotID]
	if !ok {
		return false, nil
	}
	if n := r.s.bumps[lotID]; n > 0 {
		r.s.bumps[lotID] = n - 1
		l.Version++
		r.s.st.lots[lotID] = l
	}
	if l.Version != expectedVersion || l.Quantity.Add(delta).IsNegative() {
		return false, nil
	}
	l.Quantity = l.Quantity.Add(delta)
	l.Version++
	l.UpdatedAt = r.s.now()
	r.s.st.lots[lotID] = l
	return true, nil
}

func (r *Lots) UpsertReceipt(ctx context.Context, lot *domain.Lot) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("lots.UpsertReceipt"); err != nil {
		return err
	}
	if lot.BatchNumber == "" {
		lot.BatchNumber = domain.NoBatch
	}
	if _, ok := r.s.st.products[lot.ProductID]; !ok {
		return errors.BadRequest("referenced record does not exist")
	}

	now := r.s.now()
	for id, existing := range r.s.st.lots {
		if existing.WarehouseID == lot.WarehouseID && existing.ProductID == lot.ProductID && existing.BatchNumber == lot.BatchNumber {
			existing.Quantity = existing.Quantity.Add(lot.Quantity)
			existing.Version++
			if existing.ExpiryDate == nil {
				existing.ExpiryDate = lot.ExpiryDate
			}
			existing.UpdatedAt = now
			r.s.st.lots[id] = existing
			*lot = existing
			return nil
		}
	}

	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	lot.Version = 1
	lot.CreatedAt = now
	lot.UpdatedAt = now
	r.s.st.lots[lot.ID] = *lot
	return nil
}

func (s *Store) lotsOf(warehouseID, productID string, availableOnly bool) []domain.Lot {
	out := []domain.Lot{}
	for _, l := range s.st.lots {
		if l.WarehouseID != warehouseID || l.ProductID != productID {
			continue
		}
		if availableOnly && !l.Quantity.IsPositive() {
			continue
		}
		out = append(out, l)
	}
	allocator.SortFEFO(out)
	return out
}

// Prescriptions is the in-memory prescription store
type Prescriptions struct{ s *Store }

func (r *Prescriptions) GetForDispense(ctx context.Context, id string) (*domain.Prescription, error) {
	defer r.s.lock(ctx)()
	if err := r.s.injected("prescriptions.GetForDispense"); err != nil {
		return nil, err
	}
	rx, ok := r.s.st.prescriptions[id]
	if !ok {
		return nil, errors.NotFound("prescription")
	}
	rx.Lines = append([]domain.PrescriptionLine(nil), rx.Lines...)
	sort.Slice(rx.Lines, func(i, j int) bool { return rx.Lines[i].LineNo < rx.Lines[j].LineNo })
	return &rx, nil
}

func (r *Prescriptions) MarkCompleted(ctx context.Context, id string) (bool, error) {
	defer r.s.lock(ctx)()
	if err := r.s.injected("prescriptions.MarkCompleted"); err != nil {
		return false, err
	}
	rx, ok := r.s.st.prescriptions[id]
	if !ok || rx.Status != domain.PrescriptionActive {
		return false, nil
	}
	now := r.s.now()
	rx.Status = domain.PrescriptionCompleted
	rx.CompletedAt = &now
	r.s.st.prescriptions[id] = rx
	return true, nil
}

// Dispenses is the in-memory dispense store
type Dispenses struct{ s *Store }

func (r *Dispenses) ExistsForPrescription(ctx context.Context, prescriptionID string) (bool, error) {
	defer r.s.lock(ctx)()
	for _, d := range r.s.st.dispenses {
		if d.PrescriptionID == prescriptionID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Dispenses) Create(ctx context.Context, rec *domain.DispenseRecord) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("dispenses.Create"); err != nil {
		return err
	}
	for _, d := range r.s.st.dispenses {
		if d.PrescriptionID == rec.PrescriptionID {
			return errors.InvalidState("prescription already dispensed", map[string]string{"prescription_id": rec.PrescriptionID})
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = r.s.now()
	for i := range rec.Lines {
		if rec.Lines[i].ID == "" {
			rec.Lines[i].ID = uuid.New().String()
		}
		rec.Lines[i].DispenseID = rec.ID
	}
	stored := *rec
	stored.Lines = append([]domain.DispenseLine(nil), rec.Lines...)
	r.s.st.dispenses[rec.ID] = stored
	return nil
}

func (r *Dispenses) GetByID(ctx context.Context, id string) (*domain.DispenseRecord, error) {
	defer r.s.lock(ctx)()
	d, ok := r.s.st.dispenses[id]
	if !ok {
		return nil, errors.NotFound("dispense")
	}
	d.Lines = append([]domain.DispenseLine(nil), d.Lines...)
	return &d, nil
}

// Movements is the in-memory movement log
type Movements struct{ s *Store }

func (r *Movements) Append(ctx context.Context, m *domain.StockMovement) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("movements.Append"); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = r.s.now()
	r.s.st.movements = append(r.s.st.movements, *m)
	return nil
}

func (r *Movements) List(ctx context.Context, f domain.MovementFilter) ([]domain.StockMovement, int64, error) {
	defer r.s.lock(ctx)()
	matched := []domain.StockMovement{}
	for i := len(r.s.st.movements) - 1; i >= 0; i-- {
		m := r.s.st.movements[i]
		switch {
		case f.ProductID != nil && m.ProductID != *f.ProductID,
			f.WarehouseID != nil && m.WarehouseID != *f.WarehouseID,
			f.LotID != nil && m.LotID != *f.LotID,
			f.Reference != nil && m.Reference != *f.Reference,
			f.From != nil && m.CreatedAt.Before(*f.From),
			f.To != nil && !m.CreatedAt.Before(*f.To):
			continue
		}
		matched = append(matched, m)
	}

	total := int64(len(matched))
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset >= len(matched) {
		return []domain.StockMovement{}, total, nil
	}
	end := f.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[f.Offset:end], total, nil
}

// Billing is the in-memory billing store
type Billing struct{ s *Store }

func (r *Billing) OpenAccountForEncounter(ctx context.Context, encounterID string) (*domain.PatientAccount, error) {
	defer r.s.lock(ctx)()
	var found *domain.PatientAccount
	for _, a := range r.s.st.accounts {
		if a.EncounterID != encounterID || a.Status != "open" {
			continue
		}
		if found == nil || a.CreatedAt.After(found.CreatedAt) {
			a := a
			found = &a
		}
	}
	if found == nil {
		return nil, errors.NotFound("patient account")
	}
	return found, nil
}

func (r *Billing) CreateCharge(ctx context.Context, c *domain.Charge) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("billing.CreateCharge"); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Source == "" {
		c.Source = domain.ChargeSourcePharmacy
	}
	c.CreatedAt = r.s.now()
	r.s.st.charges = append(r.s.st.charges, *c)
	return nil
}

func (r *Billing) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("billing.CreateInvoice"); err != nil {
		return err
	}
	for _, existing := range r.s.st.invoices {
		if strings.EqualFold(existing.InvoiceNumber, inv.InvoiceNumber) {
			return errors.Conflict("invoice number already exists")
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	inv.CreatedAt = r.s.now()
	r.s.st.invoices[inv.ID] = *inv
	return nil
}

func (r *Billing) CreatePayment(ctx context.Context, p *domain.Payment) error {
	defer r.s.lock(ctx)()
	if err := r.s.injected("billing.CreatePayment"); err != nil {
		return err
	}
	if _, ok := r.s.st.invoices[p.InvoiceID]; !ok {
		return errors.BadRequest("referenced record does not exist")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = r.s.now()
	r.s.st.payments = append(r.s.st.payments, *p)
	return nil
}

// Reconcile finds on-hand drift in memory
type Reconcile struct{ s *Store }

func (r *Reconcile) FindDrift(ctx context.Context) ([]domain.StockDrift, error) {
	defer r.s.lock(ctx)()
	if err := r.s.injected("reconcile.FindDrift"); err != nil {
		return nil, err
	}
	sums := map[string]decimal.Decimal{}
	for _, l := range r.s.st.lots {
		sums[l.ProductID] = sums[l.ProductID].Add(l.Quantity)
	}
	drift := []domain.StockDrift{}
	for _, p := range r.s.st.products {
		if total := sums[p.ID]; !total.Equal(p.OnHand) {
			drift = append(drift, domain.StockDrift{ProductID: p.ID, Name: p.Name, OnHand: p.OnHand, LotTotal: total})
		}
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].Name < drift[j].Name })
	return drift, nil
}

// Tenants is the in-memory tenant registry
type Tenants struct{ s *Store }

func (r *Tenants) Upsert(ctx context.Context, t *domain.Tenant) error {
	defer r.s.lock(ctx)()
	stored := *t
	stored.IsActive = true
	r.s.st.tenants[t.ID] = stored
	return nil
}

func (r *Tenants) Deactivate(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	t, ok := r.s.st.tenants[id]
	if !ok {
		return errors.NotFound("tenant")
	}
	t.IsActive = false
	r.s.st.tenants[id] = t
	return nil
}

func (r *Tenants) ListActive(ctx context.Context) ([]domain.Tenant, error) {
	defer r.s.lock(ctx)()
	out := []domain.Tenant{}
	for _, t := range r.s.st.tenants {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// String summarizes the store for test failure messages
func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("memstore{products:%d lots:%d dispenses:%d movements:%d}",
		len(s.st.products), len(s.st.lots), len(s.st.dispenses), len(s.st.movements))
}
