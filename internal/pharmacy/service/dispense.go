package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/allocator"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/guard"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/metrics"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/pricing"
	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/shopspring/decimal"
)

// DispenseRequest identifies the prescription to dispense and how to deviate from it
type DispenseRequest struct {
	PrescriptionID string
	Overrides      domain.LineOverrides
	Note           *string
}

// DispenseResult is everything a committed dispense produced
type DispenseResult struct {
	Dispense  *domain.DispenseRecord `json:"dispense"`
	Charge    *domain.Charge         `json:"charge"`
	Invoice   *domain.Invoice        `json:"invoice,omitempty"`
	Payment   *domain.Payment        `json:"payment,omitempty"`
	ChangeDue decimal.Decimal        `json:"change_due"`
}

// DispenseService turns prescriptions into stock decrements and billing artifacts.
// Each dispense is one unit of work: it commits completely or not at all.
type DispenseService struct {
	stores    Stores
	allocator *allocator.Allocator
	guard     *guard.Guard
	pricer    pricing.Pricer
	costs     CostNotifier
	events    DispenseEvents
	pharmacy  config.PharmacyConfig
	metrics   *metrics.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

// NewDispenseService creates a DispenseService. costs and events may be nil.
func NewDispenseService(
	stores Stores,
	pricer pricing.Pricer,
	costs CostNotifier,
	events DispenseEvents,
	pharmacy config.PharmacyConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *DispenseService {
	if pricer == nil {
		pricer = pricing.CatalogPricer{}
	}
	return &DispenseService{
		stores:    stores,
		allocator: allocator.New(stores.Lots),
		guard:     guard.New(stores.Lots, guard.WithConflictHook(func(string) { m.VersionConflict() })),
		pricer:    pricer,
		costs:     costs,
		events:    events,
		pharmacy:  pharmacy,
		metrics:   m,
		logger:    log.WithComponent("dispense_service"),
		now:       time.Now,
	}
}

// ChargeOnly dispenses and appends a charge to the encounter's open account.
func (s *DispenseService) ChargeOnly(ctx context.Context, req DispenseRequest) (*DispenseResult, error) {
	return s.dispense(ctx, req, domain.ChargeOnly{})
}

// DispenseAndCollectPayment dispenses at the point of sale: it invoices the
// dispense and records amountTendered as the payment.
func (s *DispenseService) DispenseAndCollectPayment(ctx context.Context, req DispenseRequest, method domain.PaymentMethod, amountTendered decimal.Decimal) (*DispenseResult, error) {
	return s.dispense(ctx, req, domain.CollectPayment{Method: method, AmountTendered: amountTendered})
}

// GetDispense returns a dispense record with its lines
func (s *DispenseService) GetDispense(ctx context.Context, id string) (*domain.DispenseRecord, error) {
	var rec *domain.DispenseRecord
	err := s.stores.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.stores.Dispenses.GetByID(ctx, id)
		return err
	})
	return rec, err
}

func (s *DispenseService) dispense(ctx context.Context, req DispenseRequest, mode domain.BillingMode) (*DispenseResult, error) {
	start := s.now()

	if err := validateMode(mode); err != nil {
		return nil, err
	}
	tenantID, warehouseID, err := tenantWarehouse(ctx, s.pharmacy)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithTenant(tenantID)
	actorID := actor.IDFromContext(ctx)

	var result *DispenseResult
	var lotsTouched int
	err = s.stores.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		var err error
		result, lotsTouched, err = s.dispenseInTx(ctx, req, mode, warehouseID, actorID)
		return err
	})
	s.metrics.ObserveDispense(mode.ModeName(), errorCode(err), s.now().Sub(start))

	if err != nil {
		event := log.Error()
		if isDomainError(err) {
			event = log.Warn()
		}
		event.Err(err).
			Str("prescription_id", req.PrescriptionID).
			Str("billing_mode", mode.ModeName()).
			Msg("dispense failed")
		return nil, err
	}

	s.metrics.LotDecrements(lotsTouched)
	log.Info().
		Str("prescription_id", req.PrescriptionID).
		Str("dispense_id", result.Dispense.ID).
		Str("billing_mode", mode.ModeName()).
		Str("total_amount", result.Dispense.TotalAmount.String()).
		Msg("prescription dispensed")

	s.afterCommit(ctx, result.Dispense)
	return result, nil
}

// dispenseInTx performs every write of a dispense inside the caller's unit of work.
func (s *DispenseService) dispenseInTx(ctx context.Context, req DispenseRequest, mode domain.BillingMode, warehouseID, actorID string) (*DispenseResult, int, error) {
	rx, err := s.stores.Prescriptions.GetForDispense(ctx, req.PrescriptionID)
	if err != nil {
		return nil, 0, err
	}
	if rx.Status != domain.PrescriptionActive {
		return nil, 0, errors.InvalidState(fmt.Sprintf("prescription is %s", rx.Status), map[string]string{
			"prescription_id": rx.ID,
			"status":          string(rx.Status),
		})
	}
	dispensed, err := s.stores.Dispenses.ExistsForPrescription(ctx, rx.ID)
	if err != nil {
		return nil, 0, err
	}
	if dispensed {
		return nil, 0, errors.InvalidState("prescription already dispensed", map[string]string{"prescription_id": rx.ID})
	}
	if err := validateOverrides(rx, req.Overrides); err != nil {
		return nil, 0, err
	}

	rec := &domain.DispenseRecord{
		ID:             uuid.New().String(),
		PrescriptionID: rx.ID,
		WarehouseID:    warehouseID,
		ActorID:        actorID,
		BillingMode:    mode.ModeName(),
		Note:           req.Note,
		TotalAmount:    decimal.Zero,
		TotalCost:      decimal.Zero,
	}
	reference := domain.DispenseReference(rec.ID)
	var movements []domain.StockMovement

	for _, rl := range lockOrder(rx.Lines, req.Overrides) {
		line, qty, productID, substituted := rl.line, rl.quantity, rl.productID, rl.substituted
		if qty.IsZero() {
			continue
		}

		product, err := s.stores.Products.GetByID(ctx, productID)
		if err != nil {
			return nil, 0, err
		}
		if !product.IsActive {
			return nil, 0, errors.InvalidState("product is not active", map[string]string{"product_id": product.ID})
		}

		plan, err := s.allocator.Allocate(ctx, warehouseID, productID, qty)
		if err != nil {
			return nil, 0, err
		}
		if err := s.guard.CommitPlan(ctx, plan); err != nil {
			return nil, 0, err
		}

		unitPrice, err := s.pricer.PriceFor(ctx, product, rx.InsurancePolicyID)
		if err != nil {
			return nil, 0, err
		}

		for _, entry := range plan.Entries {
			lineTotal := unitPrice.Mul(entry.Quantity)
			cost := movementCost(product.CostPrice, entry.Quantity)

			rec.Lines = append(rec.Lines, domain.DispenseLine{
				LineNo:             len(rec.Lines) + 1,
				PrescriptionLineID: line.ID,
				ProductID:          productID,
				Substituted:        substituted,
				LotID:              entry.Lot.ID,
				BatchNumber:        entry.BatchNumber,
				ExpiryDate:         entry.ExpiryDate,
				Quantity:           entry.Quantity,
				UnitPrice:          unitPrice,
				LineTotal:          lineTotal,
			})
			movements = append(movements, domain.StockMovement{
				Type:        domain.MovementDispense,
				ProductID:   productID,
				WarehouseID: warehouseID,
				LotID:       entry.Lot.ID,
				BatchNumber: entry.BatchNumber,
				ExpiryDate:  entry.ExpiryDate,
				Quantity:    entry.Quantity.Neg(),
				UnitCost:    product.CostPrice,
				TotalCost:   cost,
				Reference:   reference,
				ActorID:     actorID,
				Note:        req.Note,
			})
			rec.TotalAmount = rec.TotalAmount.Add(lineTotal)
			rec.TotalCost = rec.TotalCost.Add(cost)
		}

		if err := s.stores.Products.AdjustOnHand(ctx, productID, qty.Neg()); err != nil {
			return nil, 0, err
		}
	}

	if _, pos := mode.(domain.CollectPayment); pos && !rec.TotalAmount.IsPositive() {
		return nil, 0, errors.NothingToBill(rx.ID)
	}

	if err := s.stores.Dispenses.Create(ctx, rec); err != nil {
		return nil, 0, err
	}
	for i := range movements {
		if err := s.stores.Movements.Append(ctx, &movements[i]); err != nil {
			return nil, 0, err
		}
	}

	result := &DispenseResult{Dispense: rec, ChangeDue: decimal.Zero}
	if err := s.bill(ctx, rx, rec, mode, result); err != nil {
		return nil, 0, err
	}

	completed, err := s.stores.Prescriptions.MarkCompleted(ctx, rx.ID)
	if err != nil {
		return nil, 0, err
	}
	if !completed {
		return nil, 0, errors.InvalidState("prescription is no longer active", map[string]string{"prescription_id": rx.ID})
	}

	return result, len(movements), nil
}

// bill writes the billing artifacts for mode. This is the only step where
// the two billing modes differ.
func (s *DispenseService) bill(ctx context.Context, rx *domain.Prescription, rec *domain.DispenseRecord, mode domain.BillingMode, result *DispenseResult) error {
	description := fmt.Sprintf("Pharmacy dispense for prescription %s", rx.ID)

	switch m := mode.(type) {
	case domain.ChargeOnly:
		account, err := s.stores.Billing.OpenAccountForEncounter(ctx, rx.EncounterID)
		if errors.Is(err, errors.ErrNotFound) {
			return errors.InvalidState("encounter has no open patient account", map[string]string{
				"prescription_id": rx.ID,
				"encounter_id":    rx.EncounterID,
			})
		}
		if err != nil {
			return err
		}

		charge := &domain.Charge{
			AccountID:   &account.ID,
			DispenseID:  rec.ID,
			Source:      domain.ChargeSourcePharmacy,
			Description: description,
			Amount:      rec.TotalAmount,
		}
		if err := s.stores.Billing.CreateCharge(ctx, charge); err != nil {
			return err
		}
		result.Charge = charge

	case domain.CollectPayment:
		status := domain.InvoicePartial
		if m.AmountTendered.GreaterThanOrEqual(rec.TotalAmount) {
			status = domain.InvoicePaid
		}
		invoice := &domain.Invoice{
			InvoiceNumber: invoiceNumber(s.now(), rec.ID),
			PatientID:     rx.PatientID,
			EncounterID:   rx.EncounterID,
			DispenseID:    rec.ID,
			TotalAmount:   rec.TotalAmount,
			PaidAmount:    m.AmountTendered,
			Status:        status,
		}
		if err := s.stores.Billing.CreateInvoice(ctx, invoice); err != nil {
			return err
		}

		payment := &domain.Payment{
			InvoiceID:  invoice.ID,
			Method:     m.Method,
			Amount:     m.AmountTendered,
			ReceivedBy: rec.ActorID,
		}
		if err := s.stores.Billing.CreatePayment(ctx, payment); err != nil {
			return err
		}

		charge := &domain.Charge{
			InvoiceID:   &invoice.ID,
			DispenseID:  rec.ID,
			Source:      domain.ChargeSourcePharmacy,
			Description: description,
			Amount:      rec.TotalAmount,
		}
		if err := s.stores.Billing.CreateCharge(ctx, charge); err != nil {
			return err
		}

		result.Invoice = invoice
		result.Payment = payment
		result.Charge = charge
		result.ChangeDue = decimal.Max(m.AmountTendered.Sub(rec.TotalAmount), decimal.Zero)

	default:
		return errors.BadRequest(fmt.Sprintf("unsupported billing mode %T", mode))
	}
	return nil
}

// afterCommit hands the cost to accounting and announces the dispense.
// Failures here never undo or fail the committed dispense.
func (s *DispenseService) afterCommit(ctx context.Context, rec *domain.DispenseRecord) {
	if s.costs != nil {
		posting := domain.CostPosting{
			DispenseID:     rec.ID,
			PrescriptionID: rec.PrescriptionID,
			WarehouseID:    rec.WarehouseID,
			TotalCost:      rec.TotalCost,
			OccurredAt:     rec.CreatedAt,
		}
		if err := s.costs.NotifyCost(ctx, posting); err != nil {
			s.metrics.CostNotificationFailed()
			s.logger.Error().Err(err).
				Str("dispense_id", rec.ID).
				Str("total_cost", rec.TotalCost.String()).
				Msg("failed to notify accounting of dispense cost")
		}
	}
	if s.events != nil {
		s.events.PublishDispenseCompleted(ctx, rec)
	}
}

func validateMode(mode domain.BillingMode) error {
	switch m := mode.(type) {
	case domain.ChargeOnly:
		return nil
	case domain.CollectPayment:
		details := map[string]string{}
		if !m.Method.Valid() {
			details["method"] = "must be one of: cash card mobile cheque"
		}
		if m.AmountTendered.IsNegative() {
			details["amount_tendered"] = "must be at least 0"
		}
		if len(details) > 0 {
			return errors.Validation(details)
		}
		return nil
	case nil:
		return errors.BadRequest("billing mode required")
	default:
		return errors.BadRequest(fmt.Sprintf("unsupported billing mode %T", mode))
	}
}

func validateOverrides(rx *domain.Prescription, overrides domain.LineOverrides) error {
	if len(overrides) == 0 {
		return nil
	}
	known := make(map[string]bool, len(rx.Lines))
	for _, l := range rx.Lines {
		known[l.ID] = true
	}

	details := map[string]string{}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, lineID := range keys {
		ov := overrides[lineID]
		switch {
		case !known[lineID]:
			details["overrides."+lineID] = "unknown prescription line"
		case ov.Quantity != nil && ov.Quantity.IsNegative():
			details["overrides."+lineID+".quantity"] = "must be at least 0"
		case ov.SubstituteProductID != nil && strings.TrimSpace(*ov.SubstituteProductID) == "":
			details["overrides."+lineID+".substitute_product_id"] = "must not be empty"
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

type resolvedLine struct {
	line        domain.PrescriptionLine
	quantity    decimal.Decimal
	productID   string
	substituted bool
}

// lockOrder resolves every line and orders them by dispensed product, so two
// dispenses touching the same products lock lot and product rows in the same
// order. Lines of one product keep their prescription order.
func lockOrder(lines []domain.PrescriptionLine, overrides domain.LineOverrides) []resolvedLine {
	resolved := make([]resolvedLine, 0, len(lines))
	for _, line := range lines {
		qty, productID, substituted := resolveLine(line, overrides[line.ID])
		resolved = append(resolved, resolvedLine{line: line, quantity: qty, productID: productID, substituted: substituted})
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].productID < resolved[j].productID
	})
	return resolved
}

// resolveLine applies an override to a prescription line.
func resolveLine(line domain.PrescriptionLine, ov domain.LineOverride) (decimal.Decimal, string, bool) {
	qty := line.Quantity
	if ov.Quantity != nil {
		qty = *ov.Quantity
	}
	productID := line.ProductID
	substituted := false
	if ov.SubstituteProductID != nil && *ov.SubstituteProductID != line.ProductID {
		productID = *ov.SubstituteProductID
		substituted = true
	}
	return qty, productID, substituted
}

func invoiceNumber(now time.Time, dispenseID string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(dispenseID, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("PH-%s-%s", now.UTC().Format("20060102"), suffix)
}
