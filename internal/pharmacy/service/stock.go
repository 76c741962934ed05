package service

import (
	"context"
	"strings"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/allocator"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/guard"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/metrics"
	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
	"github.com/shopspring/decimal"
)

// ReceiveLotRequest books incoming stock. An empty WarehouseID means the
// tenant's pharmacy warehouse.
type ReceiveLotRequest struct {
	WarehouseID string           `json:"warehouse_id"`
	ProductID   string           `json:"product_id" validate:"required,uuid"`
	BatchNumber string           `json:"batch_number" validate:"max=100"`
	ExpiryDate  *time.Time       `json:"expiry_date"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitCost    *decimal.Decimal `json:"unit_cost"`
	Note        *string          `json:"note" validate:"omitempty,max=500"`
}

// AdjustLotRequest sets a lot to a counted quantity
type AdjustLotRequest struct {
	LotID           string          `json:"-"`
	ExpectedVersion int64           `json:"expected_version" validate:"required,min=1"`
	NewQuantity     decimal.Decimal `json:"new_quantity"`
	Reason          string          `json:"reason" validate:"required,max=200"`
	Note            *string         `json:"note" validate:"omitempty,max=500"`
}

// MovementPage is one page of the movement log
type MovementPage struct {
	Movements []domain.StockMovement `json:"movements"`
	Total     int64                  `json:"total"`
	Limit     int                    `json:"limit"`
	Offset    int                    `json:"offset"`
}

// StockService maintains the lot ledger outside of dispensing
type StockService struct {
	stores    Stores
	allocator *allocator.Allocator
	guard     *guard.Guard
	events    StockEvents
	pharmacy  config.PharmacyConfig
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewStockService creates a StockService. events may be nil.
func NewStockService(stores Stores, events StockEvents, pharmacy config.PharmacyConfig, m *metrics.Metrics, log *logger.Logger) *StockService {
	return &StockService{
		stores:    stores,
		allocator: allocator.New(stores.Lots),
		guard:     guard.New(stores.Lots, guard.WithConflictHook(func(string) { m.VersionConflict() })),
		events:    events,
		pharmacy:  pharmacy,
		metrics:   m,
		logger:    log.WithComponent("stock_service"),
	}
}

// ReceiveLot adds stock to the lot identified by warehouse, product and batch,
// creating the lot on first receipt.
func (s *StockService) ReceiveLot(ctx context.Context, req ReceiveLotRequest) (*domain.Lot, error) {
	if !req.Quantity.IsPositive() {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than 0"})
	}
	if req.UnitCost != nil && req.UnitCost.IsNegative() {
		return nil, errors.Validation(map[string]string{"unit_cost": "must be at least 0"})
	}
	tenantID, warehouseID, err := s.warehouse(ctx, req.WarehouseID)
	if err != nil {
		return nil, err
	}
	actorID := actor.IDFromContext(ctx)

	batch := strings.TrimSpace(req.BatchNumber)
	if batch == "" {
		batch = domain.NoBatch
	}

	lot := &domain.Lot{
		WarehouseID: warehouseID,
		ProductID:   req.ProductID,
		BatchNumber: batch,
		ExpiryDate:  req.ExpiryDate,
		Quantity:    req.Quantity,
	}
	err = s.stores.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		product, err := s.stores.Products.GetByID(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if err := s.stores.Lots.UpsertReceipt(ctx, lot); err != nil {
			return err
		}
		// a batch has one expiry; a differing date on re-receipt is a data entry error
		if req.ExpiryDate != nil && lot.ExpiryDate != nil && !sameDay(*req.ExpiryDate, *lot.ExpiryDate) {
			return errors.Validation(map[string]string{
				"expiry_date": "batch " + batch + " is already recorded with expiry " + lot.ExpiryDate.Format("2006-01-02"),
			})
		}

		unitCost := product.CostPrice
		if req.UnitCost != nil {
			unitCost = *req.UnitCost
		}
		if err := s.stores.Movements.Append(ctx, &domain.StockMovement{
			Type:        domain.MovementReceipt,
			ProductID:   product.ID,
			WarehouseID: warehouseID,
			LotID:       lot.ID,
			BatchNumber: lot.BatchNumber,
			ExpiryDate:  lot.ExpiryDate,
			Quantity:    req.Quantity,
			UnitCost:    unitCost,
			TotalCost:   movementCost(unitCost, req.Quantity),
			Reference:   domain.ReferenceManual,
			ActorID:     actorID,
			Note:        req.Note,
		}); err != nil {
			return err
		}
		return s.stores.Products.AdjustOnHand(ctx, product.ID, req.Quantity)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.StockReceived()
	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("lot_id", lot.ID).
		Str("product_id", lot.ProductID).
		Str("batch_number", lot.BatchNumber).
		Str("quantity", req.Quantity.String()).
		Msg("stock received")
	if s.events != nil {
		s.events.PublishStockReceived(ctx, lot, req.Quantity, actorID)
	}
	return lot, nil
}

// AdjustLot sets a lot's quantity after a count. The caller must supply the
// version it read; a stale version is a VersionConflict.
func (s *StockService) AdjustLot(ctx context.Context, req AdjustLotRequest) (*domain.Lot, error) {
	details := map[string]string{}
	if req.NewQuantity.IsNegative() {
		details["new_quantity"] = "must be at least 0"
	}
	if strings.TrimSpace(req.Reason) == "" {
		details["reason"] = "is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}
	if _, err := tenant.TenantID(ctx); err != nil {
		return nil, errors.BadRequest("tenant context required")
	}
	actorID := actor.IDFromContext(ctx)

	var adjusted *domain.Lot
	var delta decimal.Decimal
	err := s.stores.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		lot, err := s.stores.Lots.GetByID(ctx, req.LotID)
		if err != nil {
			return err
		}
		if lot.Version != req.ExpectedVersion {
			s.metrics.VersionConflict()
			return errors.VersionConflict(lot.ID, req.ExpectedVersion)
		}

		delta = req.NewQuantity.Sub(lot.Quantity)
		if delta.IsZero() {
			return errors.Validation(map[string]string{"new_quantity": "equals the current quantity"})
		}

		product, err := s.stores.Products.GetByID(ctx, lot.ProductID)
		if err != nil {
			return err
		}
		if err := s.guard.Apply(ctx, lot.Versioned(), delta); err != nil {
			return err
		}

		note := req.Note
		if note == nil {
			reason := req.Reason
			note = &reason
		}
		if err := s.stores.Movements.Append(ctx, &domain.StockMovement{
			Type:        domain.MovementAdjustment,
			ProductID:   lot.ProductID,
			WarehouseID: lot.WarehouseID,
			LotID:       lot.ID,
			BatchNumber: lot.BatchNumber,
			ExpiryDate:  lot.ExpiryDate,
			Quantity:    delta,
			UnitCost:    product.CostPrice,
			TotalCost:   movementCost(product.CostPrice, delta),
			Reference:   domain.ReferenceManual,
			ActorID:     actorID,
			Note:        note,
		}); err != nil {
			return err
		}
		if err := s.stores.Products.AdjustOnHand(ctx, lot.ProductID, delta); err != nil {
			return err
		}

		adjusted, err = s.stores.Lots.GetByID(ctx, lot.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.StockAdjusted()
	s.logger.Info().
		Str("lot_id", adjusted.ID).
		Str("delta", delta.String()).
		Str("reason", req.Reason).
		Msg("lot adjusted")
	if s.events != nil {
		s.events.PublishStockAdjusted(ctx, adjusted, delta, actorID, req.Reason)
	}
	return adjusted, nil
}

// ListLots returns every lot of a product in FEFO order, empty ones included
func (s *StockService) ListLots(ctx context.Context, productID, warehouseID string) ([]domain.Lot, error) {
	_, warehouseID, err := s.warehouse(ctx, warehouseID)
	if err != nil {
		return nil, err
	}

	var lots []domain.Lot
	err = s.stores.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		if _, err := s.stores.Products.GetByID(ctx, productID); err != nil {
			return err
		}
		var err error
		lots, err = s.stores.Lots.ListByProduct(ctx, warehouseID, productID)
		return err
	})
	return lots, err
}

// PreviewAllocation computes the FEFO plan for quantity without touching stock
func (s *StockService) PreviewAllocation(ctx context.Context, productID, warehouseID string, quantity decimal.Decimal) (*domain.AllocationPlan, error) {
	_, warehouseID, err := s.warehouse(ctx, warehouseID)
	if err != nil {
		return nil, err
	}

	var plan *domain.AllocationPlan
	err = s.stores.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		if _, err := s.stores.Products.GetByID(ctx, productID); err != nil {
			return err
		}
		var err error
		plan, err = s.allocator.Allocate(ctx, warehouseID, productID, quantity)
		return err
	})
	return plan, err
}

// ListMovements pages through the movement log, newest first
func (s *StockService) ListMovements(ctx context.Context, filter domain.MovementFilter) (*MovementPage, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, errors.Validation(map[string]string{"to": "must not be before from"})
	}

	page := &MovementPage{Limit: filter.Limit, Offset: filter.Offset}
	err := s.stores.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		var err error
		page.Movements, page.Total, err = s.stores.Movements.List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Reconcile compares each product's on-hand cache with the sum of its lots.
// Drift is reported, never corrected.
func (s *StockService) Reconcile(ctx context.Context) ([]domain.StockDrift, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, errors.BadRequest("tenant context required")
	}
	log := s.logger.WithTenant(tenantID)

	var drift []domain.StockDrift
	err = s.stores.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		var err error
		drift, err = s.stores.Drift.FindDrift(ctx)
		return err
	})
	s.metrics.ReconcileCompleted(tenantID, len(drift), err)
	if err != nil {
		log.Error().Err(err).Msg("stock reconciliation failed")
		return nil, err
	}

	for _, d := range drift {
		log.Error().
			Str("product_id", d.ProductID).
			Str("product_name", d.Name).
			Str("on_hand", d.OnHand.String()).
			Str("lot_total", d.LotTotal.String()).
			Msg("on-hand drift detected")
	}
	if len(drift) > 0 && s.events != nil {
		s.events.PublishStockDrift(ctx, drift)
	}
	log.Debug().Int("drifting_products", len(drift)).Msg("stock reconciliation completed")
	return drift, nil
}

// warehouse resolves an explicit warehouse or the tenant's default one.
func (s *StockService) warehouse(ctx context.Context, requested string) (string, string, error) {
	if requested == "" {
		return tenantWarehouse(ctx, s.pharmacy)
	}
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return "", "", errors.BadRequest("tenant context required")
	}
	return tenantID, requested, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
