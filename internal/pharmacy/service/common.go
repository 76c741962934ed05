// Package service implements pharmacy dispensing and lot ledger operations.
package service

import (
	"context"

	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
	"github.com/shopspring/decimal"
)

// tenantWarehouse resolves the tenant of ctx and its pharmacy warehouse.
func tenantWarehouse(ctx context.Context, cfg config.PharmacyConfig) (string, string, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return "", "", errors.BadRequest("tenant context required")
	}
	warehouseID, ok := cfg.WarehouseFor(tenantID)
	if !ok {
		return "", "", errors.InvalidState("no pharmacy warehouse configured for tenant",
			map[string]string{"tenant_id": tenantID})
	}
	return tenantID, warehouseID, nil
}

// errorCode returns the AppError code of err, or INTERNAL_ERROR.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}

// isDomainError reports whether err is an expected business outcome rather
// than an infrastructure failure.
func isDomainError(err error) bool {
	var appErr *errors.AppError
	return errors.As(err, &appErr) && appErr.StatusCode < 500
}

// movementCost is the value of qty units at unitCost, sign dropped.
func movementCost(unitCost, qty decimal.Decimal) decimal.Decimal {
	return unitCost.Mul(qty.Abs())
}

// RetryOnConflict calls fn until it succeeds, fails with a non-retryable
// error, or has been retried retries times.
func RetryOnConflict(ctx context.Context, retries int, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !errors.IsRetryable(err) || attempt >= retries {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
	}
}
