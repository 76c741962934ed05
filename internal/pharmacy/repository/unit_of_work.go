// Package repository persists the pharmacy model in PostgreSQL with sqlx.
// Every statement runs through database.DB.Q so it joins the tenant
// transaction opened by UnitOfWork.
package repository

import (
	"context"

	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

// UnitOfWork runs a function in one transaction scoped to the context's tenant.
type UnitOfWork struct {
	db *database.DB
}

// NewUnitOfWork creates a UnitOfWork
func NewUnitOfWork(db *database.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Do commits when fn returns nil and rolls back otherwise.
// A context that already carries a transaction is reused. PostgreSQL errors
// that escaped the repositories, commit failures included, are mapped on the
// way out so deadlocks reach the caller as retryable conflicts.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return errors.BadRequest("tenant context required")
	}
	return database.MapError(u.db.WithTenantRLS(ctx, tenantID, fn))
}
