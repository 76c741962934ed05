package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// setTenantSQL scopes search_path and the RLS tenant to the current transaction.
// set_config(..., true) behaves like SET LOCAL but accepts bind parameters.
const setTenantSQL = `SELECT set_config('search_path', $1, true), set_config('app.current_tenant', $2, true)`

// WithTenantRLS runs fn inside a transaction whose RLS tenant is tenantID.
// Policies filter rows with: tenant_id = current_setting('app.current_tenant')::uuid
//
// The transaction is stored in the context passed to fn; repositories pick it
// up through Q. A nested call on a context that already carries a transaction
// reuses it, so a whole dispense commits or rolls back as one.
func (db *DB) WithTenantRLS(ctx context.Context, tenantID string, fn func(context.Context) error) error {
	if db.getTx(ctx) != nil {
		return fn(ctx)
	}

	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, setTenantSQL, db.searchPath, tenantID); err != nil {
			return fmt.Errorf("failed to set tenant context %s: %w", tenantID, err)
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// InTx reports whether ctx carries a transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok
}

func (db *DB) getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
