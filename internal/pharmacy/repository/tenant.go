package repository

import (
	"context"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// TenantRepository maintains the local copy of the tenant registry.
// The tenants table has no row level security.
type TenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *database.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Upsert creates or refreshes a tenant and marks it active
func (r *TenantRepository) Upsert(ctx context.Context, t *domain.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, slug, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug, is_active = TRUE
	`
	_, err := r.db.Q(ctx).ExecContext(ctx, query, t.ID, t.Name, t.Slug)
	return database.MapError(err)
}

// Deactivate marks a tenant inactive
func (r *TenantRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.Q(ctx).ExecContext(ctx, `UPDATE tenants SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("tenant")
	}
	return nil
}

// ListActive lists active tenants
func (r *TenantRepository) ListActive(ctx context.Context) ([]domain.Tenant, error) {
	tenants := []domain.Tenant{}
	query := `SELECT id, name, slug, is_active FROM tenants WHERE is_active = TRUE ORDER BY name`
	if err := r.db.Q(ctx).SelectContext(ctx, &tenants, query); err != nil {
		return nil, err
	}
	return tenants, nil
}
