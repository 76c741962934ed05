// Package tenant carries the tenant of the current request through context.
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type contextKey string

const (
	tenantIDKey   contextKey = "tenant_id"
	tenantSlugKey contextKey = "tenant_slug"
)

var (
	// ErrNoTenantInContext is returned when tenant context is missing
	ErrNoTenantInContext = errors.New("no tenant in context")
	// ErrInvalidTenantID is returned when the tenant id is not a UUID
	ErrInvalidTenantID = errors.New("tenant id must be a UUID")
)

// WithTenantContext adds tenant id and slug to the context
func WithTenantContext(ctx context.Context, id, slug string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, id)
	return context.WithValue(ctx, tenantSlugKey, slug)
}

// WithTenantID adds only tenant ID to context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID extracts tenant ID from context
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoTenantInContext
	}
	return id, nil
}

// TenantSlug extracts tenant slug from context
func TenantSlug(ctx context.Context) string {
	slug, _ := ctx.Value(tenantSlugKey).(string)
	return slug
}

// Validate checks that a tenant id is a well-formed UUID.
func Validate(tenantID string) error {
	if tenantID == "" {
		return ErrNoTenantInContext
	}
	if _, err := uuid.Parse(tenantID); err != nil {
		return ErrInvalidTenantID
	}
	return nil
}

// MustTenantID extracts tenant ID from context and panics if not found.
// Use only where a missing tenant is a programming error.
func MustTenantID(ctx context.Context) string {
	id, err := TenantID(ctx)
	if err != nil {
		panic("tenant ID not found in context")
	}
	return id
}
