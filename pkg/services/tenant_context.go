package services

import (
	"context"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/database"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
)

// TenantContextFunc acquires a tenant-scoped database connection.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type TenantContextFunc func(ctx context.Context, tenantID string) (context.Context, func(), error)

// NewTenantContextFunc creates a TenantContextFunc that uses the given database.
func NewTenantContextFunc(db *database.DB) TenantContextFunc {
	return database.NewTenantScopeProvider(db).WithTenantScope
}

// NoTenantContext is the TenantContextFunc for the in-memory stores, which
// partition by tenant id themselves and need no connection.
func NoTenantContext(ctx context.Context, _ string) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

// WithRecomputeTriggerWrapper wraps a TenantContextFunc so every scoped
// context also records why the recomputation is running.
func WithRecomputeTriggerWrapper(inner TenantContextFunc, trigger models.RecomputeTrigger) TenantContextFunc {
	return func(ctx context.Context, tenantID string) (context.Context, func(), error) {
		tenantCtx, cleanup, err := inner(ctx, tenantID)
		if err != nil {
			return nil, nil, err
		}
		return models.WithRecomputeTrigger(tenantCtx, trigger), cleanup, nil
	}
}
