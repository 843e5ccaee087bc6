package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// tenantSetting is the session variable the row level security policies on
// ontology_edges and ontology_tboxes compare tenant_id against.
const tenantSetting = "app.current_tenant_id"

// TenantScope is a pooled connection pinned to one tenant.
// Close must be called, or the setting stays on the pooled connection.
type TenantScope struct {
	Conn     *pgxpool.Conn
	TenantID string
}

// Close clears the tenant setting and hands the connection back to the pool.
func (s *TenantScope) Close() {
	if s == nil || s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET "+tenantSetting)
	s.Conn.Release()
	s.Conn = nil
}

// WithTenant acquires a connection and pins it to tenantID.
func (db *DB) WithTenant(ctx context.Context, tenantID string) (*TenantScope, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id must be provided")
	}
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for tenant %s: %w", tenantID, err)
	}
	if _, err := conn.Exec(ctx, "SELECT set_config($1, $2, false)", tenantSetting, tenantID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to set tenant %s: %w", tenantID, err)
	}
	return &TenantScope{Conn: conn, TenantID: tenantID}, nil
}

type tenantScopeKey struct{}

// GetTenantScope returns the scope stored by SetTenantScope.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(tenantScopeKey{}).(*TenantScope)
	return scope, ok && scope != nil
}

// SetTenantScope returns a child context carrying scope. Repositories read
// their connection from it.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, tenantScopeKey{}, scope)
}

// TenantScopeProvider hands out tenant-scoped contexts backed by one pool.
type TenantScopeProvider struct {
	db *DB
}

func NewTenantScopeProvider(db *DB) *TenantScopeProvider {
	return &TenantScopeProvider{db: db}
}

// WithTenantScope acquires a scope for tenantID and stores it in a child of
// ctx. The returned cleanup releases the connection.
func (p *TenantScopeProvider) WithTenantScope(ctx context.Context, tenantID string) (context.Context, func(), error) {
	scope, err := p.db.WithTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return SetTenantScope(ctx, scope), scope.Close, nil
}
