package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/database"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
)

// TBoxRepository stores validated ontology schemas per tenant.
type TBoxRepository interface {
	// Install stores tbox under hash and makes it the tenant's active
	// version. Installing a hash that already exists reactivates it.
	Install(ctx context.Context, tenantID, hash string, tbox ontology.TBox) (*models.TBoxVersion, error)
	// GetActive returns the active version, or nil when none is installed.
	GetActive(ctx context.Context, tenantID string) (*models.TBoxVersion, error)
	GetByHash(ctx context.Context, tenantID, hash string) (*models.TBoxVersion, error)
	ListVersions(ctx context.Context, tenantID string) ([]*models.TBoxVersion, error)
}

type tboxRepository struct{}

// NewTBoxRepository creates a new TBoxRepository.
func NewTBoxRepository() TBoxRepository {
	return &tboxRepository{}
}

var _ TBoxRepository = (*tboxRepository)(nil)

const tboxColumns = `id, tenant_id, hash, tbox, is_active, created_at`

func (r *tboxRepository) Install(ctx context.Context, tenantID, hash string, tbox ontology.TBox) (*models.TBoxVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}
	if tenantID == "" || hash == "" {
		return nil, fmt.Errorf("tenant id and hash must be provided")
	}

	tboxJSON, err := json.Marshal(tbox)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tbox: %w", err)
	}

	// Deactivate and insert atomically so readers never see zero or two active versions.
	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	_, err = tx.Exec(ctx,
		"UPDATE ontology_tboxes SET is_active = false WHERE tenant_id = $1 AND is_active = true AND hash <> $2",
		tenantID, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate prior tboxes: %w", err)
	}

	query := `
		INSERT INTO ontology_tboxes (` + tboxColumns + `)
		VALUES ($1, $2, $3, $4, true, $5)
		ON CONFLICT (tenant_id, hash) DO UPDATE SET is_active = true
		RETURNING ` + tboxColumns

	row := tx.QueryRow(ctx, query, uuid.New(), tenantID, hash, tboxJSON, time.Now())
	version, err := scanTBoxVersion(row)
	if err != nil {
		return nil, fmt.Errorf("failed to install tbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return version, nil
}

func (r *tboxRepository) GetActive(ctx context.Context, tenantID string) (*models.TBoxVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT ` + tboxColumns + `
		FROM ontology_tboxes
		WHERE tenant_id = $1 AND is_active = true
		LIMIT 1`

	version, err := scanTBoxVersion(scope.Conn.QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active tbox: %w", err)
	}
	return version, nil
}

func (r *tboxRepository) GetByHash(ctx context.Context, tenantID, hash string) (*models.TBoxVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT ` + tboxColumns + `
		FROM ontology_tboxes
		WHERE tenant_id = $1 AND hash = $2`

	version, err := scanTBoxVersion(scope.Conn.QueryRow(ctx, query, tenantID, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tbox %s: %w", hash, err)
	}
	return version, nil
}

func (r *tboxRepository) ListVersions(ctx context.Context, tenantID string) ([]*models.TBoxVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	query := `
		SELECT ` + tboxColumns + `
		FROM ontology_tboxes
		WHERE tenant_id = $1
		ORDER BY created_at DESC`

	rows, err := scope.Conn.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tboxes: %w", err)
	}
	defer rows.Close()

	var versions []*models.TBoxVersion
	for rows.Next() {
		version, err := scanTBoxVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tboxes: %w", err)
	}
	return versions, nil
}

func scanTBoxVersion(row pgx.Row) (*models.TBoxVersion, error) {
	var v models.TBoxVersion
	var tboxJSON []byte
	if err := row.Scan(&v.ID, &v.TenantID, &v.Hash, &tboxJSON, &v.Active, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tboxJSON, &v.TBox); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tbox: %w", err)
	}
	return &v, nil
}
