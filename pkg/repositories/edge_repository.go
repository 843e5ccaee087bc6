package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/database"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
)

// EdgeStore persists edges keyed by (tenant, src, predicate, dst).
//
// Rows fall into three origins (see models.EdgeOrigin): explicit rows written
// by the application, inferred rows produced by ontology rules (rule-derived
// rows additionally carry Derived and Support), and computed rows produced by
// providers (Derived without Inferred). A non-explicit write never replaces
// an explicit row.
type EdgeStore interface {
	// Upsert inserts or replaces one edge.
	Upsert(ctx context.Context, edge *models.EdgeRecord) error
	// UpsertDerived stores a rule-derived edge together with its supports.
	// The row is marked inferred and derived.
	UpsertDerived(ctx context.Context, edge *models.EdgeRecord) error
	// UpsertMany is the batch form. Records carrying Support go through
	// the derived path.
	UpsertMany(ctx context.Context, edges []*models.EdgeRecord) error

	FindBySrc(ctx context.Context, tenantID, src string) ([]*models.EdgeRecord, error)
	ListOutgoingBy(ctx context.Context, tenantID, src, predicate string) ([]*models.EdgeRecord, error)
	ListIncomingBy(ctx context.Context, tenantID, predicate, dst string) ([]*models.EdgeRecord, error)

	// DeleteInferredBySrcNotIn removes inferred (src, predicate) rows whose
	// dst is not in keep. It returns the number of rows removed.
	DeleteInferredBySrcNotIn(ctx context.Context, tenantID, src, predicate string, keep []string) (int64, error)
	// DeleteExplicitBySrcNotIn is the same for explicit rows.
	DeleteExplicitBySrcNotIn(ctx context.Context, tenantID, src, predicate string, keep []string) (int64, error)
	// DeleteDerivedBySrcNotIn is the same for computed rows.
	DeleteDerivedBySrcNotIn(ctx context.Context, tenantID, src, predicate string, keep []string) (int64, error)

	// PruneDerivedWithoutSupport removes rule-derived rows that are not
	// grounded in base rows: a row survives only if some support has every
	// path edge either a base row or a surviving derived row, so derived
	// rows that only support each other are removed.
	PruneDerivedWithoutSupport(ctx context.Context, tenantID string) (int64, error)
}

type edgeStore struct{}

// NewEdgeStore creates a Postgres-backed EdgeStore. Every call needs a
// database.TenantScope in the context.
func NewEdgeStore() EdgeStore {
	return &edgeStore{}
}

var _ EdgeStore = (*edgeStore)(nil)

const edgeColumns = `id, tenant_id, src_type, src, p, dst_type, dst, inferred, derived, provenance, support, ts`

// upsertEdgeQuery keeps explicit rows authoritative: the update only applies
// when the incoming row is explicit or the stored row is not.
const upsertEdgeQuery = `
	INSERT INTO ontology_edges (` + edgeColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (tenant_id, src, p, dst) DO UPDATE SET
		src_type = EXCLUDED.src_type,
		dst_type = EXCLUDED.dst_type,
		inferred = EXCLUDED.inferred,
		derived = EXCLUDED.derived,
		provenance = EXCLUDED.provenance,
		support = EXCLUDED.support,
		ts = EXCLUDED.ts
	WHERE NOT (EXCLUDED.inferred OR EXCLUDED.derived)
		OR ontology_edges.inferred OR ontology_edges.derived`

func (r *edgeStore) Upsert(ctx context.Context, edge *models.EdgeRecord) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}
	args, err := upsertArgs(edge)
	if err != nil {
		return err
	}
	if _, err := scope.Conn.Exec(ctx, upsertEdgeQuery, args...); err != nil {
		return fmt.Errorf("failed to upsert edge %s: %w", edge.Ref(), err)
	}
	return nil
}

func (r *edgeStore) UpsertDerived(ctx context.Context, edge *models.EdgeRecord) error {
	markDerived(edge)
	return r.Upsert(ctx, edge)
}

func (r *edgeStore) UpsertMany(ctx context.Context, edges []*models.EdgeRecord) error {
	if len(edges) == 0 {
		return nil
	}
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return apperrors.ErrNoTenantScope
	}

	batch := &pgx.Batch{}
	for _, edge := range edges {
		if len(edge.Support) > 0 {
			markDerived(edge)
		}
		args, err := upsertArgs(edge)
		if err != nil {
			return err
		}
		batch.Queue(upsertEdgeQuery, args...)
	}

	results := scope.Conn.SendBatch(ctx, batch)
	defer results.Close()
	for _, edge := range edges {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert edge %s: %w", edge.Ref(), err)
		}
	}
	return nil
}

func (r *edgeStore) FindBySrc(ctx context.Context, tenantID, src string) ([]*models.EdgeRecord, error) {
	return r.query(ctx, `
		SELECT `+edgeColumns+`
		FROM ontology_edges
		WHERE tenant_id = $1 AND src = $2
		ORDER BY p, dst`, tenantID, src)
}

func (r *edgeStore) ListOutgoingBy(ctx context.Context, tenantID, src, predicate string) ([]*models.EdgeRecord, error) {
	return r.query(ctx, `
		SELECT `+edgeColumns+`
		FROM ontology_edges
		WHERE tenant_id = $1 AND src = $2 AND p = $3
		ORDER BY dst`, tenantID, src, predicate)
}

func (r *edgeStore) ListIncomingBy(ctx context.Context, tenantID, predicate, dst string) ([]*models.EdgeRecord, error) {
	return r.query(ctx, `
		SELECT `+edgeColumns+`
		FROM ontology_edges
		WHERE tenant_id = $1 AND p = $2 AND dst = $3
		ORDER BY src`, tenantID, predicate, dst)
}

func (r *edgeStore) DeleteInferredBySrcNotIn(ctx context.Context, tenantID, src, predicate string, keep []string) (int64, error) {
	return r.deleteNotIn(ctx, "inferred", tenantID, src, predicate, keep)
}

func (r *edgeStore) DeleteExplicitBySrcNotIn(ctx context.Context, tenantID, src, predicate string, keep []string) (int64, error) {
	return r.deleteNotIn(ctx, "NOT inferred AND NOT derived", tenantID, src, predicate, keep)
}

func (r *edgeStore) DeleteDerivedBySrcNotIn(ctx context.Context, tenantID, src, predicate string, keep []string) (int64, error) {
	return r.deleteNotIn(ctx, "derived AND NOT inferred", tenantID, src, predicate, keep)
}

// deleteNotIn removes (src, predicate) rows matching the origin condition
// whose dst is outside keep. The condition is one of the fixed strings above.
func (r *edgeStore) deleteNotIn(ctx context.Context, origin, tenantID, src, predicate string, keep []string) (int64, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, apperrors.ErrNoTenantScope
	}
	if keep == nil {
		keep = []string{}
	}

	query := `
		DELETE FROM ontology_edges
		WHERE tenant_id = $1 AND src = $2 AND p = $3
		  AND ` + origin + `
		  AND NOT (dst = ANY($4))`

	result, err := scope.Conn.Exec(ctx, query, tenantID, src, predicate, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale %s edges of %s: %w", predicate, src, err)
	}
	return result.RowsAffected(), nil
}

const listDerivedQuery = `
	SELECT src, p, dst, support
	FROM ontology_edges
	WHERE tenant_id = $1 AND derived AND inferred`

// baseRefsQuery returns which of the given refs exist as base rows, i.e.
// anything but a rule-derived row.
const baseRefsQuery = `
	SELECT e.src, e.p, e.dst
	FROM ontology_edges e
	JOIN unnest($2::text[], $3::text[], $4::text[]) AS r(src, p, dst)
	  ON e.src = r.src AND e.p = r.p AND e.dst = r.dst
	WHERE e.tenant_id = $1 AND NOT (e.derived AND e.inferred)`

const deleteDerivedRefsQuery = `
	DELETE FROM ontology_edges e
	USING unnest($2::text[], $3::text[], $4::text[]) AS r(src, p, dst)
	WHERE e.tenant_id = $1 AND e.derived AND e.inferred
	  AND e.src = r.src AND e.p = r.p AND e.dst = r.dst`

// PruneDerivedWithoutSupport loads the tenant's rule-derived rows, keeps
// those reachable from base rows through complete supports and deletes the
// rest in one transaction.
func (r *edgeStore) PruneDerivedWithoutSupport(ctx context.Context, tenantID string) (int64, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, apperrors.ErrNoTenantScope
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	derived, err := listDerived(ctx, tx, tenantID)
	if err != nil {
		return 0, err
	}
	if len(derived) == 0 {
		return 0, nil
	}

	base, err := existingBaseRefs(ctx, tx, tenantID, derived)
	if err != nil {
		return 0, err
	}
	stale := unfoundedDerived(derived, func(ref models.EdgeRef) bool { return base[ref] })
	if len(stale) == 0 {
		return 0, nil
	}

	srcs, preds, dsts := refColumns(stale)
	result, err := tx.Exec(ctx, deleteDerivedRefsQuery, tenantID, srcs, preds, dsts)
	if err != nil {
		return 0, fmt.Errorf("failed to prune unsupported edges: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return result.RowsAffected(), nil
}

func listDerived(ctx context.Context, tx pgx.Tx, tenantID string) ([]*models.EdgeRecord, error) {
	rows, err := tx.Query(ctx, listDerivedQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list derived edges: %w", err)
	}
	defer rows.Close()

	var derived []*models.EdgeRecord
	for rows.Next() {
		var rec models.EdgeRecord
		var supportJSON []byte
		if err := rows.Scan(&rec.Src, &rec.Predicate, &rec.Dst, &supportJSON); err != nil {
			return nil, fmt.Errorf("failed to scan derived edge: %w", err)
		}
		if len(supportJSON) > 0 {
			if err := json.Unmarshal(supportJSON, &rec.Support); err != nil {
				return nil, fmt.Errorf("failed to unmarshal support of %s: %w", rec.Ref(), err)
			}
		}
		derived = append(derived, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating derived edges: %w", err)
	}
	return derived, nil
}

// existingBaseRefs looks up every path edge named by a support that is not
// itself a derived row.
func existingBaseRefs(ctx context.Context, tx pgx.Tx, tenantID string, derived []*models.EdgeRecord) (map[models.EdgeRef]bool, error) {
	isDerived := make(map[models.EdgeRef]bool, len(derived))
	for _, d := range derived {
		isDerived[d.Ref()] = true
	}
	seen := make(map[models.EdgeRef]bool)
	var wanted []models.EdgeRef
	for _, d := range derived {
		for _, sup := range d.Support {
			for _, ref := range sup.PathEdges {
				if !isDerived[ref] && !seen[ref] {
					seen[ref] = true
					wanted = append(wanted, ref)
				}
			}
		}
	}

	base := make(map[models.EdgeRef]bool, len(wanted))
	if len(wanted) == 0 {
		return base, nil
	}
	srcs, preds, dsts := refColumns(wanted)
	rows, err := tx.Query(ctx, baseRefsQuery, tenantID, srcs, preds, dsts)
	if err != nil {
		return nil, fmt.Errorf("failed to look up supporting edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ref models.EdgeRef
		if err := rows.Scan(&ref.Src, &ref.Predicate, &ref.Dst); err != nil {
			return nil, fmt.Errorf("failed to scan supporting edge: %w", err)
		}
		base[ref] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating supporting edges: %w", err)
	}
	return base, nil
}

func (r *edgeStore) query(ctx context.Context, query string, args ...any) ([]*models.EdgeRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoTenantScope
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []*models.EdgeRecord
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	return edges, nil
}

func scanEdge(rows pgx.Rows) (*models.EdgeRecord, error) {
	var edge models.EdgeRecord
	var provJSON, supportJSON []byte
	err := rows.Scan(&edge.ID, &edge.TenantID, &edge.SrcType, &edge.Src, &edge.Predicate,
		&edge.DstType, &edge.Dst, &edge.Inferred, &edge.Derived, &provJSON, &supportJSON, &edge.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to scan edge: %w", err)
	}
	if len(provJSON) > 0 {
		if err := json.Unmarshal(provJSON, &edge.Provenance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provenance: %w", err)
		}
	}
	if len(supportJSON) > 0 {
		if err := json.Unmarshal(supportJSON, &edge.Support); err != nil {
			return nil, fmt.Errorf("failed to unmarshal support: %w", err)
		}
	}
	return &edge, nil
}

func upsertArgs(edge *models.EdgeRecord) ([]any, error) {
	if err := validateEdge(edge); err != nil {
		return nil, err
	}
	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	if edge.Timestamp.IsZero() {
		edge.Timestamp = time.Now()
	}

	provJSON, err := json.Marshal(edge.Provenance)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provenance: %w", err)
	}
	var supportJSON []byte
	if len(edge.Support) > 0 {
		supportJSON, err = json.Marshal(edge.Support)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal support: %w", err)
		}
	}

	return []any{
		edge.ID, edge.TenantID, edge.SrcType, edge.Src, edge.Predicate,
		edge.DstType, edge.Dst, edge.Inferred, edge.Derived, provJSON, supportJSON, edge.Timestamp,
	}, nil
}

// validateEdge rejects records that cannot be keyed. Types are optional.
func validateEdge(edge *models.EdgeRecord) error {
	if edge == nil {
		return fmt.Errorf("edge cannot be nil")
	}
	switch {
	case edge.TenantID == "":
		return fmt.Errorf("tenant id must be provided for edge %s", edge.Ref())
	case edge.Src == "" || edge.Predicate == "" || edge.Dst == "":
		return fmt.Errorf("src, predicate and dst must be provided for edge %s", edge.Ref())
	}
	return nil
}

func markDerived(edge *models.EdgeRecord) {
	if edge == nil {
		return
	}
	edge.Inferred = true
	edge.Derived = true
}
