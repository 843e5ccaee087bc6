package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/metrics"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/repositories"
)

// InstallResult describes the outcome of SchemaService.Install.
type InstallResult struct {
	Hash string
	// Changed is false when the tenant already had this schema active.
	Changed bool
}

// SchemaService owns each tenant's active ontology registry.
type SchemaService interface {
	// Validate checks tbox and returns its content hash.
	Validate(tbox ontology.TBox) (string, error)
	// Install validates tbox, persists it as the tenant's active schema and
	// swaps the in-process registry. Reasoning already holding the previous
	// registry keeps using it.
	Install(ctx context.Context, tenantID string, tbox ontology.TBox) (*InstallResult, error)
	// Registry returns the tenant's active registry, loading it from the
	// cache or the repository on first use. ErrNotFound if none is installed.
	Registry(ctx context.Context, tenantID string) (*ontology.Registry, error)
	// Current returns the in-process registry without loading.
	Current(tenantID string) (*ontology.Registry, bool)
}

type schemaService struct {
	repo       repositories.TBoxRepository
	cache      repositories.TBoxCache
	getTenant  TenantContextFunc
	metrics    *metrics.Metrics
	logger     *zap.Logger
	mu         sync.Mutex
	registries map[string]*atomic.Pointer[ontology.Registry]
}

// NewSchemaService creates a new SchemaService. cache may be nil.
func NewSchemaService(
	repo repositories.TBoxRepository,
	cache repositories.TBoxCache,
	getTenant TenantContextFunc,
	m *metrics.Metrics,
	logger *zap.Logger,
) SchemaService {
	if cache == nil {
		cache = repositories.NewTBoxCache(nil, 0)
	}
	return &schemaService{
		repo:       repo,
		cache:      cache,
		getTenant:  getTenant,
		metrics:    m,
		logger:     logger.Named("schema-service"),
		registries: make(map[string]*atomic.Pointer[ontology.Registry]),
	}
}

var _ SchemaService = (*schemaService)(nil)

func (s *schemaService) Validate(tbox ontology.TBox) (string, error) {
	if err := ontology.Validate(tbox); err != nil {
		return "", err
	}
	return ontology.ComputeHash(tbox), nil
}

func (s *schemaService) slot(tenantID string) *atomic.Pointer[ontology.Registry] {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.registries[tenantID]
	if !ok {
		p = &atomic.Pointer[ontology.Registry]{}
		s.registries[tenantID] = p
	}
	return p
}

func (s *schemaService) Install(ctx context.Context, tenantID string, tbox ontology.TBox) (*InstallResult, error) {
	reg, err := ontology.NewRegistry(tbox)
	if err != nil {
		s.metrics.SchemaInstall("rejected")
		s.logger.Warn("Rejected invalid schema",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, err
	}
	hash := reg.Hash()

	slot := s.slot(tenantID)
	if current := slot.Load(); current != nil && current.Hash() == hash {
		s.metrics.SchemaInstall("unchanged")
		return &InstallResult{Hash: hash, Changed: false}, nil
	}

	tenantCtx, cleanup, err := s.getTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer cleanup()

	if _, err := s.repo.Install(tenantCtx, tenantID, hash, reg.TBox()); err != nil {
		return nil, fmt.Errorf("failed to persist schema: %w", err)
	}

	// The cache is an accelerator; Postgres stays the source of truth.
	if err := s.cache.Put(ctx, hash, reg.TBox()); err != nil {
		s.logger.Warn("Failed to cache schema", zap.String("hash", hash), zap.Error(err))
	} else if err := s.cache.SetActiveHash(ctx, tenantID, hash); err != nil {
		s.logger.Warn("Failed to publish active schema hash", zap.String("hash", hash), zap.Error(err))
	}

	slot.Store(reg)
	s.metrics.SchemaInstall("installed")
	s.logger.Info("Installed schema",
		zap.String("tenant_id", tenantID),
		zap.String("hash", hash),
		zap.Int("classes", len(tbox.Classes)),
		zap.Int("properties", len(tbox.Properties)),
		zap.Int("chains", len(tbox.Chains)))
	return &InstallResult{Hash: hash, Changed: true}, nil
}

func (s *schemaService) Current(tenantID string) (*ontology.Registry, bool) {
	s.mu.Lock()
	slot, ok := s.registries[tenantID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	reg := slot.Load()
	return reg, reg != nil
}

func (s *schemaService) Registry(ctx context.Context, tenantID string) (*ontology.Registry, error) {
	if reg, ok := s.Current(tenantID); ok {
		return reg, nil
	}

	tbox, err := s.loadActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	reg, err := ontology.NewRegistry(tbox)
	if err != nil {
		return nil, fmt.Errorf("stored schema for tenant %s is invalid: %w", tenantID, err)
	}

	// A concurrent Install wins over a lazy load.
	slot := s.slot(tenantID)
	if slot.CompareAndSwap(nil, reg) {
		return reg, nil
	}
	return slot.Load(), nil
}

func (s *schemaService) loadActive(ctx context.Context, tenantID string) (ontology.TBox, error) {
	if hash, err := s.cache.ActiveHash(ctx, tenantID); err != nil {
		s.logger.Warn("Failed to read active schema hash from cache", zap.String("tenant_id", tenantID), zap.Error(err))
	} else if hash != "" {
		tbox, found, err := s.cache.Get(ctx, hash)
		if err != nil {
			s.logger.Warn("Failed to read schema from cache", zap.String("hash", hash), zap.Error(err))
		} else if found {
			return tbox, nil
		}
	}

	tenantCtx, cleanup, err := s.getTenant(ctx, tenantID)
	if err != nil {
		return ontology.TBox{}, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer cleanup()

	version, err := s.repo.GetActive(tenantCtx, tenantID)
	if err != nil {
		return ontology.TBox{}, fmt.Errorf("failed to load active schema: %w", err)
	}
	if version == nil {
		return ontology.TBox{}, fmt.Errorf("no schema installed for tenant %s: %w", tenantID, apperrors.ErrNotFound)
	}

	if err := s.cache.Put(ctx, version.Hash, version.TBox); err != nil {
		s.logger.Debug("Failed to warm schema cache", zap.String("hash", version.Hash), zap.Error(err))
	}
	return version.TBox, nil
}
