package repositories

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
)

type memoryTBoxRepository struct {
	mu       sync.RWMutex
	versions map[string][]*models.TBoxVersion
	now      func() time.Time
}

// NewMemoryTBoxRepository creates a TBoxRepository held in process memory.
// It needs no tenant scope in the context.
func NewMemoryTBoxRepository() TBoxRepository {
	return &memoryTBoxRepository{
		versions: make(map[string][]*models.TBoxVersion),
		now:      time.Now,
	}
}

var _ TBoxRepository = (*memoryTBoxRepository)(nil)

func (r *memoryTBoxRepository) Install(_ context.Context, tenantID, hash string, tbox ontology.TBox) (*models.TBoxVersion, error) {
	if tenantID == "" || hash == "" {
		return nil, fmt.Errorf("tenant id and hash must be provided")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var installed *models.TBoxVersion
	for _, v := range r.versions[tenantID] {
		v.Active = v.Hash == hash
		if v.Active {
			installed = v
		}
	}
	if installed == nil {
		installed = &models.TBoxVersion{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Hash:      hash,
			TBox:      tbox.Clone(),
			Active:    true,
			CreatedAt: r.now(),
		}
		r.versions[tenantID] = append(r.versions[tenantID], installed)
	}
	return cloneVersion(installed), nil
}

func (r *memoryTBoxRepository) GetActive(_ context.Context, tenantID string) (*models.TBoxVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.versions[tenantID] {
		if v.Active {
			return cloneVersion(v), nil
		}
	}
	return nil, nil
}

func (r *memoryTBoxRepository) GetByHash(_ context.Context, tenantID, hash string) (*models.TBoxVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.versions[tenantID] {
		if v.Hash == hash {
			return cloneVersion(v), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// ListVersions returns newest first, matching the Postgres ordering.
func (r *memoryTBoxRepository) ListVersions(_ context.Context, tenantID string) ([]*models.TBoxVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.TBoxVersion, 0, len(r.versions[tenantID]))
	for _, v := range r.versions[tenantID] {
		out = append(out, cloneVersion(v))
	}
	slices.Reverse(out)
	return out, nil
}

func cloneVersion(v *models.TBoxVersion) *models.TBoxVersion {
	c := *v
	c.TBox = v.TBox.Clone()
	return &c
}
