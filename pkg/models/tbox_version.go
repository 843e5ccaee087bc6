package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
)

// TBoxVersion is one stored revision of a tenant's ontology schema. Versions
// are content-addressed by Hash; at most one per tenant is active.
type TBoxVersion struct {
	ID        uuid.UUID     `json:"id"`
	TenantID  string        `json:"tenant_id"`
	Hash      string        `json:"hash"`
	TBox      ontology.TBox `json:"tbox"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"created_at"`
}
