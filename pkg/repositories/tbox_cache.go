package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
)

// TBoxCache holds validated schemas by content hash so that replicas can
// skip re-reading Postgres when a tenant's schema changes.
type TBoxCache interface {
	// Get returns the schema stored under hash. The bool is false on a miss.
	Get(ctx context.Context, hash string) (ontology.TBox, bool, error)
	Put(ctx context.Context, hash string, tbox ontology.TBox) error
	// ActiveHash returns the hash last published for tenantID, or "" on a miss.
	ActiveHash(ctx context.Context, tenantID string) (string, error)
	SetActiveHash(ctx context.Context, tenantID, hash string) error
}

const (
	tboxCacheKeyPrefix  = "reasoner:tbox:"
	activeHashKeyPrefix = "reasoner:tenant-active:"
)

type redisTBoxCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTBoxCache returns a Redis-backed cache, or a no-op cache when client is
// nil (Redis not configured).
func NewTBoxCache(client *redis.Client, ttl time.Duration) TBoxCache {
	if client == nil {
		return noopTBoxCache{}
	}
	return &redisTBoxCache{client: client, ttl: ttl}
}

var _ TBoxCache = (*redisTBoxCache)(nil)

func (c *redisTBoxCache) Get(ctx context.Context, hash string) (ontology.TBox, bool, error) {
	data, err := c.client.Get(ctx, tboxCacheKeyPrefix+hash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ontology.TBox{}, false, nil
		}
		return ontology.TBox{}, false, fmt.Errorf("failed to read cached tbox %s: %w", hash, err)
	}
	var tbox ontology.TBox
	if err := json.Unmarshal(data, &tbox); err != nil {
		return ontology.TBox{}, false, fmt.Errorf("failed to unmarshal cached tbox %s: %w", hash, err)
	}
	return tbox, true, nil
}

func (c *redisTBoxCache) Put(ctx context.Context, hash string, tbox ontology.TBox) error {
	data, err := json.Marshal(tbox)
	if err != nil {
		return fmt.Errorf("failed to marshal tbox: %w", err)
	}
	if err := c.client.Set(ctx, tboxCacheKeyPrefix+hash, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache tbox %s: %w", hash, err)
	}
	return nil
}

func (c *redisTBoxCache) ActiveHash(ctx context.Context, tenantID string) (string, error) {
	hash, err := c.client.Get(ctx, activeHashKeyPrefix+tenantID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read active hash for %s: %w", tenantID, err)
	}
	return hash, nil
}

// SetActiveHash stores the pointer without a TTL.
func (c *redisTBoxCache) SetActiveHash(ctx context.Context, tenantID, hash string) error {
	if err := c.client.Set(ctx, activeHashKeyPrefix+tenantID, hash, 0).Err(); err != nil {
		return fmt.Errorf("failed to publish active hash for %s: %w", tenantID, err)
	}
	return nil
}

type noopTBoxCache struct{}

func (noopTBoxCache) Get(context.Context, string) (ontology.TBox, bool, error) {
	return ontology.TBox{}, false, nil
}

func (noopTBoxCache) Put(context.Context, string, ontology.TBox) error    { return nil }
func (noopTBoxCache) ActiveHash(context.Context, string) (string, error)  { return "", nil }
func (noopTBoxCache) SetActiveHash(context.Context, string, string) error { return nil }
