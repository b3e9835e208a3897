package lake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syncline-io/syncline/internal/logging"
	"github.com/syncline-io/syncline/internal/models"
)

// ServingCache is a read-through Redis cache for entity-scoped serving
// reads. Aggregation passes invalidate the affected entity type. Cache
// failures are logged and degrade to direct reads; they never fail a query.
type ServingCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewServingCache(client *redis.Client, ttl time.Duration, logger *logging.Logger) *ServingCache {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ServingCache{client: client, ttl: ttl, logger: logger}
}

func cacheKey(entityType models.EntityType, limit int) string {
	return fmt.Sprintf("syncline:serving:%s:%d", entityType, limit)
}

func invalidationPattern(entityType models.EntityType) string {
	return fmt.Sprintf("syncline:serving:%s:*", entityType)
}

// Get returns a cached result, or false on miss or cache failure.
func (c *ServingCache) Get(ctx context.Context, entityType models.EntityType, limit int) (*ServingDataResult, bool) {
	data, err := c.client.Get(ctx, cacheKey(entityType, limit)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "serving cache read failed", "entity_type", string(entityType), "error", err)
		return nil, false
	}

	var result ServingDataResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.WarnContext(ctx, "serving cache entry corrupt, dropping",
			"entity_type", string(entityType), "error", err)
		c.client.Del(ctx, cacheKey(entityType, limit))
		return nil, false
	}
	return &result, true
}

// Set stores a result with the configured TTL.
func (c *ServingCache) Set(ctx context.Context, entityType models.EntityType, limit int, result *ServingDataResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to marshal serving cache entry", "error", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(entityType, limit), data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "serving cache write failed", "entity_type", string(entityType), "error", err)
	}
}

// Invalidate drops every cached result for an entity type.
func (c *ServingCache) Invalidate(ctx context.Context, entityType models.EntityType) {
	iter := c.client.Scan(ctx, 0, invalidationPattern(entityType), 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.WarnContext(ctx, "serving cache invalidation failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.WarnContext(ctx, "serving cache scan failed", "entity_type", string(entityType), "error", err)
	}
}
