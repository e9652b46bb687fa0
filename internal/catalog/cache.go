package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "catalog:item_type:"

// CachedReader is a Redis read-through cache in front of another Reader.
// Concurrent misses for the same id share one upstream load.
type CachedReader struct {
	next   Reader
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedReader wraps next. A nil client disables caching.
func NewCachedReader(next Reader, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedReader{next: next, client: client, ttl: ttl, logger: logger}
}

// ItemType implements Reader.
func (c *CachedReader) ItemType(ctx context.Context, id uuid.UUID) (ItemType, error) {
	if c.client == nil {
		return c.next.ItemType(ctx, id)
	}
	key := cacheKeyPrefix + id.String()
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var it ItemType
		if err := json.Unmarshal(raw, &it); err == nil {
			return it, nil
		}
		c.logger.Warn("catalog cache entry corrupt", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		// Redis is an optimisation; fall through to the source.
		c.logger.Warn("catalog cache get", slog.Any("error", err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		it, err := c.next.ItemType(ctx, id)
		if err != nil {
			return ItemType{}, err
		}
		c.store(ctx, key, it)
		return it, nil
	})
	if err != nil {
		return ItemType{}, err
	}
	return v.(ItemType), nil
}

// Invalidate drops the cached entry for id.
func (c *CachedReader) Invalidate(ctx context.Context, id uuid.UUID) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, cacheKeyPrefix+id.String()).Err(); err != nil {
		return fmt.Errorf("catalog: invalidate: %w", err)
	}
	return nil
}

func (c *CachedReader) store(ctx context.Context, key string, it ItemType) {
	raw, err := json.Marshal(it)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache set", slog.Any("error", err))
	}
}
