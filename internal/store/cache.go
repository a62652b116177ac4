package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-backoffice/models"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RelationCache is a read-through Redis cache in front of a RelationStore.
// Redis failures degrade to direct store reads; absent entities are not cached.
type RelationCache struct {
	inner RelationStore
	redis redis.Cmdable
	ttl   time.Duration
	group singleflight.Group
}

func NewRelationCache(inner RelationStore, rdb redis.Cmdable, ttl time.Duration) *RelationCache {
	return &RelationCache{inner: inner, redis: rdb, ttl: ttl}
}

func relationKey(c Collection, id string) string {
	return fmt.Sprintf("rel:%s:%s", c, id)
}

func (c *RelationCache) GetAssistant(ctx context.Context, id string) (*models.Assistant, error) {
	return getCached(ctx, c, relationKey(CollectionAssistants, id), func(ctx context.Context) (*models.Assistant, error) {
		return c.inner.GetAssistant(ctx, id)
	})
}

func (c *RelationCache) GetNamed(ctx context.Context, coll Collection, id string) (*models.NamedEntity, error) {
	return getCached(ctx, c, relationKey(coll, id), func(ctx context.Context) (*models.NamedEntity, error) {
		return c.inner.GetNamed(ctx, coll, id)
	})
}

func (c *RelationCache) FindAssistants(ctx context.Context, ids []string) (map[string]*models.Assistant, error) {
	return findCached(ctx, c, CollectionAssistants, ids, c.inner.FindAssistants)
}

func (c *RelationCache) FindNamed(ctx context.Context, coll Collection, ids []string) (map[string]*models.NamedEntity, error) {
	return findCached(ctx, c, coll, ids, func(ctx context.Context, ids []string) (map[string]*models.NamedEntity, error) {
		return c.inner.FindNamed(ctx, coll, ids)
	})
}

// Invalidate drops the cached entity, after a delete or rename.
func (c *RelationCache) Invalidate(ctx context.Context, coll Collection, id string) {
	if err := c.redis.Del(ctx, relationKey(coll, id)).Err(); err != nil {
		slog.Warn("Relation cache invalidation failed", "collection", coll, "id", id, "error", err)
	}
}

func (c *RelationCache) put(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.Warn("Relation cache write failed", "key", key, "error", err)
	}
}

func getCached[T any](ctx context.Context, c *RelationCache, key string, load func(context.Context) (*T, error)) (*T, error) {
	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("Relation cache read failed", "key", key, "error", err)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.put(ctx, key, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

func findCached[T any](ctx context.Context, c *RelationCache, coll Collection, ids []string, load func(context.Context, []string) (map[string]*T, error)) (map[string]*T, error) {
	ids = dedup(ids)
	out := make(map[string]*T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = relationKey(coll, id)
	}

	missing := ids
	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Warn("Relation cache batch read failed", "collection", coll, "error", err)
	} else {
		missing = make([]string, 0, len(ids))
		for i, value := range values {
			raw, ok := value.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var cached T
			if err := json.Unmarshal([]byte(raw), &cached); err != nil {
				missing = append(missing, ids[i])
				continue
			}
			out[ids[i]] = &cached
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := load(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		if v, ok := loaded[id]; ok {
			out[id] = v
			c.put(ctx, relationKey(coll, id), v)
		}
	}
	return out, nil
}

var _ RelationStore = (*RelationCache)(nil)
