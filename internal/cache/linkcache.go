// Package cache implements the Resolver's link cache (spec §4.1, P9):
// serialized Link rows keyed by short code (optionally scoped by template
// slug), with a bounded TTL and an Invalidate method for link mutation.
// Grounded on the teacher's internal/database.RedisDB wrapper and the
// spendCache idiom in internal/dsp/pacing.go.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linkforty/linkforty-core/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LinkCache wraps a redis.Client. A nil *LinkCache is valid and behaves as
// an always-miss cache, matching the teacher's "cache absence does not
// degrade correctness" pattern.
type LinkCache struct {
	client *redis.Client
	ttlSec int
	logger *zap.Logger
}

func New(client *redis.Client, ttlSeconds int, logger *zap.Logger) *LinkCache {
	return &LinkCache{client: client, ttlSec: ttlSeconds, logger: logger}
}

// Key builds the cache key for a bare short code or a slug-scoped one.
func Key(slug, code string) string {
	if slug == "" {
		return fmt.Sprintf("link:%s", code)
	}
	return fmt.Sprintf("link:%s:%s", slug, code)
}

// Get returns the cached link, or (nil, false) on miss or cache failure.
// Cache failures are logged as warnings, never returned as errors — the
// caller always falls through to the store.
func (c *LinkCache) Get(ctx context.Context, key string) (*models.Link, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("link cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var link models.Link
	if err := json.Unmarshal(raw, &link); err != nil {
		c.logger.Warn("link cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &link, true
}

// Set writes back a resolved link with the configured TTL. Failure is a
// warning, never fatal.
func (c *LinkCache) Set(ctx context.Context, key string, link *models.Link) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(link)
	if err != nil {
		c.logger.Warn("link cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, raw, time.Duration(c.ttlSec)*time.Second).Err(); err != nil {
		c.logger.Warn("link cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes both the bare and slug-scoped keys for a link. Nothing
// in this module calls it: LinkStore.Update and LinkStore.Delete do not touch
// the cache, so after a link changes its cached copy can still be served
// until the TTL expires.
func (c *LinkCache) Invalidate(ctx context.Context, slug, code string) {
	if c == nil || c.client == nil {
		return
	}
	keys := []string{Key("", code)}
	if slug != "" {
		keys = append(keys, Key(slug, code))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("link cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
