package cache

import (
	"context"
	"time"
)

// LayeredCache checks a fast local layer before a shared one
type LayeredCache struct {
	local    Cache
	shared   Cache
	localTTL time.Duration
}

// NewLayeredCache combines a local and a shared cache. Hits in the shared
// layer are promoted into the local one for localTTL.
func NewLayeredCache(local, shared Cache, localTTL time.Duration) *LayeredCache {
	return &LayeredCache{local: local, shared: shared, localTTL: localTTL}
}

func (c *LayeredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, found := c.local.Get(ctx, key); found {
		return val, true
	}
	if val, found := c.shared.Get(ctx, key); found {
		_ = c.local.Set(ctx, key, val, c.localTTL)
		return val, true
	}
	return nil, false
}

func (c *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	localTTL := c.localTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	if err := c.local.Set(ctx, key, value, localTTL); err != nil {
		return err
	}
	return c.shared.Set(ctx, key, value, ttl)
}

func (c *LayeredCache) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	return c.shared.Delete(ctx, key)
}

func (c *LayeredCache) Clear(ctx context.Context) error {
	_ = c.local.Clear(ctx)
	return c.shared.Clear(ctx)
}
