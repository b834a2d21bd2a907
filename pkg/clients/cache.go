package clients

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const DefaultCacheTTL = 5 * time.Minute

// CachedLookup memoizes successful lookups of an underlying Lookup for a
// fixed TTL. Failures are never cached.
type CachedLookup struct {
	next  Lookup
	cache *ttlcache.Cache[string, *EnrichedClient]
}

func NewCachedLookup(next Lookup, ttl time.Duration) *CachedLookup {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *EnrichedClient](ttl),
		ttlcache.WithDisableTouchOnHit[string, *EnrichedClient](),
	)
	go cache.Start()

	return &CachedLookup{next: next, cache: cache}
}

func (c *CachedLookup) GetEnrichedClient(ctx context.Context, tenantID, clientID string) (*EnrichedClient, error) {
	key := tenantID + ":" + clientID
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	client, err := c.next.GetEnrichedClient(ctx, tenantID, clientID)
	if err != nil {
		return nil, err
	}
	slog.Debug("Caching enriched client", "tenant_id", tenantID, "client_id", clientID)
	c.cache.Set(key, client, ttlcache.DefaultTTL)
	return client, nil
}

// Invalidate drops a cached client, e.g. after its metadata changed.
func (c *CachedLookup) Invalidate(tenantID, clientID string) {
	c.cache.Delete(tenantID + ":" + clientID)
}

// Stop halts the expiry loop.
func (c *CachedLookup) Stop() {
	c.cache.Stop()
}

var _ Lookup = (*CachedLookup)(nil)
