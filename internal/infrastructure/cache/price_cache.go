package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// StalenessFunc resolves the freshness window for a vendor. Prices observed
// longer ago than the window are reported stale but still returned, so
// callers can fall back to them when a live fetch fails.
type StalenessFunc func(vendorID uuid.UUID) time.Duration

// retention keeps stale observations around for fallback before Redis
// evicts them outright.
const retention = 7 * 24 * time.Hour

// RedisPriceCache implements vendor.PriceCache on Redis. Prices are
// office-scoped: two offices with different negotiated rates never see each
// other's numbers.
type RedisPriceCache struct {
	client    *redis.Client
	keyPrefix string
	staleness StalenessFunc
}

// NewRedisPriceCache creates a Redis-backed price cache.
func NewRedisPriceCache(client *redis.Client, staleness StalenessFunc) *RedisPriceCache {
	return &RedisPriceCache{
		client:    client,
		keyPrefix: "engine:price:",
		staleness: staleness,
	}
}

func priceKey(prefix string, officeID, vendorID uuid.UUID, nativeID string) string {
	return prefix + officeID.String() + ":" + vendorID.String() + ":" + nativeID
}

// Get returns the cached price and whether it is still inside the vendor's
// staleness window. A missing entry returns (nil, false, nil).
func (c *RedisPriceCache) Get(ctx context.Context, officeID, vendorID uuid.UUID, nativeID string) (*vendor.CachedPrice, bool, error) {
	key := priceKey(c.keyPrefix, officeID, vendorID, nativeID)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("price cache: get %s: %w", key, err)
	}

	var price vendor.CachedPrice
	if err := json.Unmarshal(raw, &price); err != nil {
		// A corrupt entry behaves like a miss; the next Put repairs it.
		return nil, false, nil
	}

	fresh := time.Since(price.ObservedAt) <= c.staleness(vendorID)
	return &price, fresh, nil
}

// Put stores a fresh observation.
func (c *RedisPriceCache) Put(ctx context.Context, officeID, vendorID uuid.UUID, nativeID string, price vendor.CachedPrice) error {
	key := priceKey(c.keyPrefix, officeID, vendorID, nativeID)

	raw, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("price cache: encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, retention).Err(); err != nil {
		return fmt.Errorf("price cache: put %s: %w", key, err)
	}
	return nil
}

// Ensure RedisPriceCache implements vendor.PriceCache
var _ vendor.PriceCache = (*RedisPriceCache)(nil)
