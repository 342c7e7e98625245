package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// MemoryPriceCache implements vendor.PriceCache in process memory, for
// single-instance deployments and tests.
type MemoryPriceCache struct {
	mu        sync.RWMutex
	entries   map[string]vendor.CachedPrice
	staleness StalenessFunc
}

// NewMemoryPriceCache creates an in-memory price cache.
func NewMemoryPriceCache(staleness StalenessFunc) *MemoryPriceCache {
	return &MemoryPriceCache{
		entries:   make(map[string]vendor.CachedPrice),
		staleness: staleness,
	}
}

// Get returns the cached price and whether it is still fresh.
func (c *MemoryPriceCache) Get(_ context.Context, officeID, vendorID uuid.UUID, nativeID string) (*vendor.CachedPrice, bool, error) {
	key := priceKey("", officeID, vendorID, nativeID)

	c.mu.RLock()
	price, found := c.entries[key]
	c.mu.RUnlock()
	if !found {
		return nil, false, nil
	}

	fresh := time.Since(price.ObservedAt) <= c.staleness(vendorID)
	return &price, fresh, nil
}

// Put stores a fresh observation.
func (c *MemoryPriceCache) Put(_ context.Context, officeID, vendorID uuid.UUID, nativeID string, price vendor.CachedPrice) error {
	key := priceKey("", officeID, vendorID, nativeID)

	c.mu.Lock()
	c.entries[key] = price
	c.mu.Unlock()
	return nil
}

// Ensure MemoryPriceCache implements vendor.PriceCache
var _ vendor.PriceCache = (*MemoryPriceCache)(nil)
