package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// PriceSyncResult aggregates one batch price sync.
type PriceSyncResult struct {
	// Refreshed counts products whose price was fetched live and stored.
	Refreshed int
	// Cached counts products served from a still-fresh cached price.
	Cached int
	// Failed lists native product ids whose live lookup failed.
	Failed []string
}

// SyncPrices reconciles vendor-reported price and availability for the given
// known products. A product whose cached price is still inside the vendor's
// staleness window is skipped; the rest are looked up live under bounded
// fan-out, refreshing both the catalog row and the office-scoped cache.
// Per-product failures do not abort the batch.
func (e *Engine) SyncPrices(ctx context.Context, pair vendor.OfficeVendor, nativeIDs []string) (*PriceSyncResult, error) {
	result := &PriceSyncResult{}
	if len(nativeIDs) == 0 {
		return result, nil
	}

	stale := make([]string, 0, len(nativeIDs))
	for _, id := range nativeIDs {
		_, fresh, err := e.priceCache.Get(ctx, pair.OfficeID, pair.VendorID, id)
		if err != nil {
			e.logger.Warn("price cache read failed", zap.String("product", id), zap.Error(err))
		}
		if fresh {
			result.Cached++
			continue
		}
		stale = append(stale, id)
	}
	if len(stale) == 0 {
		return result, nil
	}

	err := e.withSession(ctx, pair, func(adapter vendor.Adapter, sess *vendor.Session) error {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.SearchFanout)

		for _, id := range stale {
			g.Go(func() error {
				_, err := e.lookupQuote(gctx, adapter, sess, pair, id)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					// Session loss dooms the rest of the batch; anything
					// else is a per-product failure.
					if vendor.IsAuthenticationError(err) {
						return err
					}
					e.logger.Warn("price lookup failed",
						zap.String("slug", pair.Slug.String()),
						zap.String("product", id),
						zap.Error(err))
					result.Failed = append(result.Failed, id)
					return nil
				}
				result.Refreshed++
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// lookupQuote fetches the live price for one product and persists it.
func (e *Engine) lookupQuote(ctx context.Context, adapter vendor.Adapter, sess *vendor.Session, pair vendor.OfficeVendor, nativeID string) (*vendor.PriceQuote, error) {
	page, err := adapter.SearchProducts(ctx, sess, vendor.SearchQuery{Term: nativeID, Page: 1})
	if err != nil {
		return nil, err
	}

	var hit *vendor.SearchProduct
	for i := range page.Products {
		if strings.EqualFold(page.Products[i].VendorProductID, nativeID) {
			hit = &page.Products[i]
			break
		}
	}
	if hit == nil {
		return nil, vendor.ErrVendorSite
	}

	now := time.Now()
	if _, err := e.products.Upsert(ctx, pair.VendorID, hit.VendorProductID, vendor.ProductAttrs{
		Name:         hit.Name,
		Manufacturer: hit.Manufacturer,
		Packaging:    hit.Packaging,
		Price:        hit.Price,
		Currency:     hit.Currency,
		LastSeenAt:   now,
	}); err != nil {
		return nil, err
	}
	if err := e.priceCache.Put(ctx, pair.OfficeID, pair.VendorID, hit.VendorProductID, vendor.CachedPrice{
		Price:      hit.Price,
		Currency:   hit.Currency,
		InStock:    hit.InStock,
		ObservedAt: now,
	}); err != nil {
		return nil, err
	}

	return &vendor.PriceQuote{
		VendorProductID: hit.VendorProductID,
		Price:           hit.Price,
		Currency:        hit.Currency,
		InStock:         hit.InStock,
		ObservedAt:      now,
	}, nil
}
