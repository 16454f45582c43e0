package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
)

// PriceCache keeps the latest merged snapshot per asset in Redis so a restarted
// process can serve stale prices before its first refresh completes.
type PriceCache struct {
	cache *CacheService
}

// NewPriceCache creates a price cache on top of a cache service
func NewPriceCache(cache *CacheService) *PriceCache {
	return &PriceCache{cache: cache}
}

// SavePrices stores every snapshot and records its id in the index
func (p *PriceCache) SavePrices(ctx context.Context, prices map[types.AssetID]models.PriceSnapshot) error {
	if len(prices) == 0 {
		return nil
	}

	var index []types.AssetID
	if _, err := p.cache.Get(ctx, p.indexKey(), &index); err != nil {
		return err
	}
	known := make(map[types.AssetID]struct{}, len(index))
	for _, id := range index {
		known[id] = struct{}{}
	}

	for id, snap := range prices {
		if err := p.cache.Set(ctx, p.priceKey(id), snap); err != nil {
			return fmt.Errorf("failed to cache price for asset %d: %w", id, err)
		}
		if _, ok := known[id]; !ok {
			known[id] = struct{}{}
			index = append(index, id)
		}
	}

	sort.Slice(index, func(i, j int) bool { return index[i] < index[j] })
	return p.cache.Set(ctx, p.indexKey(), index)
}

// LoadPrices returns every cached snapshot that has not expired
func (p *PriceCache) LoadPrices(ctx context.Context) (map[types.AssetID]models.PriceSnapshot, error) {
	var index []types.AssetID
	if _, err := p.cache.Get(ctx, p.indexKey(), &index); err != nil {
		return nil, err
	}

	out := make(map[types.AssetID]models.PriceSnapshot, len(index))
	for _, id := range index {
		var snap models.PriceSnapshot
		found, err := p.cache.Get(ctx, p.priceKey(id), &snap)
		if err != nil {
			return nil, err
		}
		if found {
			out[id] = snap
		}
	}
	return out, nil
}

// Clear drops every cached snapshot
func (p *PriceCache) Clear(ctx context.Context) error {
	if err := p.cache.InvalidatePattern(ctx, p.cache.GenerateCacheKey(CacheKeyPrice)+":*"); err != nil {
		return err
	}
	return p.cache.Invalidate(ctx, p.indexKey())
}

func (p *PriceCache) priceKey(id types.AssetID) string {
	return p.cache.GenerateCacheKey(CacheKeyPrice, id.String())
}

func (p *PriceCache) indexKey() string {
	return p.cache.GenerateCacheKey(CacheKeyPriceIndex)
}
