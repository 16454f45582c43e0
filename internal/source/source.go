// Package source provides the price data sources backing the market state: a
// deterministic simulated generator and the CoinMarketCap quotes API.
package source

import (
	"context"
	"sort"

	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
)

// PriceDataSource produces market records in the canonical shape regardless of origin.
// FetchPrices either returns a snapshot for every requested id or fails.
type PriceDataSource interface {
	Name() string
	FetchPrices(ctx context.Context, ids []types.AssetID) (map[types.AssetID]models.PriceSnapshot, error)
	FetchTopAssets(ctx context.Context, limit int) ([]models.PriceSnapshot, error)
	FetchHistorical(ctx context.Context, id types.AssetID, tf types.Timeframe) (models.HistoricalSeries, error)
	FetchGlobalMarket(ctx context.Context) (models.GlobalMarket, error)
}

func validateIDs(ids []types.AssetID) error {
	if len(ids) == 0 {
		return errors.NewInvalidInputError("ids", "at least one asset id is required")
	}
	for _, id := range ids {
		if id <= 0 {
			return errors.NewInvalidInputError("ids", "asset ids must be positive")
		}
	}
	return nil
}

func validateLimit(limit int) error {
	if limit <= 0 {
		return errors.NewInvalidInputError("limit", "must be greater than zero")
	}
	return nil
}

// dedupe keeps the first occurrence of each id
func dedupe(ids []types.AssetID) []types.AssetID {
	seen := make(map[types.AssetID]struct{}, len(ids))
	out := make([]types.AssetID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// rankByMarketCap sorts descending by market cap and truncates to limit
func rankByMarketCap(snapshots []models.PriceSnapshot, limit int) []models.PriceSnapshot {
	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].MarketCap.GreaterThan(snapshots[j].MarketCap)
	})
	if len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}
	return snapshots
}
