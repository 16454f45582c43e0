package market

import (
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
)

// MergePrices returns the union of old and incoming. A record for an asset
// present in both is replaced wholesale by the incoming one unless the incoming
// one is older, in which case the cached record is kept and the asset is
// reported in rejected. Neither input is modified.
func MergePrices(old, incoming map[types.AssetID]models.PriceSnapshot) (map[types.AssetID]models.PriceSnapshot, []types.AssetID) {
	merged := make(map[types.AssetID]models.PriceSnapshot, len(old)+len(incoming))
	for id, snap := range old {
		merged[id] = snap
	}

	var rejected []types.AssetID
	for id, snap := range incoming {
		if cur, ok := merged[id]; ok && snap.LastUpdated.Before(cur.LastUpdated) {
			rejected = append(rejected, id)
			continue
		}
		merged[id] = snap
	}
	return merged, rejected
}
