package source

import (
	"fmt"
	"sort"

	"github.com/crypto-dashboard/internal/types"
)

// assetInfo seeds the simulated generator
type assetInfo struct {
	Name      string
	Symbol    string
	BasePrice float64
	MarketCap float64
}

var catalog = map[types.AssetID]assetInfo{
	1:    {Name: "Bitcoin", Symbol: "BTC", BasePrice: 42000, MarketCap: 800_000_000_000},
	2:    {Name: "Litecoin", Symbol: "LTC", BasePrice: 150, MarketCap: 11_000_000_000},
	52:   {Name: "XRP", Symbol: "XRP", BasePrice: 0.55, MarketCap: 29_000_000_000},
	74:   {Name: "Dogecoin", Symbol: "DOGE", BasePrice: 0.12, MarketCap: 15_000_000_000},
	825:  {Name: "Tether", Symbol: "USDT", BasePrice: 0.92, MarketCap: 83_000_000_000},
	1027: {Name: "Ethereum", Symbol: "ETH", BasePrice: 2800, MarketCap: 340_000_000_000},
	1839: {Name: "Binance Coin", Symbol: "BNB", BasePrice: 380, MarketCap: 60_000_000_000},
	3408: {Name: "USD Coin", Symbol: "USDC", BasePrice: 0.91, MarketCap: 43_000_000_000},
	5426: {Name: "Solana", Symbol: "SOL", BasePrice: 120, MarketCap: 48_000_000_000},
	6636: {Name: "Polkadot", Symbol: "DOT", BasePrice: 18, MarketCap: 22_000_000_000},
}

// lookupAsset returns catalog data or a synthesized entry for unknown ids
func lookupAsset(id types.AssetID) assetInfo {
	if info, ok := catalog[id]; ok {
		return info
	}
	return assetInfo{
		Name:      fmt.Sprintf("Crypto %d", id),
		Symbol:    fmt.Sprintf("C%d", id),
		BasePrice: 10 + float64(id%1000),
		MarketCap: 1_000_000 * float64(id%100),
	}
}

// KnownAssets returns the catalog ids in ascending order
func KnownAssets() []types.AssetID {
	ids := make([]types.AssetID, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
