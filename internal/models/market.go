// Package models defines the records exchanged between the market, wallet and
// portfolio components.
package models

import (
	"time"

	"github.com/crypto-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// PriceSnapshot is a complete, timestamped market record for one asset.
// Snapshots replace each other wholesale; fields are never patched individually.
type PriceSnapshot struct {
	AssetID          types.AssetID   `json:"id"`
	Name             string          `json:"name"`
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	PercentChange24h float64         `json:"percentChange24h"`
	PercentChange7d  float64         `json:"percentChange7d"`
	PercentChange30d float64         `json:"percentChange30d"`
	MarketCap        decimal.Decimal `json:"marketCap"`
	Volume24h        decimal.Decimal `json:"volume24h"`
	LastUpdated      time.Time       `json:"lastUpdated"`
}

// Validate checks the fields every source must populate
func (s PriceSnapshot) Validate() error {
	if s.AssetID <= 0 {
		return &types.ServiceError{Code: "INVALID_SNAPSHOT", Message: "snapshot has no asset id"}
	}
	if s.Symbol == "" {
		return &types.ServiceError{
			Code:    "INVALID_SNAPSHOT",
			Message: "snapshot has no symbol",
			Details: map[string]interface{}{"assetId": s.AssetID},
		}
	}
	if s.Price.IsNegative() {
		return &types.ServiceError{
			Code:    "INVALID_SNAPSHOT",
			Message: "snapshot price is negative",
			Details: map[string]interface{}{"assetId": s.AssetID, "price": s.Price.String()},
		}
	}
	if s.LastUpdated.IsZero() {
		return &types.ServiceError{
			Code:    "INVALID_SNAPSHOT",
			Message: "snapshot has no timestamp",
			Details: map[string]interface{}{"assetId": s.AssetID},
		}
	}
	return nil
}

// HistoricalPoint is one sample of a historical series
type HistoricalPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	MarketCap decimal.Decimal `json:"marketCap"`
}

// HistoricalSeries holds points for one asset and timeframe, ascending by timestamp
type HistoricalSeries struct {
	AssetID   types.AssetID     `json:"id"`
	Timeframe types.Timeframe   `json:"timeframe"`
	Points    []HistoricalPoint `json:"points"`
}

// PriceAt returns the price of the latest point at or before t. When t precedes
// the whole series the first point is used.
func (s HistoricalSeries) PriceAt(t time.Time) (decimal.Decimal, bool) {
	if len(s.Points) == 0 {
		return decimal.Zero, false
	}
	best := s.Points[0]
	for _, p := range s.Points {
		if p.Timestamp.After(t) {
			break
		}
		best = p
	}
	return best.Price, true
}

// Covers reports whether t falls inside the series time range
func (s HistoricalSeries) Covers(t time.Time) bool {
	if len(s.Points) == 0 {
		return false
	}
	return !t.Before(s.Points[0].Timestamp) && !t.After(s.Points[len(s.Points)-1].Timestamp)
}

// GlobalMarket is the aggregate market record
type GlobalMarket struct {
	TotalMarketCap         decimal.Decimal `json:"totalMarketCap"`
	TotalVolume24h         decimal.Decimal `json:"totalVolume24h"`
	BTCDominance           float64         `json:"btcDominance"`
	ETHDominance           float64         `json:"ethDominance"`
	MarketCapChange24h     float64         `json:"marketCapChange24h"`
	ActiveCryptocurrencies int             `json:"activeCryptocurrencies"`
	LastUpdated            time.Time       `json:"lastUpdated"`
}
