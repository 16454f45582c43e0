// Package portfolio derives valuation metrics from wallet holdings and market prices.
package portfolio

import (
	"sort"

	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// AllocationEntry is the share of one holding in the total portfolio value
type AllocationEntry struct {
	AssetID    types.AssetID   `json:"id"`
	Name       string          `json:"name"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Value      decimal.Decimal `json:"value"`
	Percentage float64         `json:"percentage"`
}

// TotalValue sums quantity x price over holdings. Holdings without a price count as zero.
func TotalValue(holdings []models.HoldingEntry, prices map[types.AssetID]models.PriceSnapshot) decimal.Decimal {
	total := decimal.Zero
	for _, h := range holdings {
		if p, ok := prices[h.AssetID]; ok {
			total = total.Add(h.Quantity.Mul(p.Price))
		}
	}
	return total
}

// PercentChange returns the change from comparison to current in percent,
// or 0 when comparison is 0
func PercentChange(current, comparison decimal.Decimal) float64 {
	if comparison.IsZero() {
		return 0
	}
	pct, _ := current.Sub(comparison).Div(comparison).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// Allocation returns every holding's share of the total value, largest first.
// A zero total yields an empty slice.
func Allocation(holdings []models.HoldingEntry, prices map[types.AssetID]models.PriceSnapshot) []AllocationEntry {
	total := TotalValue(holdings, prices)
	if total.IsZero() {
		return []AllocationEntry{}
	}

	out := make([]AllocationEntry, 0, len(holdings))
	for _, h := range holdings {
		entry := AllocationEntry{AssetID: h.AssetID, Quantity: h.Quantity, Price: decimal.Zero, Value: decimal.Zero}
		if p, ok := prices[h.AssetID]; ok {
			entry.Name = p.Name
			entry.Symbol = p.Symbol
			entry.Price = p.Price
			entry.Value = h.Quantity.Mul(p.Price)
		}
		entry.Percentage, _ = entry.Value.Div(total).Mul(decimal.NewFromInt(100)).Float64()
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Value.Equal(out[j].Value) {
			return out[i].Value.GreaterThan(out[j].Value)
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}
