package wallet

import (
	"context"
	"math"
	"time"

	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

type demoTrade struct {
	kind    types.TransactionKind
	id      types.AssetID
	qty     string
	price   string
	daysAgo int
}

// demoTrades leave the wallet holding 0.05 BTC, 1.2 ETH and 12 SOL
var demoTrades = []demoTrade{
	{kind: types.KindBuy, id: 1, qty: "0.05", price: "40000", daysAgo: 30},
	{kind: types.KindBuy, id: 1027, qty: "1.2", price: "2500", daysAgo: 15},
	{kind: types.KindBuy, id: 5426, qty: "15", price: "100", daysAgo: 7},
	{kind: types.KindSell, id: 5426, qty: "3", price: "110", daysAgo: 3},
}

// SeedDemo fills an empty wallet with the demo trades and a daily valuation
// history ending at now. A wallet that already traded is left untouched.
func (s *State) SeedDemo(ctx context.Context, now time.Time) error {
	if !s.IsEmpty() {
		return nil
	}
	now = now.UTC()

	for _, t := range demoTrades {
		at := now.Add(-time.Duration(t.daysAgo) * 24 * time.Hour)
		if _, err := s.trade(ctx, t.kind, t.id, decimal.RequireFromString(t.qty), decimal.RequireFromString(t.price), at); err != nil {
			return err
		}
	}

	for daysAgo := MaxPortfolioHistory - 1; daysAgo >= 0; daysAgo-- {
		ts := now.AddDate(0, 0, -daysAgo)
		value := 6000 + float64(daysAgo)*50 + math.Sin(float64(daysAgo))*250

		if err := s.RecordPortfolioPoint(ctx, ts, decimal.NewFromFloat(value).Round(2), demoHoldingsAt(daysAgo)); err != nil {
			return err
		}
	}

	s.logger.WithField("transactions", len(demoTrades)).Info("Seeded demo wallet")
	return nil
}

// demoHoldingsAt reconstructs the demo positions as they stood daysAgo
func demoHoldingsAt(daysAgo int) []models.HoldingEntry {
	btc := decimal.RequireFromString("0.05")
	if daysAgo > 30 {
		btc = decimal.RequireFromString("0.03")
	}
	eth := decimal.RequireFromString("1.2")
	if daysAgo > 15 {
		eth = decimal.RequireFromString("0.7")
	}
	sol := decimal.NewFromInt(12)
	if daysAgo > 7 {
		sol = decimal.NewFromInt(9)
	}
	return []models.HoldingEntry{
		{AssetID: 1, Quantity: btc},
		{AssetID: 1027, Quantity: eth},
		{AssetID: 5426, Quantity: sol},
	}
}
