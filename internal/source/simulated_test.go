package source

import (
	"context"
	"testing"
	"time"

	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSimulated_FetchPrices(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 20, 0, 0, time.UTC)
	src := NewSimulated(WithClock(fixedClock(now)))
	ctx := context.Background()

	prices, err := src.FetchPrices(ctx, []types.AssetID{1, 1027, 999999})
	require.NoError(t, err)
	require.Len(t, prices, 3)

	btc := prices[1]
	assert.Equal(t, "BTC", btc.Symbol)
	assert.Equal(t, "Bitcoin", btc.Name)
	assert.Equal(t, now, btc.LastUpdated)
	assert.True(t, btc.Price.IsPositive())
	assert.NoError(t, btc.Validate())

	// within ±8% of the base price
	price, _ := btc.Price.Float64()
	assert.InDelta(t, 42000, price, 42000*0.08+1)

	unknown := prices[999999]
	assert.Equal(t, "Crypto 999999", unknown.Name)
	assert.Equal(t, "C999999", unknown.Symbol)
	assert.NoError(t, unknown.Validate())
}

func TestSimulated_FetchPricesIsDeterministic(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 20, 0, 0, time.UTC)
	src := NewSimulated(WithClock(fixedClock(now)))
	ctx := context.Background()

	first, err := src.FetchPrices(ctx, []types.AssetID{1, 52})
	require.NoError(t, err)
	second, err := src.FetchPrices(ctx, []types.AssetID{52, 1})
	require.NoError(t, err)

	for id, snap := range first {
		assert.True(t, snap.Price.Equal(second[id].Price), "asset %d", id)
		assert.Equal(t, snap.PercentChange24h, second[id].PercentChange24h)
	}
}

func TestSimulated_FetchPricesRejectsInvalidIDs(t *testing.T) {
	src := NewSimulated()

	tests := []struct {
		name string
		ids  []types.AssetID
	}{
		{name: "empty", ids: nil},
		{name: "zero", ids: []types.AssetID{1, 0}},
		{name: "negative", ids: []types.AssetID{-5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := src.FetchPrices(context.Background(), tt.ids)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidInput(err))
		})
	}
}

func TestSimulated_FetchPricesDeduplicates(t *testing.T) {
	src := NewSimulated()
	prices, err := src.FetchPrices(context.Background(), []types.AssetID{1, 1, 1})
	require.NoError(t, err)
	assert.Len(t, prices, 1)
}

func TestSimulated_FetchPricesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulated().FetchPrices(ctx, []types.AssetID{1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulated_FetchTopAssets(t *testing.T) {
	src := NewSimulated(WithClock(fixedClock(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))))
	ctx := context.Background()

	for _, limit := range []int{1, 5, 10, 50} {
		top, err := src.FetchTopAssets(ctx, limit)
		require.NoError(t, err)
		assert.Len(t, top, limit)

		for i := 1; i < len(top); i++ {
			assert.False(t, top[i].MarketCap.GreaterThan(top[i-1].MarketCap),
				"limit %d: entry %d ranked above entry %d", limit, i, i-1)
		}
	}

	top, err := src.FetchTopAssets(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.AssetID(1), top[0].AssetID)

	_, err = src.FetchTopAssets(ctx, 0)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestSimulated_FetchHistorical(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 20, 0, 0, time.UTC)
	src := NewSimulated(WithClock(fixedClock(now)))
	ctx := context.Background()

	for _, tf := range types.Timeframes {
		t.Run(string(tf), func(t *testing.T) {
			series, err := src.FetchHistorical(ctx, 1, tf)
			require.NoError(t, err)
			require.NotEmpty(t, series.Points)
			assert.Equal(t, types.AssetID(1), series.AssetID)
			assert.Equal(t, tf, series.Timeframe)

			for i := 1; i < len(series.Points); i++ {
				assert.True(t, series.Points[i].Timestamp.After(series.Points[i-1].Timestamp))
			}
			for _, p := range series.Points {
				assert.True(t, p.Price.IsPositive())
				assert.False(t, p.Timestamp.After(now))
			}

			first := series.Points[0].Timestamp
			span := now.Sub(first)
			assert.LessOrEqual(t, span, time.Duration(tf.Days())*24*time.Hour+time.Duration(tf.IntervalHours())*time.Hour)
		})
	}
}

func TestSimulated_FetchHistoricalStableWithinInterval(t *testing.T) {
	ctx := context.Background()
	a := NewSimulated(WithClock(fixedClock(time.Date(2024, 3, 15, 10, 5, 0, 0, time.UTC))))
	b := NewSimulated(WithClock(fixedClock(time.Date(2024, 3, 15, 10, 55, 0, 0, time.UTC))))

	sa, err := a.FetchHistorical(ctx, 1027, types.TimeframeIntraday)
	require.NoError(t, err)
	sb, err := b.FetchHistorical(ctx, 1027, types.TimeframeIntraday)
	require.NoError(t, err)

	require.Equal(t, len(sa.Points), len(sb.Points))
	for i := range sa.Points {
		assert.Equal(t, sa.Points[i].Timestamp, sb.Points[i].Timestamp)
		assert.True(t, sa.Points[i].Price.Equal(sb.Points[i].Price))
	}
}

func TestSimulated_FetchHistoricalInvalidID(t *testing.T) {
	_, err := NewSimulated().FetchHistorical(context.Background(), 0, types.TimeframeWeekly)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestSimulated_FetchGlobalMarket(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	global, err := NewSimulated(WithClock(fixedClock(now))).FetchGlobalMarket(context.Background())
	require.NoError(t, err)

	assert.True(t, global.TotalMarketCap.IsPositive())
	assert.True(t, global.TotalVolume24h.IsPositive())
	assert.InDelta(t, 45.5, global.BTCDominance, 2.0001)
	assert.InDelta(t, 18.3, global.ETHDominance, 1.5001)
	assert.Equal(t, 5000+15*7, global.ActiveCryptocurrencies)
	assert.Equal(t, now, global.LastUpdated)
}

func TestKnownAssets(t *testing.T) {
	ids := KnownAssets()
	assert.Len(t, ids, 10)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}
