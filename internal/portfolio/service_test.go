package portfolio

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/crypto-dashboard/internal/datamode"
	"github.com/crypto-dashboard/internal/market"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/source"
	"github.com/crypto-dashboard/internal/storage"
	"github.com/crypto-dashboard/internal/types"
	"github.com/crypto-dashboard/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

// fakeMarket serves fixed current prices and a linear price history per asset
type fakeMarket struct {
	prices       map[types.AssetID]models.PriceSnapshot
	history      map[types.AssetID]map[time.Duration]decimal.Decimal
	refreshed    []types.Timeframe
	refreshErr   error
	pricesCalled int
}

func (m *fakeMarket) Prices() map[types.AssetID]models.PriceSnapshot {
	return m.prices
}

func (m *fakeMarket) RefreshPrices(ctx context.Context, ids []types.AssetID) error {
	m.pricesCalled++
	return stderrors.New("no such asset")
}

func (m *fakeMarket) Historical(id types.AssetID, tf types.Timeframe) (models.HistoricalSeries, bool) {
	return models.HistoricalSeries{}, false
}

func (m *fakeMarket) RefreshHistorical(ctx context.Context, id types.AssetID, tf types.Timeframe) error {
	m.refreshed = append(m.refreshed, tf)
	return m.refreshErr
}

func (m *fakeMarket) PriceAt(id types.AssetID, t time.Time) (decimal.Decimal, bool) {
	byAge, ok := m.history[id]
	if !ok {
		return decimal.Zero, false
	}
	p, ok := byAge[now.Sub(t)]
	return p, ok
}

func (m *fakeMarket) Degraded() bool { return false }

type fakeWallet struct {
	holdings []models.HoldingEntry
	points   []models.PortfolioSnapshot
}

func (w *fakeWallet) Holdings() []models.HoldingEntry { return w.holdings }

func (w *fakeWallet) RecordPortfolioPoint(ctx context.Context, ts time.Time, total decimal.Decimal, holdings []models.HoldingEntry) error {
	w.points = append(w.points, models.PortfolioSnapshot{Timestamp: ts, TotalValue: total, Holdings: holdings})
	return nil
}

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
)

func TestSummaryUsesHistoricalPrices(t *testing.T) {
	mkt := &fakeMarket{
		prices: priced(map[types.AssetID]string{1: "110", 2: "50"}),
		history: map[types.AssetID]map[time.Duration]decimal.Decimal{
			1: {day: dec("100"), week: dec("110"), month: dec("55")},
			2: {day: dec("50"), week: dec("50"), month: dec("25")},
		},
	}
	w := &fakeWallet{holdings: []models.HoldingEntry{
		{AssetID: 1, Quantity: dec("1")},
		{AssetID: 2, Quantity: dec("2")},
	}}
	svc := NewService(mkt, w, nil).WithClock(func() time.Time { return now })

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "210", summary.TotalValue.String())
	assert.Equal(t, 2, summary.Holdings)
	require.Len(t, summary.Allocation, 2)
	assert.Equal(t, types.AssetID(1), summary.Allocation[0].AssetID)

	// day: 210 vs 200
	assert.InDelta(t, 5, summary.DailyChange, 1e-9)
	// week: 210 vs 210
	assert.InDelta(t, 0, summary.WeeklyChange, 1e-9)
	// month: 210 vs 105
	assert.InDelta(t, 100, summary.MonthlyChange, 1e-9)

	assert.Equal(t, []types.Timeframe{
		types.TimeframeIntraday, types.TimeframeIntraday,
		types.TimeframeWeekly, types.TimeframeWeekly,
		types.TimeframeMonthly, types.TimeframeMonthly,
	}, mkt.refreshed)
}

func TestSummaryEmptyWallet(t *testing.T) {
	svc := NewService(&fakeMarket{prices: priced(nil)}, &fakeWallet{}, nil)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.TotalValue.IsZero())
	assert.Empty(t, summary.Allocation)
	assert.Zero(t, summary.DailyChange)
	assert.Zero(t, summary.MonthlyChange)
}

func TestSummaryWithoutHistoryReportsZeroChange(t *testing.T) {
	mkt := &fakeMarket{
		prices:     priced(map[types.AssetID]string{1: "110"}),
		refreshErr: stderrors.New("upstream down"),
	}
	w := &fakeWallet{holdings: []models.HoldingEntry{{AssetID: 1, Quantity: dec("1")}}}

	summary, err := NewService(mkt, w, nil).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "110", summary.TotalValue.String())
	assert.Zero(t, summary.DailyChange)
}

func TestSummaryTriesToPriceMissingHoldings(t *testing.T) {
	mkt := &fakeMarket{prices: priced(nil)}
	w := &fakeWallet{holdings: []models.HoldingEntry{{AssetID: 42, Quantity: dec("1")}}}

	summary, err := NewService(mkt, w, nil).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mkt.pricesCalled)
	assert.True(t, summary.TotalValue.IsZero())
}

func TestCapturePoint(t *testing.T) {
	mkt := &fakeMarket{prices: priced(map[types.AssetID]string{1: "100"})}
	w := &fakeWallet{holdings: []models.HoldingEntry{{AssetID: 1, Quantity: dec("3")}}}
	svc := NewService(mkt, w, nil).WithClock(func() time.Time { return now })

	point, err := svc.CapturePoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "300", point.TotalValue.String())
	require.Len(t, w.points, 1)
	assert.Equal(t, now, w.points[0].Timestamp)
}

func TestSummaryEndToEndWithSimulatedData(t *testing.T) {
	clock := func() time.Time { return now }
	ctrl := datamode.NewController(
		storage.NewMemorySettingsStore(),
		source.NewSimulated(source.WithClock(clock)),
		source.NewSimulated(source.WithClock(clock)),
		types.ModeSimulated,
		nil,
	)
	mkt := market.NewState(ctrl, market.WithClock(clock))
	w := wallet.NewState(wallet.WithClock(clock))
	ctx := context.Background()
	require.NoError(t, w.SeedDemo(ctx, now))

	svc := NewService(mkt, w, nil).WithClock(clock)
	summary, err := svc.Summary(ctx)
	require.NoError(t, err)

	assert.True(t, summary.TotalValue.IsPositive())
	assert.Len(t, summary.Allocation, 3)
	assert.NotZero(t, summary.MonthlyChange)

	_, err = svc.CapturePoint(ctx)
	require.NoError(t, err)
	history := w.PortfolioHistory()
	require.Len(t, history, wallet.MaxPortfolioHistory)
	assert.True(t, history[len(history)-1].TotalValue.Equal(summary.TotalValue))
}
