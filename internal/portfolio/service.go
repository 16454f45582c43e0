package portfolio

import (
	"context"
	"time"

	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// MarketView is the part of the market cache the service reads
type MarketView interface {
	Prices() map[types.AssetID]models.PriceSnapshot
	RefreshPrices(ctx context.Context, ids []types.AssetID) error
	Historical(id types.AssetID, tf types.Timeframe) (models.HistoricalSeries, bool)
	RefreshHistorical(ctx context.Context, id types.AssetID, tf types.Timeframe) error
	PriceAt(id types.AssetID, t time.Time) (decimal.Decimal, bool)
	Degraded() bool
}

// WalletView is the part of the wallet the service reads and writes
type WalletView interface {
	Holdings() []models.HoldingEntry
	RecordPortfolioPoint(ctx context.Context, ts time.Time, total decimal.Decimal, holdings []models.HoldingEntry) error
}

// Window is a look-back period for value changes
type Window struct {
	Name      string
	Lookback  time.Duration
	Timeframe types.Timeframe
}

// Windows are the change periods reported by Summary
var Windows = []Window{
	{Name: "daily", Lookback: 24 * time.Hour, Timeframe: types.TimeframeIntraday},
	{Name: "weekly", Lookback: 7 * 24 * time.Hour, Timeframe: types.TimeframeWeekly},
	{Name: "monthly", Lookback: 30 * 24 * time.Hour, Timeframe: types.TimeframeMonthly},
}

// Summary is the valuation of the wallet at AsOf
type Summary struct {
	AsOf          time.Time         `json:"asOf"`
	TotalValue    decimal.Decimal   `json:"totalValue"`
	Holdings      int               `json:"holdings"`
	Allocation    []AllocationEntry `json:"allocation"`
	DailyChange   float64           `json:"dailyChange"`
	WeeklyChange  float64           `json:"weeklyChange"`
	MonthlyChange float64           `json:"monthlyChange"`
	Degraded      bool              `json:"degraded"`
}

// Service combines wallet and market state into portfolio metrics
type Service struct {
	market MarketView
	wallet WalletView
	now    func() time.Time
	logger *logging.Logger
}

// NewService creates a portfolio service
func NewService(market MarketView, wallet WalletView, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{
		market: market,
		wallet: wallet,
		now:    time.Now,
		logger: logger.Component("portfolio"),
	}
}

// WithClock overrides the clock and returns the service
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// currentPrices returns cached prices, fetching any held asset that is missing
func (s *Service) currentPrices(ctx context.Context, holdings []models.HoldingEntry) map[types.AssetID]models.PriceSnapshot {
	prices := s.market.Prices()

	var missing []types.AssetID
	for _, h := range holdings {
		if _, ok := prices[h.AssetID]; !ok {
			missing = append(missing, h.AssetID)
		}
	}
	if len(missing) == 0 {
		return prices
	}

	if err := s.market.RefreshPrices(ctx, missing); err != nil {
		s.logger.WithError(err).WithField("assets", missing).Warn("Could not price every holding")
	}
	return s.market.Prices()
}

// Summary values the wallet at current prices and compares it with the same
// holdings valued at historical prices one day, week and month ago
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	now := s.now().UTC()
	holdings := s.wallet.Holdings()
	prices := s.currentPrices(ctx, holdings)

	summary := &Summary{
		AsOf:       now,
		TotalValue: TotalValue(holdings, prices),
		Holdings:   len(holdings),
		Allocation: Allocation(holdings, prices),
	}

	for _, w := range Windows {
		change, err := s.windowChange(ctx, holdings, prices, w, now)
		if err != nil {
			return nil, err
		}
		switch w.Name {
		case "daily":
			summary.DailyChange = change
		case "weekly":
			summary.WeeklyChange = change
		case "monthly":
			summary.MonthlyChange = change
		}
	}

	summary.Degraded = s.market.Degraded()
	return summary, nil
}

// windowChange compares holdings valued now against the historical price at
// now-lookback. Assets without both prices are left out of both sides.
func (s *Service) windowChange(ctx context.Context, holdings []models.HoldingEntry, prices map[types.AssetID]models.PriceSnapshot, w Window, now time.Time) (float64, error) {
	at := now.Add(-w.Lookback)
	current := decimal.Zero
	past := decimal.Zero

	for _, h := range holdings {
		snap, ok := prices[h.AssetID]
		if !ok {
			continue
		}

		if series, cached := s.market.Historical(h.AssetID, w.Timeframe); !cached || outdated(series, w.Timeframe, now) {
			if err := s.market.RefreshHistorical(ctx, h.AssetID, w.Timeframe); err != nil {
				if ctx.Err() != nil {
					return 0, ctx.Err()
				}
				s.logger.WithError(err).WithFields(map[string]interface{}{
					"assetId": h.AssetID,
					"window":  w.Name,
				}).Warn("No historical prices for window")
				continue
			}
		}

		then, ok := s.market.PriceAt(h.AssetID, at)
		if !ok {
			continue
		}
		current = current.Add(h.Quantity.Mul(snap.Price))
		past = past.Add(h.Quantity.Mul(then))
	}

	return PercentChange(current, past), nil
}

// outdated reports whether the newest point of series is more than two
// intervals behind now
func outdated(series models.HistoricalSeries, tf types.Timeframe, now time.Time) bool {
	if len(series.Points) == 0 {
		return true
	}
	newest := series.Points[len(series.Points)-1].Timestamp
	return newest.Before(now.Add(-2 * time.Duration(tf.IntervalHours()) * time.Hour))
}

// CapturePoint records the current wallet valuation in the portfolio history
func (s *Service) CapturePoint(ctx context.Context) (models.PortfolioSnapshot, error) {
	now := s.now().UTC()
	holdings := s.wallet.Holdings()
	prices := s.currentPrices(ctx, holdings)
	total := TotalValue(holdings, prices)

	if err := s.wallet.RecordPortfolioPoint(ctx, now, total, holdings); err != nil {
		return models.PortfolioSnapshot{}, err
	}

	s.logger.WithFields(map[string]interface{}{
		"total":    total.String(),
		"holdings": len(holdings),
	}).Debug("Captured portfolio point")

	return models.PortfolioSnapshot{Timestamp: now, TotalValue: total, Holdings: holdings}, nil
}
