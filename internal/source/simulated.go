package source

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// Simulated generates market data from smooth periodic functions of the wall
// clock. Values only depend on the asset and the current day and hour, so
// repeated calls inside the same hour agree.
type Simulated struct {
	now func() time.Time
}

// SimulatedOption configures a Simulated source
type SimulatedOption func(*Simulated)

// WithClock overrides the wall clock
func WithClock(now func() time.Time) SimulatedOption {
	return func(s *Simulated) {
		s.now = now
	}
}

// NewSimulated creates a simulated data source
func NewSimulated(opts ...SimulatedOption) *Simulated {
	s := &Simulated{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements PriceDataSource
func (s *Simulated) Name() string {
	return "simulated"
}

// priceAt applies a day and hour oscillation of at most ±8% to the base price
func priceAt(base float64, t time.Time) float64 {
	dayFactor := float64(t.Day()) / 31
	hourFactor := float64(t.Hour()) / 24
	variation := math.Sin(dayFactor*math.Pi*2)*0.05 + math.Cos(hourFactor*math.Pi*2)*0.03
	return base * (1 + variation)
}

func (s *Simulated) snapshot(id types.AssetID, now time.Time) models.PriceSnapshot {
	info := lookupAsset(id)

	current := priceAt(info.BasePrice, now)
	yesterday := priceAt(info.BasePrice, now.Add(-24*time.Hour))

	change24h := (current - yesterday) / yesterday * 100
	change7d := change24h * (1.5 + math.Sin(float64(id))*0.5)
	change30d := change7d * (1.2 + math.Cos(float64(id))*0.3)

	marketCap := info.MarketCap
	if marketCap == 0 {
		marketCap = current * 1_000_000
	}

	return models.PriceSnapshot{
		AssetID:          id,
		Name:             info.Name,
		Symbol:           info.Symbol,
		Price:            decimal.NewFromFloat(current),
		PercentChange24h: change24h,
		PercentChange7d:  change7d,
		PercentChange30d: change30d,
		MarketCap:        decimal.NewFromFloat(marketCap),
		Volume24h:        decimal.NewFromFloat(current * 100_000 * (1 + math.Sin(float64(id)))),
		LastUpdated:      now,
	}
}

// FetchPrices implements PriceDataSource
func (s *Simulated) FetchPrices(ctx context.Context, ids []types.AssetID) (map[types.AssetID]models.PriceSnapshot, error) {
	if err := validateIDs(ids); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	out := make(map[types.AssetID]models.PriceSnapshot, len(ids))
	for _, id := range dedupe(ids) {
		out[id] = s.snapshot(id, now)
	}
	return out, nil
}

// FetchTopAssets implements PriceDataSource. Slots beyond the catalog are
// filled with synthetic assets seeded by id and day.
func (s *Simulated) FetchTopAssets(ctx context.Context, limit int) ([]models.PriceSnapshot, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	known := KnownAssets()
	result := make([]models.PriceSnapshot, 0, max(limit, len(known)))
	for _, id := range known {
		result = append(result, s.snapshot(id, now))
	}

	day := int64(now.Unix() / 86400)
	for i := len(result); i < limit; i++ {
		id := types.AssetID(10000 + i)
		rng := rand.New(rand.NewSource(int64(id)*7919 + day))
		price := 1 + rng.Float64()*100

		result = append(result, models.PriceSnapshot{
			AssetID:          id,
			Name:             fmt.Sprintf("Crypto %d", id),
			Symbol:           fmt.Sprintf("C%d", id),
			Price:            decimal.NewFromFloat(price),
			PercentChange24h: rng.Float64()*10 - 5,
			PercentChange7d:  rng.Float64()*20 - 10,
			PercentChange30d: rng.Float64()*40 - 20,
			MarketCap:        decimal.NewFromFloat(price * (1_000_000 + rng.Float64()*10_000_000)),
			Volume24h:        decimal.NewFromFloat(price * (100_000 + rng.Float64()*1_000_000)),
			LastUpdated:      now,
		})
	}

	return rankByMarketCap(result, limit), nil
}

// trend returns the relative deviation from the base price at normalized
// position x in [0,1] of the timeframe, oldest point first
func trend(tf types.Timeframe, x float64) float64 {
	switch tf {
	case types.TimeframeIntraday:
		return math.Sin(x*math.Pi*4)*0.01 + math.Sin(x*math.Pi*8)*0.005
	case types.TimeframeWeekly:
		return math.Sin(x*math.Pi*2)*0.03 + math.Sin(x*math.Pi*6)*0.01
	default:
		return math.Sin(x*math.Pi*2)*0.08 + math.Sin(x*math.Pi*0.5)*0.05 + x*0.1
	}
}

// FetchHistorical implements PriceDataSource. Points are aligned to the
// timeframe interval so every request inside one interval yields the same series.
func (s *Simulated) FetchHistorical(ctx context.Context, id types.AssetID, tf types.Timeframe) (models.HistoricalSeries, error) {
	if id <= 0 {
		return models.HistoricalSeries{}, errors.NewInvalidInputError("id", "asset id must be positive")
	}
	if err := ctx.Err(); err != nil {
		return models.HistoricalSeries{}, err
	}

	info := lookupAsset(id)
	capRatio := 1_000_000.0
	if info.MarketCap > 0 {
		capRatio = info.MarketCap / info.BasePrice
	}

	interval := time.Duration(tf.IntervalHours()) * time.Hour
	totalHours := tf.Days() * 24
	anchor := s.now().UTC().Truncate(interval)

	points := make([]models.HistoricalPoint, 0, totalHours/tf.IntervalHours()+1)
	for hour := totalHours; hour >= 0; hour -= tf.IntervalHours() {
		ts := anchor.Add(-time.Duration(hour) * time.Hour)
		x := 1 - float64(hour)/float64(totalHours)

		noise := math.Sin(float64(ts.Unix())/3600*float64(id)) * 0.01
		price := info.BasePrice * (1 + trend(tf, x) + noise)
		volume := info.BasePrice * 1000 * (0.8 + math.Sin(x*math.Pi*8)*0.4)

		points = append(points, models.HistoricalPoint{
			Timestamp: ts,
			Price:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromFloat(volume),
			MarketCap: decimal.NewFromFloat(price * capRatio),
		})
	}

	return models.HistoricalSeries{AssetID: id, Timeframe: tf, Points: points}, nil
}

// FetchGlobalMarket implements PriceDataSource
func (s *Simulated) FetchGlobalMarket(ctx context.Context) (models.GlobalMarket, error) {
	if err := ctx.Err(); err != nil {
		return models.GlobalMarket{}, err
	}

	now := s.now().UTC()
	dayVariation := math.Sin(float64(now.Day())/31*math.Pi*2) * 0.05
	phase := float64(now.Unix()) / 1000

	return models.GlobalMarket{
		TotalMarketCap:         decimal.NewFromFloat(1_500_000_000_000 * (1 + dayVariation)),
		TotalVolume24h:         decimal.NewFromFloat(80_000_000_000 * (1 + dayVariation*2)),
		BTCDominance:           45.5 + math.Sin(phase)*2,
		ETHDominance:           18.3 + math.Cos(phase)*1.5,
		MarketCapChange24h:     dayVariation * 100,
		ActiveCryptocurrencies: 5000 + now.Day()*7,
		LastUpdated:            now,
	}, nil
}
