package source

import (
	"context"
	stderrors "errors"

	"github.com/crypto-dashboard/internal/circuitbreaker"
	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/retry"
	"github.com/crypto-dashboard/internal/types"
)

// Guarded wraps a remote source with retries and a circuit breaker. While
// the circuit is open calls fail immediately, so the mode controller falls
// back to simulated data without waiting on timeouts.
type Guarded struct {
	src     PriceDataSource
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuarded creates a guarded source. Caller mistakes and permanent upstream
// errors never open the circuit.
func NewGuarded(src PriceDataSource, retryCfg retry.Config, breakerCfg circuitbreaker.Config, logger *logging.Logger) *Guarded {
	if breakerCfg.Name == "" {
		breakerCfg.Name = src.Name()
	}
	breakerCfg.IsFailure = func(err error) bool {
		return !errors.IsInvalidInput(err) && !errors.IsPermanent(err)
	}

	return &Guarded{
		src:     src,
		retry:   retryCfg,
		breaker: circuitbreaker.New(breakerCfg, logger),
	}
}

// Name implements PriceDataSource
func (g *Guarded) Name() string {
	return g.src.Name()
}

// Breaker reports the circuit state
func (g *Guarded) Breaker() circuitbreaker.Stats {
	return g.breaker.Stats()
}

func guard[T any](ctx context.Context, g *Guarded, call func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := retry.Do(ctx, g.retry, func(ctx context.Context, attempt int) error {
			v, err := call(ctx)
			if err == nil {
				out = v
			}
			return err
		})
		return err
	})
	if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return out, errors.NewUpstreamError(g.src.Name(), err)
	}
	return out, err
}

// FetchPrices implements PriceDataSource
func (g *Guarded) FetchPrices(ctx context.Context, ids []types.AssetID) (map[types.AssetID]models.PriceSnapshot, error) {
	return guard(ctx, g, func(ctx context.Context) (map[types.AssetID]models.PriceSnapshot, error) {
		return g.src.FetchPrices(ctx, ids)
	})
}

// FetchTopAssets implements PriceDataSource
func (g *Guarded) FetchTopAssets(ctx context.Context, limit int) ([]models.PriceSnapshot, error) {
	return guard(ctx, g, func(ctx context.Context) ([]models.PriceSnapshot, error) {
		return g.src.FetchTopAssets(ctx, limit)
	})
}

// FetchHistorical implements PriceDataSource
func (g *Guarded) FetchHistorical(ctx context.Context, id types.AssetID, tf types.Timeframe) (models.HistoricalSeries, error) {
	return guard(ctx, g, func(ctx context.Context) (models.HistoricalSeries, error) {
		return g.src.FetchHistorical(ctx, id, tf)
	})
}

// FetchGlobalMarket implements PriceDataSource
func (g *Guarded) FetchGlobalMarket(ctx context.Context) (models.GlobalMarket, error) {
	return guard(ctx, g, g.src.FetchGlobalMarket)
}
