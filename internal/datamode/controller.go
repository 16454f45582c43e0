// Package datamode routes market queries to the simulated or remote data source
// according to the persisted mode, falling back to simulated data when the
// remote source fails.
package datamode

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/source"
	"github.com/crypto-dashboard/internal/types"
)

// FallbackTimeout bounds the simulated call made after the remote source has
// used up the caller's deadline
const FallbackTimeout = 2 * time.Second

// Well-known settings keys
const (
	ModeKey            = "crypto_data_mode"
	BannerDismissedKey = "crypto_demo_dismissed"
)

// SettingsStore persists small string settings across restarts
type SettingsStore interface {
	// Get returns the value under key and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Result carries a value together with the mode that produced it. Degraded is
// set when the remote source failed and simulated data was served instead.
type Result[T any] struct {
	Value    T          `json:"value"`
	Mode     types.Mode `json:"mode"`
	Degraded bool       `json:"degraded"`
}

// Controller owns the data mode and the data source factory
type Controller struct {
	store     SettingsStore
	simulated source.PriceDataSource
	remote    source.PriceDataSource
	fallback  types.Mode
	logger    *logging.Logger
}

// NewController creates a controller. defaultMode applies when nothing is persisted.
func NewController(store SettingsStore, simulated, remote source.PriceDataSource, defaultMode types.Mode, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if defaultMode == "" {
		defaultMode = types.ModeSimulated
	}
	return &Controller{
		store:     store,
		simulated: simulated,
		remote:    remote,
		fallback:  defaultMode,
		logger:    logger.Component("datamode"),
	}
}

// Mode returns the persisted mode. An absent or unreadable value yields the
// default. The store is read on every call so changes made by other
// processes sharing it take effect immediately.
func (c *Controller) Mode(ctx context.Context) (types.Mode, error) {
	raw, ok, err := c.store.Get(ctx, ModeKey)
	if err != nil {
		return "", errors.NewStorageError("read data mode", err)
	}
	if !ok {
		return c.fallback, nil
	}

	mode, perr := types.ParseMode(raw)
	if perr != nil {
		c.logger.WithField("value", raw).Warn("Ignoring unreadable persisted data mode")
		return c.fallback, nil
	}
	return mode, nil
}

// SetMode persists mode and makes it effective for subsequent queries
func (c *Controller) SetMode(ctx context.Context, mode types.Mode) error {
	if mode != types.ModeSimulated && mode != types.ModeRemote {
		return errors.NewInvalidInputError("mode", fmt.Sprintf("unknown data mode %q", mode))
	}

	if err := c.store.Set(ctx, ModeKey, string(mode)); err != nil {
		return errors.NewStorageError("write data mode", err)
	}

	c.logger.WithField("mode", mode).Info("Data mode changed")
	return nil
}

// ToggleMode flips between simulated and remote and returns the new mode
func (c *Controller) ToggleMode(ctx context.Context) (types.Mode, error) {
	current, err := c.Mode(ctx)
	if err != nil {
		return "", err
	}
	next := current.Toggle()
	if err := c.SetMode(ctx, next); err != nil {
		return "", err
	}
	return next, nil
}

// Source returns the data source for mode
func (c *Controller) Source(mode types.Mode) source.PriceDataSource {
	if mode == types.ModeRemote {
		return c.remote
	}
	return c.simulated
}

// withFallback runs call against the source for the current mode. A remote
// failure is answered from the simulated source for this call only.
func withFallback[T any](ctx context.Context, c *Controller, op string, call func(context.Context, source.PriceDataSource) (T, error)) (Result[T], error) {
	mode, err := c.Mode(ctx)
	if err != nil {
		return Result[T]{}, err
	}

	if mode == types.ModeRemote {
		value, rerr := call(ctx, c.remote)
		if rerr == nil {
			return Result[T]{Value: value, Mode: mode}, nil
		}
		// caller mistakes and teardown are not source failures
		if errors.IsInvalidInput(rerr) || cancelled(ctx) {
			return Result[T]{}, rerr
		}

		c.logger.WithFields(map[string]interface{}{
			"operation": op,
			"source":    c.remote.Name(),
		}).WithError(rerr).Warn("Remote data source failed, serving simulated data")

		simCtx := ctx
		if ctx.Err() != nil {
			// the remote ran out the caller's deadline
			var cancel context.CancelFunc
			simCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), FallbackTimeout)
			defer cancel()
		}

		value, serr := call(simCtx, c.simulated)
		if serr != nil {
			if errors.IsInvalidInput(serr) || cancelled(ctx) {
				return Result[T]{}, serr
			}
			return Result[T]{}, errors.NewFatalError(op, fmt.Errorf("remote: %v; simulated: %w", rerr, serr))
		}
		return Result[T]{Value: value, Mode: mode, Degraded: true}, nil
	}

	value, err := call(ctx, c.simulated)
	if err != nil {
		if errors.IsInvalidInput(err) || ctx.Err() != nil {
			return Result[T]{}, err
		}
		return Result[T]{}, errors.NewFatalError(op, err)
	}
	return Result[T]{Value: value, Mode: mode}, nil
}

func cancelled(ctx context.Context) bool {
	return stderrors.Is(ctx.Err(), context.Canceled)
}

// Prices fetches snapshots for ids
func (c *Controller) Prices(ctx context.Context, ids []types.AssetID) (Result[map[types.AssetID]models.PriceSnapshot], error) {
	return withFallback(ctx, c, "prices", func(ctx context.Context, src source.PriceDataSource) (map[types.AssetID]models.PriceSnapshot, error) {
		prices, err := src.FetchPrices(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(prices) == 0 {
			return nil, errors.NewUpstreamError(src.Name(), fmt.Errorf("empty price response"))
		}
		return prices, nil
	})
}

// TopAssets fetches the limit largest assets by market cap
func (c *Controller) TopAssets(ctx context.Context, limit int) (Result[[]models.PriceSnapshot], error) {
	return withFallback(ctx, c, "top assets", func(ctx context.Context, src source.PriceDataSource) ([]models.PriceSnapshot, error) {
		top, err := src.FetchTopAssets(ctx, limit)
		if err != nil {
			return nil, err
		}
		if len(top) == 0 {
			return nil, errors.NewUpstreamError(src.Name(), fmt.Errorf("empty listing response"))
		}
		return top, nil
	})
}

// Historical fetches the series for one asset and timeframe
func (c *Controller) Historical(ctx context.Context, id types.AssetID, tf types.Timeframe) (Result[models.HistoricalSeries], error) {
	return withFallback(ctx, c, "historical", func(ctx context.Context, src source.PriceDataSource) (models.HistoricalSeries, error) {
		series, err := src.FetchHistorical(ctx, id, tf)
		if err != nil {
			return models.HistoricalSeries{}, err
		}
		if len(series.Points) == 0 {
			return models.HistoricalSeries{}, errors.NewUpstreamError(src.Name(), fmt.Errorf("empty historical series"))
		}
		return series, nil
	})
}

// GlobalMarket fetches the aggregate market record
func (c *Controller) GlobalMarket(ctx context.Context) (Result[models.GlobalMarket], error) {
	return withFallback(ctx, c, "global market", func(ctx context.Context, src source.PriceDataSource) (models.GlobalMarket, error) {
		return src.FetchGlobalMarket(ctx)
	})
}

// BannerVisible reports whether the demo banner should be shown
func (c *Controller) BannerVisible(ctx context.Context) (bool, error) {
	raw, ok, err := c.store.Get(ctx, BannerDismissedKey)
	if err != nil {
		return false, errors.NewStorageError("read banner flag", err)
	}
	if !ok {
		return true, nil
	}
	dismissed, perr := strconv.ParseBool(raw)
	if perr != nil {
		return true, nil
	}
	return !dismissed, nil
}

// DismissBanner hides the demo banner permanently
func (c *Controller) DismissBanner(ctx context.Context) error {
	if err := c.store.Set(ctx, BannerDismissedKey, "true"); err != nil {
		return errors.NewStorageError("write banner flag", err)
	}
	return nil
}

// ResetBanner shows the demo banner again
func (c *Controller) ResetBanner(ctx context.Context) error {
	if err := c.store.Delete(ctx, BannerDismissedKey); err != nil {
		return errors.NewStorageError("clear banner flag", err)
	}
	return nil
}
