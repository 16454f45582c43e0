// Package worker runs the periodic background refresh of market data and
// portfolio history.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crypto-dashboard/internal/config"
	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/ratelimit"
	"github.com/crypto-dashboard/internal/types"
)

// MarketRefresher is the part of the market state the refresher drives
type MarketRefresher interface {
	RefreshPrices(ctx context.Context, ids []types.AssetID) error
	RefreshTopAssets(ctx context.Context, limit int) error
	RefreshGlobalMarket(ctx context.Context) error
}

// PointCapturer records a portfolio valuation point
type PointCapturer interface {
	CapturePoint(ctx context.Context) (models.PortfolioSnapshot, error)
}

// Job names reported in RefresherStatus
const (
	JobPrices    = "prices"
	JobMarket    = "market"
	JobPortfolio = "portfolio"
)

// RefresherConfig holds refresh intervals and targets
type RefresherConfig struct {
	WatchList         []types.AssetID
	TopLimit          int
	PriceInterval     time.Duration
	GlobalInterval    time.Duration
	PortfolioInterval time.Duration
	RefreshTimeout    time.Duration
}

// ConfigFromMarket builds a RefresherConfig from the market configuration
func ConfigFromMarket(cfg config.MarketConfig) RefresherConfig {
	return RefresherConfig{
		WatchList:         cfg.WatchList,
		TopLimit:          cfg.TopLimit,
		PriceInterval:     cfg.PriceInterval,
		GlobalInterval:    cfg.GlobalInterval,
		PortfolioInterval: cfg.PortfolioInterval,
		RefreshTimeout:    cfg.RefreshTimeout,
	}
}

// JobStatus describes the last run of one refresh loop
type JobStatus struct {
	LastRun   time.Time `json:"lastRun"`
	LastError string    `json:"lastError,omitempty"`
	Runs      int       `json:"runs"`
}

// RefresherStatus is a point-in-time view of the refresher
type RefresherStatus struct {
	Running bool                 `json:"running"`
	Jobs    map[string]JobStatus `json:"jobs"`
}

// Refresher runs one ticker loop per job. Each loop runs once on start and
// then on every tick. Stop cancels in-flight refreshes so their results are
// discarded by the market state.
type Refresher struct {
	market    MarketRefresher
	portfolio PointCapturer
	cfg       RefresherConfig
	logger    *logging.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	jobs    map[string]JobStatus
}

// NewRefresher creates a refresher. portfolio may be nil to skip history points.
func NewRefresher(market MarketRefresher, portfolio PointCapturer, cfg RefresherConfig, logger *logging.Logger) (*Refresher, error) {
	if market == nil {
		return nil, fmt.Errorf("market cannot be nil")
	}
	if len(cfg.WatchList) == 0 {
		return nil, fmt.Errorf("watch list cannot be empty")
	}
	if cfg.PriceInterval <= 0 || cfg.GlobalInterval <= 0 {
		return nil, fmt.Errorf("refresh intervals must be positive")
	}
	if portfolio != nil && cfg.PortfolioInterval <= 0 {
		return nil, fmt.Errorf("portfolio interval must be positive")
	}
	if cfg.TopLimit <= 0 {
		cfg.TopLimit = 100
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Refresher{
		market:    market,
		portfolio: portfolio,
		cfg:       cfg,
		logger:    logger.Component("refresher"),
		jobs:      make(map[string]JobStatus),
	}, nil
}

// Start launches the refresh loops. They stop when ctx is cancelled or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("refresher is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	var wg sync.WaitGroup
	r.spawn(loopCtx, &wg, JobPrices, r.cfg.PriceInterval, func(ctx context.Context) error {
		return r.market.RefreshPrices(ctx, r.cfg.WatchList)
	})
	r.spawn(loopCtx, &wg, JobMarket, r.cfg.GlobalInterval, func(ctx context.Context) error {
		return errors.Join(
			r.market.RefreshGlobalMarket(ctx),
			r.market.RefreshTopAssets(ctx, r.cfg.TopLimit),
		)
	})
	if r.portfolio != nil {
		r.spawn(loopCtx, &wg, JobPortfolio, r.cfg.PortfolioInterval, func(ctx context.Context) error {
			_, err := r.portfolio.CapturePoint(ctx)
			return err
		})
	}

	done := r.done
	go func() {
		wg.Wait()
		close(done)
	}()

	r.logger.WithFields(map[string]interface{}{
		"priceInterval":     r.cfg.PriceInterval.String(),
		"globalInterval":    r.cfg.GlobalInterval.String(),
		"portfolioInterval": r.cfg.PortfolioInterval.String(),
		"watchList":         len(r.cfg.WatchList),
	}).Info("Refresher started")
	return nil
}

func (r *Refresher) spawn(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.loop(ctx, name, interval, fn)
	}()
}

// loop runs fn immediately and then on every tick until ctx is done
func (r *Refresher) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.run(ctx, name, fn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.run(ctx, name, fn)
		}
	}
}

func (r *Refresher) run(ctx context.Context, name string, fn func(context.Context) error) {
	// background refreshes draw from the shared credit pool
	runCtx, cancel := context.WithTimeout(ratelimit.WithPriority(ctx, ratelimit.PriorityLow), r.cfg.RefreshTimeout)
	defer cancel()

	start := time.Now()
	err := fn(runCtx)

	// a cancelled parent means we are stopping
	if ctx.Err() != nil {
		return
	}

	r.mu.Lock()
	status := r.jobs[name]
	status.LastRun = start
	status.Runs++
	status.LastError = ""
	if err != nil {
		status.LastError = err.Error()
	}
	r.jobs[name] = status
	r.mu.Unlock()

	log := r.logger.WithFields(map[string]interface{}{
		"job":      name,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		log.WithError(err).Warn("Refresh failed")
		return
	}
	log.Debug("Refresh complete")
}

// Stop cancels the loops and waits for them to exit or for ctx to expire
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("refresher is not running")
	}
	r.cancel()
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("Refresher stop timed out")
		return ctx.Err()
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.logger.Info("Refresher stopped")
	return nil
}

// Status returns the refresher status
func (r *Refresher) Status() RefresherStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make(map[string]JobStatus, len(r.jobs))
	for k, v := range r.jobs {
		jobs[k] = v
	}
	return RefresherStatus{Running: r.running, Jobs: jobs}
}
