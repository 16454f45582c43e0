// Package market caches prices, historical series and global market data
// fetched through the data mode controller.
package market

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/crypto-dashboard/internal/datamode"
	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// Fetcher resolves market queries against the active data source
type Fetcher interface {
	Prices(ctx context.Context, ids []types.AssetID) (datamode.Result[map[types.AssetID]models.PriceSnapshot], error)
	TopAssets(ctx context.Context, limit int) (datamode.Result[[]models.PriceSnapshot], error)
	Historical(ctx context.Context, id types.AssetID, tf types.Timeframe) (datamode.Result[models.HistoricalSeries], error)
	GlobalMarket(ctx context.Context) (datamode.Result[models.GlobalMarket], error)
}

// SnapshotRecorder observes every successfully merged batch of prices
type SnapshotRecorder interface {
	RecordPrices(ctx context.Context, snapshots []models.PriceSnapshot) error
}

// PriceStore persists the merged price cache between restarts
type PriceStore interface {
	SavePrices(ctx context.Context, prices map[types.AssetID]models.PriceSnapshot) error
	LoadPrices(ctx context.Context) (map[types.AssetID]models.PriceSnapshot, error)
}

// persistTimeout bounds archive and cache writes once the refresh deadline has passed
const persistTimeout = 5 * time.Second

type seriesKey struct {
	id types.AssetID
	tf types.Timeframe
}

// StatusInfo summarizes cache freshness
type StatusInfo struct {
	Status      types.MarketStatus `json:"status"`
	Error       string             `json:"error,omitempty"`
	LastUpdated time.Time          `json:"lastUpdated"`
	Degraded    bool               `json:"degraded"`
	Mode        types.Mode         `json:"mode,omitempty"`
	Assets      int                `json:"assets"`
}

// State is the market cache. Refreshes may run concurrently; each applies its
// result under the write lock and the newest record per asset wins. Records
// are only ordered against records from the same source: the simulated and
// remote sources stamp LastUpdated from different clocks.
type State struct {
	fetcher  Fetcher
	recorder SnapshotRecorder
	store    PriceStore
	now      func() time.Time
	logger   *logging.Logger

	mu          sync.RWMutex
	prices      map[types.AssetID]models.PriceSnapshot
	origins     map[types.AssetID]types.Mode
	top         []models.PriceSnapshot
	historical  map[seriesKey]models.HistoricalSeries
	global      *models.GlobalMarket
	lastUpdated time.Time
	lastErr     string
	inflight    int
	degraded    bool
	mode        types.Mode
}

// Option configures a State
type Option func(*State)

// WithRecorder archives every merged price batch
func WithRecorder(r SnapshotRecorder) Option {
	return func(s *State) {
		s.recorder = r
	}
}

// WithWarmStart persists merged prices to store and lets Restore read them back
func WithWarmStart(store PriceStore) Option {
	return func(s *State) {
		s.store = store
	}
}

// WithClock overrides the clock used for LastUpdated
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		s.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *State) {
		s.logger = l
	}
}

// NewState creates an empty market cache
func NewState(fetcher Fetcher, opts ...Option) *State {
	s := &State{
		fetcher:    fetcher,
		now:        time.Now,
		logger:     logging.GetGlobalLogger(),
		prices:     make(map[types.AssetID]models.PriceSnapshot),
		origins:    make(map[types.AssetID]types.Mode),
		historical: make(map[seriesKey]models.HistoricalSeries),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("market")
	return s
}

// Restore loads persisted prices into an empty cache. Restored prices do not
// mark the cache fresh, and any source may replace them.
func (s *State) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	prices, err := s.store.LoadPrices(ctx)
	if err != nil {
		return errors.NewStorageError("load cached prices", err)
	}

	s.mu.Lock()
	merged, _ := MergePrices(s.prices, prices)
	s.prices = merged
	s.mu.Unlock()

	s.logger.WithField("assets", len(prices)).Info("Restored cached prices")
	return nil
}

func (s *State) begin() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
}

// finish closes a refresh. A nil err marks success; a cancelled ctx drops the
// outcome without touching the cache. A missed deadline is a failure like any
// other and leaves the cache stale.
func (s *State) finish(ctx context.Context, err error, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--

	if cerr := ctx.Err(); stderrors.Is(cerr, context.Canceled) {
		return cerr
	}
	if err != nil {
		// rejected input says nothing about data freshness
		if !errors.IsInvalidInput(err) {
			s.lastErr = err.Error()
		}
		return err
	}

	apply()
	s.lastUpdated = s.now().UTC()
	s.lastErr = ""
	return nil
}

// origin names the source that actually produced a result
func origin(mode types.Mode, degraded bool) types.Mode {
	if mode == types.ModeRemote && !degraded {
		return types.ModeRemote
	}
	return types.ModeSimulated
}

// mergeLocked folds incoming into the price cache and returns the accepted
// records. Ordering is enforced only against cached records from src; a record
// from the other source is replaced unconditionally.
func (s *State) mergeLocked(incoming map[types.AssetID]models.PriceSnapshot, src types.Mode) ([]models.PriceSnapshot, []types.AssetID) {
	baseline := make(map[types.AssetID]models.PriceSnapshot, len(incoming))
	for id := range incoming {
		if cur, ok := s.prices[id]; ok && s.origins[id] == src {
			baseline[id] = cur
		}
	}
	_, rejected := MergePrices(baseline, incoming)

	skip := make(map[types.AssetID]struct{}, len(rejected))
	for _, id := range rejected {
		skip[id] = struct{}{}
	}
	accepted := make([]models.PriceSnapshot, 0, len(incoming))
	for id, snap := range incoming {
		if _, ok := skip[id]; ok {
			continue
		}
		s.prices[id] = snap
		s.origins[id] = src
		accepted = append(accepted, snap)
	}
	return accepted, rejected
}

func (s *State) track(mode types.Mode, degraded bool) {
	s.mode = mode
	s.degraded = degraded
}

// RefreshPrices fetches ids and merges them into the cache
func (s *State) RefreshPrices(ctx context.Context, ids []types.AssetID) error {
	s.begin()
	res, err := s.fetcher.Prices(ctx, ids)

	var rejected []types.AssetID
	var accepted []models.PriceSnapshot
	err = s.finish(ctx, err, func() {
		accepted, rejected = s.mergeLocked(res.Value, origin(res.Mode, res.Degraded))
		s.track(res.Mode, res.Degraded)
	})
	if err != nil {
		s.logFailure("prices", err)
		return err
	}

	if len(rejected) > 0 {
		s.logger.WithField("assets", rejected).Warn("Rejected out-of-order price snapshots")
	}
	s.afterMerge(ctx, accepted)
	return nil
}

func (s *State) afterMerge(ctx context.Context, accepted []models.PriceSnapshot) {
	if len(accepted) == 0 {
		return
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].AssetID < accepted[j].AssetID })

	if ctx.Err() != nil {
		// the fetch ran out the deadline but its result was applied
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
	}

	if s.recorder != nil {
		if err := s.recorder.RecordPrices(ctx, accepted); err != nil {
			s.logger.WithError(err).Warn("Failed to archive price snapshots")
		}
	}
	if s.store != nil {
		batch := make(map[types.AssetID]models.PriceSnapshot, len(accepted))
		for _, snap := range accepted {
			batch[snap.AssetID] = snap
		}
		if err := s.store.SavePrices(ctx, batch); err != nil {
			s.logger.WithError(err).Warn("Failed to cache prices")
		}
	}
}

// RefreshTopAssets replaces the ranked list and merges its records into the price cache
func (s *State) RefreshTopAssets(ctx context.Context, limit int) error {
	s.begin()
	res, err := s.fetcher.TopAssets(ctx, limit)

	var accepted []models.PriceSnapshot
	err = s.finish(ctx, err, func() {
		s.top = append([]models.PriceSnapshot(nil), res.Value...)
		incoming := make(map[types.AssetID]models.PriceSnapshot, len(res.Value))
		for _, snap := range res.Value {
			incoming[snap.AssetID] = snap
		}
		accepted, _ = s.mergeLocked(incoming, origin(res.Mode, res.Degraded))
		s.track(res.Mode, res.Degraded)
	})
	if err != nil {
		s.logFailure("top assets", err)
		return err
	}

	s.afterMerge(ctx, accepted)
	return nil
}

// RefreshHistorical replaces the series for id and tf
func (s *State) RefreshHistorical(ctx context.Context, id types.AssetID, tf types.Timeframe) error {
	s.begin()
	res, err := s.fetcher.Historical(ctx, id, tf)

	err = s.finish(ctx, err, func() {
		series := res.Value
		series.Points = append([]models.HistoricalPoint(nil), series.Points...)
		s.historical[seriesKey{id: id, tf: tf}] = series
		s.track(res.Mode, res.Degraded)
	})
	if err != nil {
		s.logFailure("historical", err)
	}
	return err
}

// RefreshGlobalMarket replaces the aggregate market record
func (s *State) RefreshGlobalMarket(ctx context.Context) error {
	s.begin()
	res, err := s.fetcher.GlobalMarket(ctx)

	err = s.finish(ctx, err, func() {
		global := res.Value
		s.global = &global
		s.track(res.Mode, res.Degraded)
	})
	if err != nil {
		s.logFailure("global market", err)
	}
	return err
}

func (s *State) logFailure(op string, err error) {
	if errors.IsInvalidInput(err) || stderrors.Is(err, context.Canceled) {
		return
	}
	s.logger.WithError(err).WithField("operation", op).Error("Market refresh failed, keeping cached data")
}

// Price returns the cached snapshot for id
func (s *State) Price(id types.AssetID) (models.PriceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.prices[id]
	return snap, ok
}

// Prices returns a copy of the price cache
func (s *State) Prices() map[types.AssetID]models.PriceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.AssetID]models.PriceSnapshot, len(s.prices))
	for id, snap := range s.prices {
		out[id] = snap
	}
	return out
}

// TopAssets returns the last fetched ranked list
func (s *State) TopAssets() []models.PriceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PriceSnapshot{}, s.top...)
}

// Historical returns the cached series for id and tf
func (s *State) Historical(id types.AssetID, tf types.Timeframe) (models.HistoricalSeries, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.historical[seriesKey{id: id, tf: tf}]
	if !ok {
		return models.HistoricalSeries{}, false
	}
	series.Points = append([]models.HistoricalPoint(nil), series.Points...)
	return series, true
}

// Global returns the cached aggregate market record
func (s *State) Global() (models.GlobalMarket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global == nil {
		return models.GlobalMarket{}, false
	}
	return *s.global, true
}

// PriceAt looks up the price of id at t in the cached historical series,
// preferring the finest series that covers t
func (s *State) PriceAt(id types.AssetID, t time.Time) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fallback *models.HistoricalSeries
	for _, tf := range types.Timeframes {
		series, ok := s.historical[seriesKey{id: id, tf: tf}]
		if !ok || len(series.Points) == 0 {
			continue
		}
		if series.Covers(t) {
			return series.PriceAt(t)
		}
		if fallback == nil {
			fallback = &series
		}
	}
	if fallback != nil {
		return fallback.PriceAt(t)
	}
	return decimal.Zero, false
}

func (s *State) hasData() bool {
	return len(s.prices) > 0 || len(s.top) > 0 || len(s.historical) > 0 || s.global != nil
}

// Status reports the cache freshness
func (s *State) Status() types.MarketStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status()
}

func (s *State) status() types.MarketStatus {
	switch {
	case s.inflight > 0:
		return types.StatusLoading
	case !s.hasData():
		return types.StatusEmpty
	case s.lastErr != "" || s.lastUpdated.IsZero():
		return types.StatusStale
	default:
		return types.StatusFresh
	}
}

// Info returns the full status summary
func (s *State) Info() StatusInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusInfo{
		Status:      s.status(),
		Error:       s.lastErr,
		LastUpdated: s.lastUpdated,
		Degraded:    s.degraded,
		Mode:        s.mode,
		Assets:      len(s.prices),
	}
}

// Degraded reports whether the last applied result was served by the fallback
func (s *State) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// LastError returns the message of the last failed refresh, if any
func (s *State) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// LastUpdated returns when a refresh last succeeded
func (s *State) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// ClearHistorical drops every cached series
func (s *State) ClearHistorical() {
	s.mu.Lock()
	s.historical = make(map[seriesKey]models.HistoricalSeries)
	s.mu.Unlock()
}

// ClearError forgets the last refresh failure
func (s *State) ClearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
}
