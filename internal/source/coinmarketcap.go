package source

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crypto-dashboard/internal/config"
	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/ratelimit"
	"github.com/crypto-dashboard/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	coinMarketCapProvider = "coinmarketcap"
	apiKeyHeader          = "X-CMC_PRO_API_KEY"

	quotesLatestPath   = "/v1/cryptocurrency/quotes/latest"
	listingsLatestPath = "/v1/cryptocurrency/listings/latest"
	globalMetricsPath  = "/v1/global-metrics/quotes/latest"
)

// ErrHistoricalUnavailable is returned for historical requests. The quotes
// historical endpoint requires a paid plan, so callers fall back to simulated data.
var ErrHistoricalUnavailable = errors.NewPermanentUpstreamError(coinMarketCapProvider, "historical quotes require a paid plan")

type cmcStatus struct {
	Timestamp    string `json:"timestamp"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreditCount  int    `json:"credit_count"`
}

type cmcPriceQuote struct {
	Price            float64 `json:"price"`
	Volume24h        float64 `json:"volume_24h"`
	PercentChange24h float64 `json:"percent_change_24h"`
	PercentChange7d  float64 `json:"percent_change_7d"`
	PercentChange30d float64 `json:"percent_change_30d"`
	MarketCap        float64 `json:"market_cap"`
	LastUpdated      string  `json:"last_updated"`
}

type cmcQuoteData struct {
	ID          int64                    `json:"id"`
	Name        string                   `json:"name"`
	Symbol      string                   `json:"symbol"`
	CmcRank     int                      `json:"cmc_rank"`
	LastUpdated string                   `json:"last_updated"`
	Quote       map[string]cmcPriceQuote `json:"quote"`
}

type cmcQuotesLatestResponse struct {
	Data   map[string]cmcQuoteData `json:"data"`
	Status cmcStatus               `json:"status"`
}

type cmcListingsLatestResponse struct {
	Data   []cmcQuoteData `json:"data"`
	Status cmcStatus      `json:"status"`
}

type cmcGlobalQuote struct {
	TotalMarketCap                          float64 `json:"total_market_cap"`
	TotalVolume24h                          float64 `json:"total_volume_24h"`
	TotalMarketCapYesterdayPercentageChange float64 `json:"total_market_cap_yesterday_percentage_change"`
}

type cmcGlobalMetricsData struct {
	ActiveCryptocurrencies int                       `json:"active_cryptocurrencies"`
	BtcDominance           float64                   `json:"btc_dominance"`
	EthDominance           float64                   `json:"eth_dominance"`
	LastUpdated            string                    `json:"last_updated"`
	Quote                  map[string]cmcGlobalQuote `json:"quote"`
}

type cmcGlobalMetricsResponse struct {
	Data   cmcGlobalMetricsData `json:"data"`
	Status cmcStatus            `json:"status"`
}

// CoinMarketCap fetches quotes from the CoinMarketCap Pro API and flattens
// them into the canonical record shape for one quote currency.
type CoinMarketCap struct {
	baseURL    string
	apiKey     string
	currency   string
	httpClient *http.Client
	limiter    *rate.Limiter
	budget     CreditBudget
	logger     *logging.Logger
}

// CreditBudget meters provider credits across processes
type CreditBudget interface {
	TryConsume(ctx context.Context, credits int, priority ratelimit.Priority) (bool, time.Duration, error)
}

// NewCoinMarketCap creates a remote data source
func NewCoinMarketCap(cfg config.CoinMarketCapConfig, logger *logging.Logger) *CoinMarketCap {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	currency := strings.ToUpper(cfg.Currency)
	if currency == "" {
		currency = "EUR"
	}

	return &CoinMarketCap{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		currency:   currency,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger.Component("coinmarketcap"),
	}
}

// WithBudget meters every request against budget. Calls made with a
// ratelimit.PriorityLow context draw from the shared pool.
func (c *CoinMarketCap) WithBudget(budget CreditBudget) *CoinMarketCap {
	c.budget = budget
	return c
}

// Name implements PriceDataSource
func (c *CoinMarketCap) Name() string {
	return coinMarketCapProvider
}

// spend draws credits from the budget, if one is configured
func (c *CoinMarketCap) spend(ctx context.Context, credits int) error {
	if c.budget == nil {
		return nil
	}
	priority := ratelimit.PriorityFromContext(ctx)
	ok, wait, err := c.budget.TryConsume(ctx, credits, priority)
	if err != nil {
		c.logger.WithError(err).Warn("Credit budget unavailable, denying request")
	}
	if !ok {
		return errors.NewPermanentUpstreamError(coinMarketCapProvider,
			fmt.Sprintf("%s priority credit budget exhausted, resets in %s", priority, wait.Round(time.Minute)))
	}
	return nil
}

// creditCost returns the credits a call is billed: one per started block of
// perCredit items
func creditCost(items, perCredit int) int {
	if items <= 0 {
		return 1
	}
	return (items + perCredit - 1) / perCredit
}

// get performs one rate limited GET and decodes the JSON body into result
func (c *CoinMarketCap) get(ctx context.Context, path string, credits int, params url.Values, result interface{}) error {
	if err := c.spend(ctx, credits); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.NewUpstreamError(coinMarketCapProvider, fmt.Errorf("rate limiter wait for %s: %w", path, err))
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return errors.NewUpstreamError(coinMarketCapProvider, fmt.Errorf("bad url: %w", err))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.NewUpstreamError(coinMarketCapProvider, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	c.logger.WithField("path", path).Debug("Requesting quotes")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewUpstreamError(coinMarketCapProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewUpstreamError(coinMarketCapProvider, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Status cmcStatus `json:"status"`
		}
		reason := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if json.Unmarshal(body, &envelope) == nil && envelope.Status.ErrorMessage != "" {
			reason = fmt.Sprintf("HTTP %d: %s (code %d)", resp.StatusCode, envelope.Status.ErrorMessage, envelope.Status.ErrorCode)
		}
		if permanentStatus(resp.StatusCode) {
			return errors.NewPermanentUpstreamError(coinMarketCapProvider, reason)
		}
		return errors.NewUpstreamError(coinMarketCapProvider, stderrors.New(reason))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return errors.NewUpstreamError(coinMarketCapProvider, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// permanentStatus reports HTTP statuses that no retry can fix: a missing or
// invalid key, an exhausted plan or an endpoint outside the plan
func permanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden:
		return true
	}
	return false
}

func checkStatus(status cmcStatus) error {
	switch {
	case status.ErrorCode == 0:
		return nil
	// 1001 invalid key, 1002 missing key
	case status.ErrorCode == 1001 || status.ErrorCode == 1002:
		return errors.NewPermanentUpstreamError(coinMarketCapProvider,
			fmt.Sprintf("api error %d: %s", status.ErrorCode, status.ErrorMessage))
	default:
		return errors.NewUpstreamError(coinMarketCapProvider,
			fmt.Errorf("api error %d: %s", status.ErrorCode, status.ErrorMessage))
	}
}

// flatten converts one provider record to the canonical shape
func (c *CoinMarketCap) flatten(d cmcQuoteData) (models.PriceSnapshot, error) {
	q, ok := d.Quote[c.currency]
	if !ok {
		return models.PriceSnapshot{}, errors.NewUpstreamError(coinMarketCapProvider,
			fmt.Errorf("asset %d has no %s quote", d.ID, c.currency))
	}

	updated := parseTimestamp(q.LastUpdated)
	if updated.IsZero() {
		updated = parseTimestamp(d.LastUpdated)
	}
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	snap := models.PriceSnapshot{
		AssetID:          types.AssetID(d.ID),
		Name:             d.Name,
		Symbol:           d.Symbol,
		Price:            decimal.NewFromFloat(q.Price),
		PercentChange24h: q.PercentChange24h,
		PercentChange7d:  q.PercentChange7d,
		PercentChange30d: q.PercentChange30d,
		MarketCap:        decimal.NewFromFloat(q.MarketCap),
		Volume24h:        decimal.NewFromFloat(q.Volume24h),
		LastUpdated:      updated,
	}
	if err := snap.Validate(); err != nil {
		return models.PriceSnapshot{}, errors.NewUpstreamError(coinMarketCapProvider, err)
	}
	return snap, nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// FetchPrices implements PriceDataSource. A response missing any requested
// id fails as a whole.
func (c *CoinMarketCap) FetchPrices(ctx context.Context, ids []types.AssetID) (map[types.AssetID]models.PriceSnapshot, error) {
	if err := validateIDs(ids); err != nil {
		return nil, err
	}
	ids = dedupe(ids)

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	params := url.Values{
		"id":      {strings.Join(parts, ",")},
		"convert": {c.currency},
	}

	var resp cmcQuotesLatestResponse
	if err := c.get(ctx, quotesLatestPath, creditCost(len(ids), 100), params, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus(resp.Status); err != nil {
		return nil, err
	}

	out := make(map[types.AssetID]models.PriceSnapshot, len(ids))
	for _, id := range ids {
		d, ok := resp.Data[id.String()]
		if !ok {
			return nil, errors.NewUpstreamError(coinMarketCapProvider, fmt.Errorf("response is missing asset %d", id))
		}
		snap, err := c.flatten(d)
		if err != nil {
			return nil, err
		}
		out[id] = snap
	}
	return out, nil
}

// FetchTopAssets implements PriceDataSource
func (c *CoinMarketCap) FetchTopAssets(ctx context.Context, limit int) ([]models.PriceSnapshot, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	params := url.Values{
		"start":   {"1"},
		"limit":   {strconv.Itoa(limit)},
		"convert": {c.currency},
		"sort":    {"market_cap"},
	}

	var resp cmcListingsLatestResponse
	if err := c.get(ctx, listingsLatestPath, creditCost(limit, 200), params, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus(resp.Status); err != nil {
		return nil, err
	}

	out := make([]models.PriceSnapshot, 0, len(resp.Data))
	for _, d := range resp.Data {
		snap, err := c.flatten(d)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return rankByMarketCap(out, limit), nil
}

// FetchHistorical implements PriceDataSource. It always fails permanently.
func (c *CoinMarketCap) FetchHistorical(ctx context.Context, id types.AssetID, tf types.Timeframe) (models.HistoricalSeries, error) {
	if id <= 0 {
		return models.HistoricalSeries{}, errors.NewInvalidInputError("id", "asset id must be positive")
	}
	return models.HistoricalSeries{}, ErrHistoricalUnavailable
}

// FetchGlobalMarket implements PriceDataSource
func (c *CoinMarketCap) FetchGlobalMarket(ctx context.Context) (models.GlobalMarket, error) {
	var resp cmcGlobalMetricsResponse
	if err := c.get(ctx, globalMetricsPath, 1, url.Values{"convert": {c.currency}}, &resp); err != nil {
		return models.GlobalMarket{}, err
	}
	if err := checkStatus(resp.Status); err != nil {
		return models.GlobalMarket{}, err
	}

	q, ok := resp.Data.Quote[c.currency]
	if !ok {
		return models.GlobalMarket{}, errors.NewUpstreamError(coinMarketCapProvider,
			fmt.Errorf("global metrics have no %s quote", c.currency))
	}

	updated := parseTimestamp(resp.Data.LastUpdated)
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	return models.GlobalMarket{
		TotalMarketCap:         decimal.NewFromFloat(q.TotalMarketCap),
		TotalVolume24h:         decimal.NewFromFloat(q.TotalVolume24h),
		BTCDominance:           resp.Data.BtcDominance,
		ETHDominance:           resp.Data.EthDominance,
		MarketCapChange24h:     q.TotalMarketCapYesterdayPercentageChange,
		ActiveCryptocurrencies: resp.Data.ActiveCryptocurrencies,
		LastUpdated:            updated,
	}, nil
}
