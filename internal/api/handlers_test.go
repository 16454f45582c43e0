package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crypto-dashboard/internal/datamode"
	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/market"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/portfolio"
	"github.com/crypto-dashboard/internal/source"
	"github.com/crypto-dashboard/internal/storage"
	"github.com/crypto-dashboard/internal/types"
	"github.com/crypto-dashboard/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

// brokenSource fails every call
type brokenSource struct{ err error }

func (b brokenSource) Name() string { return "broken" }

func (b brokenSource) FetchPrices(ctx context.Context, ids []types.AssetID) (map[types.AssetID]models.PriceSnapshot, error) {
	return nil, b.err
}

func (b brokenSource) FetchTopAssets(ctx context.Context, limit int) ([]models.PriceSnapshot, error) {
	return nil, b.err
}

func (b brokenSource) FetchHistorical(ctx context.Context, id types.AssetID, tf types.Timeframe) (models.HistoricalSeries, error) {
	return models.HistoricalSeries{}, b.err
}

func (b brokenSource) FetchGlobalMarket(ctx context.Context) (models.GlobalMarket, error) {
	return models.GlobalMarket{}, b.err
}

type fakeArchive struct {
	points []storage.ArchivedPoint
	err    error
}

func (f *fakeArchive) Range(ctx context.Context, id types.AssetID, from, to time.Time) ([]storage.ArchivedPoint, error) {
	return f.points, f.err
}

type testEnv struct {
	server *Server
	market *market.State
	wallet *wallet.State
}

type envOptions struct {
	simulated source.PriceDataSource
	remote    source.PriceDataSource
	mode      types.Mode
	config    ServerConfig
	archive   PriceArchiveReader
	checks    map[string]HealthCheck
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	logger.SetOutput(io.Discard)

	if opts.simulated == nil {
		opts.simulated = source.NewSimulated(source.WithClock(clock))
	}
	if opts.remote == nil {
		opts.remote = source.NewSimulated(source.WithClock(clock))
	}
	if opts.mode == "" {
		opts.mode = types.ModeSimulated
	}

	ctrl := datamode.NewController(storage.NewMemorySettingsStore(), opts.simulated, opts.remote, opts.mode, logger)
	mkt := market.NewState(ctrl, market.WithClock(clock), market.WithLogger(logger))
	w := wallet.NewState(wallet.WithClock(clock), wallet.WithLogger(logger))
	svc := portfolio.NewService(mkt, w, logger).WithClock(clock)

	cfg := opts.config
	server := NewServer(&cfg, Dependencies{
		Market:       mkt,
		Wallet:       w,
		Portfolio:    svc,
		Settings:     ctrl,
		Archive:      opts.archive,
		HealthChecks: opts.checks,
		Logger:       logger,
	})

	return &testEnv{server: server, market: mkt, wallet: w}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	return resp.Error.Code
}

type pricesBody struct {
	Data   []models.PriceSnapshot `json:"data"`
	Status market.StatusInfo      `json:"status"`
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{checks: map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return nil },
	}})

	w := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	decodeBody(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["backends"].(map[string]interface{})["redis"])
}

func TestHealthReportsFailingBackend(t *testing.T) {
	env := newTestEnv(t, envOptions{checks: map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return stderrors.New("connection refused") },
	}})

	w := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	decodeBody(t, w, &body)
	assert.Equal(t, "degraded", body["status"])
}

func TestGetPrices(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, "GET", "/api/market/prices?ids=1027,1,1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body pricesBody
	decodeBody(t, w, &body)
	require.Len(t, body.Data, 2)
	assert.Equal(t, types.AssetID(1), body.Data[0].AssetID)
	assert.Equal(t, "BTC", body.Data[0].Symbol)
	assert.Equal(t, types.StatusFresh, body.Status.Status)

	w = env.do(t, "GET", "/api/market/prices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &body)
	assert.Len(t, body.Data, 2)
}

func TestGetPricesInvalidIDs(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for _, query := range []string{"abc", "1,-5", ","} {
		w := env.do(t, "GET", "/api/market/prices?ids="+query, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.Equal(t, ErrCodeInvalidInput, errorCode(t, w))
	}
}

func TestRefreshPrices(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, "POST", "/api/market/prices/refresh", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "nothing cached and no ids given")

	w = env.do(t, "POST", "/api/market/prices/refresh", map[string]interface{}{"ids": []int{1, 5426}})
	require.Equal(t, http.StatusOK, w.Code)

	var body pricesBody
	decodeBody(t, w, &body)
	assert.Len(t, body.Data, 2)

	w = env.do(t, "POST", "/api/market/prices/refresh", `{"ids": [1], "extra": true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoteFailureServesDegradedData(t *testing.T) {
	env := newTestEnv(t, envOptions{
		remote: brokenSource{err: errors.NewUpstreamError("coinmarketcap", stderrors.New("timeout"))},
		mode:   types.ModeRemote,
	})

	w := env.do(t, "GET", "/api/market/prices?ids=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body pricesBody
	decodeBody(t, w, &body)
	assert.Len(t, body.Data, 1)
	assert.True(t, body.Status.Degraded)
	assert.Equal(t, types.ModeRemote, body.Status.Mode)
}

func TestBothSourcesFailingIsUnavailable(t *testing.T) {
	broken := brokenSource{err: stderrors.New("down")}
	env := newTestEnv(t, envOptions{simulated: broken, remote: broken, mode: types.ModeRemote})

	w := env.do(t, "GET", "/api/market/global", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, errors.CodeDataUnavailable, errorCode(t, w))
}

func TestGetTopAssets(t *testing.T) {
	env := newTestEnv(t, envOptions{config: ServerConfig{TopLimit: 20}})

	w := env.do(t, "GET", "/api/market/top?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body pricesBody
	decodeBody(t, w, &body)
	require.Len(t, body.Data, 5)
	for i := 1; i < len(body.Data); i++ {
		assert.False(t, body.Data[i].MarketCap.GreaterThan(body.Data[i-1].MarketCap))
	}

	w = env.do(t, "GET", "/api/market/top", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &body)
	assert.Len(t, body.Data, 20)

	for _, bad := range []string{"0", "-1", "ten"} {
		w = env.do(t, "GET", "/api/market/top?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestGetHistorical(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, "GET", "/api/market/historical/1/7d", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data models.HistoricalSeries `json:"data"`
	}
	decodeBody(t, w, &body)
	assert.Equal(t, types.TimeframeWeekly, body.Data.Timeframe)
	assert.NotEmpty(t, body.Data.Points)

	w = env.do(t, "GET", "/api/market/historical/1/decade", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/market/historical/zero/7d", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetGlobalAndStatus(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, "GET", "/api/market/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status market.StatusInfo
	decodeBody(t, w, &status)
	assert.Equal(t, types.StatusEmpty, status.Status)

	w = env.do(t, "GET", "/api/market/global", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data models.GlobalMarket `json:"data"`
	}
	decodeBody(t, w, &body)
	assert.True(t, body.Data.TotalMarketCap.IsPositive())
}

func TestArchive(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	w := env.do(t, "GET", "/api/market/archive/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotConfigured, errorCode(t, w))

	archive := &fakeArchive{points: []storage.ArchivedPoint{{Price: 40000, LastUpdated: testNow, DataMode: "simulated"}}}
	env = newTestEnv(t, envOptions{archive: archive})

	w = env.do(t, "GET", "/api/market/archive/1?from=2024-03-14T00:00:00Z&to=2024-03-15T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Points []storage.ArchivedPoint `json:"points"`
	}
	decodeBody(t, w, &body)
	assert.Len(t, body.Points, 1)

	w = env.do(t, "GET", "/api/market/archive/1?from=2024-03-16T00:00:00Z&to=2024-03-15T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	archive.err = stderrors.New("clickhouse down")
	w = env.do(t, "GET", "/api/market/archive/1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, errors.CodeStorage, errorCode(t, w))
}

func TestBuyAndSell(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, "POST", "/api/wallet/buy", map[string]interface{}{
		"assetId": 1, "quantity": "0.5", "unitPrice": "40000",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var rec models.TransactionRecord
	decodeBody(t, w, &rec)
	assert.Equal(t, types.KindBuy, rec.Kind)
	assert.True(t, rec.TotalValue.Equal(decimal.NewFromInt(20000)))

	w = env.do(t, "POST", "/api/wallet/sell", map[string]interface{}{
		"assetId": 1, "quantity": "0.2", "unitPrice": 41000,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	qty, ok := env.wallet.Holding(1)
	require.True(t, ok)
	assert.True(t, qty.Equal(decimal.RequireFromString("0.3")))

	w = env.do(t, "GET", "/api/wallet/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txs struct {
		Transactions []models.TransactionRecord `json:"transactions"`
	}
	decodeBody(t, w, &txs)
	require.Len(t, txs.Transactions, 2)
	assert.Equal(t, types.KindSell, txs.Transactions[0].Kind, "newest first")

	w = env.do(t, "GET", "/api/wallet/holdings", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBuyUsesMarketPriceWhenOmitted(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, "POST", "/api/wallet/buy", map[string]interface{}{"assetId": 1027, "quantity": 2})
	require.Equal(t, http.StatusCreated, w.Code)

	var rec models.TransactionRecord
	decodeBody(t, w, &rec)
	snap, ok := env.market.Price(1027)
	require.True(t, ok)
	assert.True(t, rec.UnitPrice.Equal(snap.Price))
}

func TestTradeErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{name: "malformed json", path: "/api/wallet/buy", body: "not json", status: http.StatusBadRequest, code: ErrCodeInvalidInput},
		{name: "missing asset", path: "/api/wallet/buy", body: map[string]interface{}{"quantity": 1, "unitPrice": 1}, status: http.StatusBadRequest, code: ErrCodeInvalidInput},
		{name: "zero quantity", path: "/api/wallet/buy", body: map[string]interface{}{"assetId": 1, "quantity": 0, "unitPrice": 1}, status: http.StatusBadRequest, code: ErrCodeInvalidInput},
		{name: "negative price", path: "/api/wallet/buy", body: map[string]interface{}{"assetId": 1, "quantity": 1, "unitPrice": -1}, status: http.StatusBadRequest, code: ErrCodeInvalidInput},
		{name: "bad decimal", path: "/api/wallet/buy", body: `{"assetId": 1, "quantity": "lots", "unitPrice": 1}`, status: http.StatusBadRequest, code: ErrCodeInvalidInput},
		{name: "sell without holding", path: "/api/wallet/sell", body: map[string]interface{}{"assetId": 1, "quantity": 1, "unitPrice": 1}, status: http.StatusConflict, code: errors.CodeInsufficientHoldings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}

	assert.True(t, env.wallet.IsEmpty())
	assert.Empty(t, env.wallet.Transactions())
}

func TestSellMoreThanHeld(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, "POST", "/api/wallet/buy", map[string]interface{}{"assetId": 5426, "quantity": 10, "unitPrice": 100})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, "POST", "/api/wallet/sell", map[string]interface{}{"assetId": 5426, "quantity": "10.0001", "unitPrice": 100})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "POST", "/api/wallet/sell", map[string]interface{}{"assetId": 5426, "quantity": 10, "unitPrice": 100})
	require.Equal(t, http.StatusCreated, w.Code)
	_, ok := env.wallet.Holding(5426)
	assert.False(t, ok, "exact sell removes the holding")
}

func TestPortfolioSummary(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.NoError(t, env.wallet.SeedDemo(context.Background(), testNow))

	w := env.do(t, "GET", "/api/portfolio/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary portfolio.Summary
	decodeBody(t, w, &summary)
	assert.True(t, summary.TotalValue.IsPositive())
	assert.Len(t, summary.Allocation, 3)

	w = env.do(t, "GET", "/api/wallet/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		History []models.PortfolioSnapshot `json:"history"`
	}
	decodeBody(t, w, &history)
	assert.Len(t, history.History, wallet.MaxPortfolioHistory)
}

func TestModeSettings(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, "GET", "/api/settings/mode", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mode modeResponse
	decodeBody(t, w, &mode)
	assert.Equal(t, types.ModeSimulated, mode.Mode)

	// load a series so the mode change has something to clear
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/market/historical/1/1d", nil).Code)

	w = env.do(t, "POST", "/api/settings/mode/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &mode)
	assert.Equal(t, types.ModeRemote, mode.Mode)
	_, ok := env.market.Historical(1, types.TimeframeIntraday)
	assert.False(t, ok)

	w = env.do(t, "PUT", "/api/settings/mode", map[string]string{"mode": "mock"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &mode)
	assert.Equal(t, types.ModeSimulated, mode.Mode)

	w = env.do(t, "PUT", "/api/settings/mode", map[string]string{"mode": "paper"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestToggleRoundTripLeavesWalletUntouched(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/wallet/buy", map[string]interface{}{
		"assetId": 1, "quantity": "0.5", "unitPrice": "40000",
	}).Code)
	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/wallet/sell", map[string]interface{}{
		"assetId": 1, "quantity": "0.1", "unitPrice": "41000",
	}).Code)

	holdings := env.wallet.Holdings()
	transactions := env.wallet.Transactions()
	history := env.wallet.PortfolioHistory()
	holdingsBody := env.do(t, "GET", "/api/wallet/holdings", nil).Body.String()
	txBody := env.do(t, "GET", "/api/wallet/transactions", nil).Body.String()

	for _, want := range []types.Mode{types.ModeRemote, types.ModeSimulated} {
		w := env.do(t, "POST", "/api/settings/mode/toggle", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var mode modeResponse
		decodeBody(t, w, &mode)
		require.Equal(t, want, mode.Mode)

		// reads in each mode must not write to the wallet
		require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/market/prices?ids=1,1027", nil).Code)
		require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/portfolio/summary", nil).Code)
	}

	assert.Equal(t, holdings, env.wallet.Holdings())
	assert.Equal(t, transactions, env.wallet.Transactions())
	assert.Equal(t, history, env.wallet.PortfolioHistory())
	assert.Equal(t, holdingsBody, env.do(t, "GET", "/api/wallet/holdings", nil).Body.String())
	assert.Equal(t, txBody, env.do(t, "GET", "/api/wallet/transactions", nil).Body.String())
}

func TestBannerSettings(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	var banner map[string]bool
	w := env.do(t, "GET", "/api/settings/banner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &banner)
	assert.True(t, banner["visible"])

	require.Equal(t, http.StatusOK, env.do(t, "POST", "/api/settings/banner/dismiss", nil).Code)
	w = env.do(t, "GET", "/api/settings/banner", nil)
	decodeBody(t, w, &banner)
	assert.False(t, banner["visible"])

	require.Equal(t, http.StatusOK, env.do(t, "POST", "/api/settings/banner/reset", nil).Code)
	w = env.do(t, "GET", "/api/settings/banner", nil)
	decodeBody(t, w, &banner)
	assert.True(t, banner["visible"])
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/nope", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, "DELETE", "/api/wallet/holdings", nil).Code)
}
