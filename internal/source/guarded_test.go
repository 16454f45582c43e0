package source

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crypto-dashboard/internal/circuitbreaker"
	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/retry"
	"github.com/crypto-dashboard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestGuarded_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	cmc := newTestCoinMarketCap(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(quotesBody))
	})
	g := NewGuarded(cmc, testRetry(), circuitbreaker.Config{MaxFailures: 5, Cooldown: time.Minute}, nil)

	prices, err := g.FetchPrices(context.Background(), []types.AssetID{1, 1027})
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, g.Breaker().State)
}

func TestGuarded_OpensCircuit(t *testing.T) {
	var calls atomic.Int32
	cmc := newTestCoinMarketCap(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	g := NewGuarded(cmc, testRetry(), circuitbreaker.Config{MaxFailures: 2, Cooldown: time.Hour}, nil)

	for i := 0; i < 2; i++ {
		_, err := g.FetchGlobalMarket(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, g.Breaker().State)

	_, err := g.FetchGlobalMarket(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsUpstream(err))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(6), calls.Load(), "open circuit skips the network")
}

func TestGuarded_PermanentErrorsDoNotRetryOrTrip(t *testing.T) {
	var calls atomic.Int32
	cmc := newTestCoinMarketCap(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status": {"error_code": 1001, "error_message": "This API Key is invalid."}}`))
	})
	g := NewGuarded(cmc, testRetry(), circuitbreaker.Config{MaxFailures: 1, Cooldown: time.Hour}, nil)

	for i := 0; i < 3; i++ {
		_, err := g.FetchPrices(context.Background(), []types.AssetID{1})
		require.Error(t, err)
		assert.True(t, errors.IsPermanent(err))
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, g.Breaker().State)

	_, err := g.FetchHistorical(context.Background(), 1, types.TimeframeWeekly)
	assert.ErrorIs(t, err, ErrHistoricalUnavailable)
	assert.Equal(t, circuitbreaker.StateClosed, g.Breaker().State)
}

func TestGuarded_InvalidInputPassesThrough(t *testing.T) {
	g := NewGuarded(NewSimulated(), testRetry(), circuitbreaker.Config{MaxFailures: 1}, nil)

	_, err := g.FetchTopAssets(context.Background(), 0)
	assert.True(t, errors.IsInvalidInput(err))
	assert.Equal(t, circuitbreaker.StateClosed, g.Breaker().State)
	assert.Equal(t, "simulated", g.Name())
}
