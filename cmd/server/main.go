// Package main provides the API server entry point for the crypto dashboard.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crypto-dashboard/internal/api"
	"github.com/crypto-dashboard/internal/circuitbreaker"
	"github.com/crypto-dashboard/internal/config"
	"github.com/crypto-dashboard/internal/datamode"
	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/market"
	"github.com/crypto-dashboard/internal/portfolio"
	"github.com/crypto-dashboard/internal/ratelimit"
	"github.com/crypto-dashboard/internal/retry"
	"github.com/crypto-dashboard/internal/source"
	"github.com/crypto-dashboard/internal/storage"
	"github.com/crypto-dashboard/internal/types"
	"github.com/crypto-dashboard/internal/wallet"
	"github.com/crypto-dashboard/internal/worker"
)

func main() {
	fmt.Println("Crypto Dashboard API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := make(map[string]api.HealthCheck)

	// Redis backs the data mode setting and the warm start price cache.
	// Without it both live in memory for the lifetime of the process.
	var settings datamode.SettingsStore = storage.NewMemorySettingsStore()
	var priceCache *storage.PriceCache
	var redis *storage.RedisCache
	if cfg.Database.Redis.Host != "" {
		redis, err = storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer func() {
			_ = redis.Close()
		}()

		settings = storage.NewRedisSettingsStore(redis)
		priceCache = storage.NewPriceCache(storage.NewCacheService(redis, cfg.Database.Redis.PriceCacheTTL))
		checks["redis"] = redis.Ping
		logger.Info("Redis connected")
	} else {
		logger.Warn("REDIS_HOST not set, settings are kept in memory")
	}

	// Postgres journals wallet trades and portfolio history
	var journal wallet.Journal = wallet.NopJournal{}
	if cfg.Database.Postgres.Host != "" {
		postgres, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()

		journal = storage.NewWalletRepository(postgres.Pool())
		checks["postgres"] = postgres.Ping
		logger.Info("Postgres connected")
	} else {
		logger.Warn("POSTGRES_HOST not set, the wallet is not persisted")
	}

	// Data sources
	simulated := source.NewSimulated()
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.CoinMarketCap.RetryAttempts
	breakerCfg := circuitbreaker.DefaultConfig("coinmarketcap")
	breakerCfg.MaxFailures = cfg.CoinMarketCap.BreakerFailures
	breakerCfg.Cooldown = cfg.CoinMarketCap.BreakerCooldown
	cmc := source.NewCoinMarketCap(cfg.CoinMarketCap, logger)
	if redis != nil && cfg.CoinMarketCap.DailyCredits > 0 {
		budget, err := ratelimit.NewCreditBudget(ratelimit.CreditBudgetConfig{
			Redis:          redis.Client(),
			TotalBudget:    cfg.CoinMarketCap.DailyCredits,
			ReservedBudget: cfg.CoinMarketCap.ReservedCredits,
			KeyPrefix:      "cmc:credits:",
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create credit budget")
		}
		cmc.WithBudget(budget)
	}
	remote := source.NewGuarded(cmc, retryCfg, breakerCfg, logger)
	if cfg.CoinMarketCap.APIKey == "" {
		logger.Warn("COINMARKETCAP_API_KEY not set, remote mode will fall back to simulated data")
	}
	controller := datamode.NewController(settings, simulated, remote, cfg.Market.DefaultMode, logger)

	marketOpts := []market.Option{market.WithLogger(logger)}
	if priceCache != nil {
		marketOpts = append(marketOpts, market.WithWarmStart(priceCache))
	}

	// ClickHouse archives every accepted price
	var archive *storage.PriceArchive
	if cfg.Database.ClickHouse.Host != "" {
		clickhouse, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer func() {
			_ = clickhouse.Close()
		}()

		archive = storage.NewPriceArchive(clickhouse, func() types.Mode {
			mode, _ := controller.Mode(context.Background())
			return mode
		})
		marketOpts = append(marketOpts, market.WithRecorder(archive))
		checks["clickhouse"] = clickhouse.Ping
		logger.Info("ClickHouse connected")
	} else {
		logger.Warn("CLICKHOUSE_HOST not set, prices are not archived")
	}

	marketState := market.NewState(controller, marketOpts...)
	if err := marketState.Restore(ctx); err != nil {
		logger.WithError(err).Warn("Failed to restore cached prices")
	}

	walletState := wallet.NewState(wallet.WithJournal(journal), wallet.WithLogger(logger))
	if err := walletState.Load(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to load wallet")
	}
	if cfg.Wallet.SeedDemo {
		if err := walletState.SeedDemo(ctx, time.Now()); err != nil {
			logger.WithError(err).Warn("Failed to seed demo wallet")
		}
	}

	portfolioService := portfolio.NewService(marketState, walletState, logger)

	// Background refresh
	refresher, err := worker.NewRefresher(marketState, portfolioService, worker.ConfigFromMarket(cfg.Market), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create refresher")
	}
	if err := refresher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start refresher")
	}

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		AllowedOrigin:     cfg.Server.AllowedOrigin,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		TopLimit:          cfg.Market.TopLimit,
	}

	deps := api.Dependencies{
		Market:       marketState,
		Wallet:       walletState,
		Portfolio:    portfolioService,
		Settings:     controller,
		Refresher:    refresher,
		HealthChecks: checks,
		Logger:       logger,
	}
	if archive != nil {
		deps.Archive = archive
	}
	server := api.NewServer(serverConfig, deps)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
		"mode": cfg.Market.DefaultMode,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := refresher.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Refresher did not stop cleanly")
	}

	logger.Info("Server exited")
}
