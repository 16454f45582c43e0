// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crypto-dashboard/internal/logging"
	"github.com/crypto-dashboard/internal/market"
	"github.com/crypto-dashboard/internal/models"
	"github.com/crypto-dashboard/internal/portfolio"
	"github.com/crypto-dashboard/internal/storage"
	"github.com/crypto-dashboard/internal/types"
	"github.com/crypto-dashboard/internal/worker"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// Service interfaces for dependency injection and testing

// MarketService defines the market cache operations the API exposes
type MarketService interface {
	Price(id types.AssetID) (models.PriceSnapshot, bool)
	Prices() map[types.AssetID]models.PriceSnapshot
	RefreshPrices(ctx context.Context, ids []types.AssetID) error
	TopAssets() []models.PriceSnapshot
	RefreshTopAssets(ctx context.Context, limit int) error
	Historical(id types.AssetID, tf types.Timeframe) (models.HistoricalSeries, bool)
	RefreshHistorical(ctx context.Context, id types.AssetID, tf types.Timeframe) error
	Global() (models.GlobalMarket, bool)
	RefreshGlobalMarket(ctx context.Context) error
	Info() market.StatusInfo
	ClearHistorical()
	ClearError()
}

// WalletService defines the wallet operations the API exposes
type WalletService interface {
	Buy(ctx context.Context, id types.AssetID, qty, unitPrice decimal.Decimal) (models.TransactionRecord, error)
	Sell(ctx context.Context, id types.AssetID, qty, unitPrice decimal.Decimal) (models.TransactionRecord, error)
	Holdings() []models.HoldingEntry
	Transactions() []models.TransactionRecord
	PortfolioHistory() []models.PortfolioSnapshot
}

// PortfolioService defines the portfolio metrics the API exposes
type PortfolioService interface {
	Summary(ctx context.Context) (*portfolio.Summary, error)
}

// SettingsService defines the data mode and banner settings the API exposes
type SettingsService interface {
	Mode(ctx context.Context) (types.Mode, error)
	SetMode(ctx context.Context, mode types.Mode) error
	ToggleMode(ctx context.Context) (types.Mode, error)
	BannerVisible(ctx context.Context) (bool, error)
	DismissBanner(ctx context.Context) error
	ResetBanner(ctx context.Context) error
}

// PriceArchiveReader reads archived prices. Optional.
type PriceArchiveReader interface {
	Range(ctx context.Context, id types.AssetID, from, to time.Time) ([]storage.ArchivedPoint, error)
}

// RefresherStatus reports the background refresher state. Optional.
type RefresherStatus interface {
	Status() worker.RefresherStatus
}

// HealthCheck pings one backend
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	market     MarketService
	wallet     WalletService
	portfolio  PortfolioService
	settings   SettingsService
	archive    PriceArchiveReader
	refresher  RefresherStatus
	checks     map[string]HealthCheck
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	AllowedOrigin     string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond int
	Burst             int
	TopLimit          int
}

// Dependencies bundles the services a server is built from. Archive,
// Refresher and HealthChecks may be nil.
type Dependencies struct {
	Market       MarketService
	Wallet       WalletService
	Portfolio    PortfolioService
	Settings     SettingsService
	Archive      PriceArchiveReader
	Refresher    RefresherStatus
	HealthChecks map[string]HealthCheck
	Logger       *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.TopLimit <= 0 {
		config.TopLimit = 100
	}

	s := &Server{
		router:    mux.NewRouter(),
		market:    deps.Market,
		wallet:    deps.Wallet,
		portfolio: deps.Portfolio,
		settings:  deps.Settings,
		archive:   deps.Archive,
		refresher: deps.Refresher,
		checks:    deps.HealthChecks,
		config:    config,
		logger:    logger.Component("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters: request id first so every later log line carries it
	s.router.Use(RequestIDMiddleware(s.logger))
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	// CORS wraps the router because mux skips middleware for unmatched
	// methods, which would reject every preflight request
	s.handler = CORSMiddleware(s.config.AllowedOrigin)(s.router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Market endpoints
	api.HandleFunc("/market/prices", s.handleGetPrices).Methods("GET")
	api.HandleFunc("/market/prices/refresh", s.handleRefreshPrices).Methods("POST")
	api.HandleFunc("/market/top", s.handleGetTopAssets).Methods("GET")
	api.HandleFunc("/market/historical/{id}/{timeframe}", s.handleGetHistorical).Methods("GET")
	api.HandleFunc("/market/global", s.handleGetGlobal).Methods("GET")
	api.HandleFunc("/market/status", s.handleGetMarketStatus).Methods("GET")
	api.HandleFunc("/market/archive/{id}", s.handleGetArchive).Methods("GET")

	// Wallet endpoints
	api.HandleFunc("/wallet/holdings", s.handleGetHoldings).Methods("GET")
	api.HandleFunc("/wallet/transactions", s.handleGetTransactions).Methods("GET")
	api.HandleFunc("/wallet/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/wallet/buy", s.handleBuy).Methods("POST")
	api.HandleFunc("/wallet/sell", s.handleSell).Methods("POST")

	// Portfolio endpoints
	api.HandleFunc("/portfolio/summary", s.handleGetSummary).Methods("GET")

	// Settings endpoints
	api.HandleFunc("/settings/mode", s.handleGetMode).Methods("GET")
	api.HandleFunc("/settings/mode", s.handleSetMode).Methods("PUT")
	api.HandleFunc("/settings/mode/toggle", s.handleToggleMode).Methods("POST")
	api.HandleFunc("/settings/banner", s.handleGetBanner).Methods("GET")
	api.HandleFunc("/settings/banner/dismiss", s.handleDismissBanner).Methods("POST")
	api.HandleFunc("/settings/banner/reset", s.handleResetBanner).Methods("POST")
}

// handleHealth handles GET /health. Any failing backend turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	backends := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			backends[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		backends[name] = "ok"
	}

	body := map[string]interface{}{
		"status":   "healthy",
		"service":  "crypto-dashboard",
		"market":   s.market.Info().Status,
		"backends": backends,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if s.refresher != nil {
		body["refresher"] = s.refresher.Status()
	}

	respondJSON(w, status, body)
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
