// Package config provides configuration management for the crypto dashboard.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crypto-dashboard/internal/types"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	CoinMarketCap CoinMarketCapConfig
	Market        MarketConfig
	Wallet        WalletConfig
	RateLimit     RateLimitConfig
	Logging       LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	AllowedOrigin   string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration. An empty Host disables the
// wallet journal and keeps the wallet in memory.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration. An empty Host disables the
// price archive.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration. An empty Host keeps settings in memory.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	PriceCacheTTL  time.Duration
}

// CoinMarketCapConfig holds remote quotes API configuration
type CoinMarketCapConfig struct {
	BaseURL        string
	APIKey         string
	Currency       string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int

	// RetryAttempts bounds attempts per request, the first call included
	RetryAttempts   int
	BreakerFailures int
	BreakerCooldown time.Duration

	// DailyCredits enables the shared credit budget when Redis is configured.
	// ReservedCredits of it are kept for interactive requests.
	DailyCredits    int
	ReservedCredits int
}

// MarketConfig holds market refresh configuration
type MarketConfig struct {
	DefaultMode       types.Mode
	WatchList         []types.AssetID
	TopLimit          int
	PriceInterval     time.Duration
	GlobalInterval    time.Duration
	PortfolioInterval time.Duration
	RefreshTimeout    time.Duration
}

// WalletConfig holds wallet configuration
type WalletConfig struct {
	SeedDemo bool
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	mode, err := types.ParseMode(getEnv("DATA_MODE_DEFAULT", string(types.ModeSimulated)))
	if err != nil {
		return nil, fmt.Errorf("DATA_MODE_DEFAULT: %w", err)
	}

	watchList, err := types.ParseAssetIDs(getEnv("MARKET_WATCH_LIST", "1,1027,5426,825,1839,52,3408,74,6636,2"))
	if err != nil {
		return nil, fmt.Errorf("MARKET_WATCH_LIST: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			AllowedOrigin:   getEnv("SERVER_ALLOWED_ORIGIN", "*"),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", ""),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "crypto_dashboard"),
				User:           getEnv("POSTGRES_USER", "dashboard"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "crypto_dashboard"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
				PriceCacheTTL:  getEnvAsDuration("REDIS_PRICE_CACHE_TTL", 24*time.Hour),
			},
		},
		CoinMarketCap: CoinMarketCapConfig{
			BaseURL:         strings.TrimRight(getEnv("COINMARKETCAP_BASE_URL", "https://pro-api.coinmarketcap.com"), "/"),
			APIKey:          getEnv("COINMARKETCAP_API_KEY", ""),
			Currency:        strings.ToUpper(getEnv("COINMARKETCAP_CURRENCY", "EUR")),
			RequestTimeout:  getEnvAsDuration("COINMARKETCAP_TIMEOUT", 15*time.Second),
			RateLimitRPS:    getEnvAsFloat("COINMARKETCAP_RATE_LIMIT_RPS", 0.5),
			RateLimitBurst:  getEnvAsInt("COINMARKETCAP_RATE_LIMIT_BURST", 2),
			RetryAttempts:   getEnvAsInt("COINMARKETCAP_RETRY_ATTEMPTS", 3),
			BreakerFailures: getEnvAsInt("COINMARKETCAP_BREAKER_FAILURES", 5),
			BreakerCooldown: getEnvAsDuration("COINMARKETCAP_BREAKER_COOLDOWN", time.Minute),
			DailyCredits:    getEnvAsInt("COINMARKETCAP_DAILY_CREDITS", 300),
			ReservedCredits: getEnvAsInt("COINMARKETCAP_RESERVED_CREDITS", 100),
		},
		Market: MarketConfig{
			DefaultMode:       mode,
			WatchList:         watchList,
			TopLimit:          getEnvAsInt("MARKET_TOP_LIMIT", 100),
			PriceInterval:     getEnvAsDuration("MARKET_PRICE_INTERVAL", 60*time.Second),
			GlobalInterval:    getEnvAsDuration("MARKET_GLOBAL_INTERVAL", 5*time.Minute),
			PortfolioInterval: getEnvAsDuration("PORTFOLIO_SNAPSHOT_INTERVAL", time.Hour),
			RefreshTimeout:    getEnvAsDuration("MARKET_REFRESH_TIMEOUT", 20*time.Second),
		},
		Wallet: WalletConfig{
			SeedDemo: getEnvAsBool("WALLET_SEED_DEMO", true),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if len(c.Market.WatchList) == 0 {
		return fmt.Errorf("MARKET_WATCH_LIST must name at least one asset")
	}
	if c.Market.TopLimit <= 0 {
		return fmt.Errorf("MARKET_TOP_LIMIT must be positive, got %d", c.Market.TopLimit)
	}
	if c.Market.PriceInterval <= 0 || c.Market.GlobalInterval <= 0 || c.Market.PortfolioInterval <= 0 {
		return fmt.Errorf("refresh intervals must be positive")
	}
	if c.CoinMarketCap.RateLimitRPS <= 0 {
		return fmt.Errorf("COINMARKETCAP_RATE_LIMIT_RPS must be positive")
	}
	if c.CoinMarketCap.DailyCredits > 0 && c.CoinMarketCap.ReservedCredits > c.CoinMarketCap.DailyCredits {
		return fmt.Errorf("COINMARKETCAP_RESERVED_CREDITS must not exceed COINMARKETCAP_DAILY_CREDITS")
	}
	if c.CoinMarketCap.Currency == "" {
		return fmt.Errorf("COINMARKETCAP_CURRENCY must not be empty")
	}
	return nil
}

// PostgresURL returns the connection URL used by migrations
func (c *PostgresConfig) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
