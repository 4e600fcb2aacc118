// Package config loads the engine's process-wide, read-only configuration
// from environment variables, the way the teacher's internal/config does.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Feed is the market-data feed selector.
type Feed string

const (
	FeedIEX Feed = "iex"
	FeedSIP Feed = "sip"
)

// TradingMode selects whether orders go to a real broker or the in-memory
// paper broker.
type TradingMode string

const (
	TradingModePaper TradingMode = "paper"
	TradingModeLive  TradingMode = "live"
)

// Config is the process-wide configuration enumerated in spec §6. It is
// built once at startup and never mutated afterward.
type Config struct {
	BrokerAPIKey    string
	BrokerAPISecret string
	BrokerBaseURL   string
	MarketDataWSURL string
	LogLevel        string
	LogPretty       bool

	MinTradeAmount      decimal.Decimal
	CashReservePct      decimal.Decimal
	TickSize            decimal.Decimal
	MaxSymbols          int
	MaxQuoteAgeSeconds  int
	CleanupIntervalSecs int
	RepegIntervalSecs   int
	MaxRepegsPerOrder   int
	AggregationTimeout  int
	Feed                Feed
	TradingMode         TradingMode
}

// Load reads a .env file if present, then env vars with fallbacks, and
// validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BrokerAPIKey:    getEnv("BROKER_API_KEY", ""),
		BrokerAPISecret: getEnv("BROKER_API_SECRET", ""),
		BrokerBaseURL:   getEnv("BROKER_BASE_URL", "https://paper-api.example.com"),
		MarketDataWSURL: getEnv("MARKET_DATA_WS_URL", "wss://market-data.example.com/v1/stream"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogPretty:       getEnvAsBool("LOG_PRETTY", false),

		MinTradeAmount:      getEnvAsDecimal("MIN_TRADE_AMOUNT", decimal.NewFromFloat(25.00)),
		CashReservePct:      getEnvAsDecimal("CASH_RESERVE_PCT", decimal.NewFromFloat(0.01)),
		TickSize:            getEnvAsDecimal("TICK_SIZE", decimal.NewFromFloat(0.01)),
		MaxSymbols:          getEnvAsInt("MAX_SYMBOLS", 30),
		MaxQuoteAgeSeconds:  getEnvAsInt("MAX_QUOTE_AGE_SECONDS", 300),
		CleanupIntervalSecs: getEnvAsInt("CLEANUP_INTERVAL_SECONDS", 60),
		RepegIntervalSecs:   getEnvAsInt("REPEG_INTERVAL_SECONDS", 30),
		MaxRepegsPerOrder:   getEnvAsInt("MAX_REPEGS_PER_ORDER", 5),
		AggregationTimeout:  getEnvAsInt("AGGREGATION_TIMEOUT_SECONDS", 600),
		Feed:                Feed(getEnv("FEED", string(FeedIEX))),
		TradingMode:         TradingMode(getEnv("TRADING_MODE", string(TradingModePaper))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that config is internally consistent. A live trading
// mode requires broker credentials; paper mode does not.
func (c *Config) Validate() error {
	if c.TradingMode != TradingModePaper && c.TradingMode != TradingModeLive {
		return fmt.Errorf("invalid TRADING_MODE %q: must be paper or live", c.TradingMode)
	}
	if c.Feed != FeedIEX && c.Feed != FeedSIP {
		return fmt.Errorf("invalid FEED %q: must be iex or sip", c.Feed)
	}
	if c.TradingMode == TradingModeLive && (c.BrokerAPIKey == "" || c.BrokerAPISecret == "") {
		return fmt.Errorf("BROKER_API_KEY and BROKER_API_SECRET are required when TRADING_MODE=live")
	}
	if c.MaxSymbols <= 0 {
		return fmt.Errorf("MAX_SYMBOLS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
