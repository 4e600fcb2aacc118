package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		original, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, original)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "TRADING_MODE", "FEED", "MIN_TRADE_AMOUNT", "MAX_SYMBOLS", "BROKER_API_KEY", "BROKER_API_SECRET")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, TradingModePaper, cfg.TradingMode)
	assert.Equal(t, FeedIEX, cfg.Feed)
	assert.True(t, decimal.NewFromFloat(25.00).Equal(cfg.MinTradeAmount))
	assert.Equal(t, 30, cfg.MaxSymbols)
}

func TestLoad_LiveModeRequiresCredentials(t *testing.T) {
	clearEnv(t, "TRADING_MODE", "BROKER_API_KEY", "BROKER_API_SECRET")
	os.Setenv("TRADING_MODE", "live")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_LiveModeWithCredentials(t *testing.T) {
	clearEnv(t, "TRADING_MODE", "BROKER_API_KEY", "BROKER_API_SECRET")
	os.Setenv("TRADING_MODE", "live")
	os.Setenv("BROKER_API_KEY", "key")
	os.Setenv("BROKER_API_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, TradingModeLive, cfg.TradingMode)
}

func TestValidate_RejectsUnknownFeed(t *testing.T) {
	cfg := &Config{TradingMode: TradingModePaper, Feed: "nasdaq", MaxSymbols: 10}
	assert.Error(t, cfg.Validate())
}
