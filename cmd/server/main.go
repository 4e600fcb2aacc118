// Command tradecore is the invocation surface for one trading cycle: it
// consolidates a batch of strategy signals, prices the current portfolio,
// builds a rebalance plan and — for the trade subcommand — drives that
// plan through the Smart Execution Engine, printing a trade-result record
// to stdout and exiting non-zero on outright failure.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/quantedge/tradecore/internal/broker"
	"github.com/quantedge/tradecore/internal/config"
	"github.com/quantedge/tradecore/internal/cycle"
	"github.com/quantedge/tradecore/pkg/logger"
)

var (
	signalsFile       string
	correlationIDFlag string
	marketHoursFlag   string // "", "open", "closed"
	tradingModeFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "tradecore",
	Short: "tradecore runs one consolidate/plan/execute trading cycle",
	Long:  "tradecore consolidates strategy signals, prices the portfolio, plans a rebalance and optionally executes it against a broker.",
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&signalsFile, "signals", "s", "", "path to a JSON file of partial strategy signals")
	rootCmd.PersistentFlags().StringVarP(&correlationIDFlag, "correlation-id", "c", "", "correlation id for this cycle (generated if empty)")
	rootCmd.PersistentFlags().StringVarP(&marketHoursFlag, "market-hours", "m", "", "override market-hours gating: 'open', 'closed', or empty for the wall clock")
	rootCmd.PersistentFlags().StringVarP(&tradingModeFlag, "trading-mode", "t", "", "override TRADING_MODE: 'paper' or 'live'")

	rootCmd.AddCommand(tradeCmd)
	rootCmd.AddCommand(signalOnlyCmd)
	rootCmd.AddCommand(pnlCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildOrchestrator loads config, wires the logger and broker, and returns
// an Orchestrator ready for one cycle. Shared by every subcommand so the
// wiring stays in one place.
func buildOrchestrator() (*cycle.Orchestrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if tradingModeFlag != "" {
		cfg.TradingMode = config.TradingMode(tradingModeFlag)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --trading-mode override: %w", err)
		}
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	var br broker.Broker
	if cfg.TradingMode == config.TradingModeLive {
		br = broker.NewHTTPBroker(cfg.BrokerBaseURL, cfg.BrokerAPIKey, cfg.BrokerAPISecret, log)
	} else {
		br = broker.NewPaperBroker(startingPaperCash)
	}

	return cycle.New(cfg, log, br, marketHoursOverride()), nil
}

// startingPaperCash seeds the paper broker for a standalone CLI run; a
// long-lived paper deployment would instead persist and reload this.
var startingPaperCash = decimal.NewFromInt(100000)

func marketHoursOverride() *bool {
	switch marketHoursFlag {
	case "open":
		open := true
		return &open
	case "closed":
		closed := false
		return &closed
	default:
		return nil
	}
}

func resolveCorrelationID() string {
	if correlationIDFlag != "" {
		return correlationIDFlag
	}
	return fmt.Sprintf("cli-%d", time.Now().UnixNano())
}
