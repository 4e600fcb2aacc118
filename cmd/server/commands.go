package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantedge/tradecore/internal/cycle"
	"github.com/quantedge/tradecore/internal/domain"
)

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Consolidate signals, plan a rebalance, and execute it",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		orch, err := buildOrchestrator()
		requireNoError(err)

		signals, err := loadSignals(signalsFile)
		requireNoError(err)

		result := orch.Trade(context.Background(), signals, resolveCorrelationID(), time.Now())
		printResult(result)
		os.Exit(exitCodeFor(result))
	},
}

var signalOnlyCmd = &cobra.Command{
	Use:   "signal-only",
	Short: "Consolidate signals and produce a rebalance plan without executing it",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		orch, err := buildOrchestrator()
		requireNoError(err)

		signals, err := loadSignals(signalsFile)
		requireNoError(err)

		correlationID := resolveCorrelationID()
		plan, warnings, err := orch.Plan(context.Background(), signals, correlationID, time.Now())
		if err != nil {
			result := cycle.Result{Status: cycle.StatusFailure, Success: false, CorrelationID: correlationID, Warnings: append(warnings, err.Error())}
			printResult(result)
			os.Exit(1)
		}

		result := cycle.Result{Status: cycle.StatusSuccess, Success: true, CorrelationID: correlationID, Plan: &plan, Warnings: warnings}
		printResult(result)
	},
}

var pnlCmd = &cobra.Command{
	Use:   "pnl",
	Short: "Print the current account and positions snapshot (not a P&L report)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		orch, err := buildOrchestrator()
		requireNoError(err)

		snapshot, warnings, err := orch.AccountSnapshot(context.Background())
		requireNoError(err)

		printJSON(struct {
			Snapshot domain.PortfolioSnapshot `json:"snapshot"`
			Warnings []string                 `json:"warnings"`
		}{Snapshot: snapshot, Warnings: warnings})
	},
}

func requireNoError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}

func printResult(result cycle.Result) {
	printJSON(result)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding result: %s\n", err.Error())
		os.Exit(1)
	}
}

// exitCodeFor maps a trade-result's status to the process exit code: zero
// for SUCCESS and PARTIAL-with-some-fills, non-zero for FAILURE.
func exitCodeFor(result cycle.Result) int {
	if result.Status == cycle.StatusFailure {
		return 1
	}
	return 0
}
