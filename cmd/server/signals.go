package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/domain"
)

// signalFile is the on-disk shape of one strategy's contribution: the JSON
// equivalent of domain.PartialSignal, minus the fields the aggregation
// session itself assigns (session_id, completed_at). Decimal fields are
// strings on the wire, matching the broker DTO convention elsewhere in
// this engine.
type signalFile struct {
	StrategyID            string            `json:"strategy_id"`
	AllocationWeight      string            `json:"allocation_weight"`
	ConsolidatedPortfolio map[string]string `json:"consolidated_portfolio"`
	SignalCount           int               `json:"signal_count"`
}

// loadSignals reads a JSON array of signalFile entries from path — the
// batch substitute for the live DSL strategy evaluator's fan-out, since
// this invocation surface runs one cycle at a time rather than holding a
// long-lived session open for each strategy to report into.
func loadSignals(path string) ([]domain.PartialSignal, error) {
	if path == "" {
		return nil, fmt.Errorf("--signals is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signals file: %w", err)
	}

	var entries []signalFile
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode signals file: %w", err)
	}

	signals := make([]domain.PartialSignal, 0, len(entries))
	for _, e := range entries {
		weight, err := decimal.NewFromString(e.AllocationWeight)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: allocation_weight: %w", e.StrategyID, err)
		}

		portfolio := make(map[domain.Symbol]decimal.Decimal, len(e.ConsolidatedPortfolio))
		for rawSym, rawWeight := range e.ConsolidatedPortfolio {
			sym, err := domain.NewSymbol(rawSym)
			if err != nil {
				return nil, fmt.Errorf("strategy %s: %w", e.StrategyID, err)
			}
			w, err := decimal.NewFromString(rawWeight)
			if err != nil {
				return nil, fmt.Errorf("strategy %s: weight for %s: %w", e.StrategyID, rawSym, err)
			}
			portfolio[sym] = w
		}

		signals = append(signals, domain.PartialSignal{
			StrategyID:            e.StrategyID,
			AllocationWeight:      weight,
			ConsolidatedPortfolio: portfolio,
			SignalCount:           e.SignalCount,
		})
	}
	return signals, nil
}
