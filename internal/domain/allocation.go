package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// weightTolerance is the epsilon (ε) against which Σweights ≤ 1 is checked.
var weightTolerance = decimal.NewFromFloat(1e-9)

// TargetAllocation is the consolidated output of an aggregation session:
// per-symbol target weights plus the correlation id that ties it to the
// rebalance plan and orders it produces.
type TargetAllocation struct {
	Weights       map[Symbol]decimal.Decimal `json:"weights"`
	CorrelationID string                     `json:"correlation_id"`
	AsOf          time.Time                  `json:"as_of"`
	Constraints   AllocationConstraints      `json:"constraints"`
}

// AllocationConstraints carries planner knobs that travel with the
// allocation rather than living in static config (e.g. a session-specific
// override of the cash reserve).
type AllocationConstraints struct {
	CashReservePct *decimal.Decimal `json:"cash_reserve_pct,omitempty"`
	LeverageFactor *decimal.Decimal `json:"leverage_factor,omitempty"`
}

// Validate checks that every weight is in [0,1] and the total does not
// exceed 1+ε.
func (a TargetAllocation) Validate() error {
	total := decimal.Zero
	for sym, w := range a.Weights {
		if w.IsNegative() || w.GreaterThan(decimal.NewFromInt(1)) {
			return &ValidationError{Field: "weights[" + sym.String() + "]", Reason: "must be in [0,1]"}
		}
		total = total.Add(w)
	}
	if total.Sub(decimal.NewFromInt(1)).GreaterThan(weightTolerance) {
		return &ValidationError{Field: "weights", Reason: "sum must not exceed 1 + ε"}
	}
	return nil
}

// Weight returns the target weight for sym, defaulting to zero.
func (a TargetAllocation) Weight(sym Symbol) decimal.Decimal {
	if w, ok := a.Weights[sym]; ok {
		return w
	}
	return decimal.Zero
}
