package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction is the side a RebalancePlanItem instructs the executor to
// take.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
	ActionHold TradeAction = "HOLD"
)

// sortRank orders items SELL-first so capital is released before it is
// spent, per the planner's ordering rule.
func (a TradeAction) sortRank() int {
	switch a {
	case ActionSell:
		return 0
	case ActionHold:
		return 1
	case ActionBuy:
		return 2
	default:
		return 3
	}
}

// RebalancePlanItem is one symbol's instruction within a RebalancePlan.
// Immutable once emitted.
type RebalancePlanItem struct {
	Symbol            Symbol          `json:"symbol"`
	Action            TradeAction     `json:"action"`
	TradeAmount       decimal.Decimal `json:"trade_amount"` // signed dollars; BUY>0, SELL<0, HOLD=0
	CurrentWeight     decimal.Decimal `json:"current_weight"`
	TargetWeight      decimal.Decimal `json:"target_weight"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	TargetValue       decimal.Decimal `json:"target_value"`
	EstimatedQuantity decimal.Decimal `json:"estimated_quantity"`
}

// Validate checks the item's sign/threshold invariant against minTradeAmount.
func (i RebalancePlanItem) Validate(minTradeAmount decimal.Decimal) error {
	switch i.Action {
	case ActionBuy:
		if !i.TradeAmount.IsPositive() {
			return &ValidationError{Field: "trade_amount", Reason: "BUY must have trade_amount > 0"}
		}
		if i.TradeAmount.LessThan(minTradeAmount) {
			return &ValidationError{Field: "trade_amount", Reason: "BUY must be >= min_trade_amount"}
		}
	case ActionSell:
		if !i.TradeAmount.IsNegative() {
			return &ValidationError{Field: "trade_amount", Reason: "SELL must have trade_amount < 0"}
		}
		if i.TradeAmount.Abs().LessThan(minTradeAmount) {
			return &ValidationError{Field: "trade_amount", Reason: "SELL magnitude must be >= min_trade_amount"}
		}
	case ActionHold:
		if !i.TradeAmount.IsZero() {
			return &ValidationError{Field: "trade_amount", Reason: "HOLD must have trade_amount == 0"}
		}
	default:
		return &ValidationError{Field: "action", Reason: "unrecognized trade action"}
	}
	return nil
}

// RebalancePlan is the immutable output of one planning call: a unique
// plan id, the items it proposes, and their total notional.
type RebalancePlan struct {
	PlanID          string              `json:"plan_id"`
	CorrelationID   string              `json:"correlation_id"`
	Timestamp       time.Time           `json:"timestamp"`
	Items           []RebalancePlanItem `json:"items"`
	TotalTradeValue decimal.Decimal     `json:"total_trade_value"`
}

// SortItems orders items SELL-first, then HOLD, then BUY, then alphabetically
// by symbol within a group, per the planner's ordering invariant.
func SortItems(items []RebalancePlanItem) {
	sortPlanItems(items)
}

func sortPlanItems(items []RebalancePlanItem) {
	// insertion sort: plans are small (tens of symbols), stability matters
	// more than asymptotic complexity here.
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && itemLess(items[j], items[j-1]) {
			items[j], items[j-1] = items[j-1], items[j]
			j--
		}
	}
}

func itemLess(a, b RebalancePlanItem) bool {
	ra, rb := a.Action.sortRank(), b.Action.sortRank()
	if ra != rb {
		return ra < rb
	}
	return a.Symbol < b.Symbol
}
