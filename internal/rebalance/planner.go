// Package rebalance converts a target-weight allocation and a portfolio
// snapshot into a minimal, threshold-respecting set of trades (spec §4.3).
// The algorithm is deterministic and pure: no I/O, no clock reads beyond
// the timestamp supplied by the caller.
package rebalance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/domain"
)

// FeeModel derives a minimum trade amount from a fixed + proportional cost
// structure instead of a flat constant, mirroring the teacher's
// CalculateMinTradeAmount. Solves trade = fixedCost / (maxCostRatio -
// percentCost): the smallest trade for which total cost stays under
// maxCostRatio of the trade's own value.
type FeeModel struct {
	FixedCost    decimal.Decimal
	PercentCost  decimal.Decimal // e.g. 0.001 for 10 bps
	MaxCostRatio decimal.Decimal // e.g. 0.01 for 1% cost ceiling
}

// MinTradeAmount returns the fee-implied minimum trade size. Returns zero
// (no floor beyond the caller's own constant) if the model would divide by
// a non-positive denominator.
func (f FeeModel) MinTradeAmount() decimal.Decimal {
	denom := f.MaxCostRatio.Sub(f.PercentCost)
	if !denom.IsPositive() {
		return decimal.Zero
	}
	return f.FixedCost.Div(denom)
}

// Config holds the planner's thresholds. FeeModel is optional: when set,
// the larger of its derived minimum and MinTradeAmount is used, per the
// supplemental fee-implied-minimum feature; this only ever raises the
// effective floor, never relaxes the |trade_amount| >= min_trade_amount
// invariant.
type Config struct {
	MinTradeAmount    decimal.Decimal
	CashReservePct    decimal.Decimal
	RoundingPrecision int32
	FeeModel          *FeeModel
	// Fractionable reports whether sym accepts non-integer quantities; nil
	// means every symbol is fractionable.
	Fractionable func(sym domain.Symbol) bool
}

func (c Config) effectiveMinTradeAmount() decimal.Decimal {
	if c.FeeModel != nil {
		if fee := c.FeeModel.MinTradeAmount(); fee.GreaterThan(c.MinTradeAmount) {
			return fee
		}
	}
	return c.MinTradeAmount
}

func (c Config) isFractionable(sym domain.Symbol) bool {
	if c.Fractionable == nil {
		return true
	}
	return c.Fractionable(sym)
}

// Planner implements the rebalance algorithm of §4.3, grounded on the
// teacher's rebalancing.Service.CalculateRebalanceTrades: compute target
// value, compute current value, emit a signed trade — generalized here to
// arbitrary target-weight vectors with decimal arithmetic throughout.
type Planner struct {
	cfg Config
}

// New builds a Planner over cfg.
func New(cfg Config) *Planner {
	return &Planner{cfg: cfg}
}

// Plan computes a RebalancePlan for allocation against snapshot. It
// validates the allocation and snapshot first; a sum-of-weights violation
// or a missing price for a held position is a fatal error for this cycle.
func (p *Planner) Plan(allocation domain.TargetAllocation, snapshot domain.PortfolioSnapshot, planID string, asOf time.Time) (domain.RebalancePlan, error) {
	if err := allocation.Validate(); err != nil {
		return domain.RebalancePlan{}, err
	}
	if err := snapshot.Validate(); err != nil {
		return domain.RebalancePlan{}, err
	}

	effectiveCapital := p.effectiveCapital(snapshot)
	minTradeAmount := p.cfg.effectiveMinTradeAmount()

	symbols := unionSymbols(snapshot.Positions, allocation.Weights)

	items := make([]domain.RebalancePlanItem, 0, len(symbols))
	for _, sym := range symbols {
		targetWeight := allocation.Weight(sym)
		targetValue := effectiveCapital.Mul(targetWeight)
		currentValue := snapshot.PositionValue(sym)

		currentWeight := decimal.Zero
		if snapshot.TotalValue.IsPositive() {
			currentWeight = currentValue.Div(snapshot.TotalValue)
		}

		tradeAmount := targetValue.Sub(currentValue).Round(p.cfg.RoundingPrecision)

		action := domain.ActionHold
		if tradeAmount.Abs().GreaterThanOrEqual(minTradeAmount) {
			if tradeAmount.IsPositive() {
				action = domain.ActionBuy
			} else {
				action = domain.ActionSell
			}
		} else {
			tradeAmount = decimal.Zero
		}

		estimatedQty := decimal.Zero
		if price, ok := snapshot.Prices[sym]; ok && price.IsPositive() {
			estimatedQty = tradeAmount.Div(price)
			if !p.cfg.isFractionable(sym) {
				estimatedQty = estimatedQty.Truncate(0)
			}
		}

		items = append(items, domain.RebalancePlanItem{
			Symbol:            sym,
			Action:            action,
			TradeAmount:       tradeAmount,
			CurrentWeight:     currentWeight,
			TargetWeight:      targetWeight,
			CurrentValue:      currentValue,
			TargetValue:       targetValue,
			EstimatedQuantity: estimatedQty,
		})
	}

	domain.SortItems(items)

	total := decimal.Zero
	for _, item := range items {
		if item.Action != domain.ActionHold {
			total = total.Add(item.TradeAmount.Abs())
		}
	}

	return domain.RebalancePlan{
		PlanID:          planID,
		CorrelationID:   allocation.CorrelationID,
		Timestamp:       asOf,
		Items:           items,
		TotalTradeValue: total,
	}, nil
}

// effectiveCapital applies the cash-reserve haircut, or the margin-aware
// min(buying_power, total_value*leverage) rule when margin is present and
// enabled.
func (p *Planner) effectiveCapital(snapshot domain.PortfolioSnapshot) decimal.Decimal {
	reservePct := p.cfg.CashReservePct
	base := snapshot.TotalValue.Mul(decimal.NewFromInt(1).Sub(reservePct))

	if snapshot.Margin != nil && snapshot.Margin.Enabled {
		levered := snapshot.TotalValue.Mul(snapshot.Margin.LeverageFactor)
		return decimal.Min(snapshot.Margin.BuyingPower, levered)
	}
	return base
}

// unionSymbols returns the sorted union of symbols referenced by either
// current positions or target weights, so ordering is deterministic before
// domain.SortItems applies the SELL-first rule.
func unionSymbols(positions map[domain.Symbol]domain.Position, weights map[domain.Symbol]decimal.Decimal) []domain.Symbol {
	seen := make(map[domain.Symbol]bool)
	for sym := range positions {
		seen[sym] = true
	}
	for sym := range weights {
		seen[sym] = true
	}
	symbols := make([]domain.Symbol, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i] < symbols[j] })
	return symbols
}
