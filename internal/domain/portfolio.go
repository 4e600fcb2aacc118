package domain

import (
	"github.com/shopspring/decimal"
)

// centTolerance is the tolerance applied when checking total_value against
// the sum of position values plus cash.
var centTolerance = decimal.NewFromFloat(0.01)

// Position is a broker-sourced holding. Positions are never mutated locally;
// the engine always reads them fresh from a PortfolioSnapshot.
type Position struct {
	Symbol            Symbol          `json:"symbol"`
	Quantity          decimal.Decimal `json:"quantity"`
	AverageEntryPrice decimal.Decimal `json:"average_entry_price"`
}

// Validate checks that quantity is non-negative; the core models no shorts.
func (p Position) Validate() error {
	if p.Quantity.IsNegative() {
		return &ValidationError{Field: "quantity", Reason: "must be >= 0 (no shorts in the core)"}
	}
	return nil
}

// MarginInfo carries optional buying-power and leverage figures used by the
// rebalance planner's effective-capital calculation.
type MarginInfo struct {
	BuyingPower    decimal.Decimal `json:"buying_power"`
	LeverageFactor decimal.Decimal `json:"leverage_factor"`
	Enabled        bool            `json:"enabled"`
}

// PortfolioSnapshot is an immutable view of account state taken once per
// planning call: positions, the prices needed to value them, cash, and
// optional margin figures.
type PortfolioSnapshot struct {
	Positions  map[Symbol]Position        `json:"positions"`
	Prices     map[Symbol]decimal.Decimal `json:"prices"`
	Cash       decimal.Decimal            `json:"cash"`
	TotalValue decimal.Decimal            `json:"total_value"`
	Margin     *MarginInfo                `json:"margin,omitempty"`
}

// Validate checks the PortfolioSnapshot invariants: every held position has
// a price, total_value is non-negative and reconciles with positions+cash
// within a cent of tolerance.
func (s PortfolioSnapshot) Validate() error {
	if s.TotalValue.IsNegative() {
		return &ValidationError{Field: "total_value", Reason: "must be >= 0"}
	}

	sum := decimal.Zero
	for sym, pos := range s.Positions {
		price, ok := s.Prices[sym]
		if !ok {
			return &PortfolioError{Symbol: sym, Reason: "held position has no price entry in snapshot"}
		}
		sum = sum.Add(pos.Quantity.Mul(price))
	}
	sum = sum.Add(s.Cash)

	if sum.Sub(s.TotalValue).Abs().GreaterThan(centTolerance) {
		return &ValidationError{
			Field:  "total_value",
			Reason: "does not reconcile with Σ(qty·price) + cash within 0.01 tolerance",
		}
	}
	return nil
}

// PositionValue returns quantity * price for sym, or zero if there is no
// held position.
func (s PortfolioSnapshot) PositionValue(sym Symbol) decimal.Decimal {
	pos, ok := s.Positions[sym]
	if !ok {
		return decimal.Zero
	}
	price, ok := s.Prices[sym]
	if !ok {
		return decimal.Zero
	}
	return pos.Quantity.Mul(price)
}
