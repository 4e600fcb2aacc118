package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest top-of-book snapshot for a symbol. Replaced in place
// keyed by symbol in the market data store; evicted once older than the
// configured max quote age.
type Quote struct {
	Symbol    Symbol
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	BidSize   decimal.Decimal
	AskSize   decimal.Decimal
	Timestamp time.Time
}

// Validate checks the Quote invariants from the data model: non-negative
// prices, ask at or above bid whenever both sides are quoted.
func (q Quote) Validate() error {
	if q.BidPrice.IsNegative() {
		return &ValidationError{Field: "bid_price", Reason: "must be >= 0"}
	}
	if q.AskPrice.IsNegative() {
		return &ValidationError{Field: "ask_price", Reason: "must be >= 0"}
	}
	if q.BidPrice.IsPositive() && q.AskPrice.IsPositive() && q.AskPrice.LessThan(q.BidPrice) {
		return &ValidationError{Field: "ask_price", Reason: "must be >= bid_price when both are quoted"}
	}
	return nil
}

// MidPrice returns (bid+ask)/2 when both sides are positive.
func (q Quote) MidPrice() (decimal.Decimal, bool) {
	if q.BidPrice.IsPositive() && q.AskPrice.IsPositive() {
		return q.BidPrice.Add(q.AskPrice).Div(decimal.NewFromInt(2)), true
	}
	return decimal.Zero, false
}

// HasCrossableBidAsk reports whether ask > bid > 0, the condition under
// which get_bid_ask returns a usable pair.
func (q Quote) HasCrossableBidAsk() bool {
	return q.BidPrice.IsPositive() && q.AskPrice.GreaterThan(q.BidPrice)
}

// Trade is the latest print for a symbol. One slot per symbol, append-latest
// only.
type Trade struct {
	Symbol    Symbol
	Price     decimal.Decimal
	Size      decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// Validate checks the Trade invariants: positive price, non-negative size.
func (t Trade) Validate() error {
	if !t.Price.IsPositive() {
		return &ValidationError{Field: "price", Reason: "must be > 0"}
	}
	if t.Size.IsNegative() {
		return &ValidationError{Field: "size", Reason: "must be >= 0"}
	}
	return nil
}
