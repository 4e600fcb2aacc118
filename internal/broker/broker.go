// Package broker defines the external trading-venue contract the engine
// needs (spec §6): account snapshots, order placement/cancellation, order
// status and historical bars (streaming quotes come from
// internal/marketdata, not from the broker) — plus a deterministic
// paper-trading implementation for tests and trading_mode=paper.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/domain"
)

// ErrorKind classifies a broker error so callers can decide whether to
// retry, surface immediately, or treat as a permanent rejection.
type ErrorKind string

const (
	ErrTransient  ErrorKind = "transient"  // HTTP 5xx, 429
	ErrValidation ErrorKind = "validation" // 400-class
	ErrAuth       ErrorKind = "auth"       // 401/403
	ErrPermanent  ErrorKind = "permanent"  // rejected, will never succeed
)

// Error wraps a broker failure with its classification.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return string(e.Kind) + " broker error during " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Account is a snapshot of broker-held account state.
type Account struct {
	Cash          decimal.Decimal
	BuyingPower   decimal.Decimal
	MarginEnabled bool
	Leverage      decimal.Decimal
}

// PlaceOrderRequest describes a limit order to submit.
type PlaceOrderRequest struct {
	ClientOrderID string // idempotency key
	Symbol        domain.Symbol
	Side          domain.Side
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal
	TimeInForce   string // "DAY"
}

// OrderStatusReport is the broker's view of one order.
type OrderStatusReport struct {
	BrokerOrderID  string
	Status         domain.OrderStatus
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	UpdatedAt      time.Time
}

// Bar is one OHLCV observation.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Broker is the seam between the execution engine and a real trading
// venue. Production code talks to a real broker over HTTP/WebSocket;
// tests and trading_mode=paper use PaperBroker.
type Broker interface {
	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) (map[domain.Symbol]domain.Position, error)

	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (OrderStatusReport, error)
	GetOrder(ctx context.Context, brokerOrderID string) (OrderStatusReport, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error

	GetHistoricalBars(ctx context.Context, symbol domain.Symbol, from, to time.Time) ([]Bar, error)
}
