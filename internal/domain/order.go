package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is a state in the per-order execution state machine of
// §4.5: NEW -> READY -> OPEN -> (FILLED | CANCELLING -> READY) with
// REJECTED/EXPIRED/CANCELLED as additional terminals.
type OrderStatus string

const (
	OrderNew        OrderStatus = "NEW"
	OrderReady      OrderStatus = "READY"
	OrderOpen       OrderStatus = "OPEN"
	OrderCancelling OrderStatus = "CANCELLING"
	OrderFilled     OrderStatus = "FILLED"
	OrderRejected   OrderStatus = "REJECTED"
	OrderExpired    OrderStatus = "EXPIRED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// IsTerminal reports whether status ends the order's lifecycle.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderExpired, OrderCancelled:
		return true
	default:
		return false
	}
}

// validOrderTransitions enumerates the legal edges of the per-order state
// machine. CANCELLING->READY is the re-peg loop; REJECTED is reachable from
// NEW, READY and OPEN, and EXPIRED from READY, OPEN and CANCELLING.
var validOrderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderNew:        {OrderReady: true, OrderRejected: true},
	OrderReady:      {OrderOpen: true, OrderRejected: true, OrderExpired: true},
	OrderOpen:       {OrderOpen: true, OrderFilled: true, OrderCancelling: true, OrderRejected: true, OrderExpired: true, OrderCancelled: true},
	OrderCancelling: {OrderReady: true, OrderCancelled: true, OrderExpired: true},
}

// CanTransition reports whether moving from s to next is a legal edge of
// the order state machine.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return validOrderTransitions[s][next]
}

// Side is the direction of an execution order, distinct from
// RebalancePlanItem's TradeAction (HOLD items never reach the executor).
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ExecutionOrder tracks one order through submission, monitoring, re-pegs
// and finalization. Owned exclusively by the Smart Execution Engine until
// it reaches a terminal status; external inspectors see only snapshots.
type ExecutionOrder struct {
	OrderID        string          `json:"order_id"`
	BrokerOrderID  string          `json:"broker_order_id"`
	CorrelationID  string          `json:"correlation_id"`
	ParentOrderID  string          `json:"parent_order_id,omitempty"` // parent of a child order; the engine never splits orders, so it stays empty
	Symbol         Symbol          `json:"symbol"`
	Side           Side            `json:"side"`
	RequestedQty   decimal.Decimal `json:"requested_qty"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	Status         OrderStatus     `json:"status"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	RepegCount     int             `json:"repeg_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks the ExecutionOrder invariants: filled quantity never
// exceeds requested, and a non-zero fill implies a positive average price.
func (o ExecutionOrder) Validate() error {
	if o.FilledQty.GreaterThan(o.RequestedQty) {
		return &ValidationError{Field: "filled_qty", Reason: "must be <= requested_qty"}
	}
	if o.FilledQty.IsPositive() && !o.FilledAvgPrice.IsPositive() {
		return &ValidationError{Field: "filled_avg_price", Reason: "must be > 0 when filled_qty > 0"}
	}
	return nil
}

// RemainingQty returns the unfilled portion of the order.
func (o ExecutionOrder) RemainingQty() decimal.Decimal {
	return o.RequestedQty.Sub(o.FilledQty)
}

// TradeExecuted is the record emitted for each order that reaches a
// terminal state.
type TradeExecuted struct {
	Symbol         Symbol          `json:"symbol"`
	Action         Side            `json:"action"`
	RequestedQty   decimal.Decimal `json:"requested_qty"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	TradeAmount    decimal.Decimal `json:"trade_amount"` // filled_qty * filled_avg_price
	OrderID        string          `json:"order_id"`
	OrderIDLast6   *string         `json:"order_id_redacted"`
	Status         OrderStatus     `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
	Success        bool            `json:"success"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
}

// Last6 returns a pointer to the last six characters of id, or nil if id
// is shorter than six characters — the order_id_redacted wire field.
func Last6(id string) *string {
	if len(id) < 6 {
		return nil
	}
	last6 := id[len(id)-6:]
	return &last6
}
