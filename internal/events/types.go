// Package events provides the publish/subscribe bus for the trading
// engine's notifications: the market data stream, the execution engine and
// the cycle orchestrator (on behalf of the aggregation session and the
// planner) emit events on it. The components still call one another
// directly; no component reacts to these events.
package events

import "time"

// EventType names a kind of event on the bus.
type EventType string

const (
	QuoteUpdated          EventType = "quote_updated"
	SubscriptionLimitHit  EventType = "subscription_limit_hit"
	StreamConnected       EventType = "stream_connected"
	StreamDisconnected    EventType = "stream_disconnected"
	SessionCreated        EventType = "session_created"
	PartialSignalStored   EventType = "partial_signal_stored"
	AllocationReady       EventType = "allocation_ready"
	SessionTimedOut       EventType = "session_timed_out"
	PlanGenerated         EventType = "plan_generated"
	OrderSubmitted        EventType = "order_submitted"
	OrderRepegged         EventType = "order_repegged"
	TradeExecutedEvent    EventType = "trade_executed"
	ErrorOccurred         EventType = "error_occurred"
)

// EventData is implemented by every typed event payload.
type EventData interface {
	EventType() EventType
}

// Event is one message delivered on the bus: a typed payload plus the
// envelope fields every subscriber can rely on regardless of payload type.
type Event struct {
	Type      EventType
	Module    string
	Timestamp time.Time
	Data      EventData
}

// QuoteUpdatedData reports a quote refresh in the market data store.
type QuoteUpdatedData struct {
	Symbol string
	Mid    string // decimal.Decimal.String(), kept as string to avoid an import cycle with domain
}

func (d *QuoteUpdatedData) EventType() EventType { return QuoteUpdated }

// SubscriptionLimitHitData reports a rejected subscribe due to the
// max_symbols cap with no lower-priority slot to evict.
type SubscriptionLimitHitData struct {
	Symbol   string
	Priority float64
}

func (d *SubscriptionLimitHitData) EventType() EventType { return SubscriptionLimitHit }

// StreamConnectedData reports a successful (re)connection, including the
// resubscribed symbol set.
type StreamConnectedData struct {
	Symbols []string
}

func (d *StreamConnectedData) EventType() EventType { return StreamConnected }

// StreamDisconnectedData reports a connection loss and the reason.
type StreamDisconnectedData struct {
	Reason string
}

func (d *StreamDisconnectedData) EventType() EventType { return StreamDisconnected }

// SessionCreatedData reports a new aggregation session's fan-out size.
type SessionCreatedData struct {
	SessionID       string
	CorrelationID   string
	TotalStrategies int
}

func (d *SessionCreatedData) EventType() EventType { return SessionCreated }

// PartialSignalStoredData reports one strategy's contribution landing.
type PartialSignalStoredData struct {
	SessionID           string
	StrategyID          string
	CompletedStrategies int
	TotalStrategies     int
	Duplicate           bool
}

func (d *PartialSignalStoredData) EventType() EventType { return PartialSignalStored }

// AllocationReadyData reports a session's consolidated target allocation.
type AllocationReadyData struct {
	SessionID     string
	CorrelationID string
	SymbolCount   int
}

func (d *AllocationReadyData) EventType() EventType { return AllocationReady }

// SessionTimedOutData reports a session hitting its deadline short of
// completion.
type SessionTimedOutData struct {
	SessionID           string
	CompletedStrategies int
	TotalStrategies     int
}

func (d *SessionTimedOutData) EventType() EventType { return SessionTimedOut }

// PlanGeneratedData reports a rebalance plan's shape.
type PlanGeneratedData struct {
	PlanID          string
	CorrelationID   string
	ItemCount       int
	TotalTradeValue string
}

func (d *PlanGeneratedData) EventType() EventType { return PlanGenerated }

// OrderSubmittedData reports a new order accepted by the broker.
type OrderSubmittedData struct {
	OrderID       string
	Symbol        string
	Side          string
	LimitPrice    string
	CorrelationID string
}

func (d *OrderSubmittedData) EventType() EventType { return OrderSubmitted }

// OrderRepeggedData reports a cancel/resubmit cycle for an open order.
type OrderRepeggedData struct {
	OrderID    string
	Symbol     string
	RepegCount int
	NewPrice   string
}

func (d *OrderRepeggedData) EventType() EventType { return OrderRepegged }

// TradeExecutedEventData mirrors domain.TradeExecuted for bus consumers
// that don't want to import internal/domain (e.g. a notification sink).
type TradeExecutedEventData struct {
	OrderID       string
	Symbol        string
	Status        string
	Success       bool
	CorrelationID string
}

func (d *TradeExecutedEventData) EventType() EventType { return TradeExecutedEvent }

// ErrorEventData carries an error surfaced by a component that cannot act
// on it locally.
type ErrorEventData struct {
	Error   string
	Context map[string]string
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }
