package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is a state in the signal aggregation session state machine
// of §4.4. COMPLETED, TIMEOUT and FAILED are terminal and sticky.
type SessionStatus string

const (
	SessionPending     SessionStatus = "PENDING"
	SessionAggregating SessionStatus = "AGGREGATING"
	SessionCompleted   SessionStatus = "COMPLETED"
	SessionTimeout     SessionStatus = "TIMEOUT"
	SessionFailed      SessionStatus = "FAILED"
)

// IsTerminal reports whether status is sticky.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionTimeout, SessionFailed:
		return true
	default:
		return false
	}
}

// AggregationSession tracks one fan-out/fan-in round of strategy evaluation.
// Mutated only through the atomic operations of §4.4; never aliased.
type AggregationSession struct {
	SessionID           string
	CorrelationID       string
	TotalStrategies     int
	CompletedStrategies int
	Status              SessionStatus
	CreatedAt           time.Time
	TimeoutAt           time.Time
}

// IsExpired reports whether now is past the session deadline.
func (s AggregationSession) IsExpired(now time.Time) bool {
	return now.After(s.TimeoutAt)
}

// IsComplete reports whether every expected strategy has reported in.
func (s AggregationSession) IsComplete() bool {
	return s.CompletedStrategies >= s.TotalStrategies
}

// PartialSignal is one strategy's contribution to an aggregation session.
// Immutable once stored; at most one per (session_id, strategy_id).
type PartialSignal struct {
	SessionID             string
	StrategyID            string
	AllocationWeight      decimal.Decimal
	ConsolidatedPortfolio map[Symbol]decimal.Decimal
	SignalCount           int
	CompletedAt           time.Time
}
