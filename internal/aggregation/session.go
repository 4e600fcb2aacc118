// Package aggregation coordinates N concurrent strategy evaluations into
// one consolidated target allocation (spec §4.4): fan out, fan in exactly
// once per strategy, emit when complete or timed out.
package aggregation

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/domain"
)

// sessionRecord is the mutable state behind one AggregationSession,
// guarded by its own mutex — mirroring the teacher's per-resource locking
// idiom (peakPnLCacheMutex, vwapCollectorsMu in the wider pack) rather
// than one global lock over every session.
type sessionRecord struct {
	mu       sync.Mutex
	session  domain.AggregationSession
	partials map[string]domain.PartialSignal // keyed by strategy_id
	order    []string                        // strategy_id insertion order, for deterministic iteration
}

// Store holds every live and recently-terminal AggregationSession,
// keyed by session_id. Mirrors the Market Data Stream's thread-safe
// cache-with-copy-on-read pattern: the map itself is guarded by storeMu,
// each record's internals by its own mutex.
type Store struct {
	storeMu  sync.RWMutex
	sessions map[string]*sessionRecord
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*sessionRecord)}
}

// CreateSession initializes a new session's counters and absolute
// deadline.
func (s *Store) CreateSession(sessionID, correlationID string, totalStrategies int, timeout time.Duration, now time.Time) domain.AggregationSession {
	session := domain.AggregationSession{
		SessionID:       sessionID,
		CorrelationID:   correlationID,
		TotalStrategies: totalStrategies,
		Status:          domain.SessionPending,
		CreatedAt:       now,
		TimeoutAt:       now.Add(timeout),
	}

	s.storeMu.Lock()
	s.sessions[sessionID] = &sessionRecord{session: session, partials: make(map[string]domain.PartialSignal)}
	s.storeMu.Unlock()

	return session
}

func (s *Store) record(sessionID string) (*sessionRecord, bool) {
	s.storeMu.RLock()
	defer s.storeMu.RUnlock()
	rec, ok := s.sessions[sessionID]
	return rec, ok
}

// StorePartialSignalResult reports the outcome of StorePartialSignal.
type StorePartialSignalResult struct {
	CompletedStrategies int
	Duplicate           bool
	NowComplete         bool
}

// StorePartialSignal writes a partial signal under a not-exists guard,
// then atomically increments completed_strategies. A duplicate delivery
// of the same (session_id, strategy_id) is silently ignored and returns
// the counter unchanged — exactly-once semantics under concurrent
// delivery (invariant #6).
func (s *Store) StorePartialSignal(sessionID string, signal domain.PartialSignal, now time.Time) (StorePartialSignalResult, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return StorePartialSignalResult{}, &domain.ValidationError{Field: "session_id", Reason: "unknown session"}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.session.Status.IsTerminal() {
		// Accepted for audit, per §4.4's "accepted to disk ... does not
		// re-open the session", but the counter does not move.
		rec.partials[signal.StrategyID] = signal
		return StorePartialSignalResult{CompletedStrategies: rec.session.CompletedStrategies, Duplicate: true}, nil
	}

	if now.After(rec.session.TimeoutAt) {
		rec.session.Status = domain.SessionTimeout
		rec.partials[signal.StrategyID] = signal
		return StorePartialSignalResult{CompletedStrategies: rec.session.CompletedStrategies, Duplicate: true}, nil
	}

	if _, exists := rec.partials[signal.StrategyID]; exists {
		return StorePartialSignalResult{CompletedStrategies: rec.session.CompletedStrategies, Duplicate: true}, nil
	}

	rec.partials[signal.StrategyID] = signal
	rec.order = append(rec.order, signal.StrategyID)
	rec.session.CompletedStrategies++

	nowComplete := rec.session.IsComplete()
	if nowComplete {
		rec.session.Status = domain.SessionAggregating
	}

	return StorePartialSignalResult{
		CompletedStrategies: rec.session.CompletedStrategies,
		Duplicate:           false,
		NowComplete:         nowComplete,
	}, nil
}

// GetAllPartialSignals returns every stored partial for sessionID in
// deterministic (arrival) order.
func (s *Store) GetAllPartialSignals(sessionID string) ([]domain.PartialSignal, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return nil, &domain.ValidationError{Field: "session_id", Reason: "unknown session"}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	signals := make([]domain.PartialSignal, 0, len(rec.order))
	for _, strategyID := range rec.order {
		signals = append(signals, rec.partials[strategyID])
	}
	return signals, nil
}

// UpdateSessionStatus sets status unless the session is already terminal,
// which is sticky (invariant #7).
func (s *Store) UpdateSessionStatus(sessionID string, status domain.SessionStatus) error {
	rec, ok := s.record(sessionID)
	if !ok {
		return &domain.ValidationError{Field: "session_id", Reason: "unknown session"}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.session.Status.IsTerminal() {
		return nil
	}
	rec.session.Status = status
	return nil
}

// GetSession returns a snapshot copy of the session record.
func (s *Store) GetSession(sessionID string) (domain.AggregationSession, bool) {
	rec, ok := s.record(sessionID)
	if !ok {
		return domain.AggregationSession{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.session, true
}

// CheckTimeout transitions a non-terminal session past its deadline to
// TIMEOUT. Callers (e.g. a poller or the next StorePartialSignal call)
// invoke this to realize the PENDING -> TIMEOUT edge of the state machine.
func (s *Store) CheckTimeout(sessionID string, now time.Time) (domain.AggregationSession, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return domain.AggregationSession{}, &domain.ValidationError{Field: "session_id", Reason: "unknown session"}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.session.Status.IsTerminal() && now.After(rec.session.TimeoutAt) {
		rec.session.Status = domain.SessionTimeout
	}
	return rec.session, nil
}

// Consolidate implements the consolidation rule: the consolidated weight
// for symbol s is Σ_i allocation_weight_i · weights_i[s], renormalized so
// the total never exceeds 1. Allocation weights across partials must sum
// to 1 ± 1e-9.
func Consolidate(partials []domain.PartialSignal, correlationID string, asOf time.Time) (domain.TargetAllocation, error) {
	allocationSum := decimal.Zero
	for _, p := range partials {
		allocationSum = allocationSum.Add(p.AllocationWeight)
	}

	tolerance := decimal.NewFromFloat(1e-9)
	if allocationSum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(tolerance) {
		return domain.TargetAllocation{}, &domain.ValidationError{
			Field:  "allocation_weight",
			Reason: "strategy allocation weights must sum to 1 ± 1e-9",
		}
	}

	consolidated := make(map[domain.Symbol]decimal.Decimal)
	for _, p := range partials {
		for sym, weight := range p.ConsolidatedPortfolio {
			contribution := p.AllocationWeight.Mul(weight)
			consolidated[sym] = consolidated[sym].Add(contribution)
		}
	}

	total := decimal.Zero
	for _, w := range consolidated {
		total = total.Add(w)
	}
	if total.GreaterThan(decimal.NewFromInt(1)) {
		for sym, w := range consolidated {
			consolidated[sym] = w.Div(total)
		}
	}

	return domain.TargetAllocation{
		Weights:       consolidated,
		CorrelationID: correlationID,
		AsOf:          asOf,
	}, nil
}
