// Package marketdata maintains a thread-safe, bounded-subscription cache
// of latest quotes and trades sourced from a streaming wire protocol
// (spec §4.1), grounded on the teacher's
// internal/clients/tradernet/websocket_client.go cache-and-reconnect
// design.
package marketdata

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/domain"
)

// subscription tracks one symbol's replacement priority alongside its
// cached data.
type subscription struct {
	priority float64
}

// Store is the per-symbol latest-quote/latest-trade cache with a bounded,
// priority-replacing subscription set. All access is synchronized by mu;
// readers receive copies, never the stored value itself, matching the
// teacher's GetAllMarketStatuses copy-out pattern.
type Store struct {
	mu            sync.RWMutex
	maxSymbols    int
	subscriptions map[domain.Symbol]subscription
	quotes        map[domain.Symbol]domain.Quote
	trades        map[domain.Symbol]domain.Trade
}

// NewStore builds an empty Store bounded to maxSymbols concurrent
// subscriptions.
func NewStore(maxSymbols int) *Store {
	return &Store{
		maxSymbols:    maxSymbols,
		subscriptions: make(map[domain.Symbol]subscription),
		quotes:        make(map[domain.Symbol]domain.Quote),
		trades:        make(map[domain.Symbol]domain.Trade),
	}
}

// Subscribe applies the replacement policy of §4.1: symbols already
// subscribed have their priority raised to max(current, p); new symbols
// fill empty slots first; remaining overflow evicts the lowest-priority
// existing subscriptions strictly below p; anything left over is
// rejected.
func (s *Store) Subscribe(symbols []domain.Symbol, priority float64) map[domain.Symbol]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[domain.Symbol]bool, len(symbols))
	var needed []domain.Symbol

	for _, sym := range symbols {
		if existing, ok := s.subscriptions[sym]; ok {
			if priority > existing.priority {
				s.subscriptions[sym] = subscription{priority: priority}
			}
			result[sym] = true
			continue
		}
		needed = append(needed, sym)
	}

	for _, sym := range needed {
		if len(s.subscriptions) < s.maxSymbols {
			s.subscriptions[sym] = subscription{priority: priority}
			result[sym] = true
			continue
		}

		victim, ok := s.lowestPriorityBelow(priority)
		if !ok {
			result[sym] = false
			continue
		}
		delete(s.subscriptions, victim)
		s.subscriptions[sym] = subscription{priority: priority}
		result[sym] = true
	}

	return result
}

// lowestPriorityBelow returns the subscribed symbol with the lowest
// priority strictly below ceiling, if any exists.
func (s *Store) lowestPriorityBelow(ceiling float64) (domain.Symbol, bool) {
	type candidate struct {
		sym      domain.Symbol
		priority float64
	}
	var candidates []candidate
	for sym, sub := range s.subscriptions {
		if sub.priority < ceiling {
			candidates = append(candidates, candidate{sym, sub.priority})
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].sym < candidates[j].sym
	})
	return candidates[0].sym, true
}

// Unsubscribe removes the subscription. The quote/trade remain cached
// until eviction.
func (s *Store) Unsubscribe(symbol domain.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, symbol)
}

// Subscribed returns a snapshot of the currently subscribed symbols.
func (s *Store) Subscribed() []domain.Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]domain.Symbol, 0, len(s.subscriptions))
	for sym := range s.subscriptions {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i] < symbols[j] })
	return symbols
}

// UpdateQuote replaces the cached quote for q.Symbol.
func (s *Store) UpdateQuote(q domain.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Symbol] = q
}

// UpdateTrade replaces the cached trade for t.Symbol.
func (s *Store) UpdateTrade(t domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.Symbol] = t
}

// GetQuote returns the most recent quote for symbol, if any.
func (s *Store) GetQuote(symbol domain.Symbol) (domain.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

// GetTrade returns the most recent trade for symbol, if any.
func (s *Store) GetTrade(symbol domain.Symbol) (domain.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[symbol]
	return t, ok
}

// GetPrice implements the §4.1 fallback chain: mid-price when both sides
// are quoted, else last trade, else bid, else ask, else null.
func (s *Store) GetPrice(symbol domain.Symbol) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q, ok := s.quotes[symbol]; ok {
		if mid, ok := q.MidPrice(); ok {
			return mid, true
		}
	}
	if t, ok := s.trades[symbol]; ok {
		return t.Price, true
	}
	if q, ok := s.quotes[symbol]; ok {
		if q.BidPrice.IsPositive() {
			return q.BidPrice, true
		}
		if q.AskPrice.IsPositive() {
			return q.AskPrice, true
		}
	}
	return decimal.Zero, false
}

// GetBidAsk returns (bid, ask) only when ask > bid > 0.
func (s *Store) GetBidAsk(symbol domain.Symbol) (bid, ask decimal.Decimal, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, exists := s.quotes[symbol]
	if !exists || !q.HasCrossableBidAsk() {
		return decimal.Zero, decimal.Zero, false
	}
	return q.BidPrice, q.AskPrice, true
}

// Evict drops any cached quote older than maxAge as of now, returning the
// count evicted for the quotes_evicted_total metric.
func (s *Store) Evict(maxAge time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for sym, q := range s.quotes {
		if now.Sub(q.Timestamp) > maxAge {
			delete(s.quotes, sym)
			evicted++
		}
	}
	return evicted
}
