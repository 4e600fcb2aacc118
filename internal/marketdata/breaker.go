package marketdata

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's internal state.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
)

// CircuitBreaker wraps reconnect attempts: successive failures tagged as
// connection-limit/429 open the breaker; while open, Allow refuses further
// attempts until cooldown elapses. Grounded on the teacher's
// calculateBackoff/reconnectLoop pairing, generalized into an explicit
// state object so it can be unit tested without a live socket.
type CircuitBreaker struct {
	mu                  sync.Mutex
	failureThreshold    int
	cooldown            time.Duration
	state               breakerState
	consecutiveFailures int
	openedAt            time.Time
}

// NewCircuitBreaker builds a breaker that opens after failureThreshold
// consecutive tripping failures and stays open for cooldown.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{failureThreshold: failureThreshold, cooldown: cooldown}
}

// Allow reports whether a connect attempt may proceed at now. An open
// breaker past its cooldown allows every attempt until the next
// RecordSuccess closes it or the next RecordFailure re-opens it for a
// fresh cooldown.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerClosed {
		return true
	}
	return now.Sub(b.openedAt) >= b.cooldown
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.consecutiveFailures = 0
}

// RecordFailure counts a tripping failure (connection-limit-exceeded or
// HTTP 429) and opens the breaker once failureThreshold is reached.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = now
	}
}

// IsOpen reports the breaker's current state, ignoring cooldown — used for
// metrics/status reporting rather than gating an attempt.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen
}
