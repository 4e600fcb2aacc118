package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/domain"
	"github.com/quantedge/tradecore/internal/events"
)

var errCircuitOpen = errors.New("circuit breaker open: cooldown not yet elapsed")

// Config holds the Stream's tunables, defaulted from spec §4.1/§6.
type Config struct {
	MaxSymbols          int
	CleanupInterval     time.Duration // default 60s
	MaxQuoteAge         time.Duration // default 300s
	BackoffBase         time.Duration // default 1s
	BackoffCap          time.Duration // default 30s
	MaxReconnectAttempts int          // default 5 per episode
	BreakerThreshold    int           // consecutive trip failures before opening
	BreakerCooldown     time.Duration
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxSymbols:           30,
		CleanupInterval:      60 * time.Second,
		MaxQuoteAge:          300 * time.Second,
		BackoffBase:          time.Second,
		BackoffCap:           30 * time.Second,
		MaxReconnectAttempts: 5,
		BreakerThreshold:     3,
		BreakerCooldown:      60 * time.Second,
	}
}

// Stream is the Market Data Stream of spec §4.1: a bounded, reconnecting
// subscription over a Transport, backed by a Store. Grounded on the
// teacher's MarketStatusWebSocket (Start/Stop/Connect/reconnectLoop/
// calculateBackoff), generalized from a single market-status channel to
// an arbitrary per-symbol quote/trade feed.
type Stream struct {
	cfg       Config
	transport Transport
	store     *Store
	breaker   *CircuitBreaker
	events    *events.Manager
	log       zerolog.Logger
	cron      *cron.Cron

	mu        sync.RWMutex
	connected bool
	stopped   bool
	fatal     bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New builds a Stream over transport and store.
func New(cfg Config, transport Transport, store *Store, manager *events.Manager, log zerolog.Logger) *Stream {
	return &Stream{
		cfg:       cfg,
		transport: transport,
		store:     store,
		breaker:   NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		events:    manager,
		log:       log.With().Str("component", "market_data_stream").Logger(),
		cron:      cron.New(),
		stopCh:    make(chan struct{}),
	}
}

// Start connects the transport and begins the background read and
// eviction loops. Idempotent: a second call is a no-op once connected.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.log.Warn().Err(err).Msg("initial connect failed, reconnect loop will retry")
		s.wg.Add(1)
		go s.reconnectLoop(ctx)
		s.startEviction()
		return err
	}

	s.wg.Add(1)
	go s.readLoop(ctx)
	s.startEviction()
	return nil
}

// Stop signals every background loop to exit and closes the transport.
// Idempotent.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.cron.Stop()
	err := s.transport.Close()
	s.wg.Wait()

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return err
}

// failFatal stops the stream permanently from within a background loop's
// own goroutine. It mirrors Stop()'s cleanup but must not call wg.Wait():
// the caller is itself one of the goroutines wg is tracking, and that
// would deadlock. The caller returns immediately after, letting its
// deferred wg.Done() unblock a subsequent Stop() from another goroutine.
func (s *Stream) failFatal(err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.fatal = true
	s.connected = false
	close(s.stopCh)
	s.mu.Unlock()

	s.cron.Stop()
	_ = s.transport.Close()
	s.events.EmitError("market_data_stream", err, nil)
	s.log.Error().Err(err).Msg("market data stream exhausted reconnect attempts, stopping permanently")
}

// IsConnected reports current connection status.
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// IsFatal reports whether the stream gave up permanently after exhausting
// MaxReconnectAttempts for a reconnect episode, per §4.1's failure
// semantics. A fatal stream is already stopped; callers should treat the
// current cycle as a data-provider error rather than wait on it further.
func (s *Stream) IsFatal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fatal
}

// Subscribe delegates to the Store's replacement policy and emits one
// SubscriptionLimitHit event per rejected symbol.
func (s *Stream) Subscribe(symbols []domain.Symbol, priority float64) map[domain.Symbol]bool {
	result := s.store.Subscribe(symbols, priority)
	for sym, ok := range result {
		if !ok {
			s.events.Emit("market_data_stream", &events.SubscriptionLimitHitData{Symbol: sym.String(), Priority: priority})
		}
	}
	return result
}

// Unsubscribe delegates to the Store.
func (s *Stream) Unsubscribe(symbol domain.Symbol) {
	s.store.Unsubscribe(symbol)
}

// GetQuote delegates to the Store.
func (s *Stream) GetQuote(symbol domain.Symbol) (domain.Quote, bool) {
	return s.store.GetQuote(symbol)
}

// GetPrice delegates to the Store.
func (s *Stream) GetPrice(symbol domain.Symbol) (decimal.Decimal, bool) {
	return s.store.GetPrice(symbol)
}

// GetBidAsk delegates to the Store.
func (s *Stream) GetBidAsk(symbol domain.Symbol) (bid, ask decimal.Decimal, ok bool) {
	return s.store.GetBidAsk(symbol)
}

func (s *Stream) connect(ctx context.Context) error {
	if !s.breaker.Allow(time.Now()) {
		return &domain.StreamError{Op: "connect", Err: errCircuitOpen}
	}

	if err := s.transport.Connect(ctx, s.store.Subscribed()); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "429") || strings.Contains(msg, "connection limit exceeded") {
			s.breaker.RecordFailure(time.Now())
		}
		return &domain.StreamError{Op: "connect", Err: err}
	}

	s.breaker.RecordSuccess()
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	s.events.Emit("market_data_stream", &events.StreamConnectedData{Symbols: symbolStrings(s.store.Subscribed())})
	return nil
}

func (s *Stream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		msg, err := s.transport.Read(ctx)
		if err != nil {
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			s.events.Emit("market_data_stream", &events.StreamDisconnectedData{Reason: err.Error()})

			s.mu.RLock()
			stopped := s.stopped
			s.mu.RUnlock()
			if !stopped {
				s.wg.Add(1)
				go s.reconnectLoop(ctx)
			}
			return
		}

		switch msg.Kind {
		case MessageQuote:
			s.store.UpdateQuote(msg.Quote)
			if mid, ok := msg.Quote.MidPrice(); ok {
				s.events.Emit("market_data_stream", &events.QuoteUpdatedData{Symbol: msg.Quote.Symbol.String(), Mid: mid.String()})
			}
		case MessageTrade:
			s.store.UpdateTrade(msg.Trade)
		}
	}
}

// reconnectLoop retries with exponential backoff (base, doubling, capped)
// for up to MaxReconnectAttempts per episode, mirroring the teacher's
// calculateBackoff/reconnectLoop pairing; unlike the teacher, it does not
// keep retrying at the cap forever once that budget is exhausted — it
// calls failFatal and gives up, per the failure semantics this component
// needs.
func (s *Stream) reconnectLoop(ctx context.Context) {
	defer s.wg.Done()

	attempt := 0
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		attempt++
		delay := s.backoffDelay(attempt)

		select {
		case <-time.After(delay):
		case <-s.stopCh:
			return
		}

		if err := s.connect(ctx); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			if attempt >= s.cfg.MaxReconnectAttempts {
				s.failFatal(fmt.Errorf("market data stream: exceeded %d reconnect attempts: %w", s.cfg.MaxReconnectAttempts, err))
				return
			}
			continue
		}

		s.log.Info().Int("attempt", attempt).Msg("reconnected")
		s.wg.Add(1)
		go s.readLoop(ctx)
		return
	}
}

func (s *Stream) backoffDelay(attempt int) time.Duration {
	base := float64(s.cfg.BackoffBase)
	delay := base * math.Pow(2, float64(attempt-1))
	ceiling := float64(s.cfg.BackoffCap)
	if delay > ceiling {
		delay = ceiling
	}
	return time.Duration(delay)
}

func (s *Stream) startEviction() {
	_, _ = s.cron.AddFunc(cronSpec(s.cfg.CleanupInterval), func() {
		evicted := s.store.Evict(s.cfg.MaxQuoteAge, time.Now())
		if evicted > 0 {
			s.log.Debug().Int("quotes_evicted_total", evicted).Msg("evicted stale quotes")
		}
	})
	s.cron.Start()
}

// cronSpec converts a duration into a robfig/cron "@every" spec.
func cronSpec(d time.Duration) string {
	return "@every " + d.String()
}

func symbolStrings(symbols []domain.Symbol) []string {
	out := make([]string, len(symbols))
	for i, sym := range symbols {
		out[i] = sym.String()
	}
	return out
}
