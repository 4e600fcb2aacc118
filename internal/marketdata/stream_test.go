package marketdata

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/tradecore/internal/domain"
	"github.com/quantedge/tradecore/internal/events"
)

// fakeTransport is a scripted Transport: Connect always succeeds (unless
// failConnect is set), Read yields queued messages then blocks until
// closed.
type fakeTransport struct {
	mu          sync.Mutex
	failConnect bool
	messages    chan Message
	closed      chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{messages: make(chan Message, 16), closed: make(chan struct{})}
}

func (f *fakeTransport) Connect(ctx context.Context, symbols []domain.Symbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConnect {
		return fmt.Errorf("connect refused")
	}
	return nil
}

func (f *fakeTransport) Read(ctx context.Context) (Message, error) {
	select {
	case msg := <-f.messages:
		return msg, nil
	case <-f.closed:
		return Message{}, fmt.Errorf("transport closed")
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func testManager() *events.Manager {
	return events.NewManager(events.NewBus(), zerolog.Nop())
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CleanupInterval = time.Hour // avoid cron noise in fast tests
	return cfg
}

func TestStream_StartDeliversQuoteToStore(t *testing.T) {
	store := NewStore(5)
	transport := newFakeTransport()
	stream := New(testConfig(), transport, store, testManager(), zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, stream.Start(ctx))
	assert.True(t, stream.IsConnected())

	transport.messages <- Message{Kind: MessageQuote, Quote: domain.Quote{
		Symbol: "AAPL", BidPrice: decimal.NewFromInt(10), AskPrice: decimal.NewFromInt(11), Timestamp: time.Now(),
	}}

	require.Eventually(t, func() bool {
		_, ok := store.GetQuote("AAPL")
		return ok
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, stream.Stop())
}

func TestStream_StartFailureStillAllowsEventualConnection(t *testing.T) {
	store := NewStore(5)
	transport := newFakeTransport()
	transport.mu.Lock()
	transport.failConnect = true
	transport.mu.Unlock()

	cfg := testConfig()
	cfg.BackoffBase = 5 * time.Millisecond
	cfg.BackoffCap = 10 * time.Millisecond
	stream := New(cfg, transport, store, testManager(), zerolog.Nop())

	ctx := context.Background()
	err := stream.Start(ctx)
	assert.Error(t, err)
	assert.False(t, stream.IsConnected())

	transport.mu.Lock()
	transport.failConnect = false
	transport.mu.Unlock()

	require.Eventually(t, func() bool { return stream.IsConnected() }, time.Second, 10*time.Millisecond)
	require.NoError(t, stream.Stop())
}

func TestStream_SubscribeEmitsLimitHitEvent(t *testing.T) {
	store := NewStore(1)
	transport := newFakeTransport()
	manager := testManager()
	ch := manager.Bus().Subscribe(events.SubscriptionLimitHit)

	stream := New(testConfig(), transport, store, manager, zerolog.Nop())
	stream.Subscribe([]domain.Symbol{"AAPL"}, 5.0)
	result := stream.Subscribe([]domain.Symbol{"MSFT"}, 1.0)
	assert.False(t, result["MSFT"])

	select {
	case evt := <-ch:
		data := evt.Data.(*events.SubscriptionLimitHitData)
		assert.Equal(t, "MSFT", data.Symbol)
	case <-time.After(time.Second):
		t.Fatal("expected a subscription_limit_hit event")
	}
}

func TestStream_ExceedingMaxReconnectAttemptsIsFatal(t *testing.T) {
	store := NewStore(5)
	transport := newFakeTransport()
	transport.mu.Lock()
	transport.failConnect = true
	transport.mu.Unlock()

	manager := testManager()
	ch := manager.Bus().Subscribe(events.ErrorOccurred)

	cfg := testConfig()
	cfg.BackoffBase = 2 * time.Millisecond
	cfg.BackoffCap = 5 * time.Millisecond
	cfg.MaxReconnectAttempts = 2
	stream := New(cfg, transport, store, manager, zerolog.Nop())

	err := stream.Start(context.Background())
	assert.Error(t, err)

	select {
	case evt := <-ch:
		_ = evt.Data.(*events.ErrorEventData)
	case <-time.After(time.Second):
		t.Fatal("expected an error_occurred event once reconnect attempts were exhausted")
	}

	require.Eventually(t, func() bool { return stream.IsFatal() }, time.Second, 10*time.Millisecond)
	assert.False(t, stream.IsConnected())

	// a permanently-failed transport should never get retried further, and
	// Stop must remain a safe, idempotent no-op after the fatal shutdown.
	transport.mu.Lock()
	transport.failConnect = false
	transport.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, stream.IsConnected())

	require.NoError(t, stream.Stop())
}

func TestStream_StopIsIdempotent(t *testing.T) {
	store := NewStore(5)
	transport := newFakeTransport()
	stream := New(testConfig(), transport, store, testManager(), zerolog.Nop())

	require.NoError(t, stream.Start(context.Background()))
	require.NoError(t, stream.Stop())
	require.NoError(t, stream.Stop())
}
