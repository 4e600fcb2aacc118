package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/tradecore/internal/broker"
	"github.com/quantedge/tradecore/internal/config"
	"github.com/quantedge/tradecore/internal/domain"
	"github.com/quantedge/tradecore/internal/marketdata"
)

// fakeTransport never delivers a quote; it exists only to let Stream.Start
// succeed without dialing a real endpoint, exercising the
// average-entry-price fallback path.
type fakeTransport struct {
	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closeCh: make(chan struct{})}
}

func (f *fakeTransport) Connect(ctx context.Context, symbols []domain.Symbol) error {
	return nil
}

func (f *fakeTransport) Read(ctx context.Context) (marketdata.Message, error) {
	select {
	case <-f.closeCh:
		return marketdata.Message{}, errors.New("transport closed")
	case <-ctx.Done():
		return marketdata.Message{}, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

func testOrchestrator(t *testing.T, br broker.Broker) *Orchestrator {
	t.Helper()
	cfg := &config.Config{
		MinTradeAmount:      decimal.NewFromInt(10),
		CashReservePct:      decimal.NewFromFloat(0.01),
		TickSize:            decimal.NewFromFloat(0.01),
		MaxSymbols:          30,
		MaxQuoteAgeSeconds:  300,
		CleanupIntervalSecs: 60,
		RepegIntervalSecs:   30,
		MaxRepegsPerOrder:   5,
		AggregationTimeout:  5,
	}
	open := true
	orch := New(cfg, zerolog.Nop(), br, &open)
	orch.newTransport = func(url string) marketdata.Transport { return newFakeTransport() }
	return orch
}

func aaplSignal(weight string, aaplWeight string) domain.PartialSignal {
	w, _ := decimal.NewFromString(weight)
	aw, _ := decimal.NewFromString(aaplWeight)
	return domain.PartialSignal{
		StrategyID:            "strategy-1",
		AllocationWeight:      w,
		ConsolidatedPortfolio: map[domain.Symbol]decimal.Decimal{"AAPL": aw},
	}
}

func TestOrchestrator_PlanProducesRebalancePlan(t *testing.T) {
	br := broker.NewPaperBroker(decimal.NewFromInt(100000))
	orch := testOrchestrator(t, br)

	plan, warnings, err := orch.Plan(context.Background(), []domain.PartialSignal{aaplSignal("1", "1")}, "corr-1", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, plan.PlanID)
	assert.Equal(t, "corr-1", plan.CorrelationID)
	// no live quote and no held position for a brand-new AAPL target means no
	// price is available at all, so the plan still generates but with a
	// warning and a zero estimated quantity.
	assert.NotEmpty(t, warnings)
	require.Len(t, plan.Items, 1)
	assert.Equal(t, domain.Symbol("AAPL"), plan.Items[0].Symbol)
}

func TestOrchestrator_PlanFailsOnBadAllocationWeights(t *testing.T) {
	br := broker.NewPaperBroker(decimal.NewFromInt(100000))
	orch := testOrchestrator(t, br)

	badSignal := aaplSignal("0.5", "1") // allocation weights must sum to 1
	_, _, err := orch.Plan(context.Background(), []domain.PartialSignal{badSignal}, "corr-2", time.Now())
	assert.Error(t, err)
}

func TestOrchestrator_TradeWithBadAllocationWeightsIsFailure(t *testing.T) {
	br := broker.NewPaperBroker(decimal.NewFromInt(100000))
	orch := testOrchestrator(t, br)

	badSignal := aaplSignal("0.5", "1")
	result := orch.Trade(context.Background(), []domain.PartialSignal{badSignal}, "corr-3", time.Now())
	assert.Equal(t, StatusFailure, result.Status)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Warnings)
}

func TestOrchestrator_AccountSnapshotReflectsPaperBroker(t *testing.T) {
	br := broker.NewPaperBroker(decimal.NewFromInt(5000))
	orch := testOrchestrator(t, br)

	snapshot, _, err := orch.AccountSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snapshot.Cash.Equal(decimal.NewFromInt(5000)))
	assert.True(t, snapshot.TotalValue.Equal(decimal.NewFromInt(5000)))
}
