package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/domain"
)

// PaperBroker is a deterministic in-memory Broker used in trading_mode=paper
// and by the execution engine's tests. Orders fill immediately at their
// limit price unless FillBehavior says otherwise.
type PaperBroker struct {
	mu        sync.Mutex
	account   Account
	positions map[domain.Symbol]domain.Position
	orders    map[string]OrderStatusReport

	// FillBehavior lets tests control whether PlaceOrder fills, partially
	// fills, or rejects an order; nil means "fill completely at the limit
	// price", the default paper-trading assumption.
	FillBehavior func(req PlaceOrderRequest) OrderStatusReport
}

// NewPaperBroker builds a PaperBroker seeded with startingCash and no
// positions.
func NewPaperBroker(startingCash decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		account:   Account{Cash: startingCash, BuyingPower: startingCash},
		positions: make(map[domain.Symbol]domain.Position),
		orders:    make(map[string]OrderStatusReport),
	}
}

func (p *PaperBroker) GetAccount(ctx context.Context) (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.account, nil
}

func (p *PaperBroker) GetPositions(ctx context.Context) (map[domain.Symbol]domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[domain.Symbol]domain.Position, len(p.positions))
	for k, v := range p.positions {
		out[k] = v
	}
	return out, nil
}

// SeedPosition sets a starting position, for test fixtures.
func (p *PaperBroker) SeedPosition(pos domain.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[pos.Symbol] = pos
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (OrderStatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var report OrderStatusReport
	if p.FillBehavior != nil {
		report = p.FillBehavior(req)
	} else {
		report = OrderStatusReport{
			Status:         domain.OrderFilled,
			FilledQty:      req.Quantity,
			FilledAvgPrice: req.LimitPrice,
			UpdatedAt:      time.Now().UTC(),
		}
	}
	report.BrokerOrderID = uuid.NewString()
	p.applyFill(req, report)
	p.orders[report.BrokerOrderID] = report
	return report, nil
}

// applyFill updates the simulated position and cash balance to reflect a
// (partial) fill so subsequent GetAccount/GetPositions calls stay
// consistent within a test.
func (p *PaperBroker) applyFill(req PlaceOrderRequest, report OrderStatusReport) {
	if !report.FilledQty.IsPositive() {
		return
	}

	notional := report.FilledQty.Mul(report.FilledAvgPrice)
	pos := p.positions[req.Symbol]
	pos.Symbol = req.Symbol

	switch req.Side {
	case domain.SideBuy:
		pos.Quantity = pos.Quantity.Add(report.FilledQty)
		p.account.Cash = p.account.Cash.Sub(notional)
	case domain.SideSell:
		pos.Quantity = pos.Quantity.Sub(report.FilledQty)
		p.account.Cash = p.account.Cash.Add(notional)
	}
	p.positions[req.Symbol] = pos
	p.account.BuyingPower = p.account.Cash
}

func (p *PaperBroker) GetOrder(ctx context.Context, brokerOrderID string) (OrderStatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	report, ok := p.orders[brokerOrderID]
	if !ok {
		return OrderStatusReport{}, &Error{Kind: ErrValidation, Op: "GetOrder", Err: errOrderNotFound(brokerOrderID)}
	}
	return report, nil
}

func (p *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	report, ok := p.orders[brokerOrderID]
	if !ok {
		return &Error{Kind: ErrValidation, Op: "CancelOrder", Err: errOrderNotFound(brokerOrderID)}
	}
	report.Status = domain.OrderCancelled
	p.orders[brokerOrderID] = report
	return nil
}

func (p *PaperBroker) GetHistoricalBars(ctx context.Context, symbol domain.Symbol, from, to time.Time) ([]Bar, error) {
	return nil, nil
}

type orderNotFoundError string

func (e orderNotFoundError) Error() string { return "paper broker: unknown order " + string(e) }

func errOrderNotFound(id string) error { return orderNotFoundError(id) }
