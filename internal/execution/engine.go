// Package execution drives each non-HOLD item of a RebalancePlan through
// the Smart Execution Engine's per-order state machine (spec §4.5):
// price, place, monitor, re-peg, finalize. Grounded on the teacher's
// trading.TradingService/TradeSafetyService pairing (pre-trade
// validation ahead of broker submission, structured per-order logging,
// events.Manager emission) generalized from the teacher's single
// immediate-fill order path into the spec's full monitor/re-peg loop.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/broker"
	"github.com/quantedge/tradecore/internal/domain"
	"github.com/quantedge/tradecore/internal/events"
	"github.com/quantedge/tradecore/internal/liquidity"
)

// QuoteSource is the subset of the Market Data Stream's contract the
// engine needs: subscribe at a priority tier, read the latest quote, and
// release the subscription once the order reaching it is done.
type QuoteSource interface {
	Subscribe(symbols []domain.Symbol, priority float64) map[domain.Symbol]bool
	Unsubscribe(symbol domain.Symbol)
	GetQuote(symbol domain.Symbol) (domain.Quote, bool)
}

// orderPlacementPriority is the subscription priority tier reserved for
// orders in flight (spec §4.5 step 1).
const orderPlacementPriority = 2000.0

// Config holds the engine's timing and risk tunables.
type Config struct {
	QuoteWaitTimeout  time.Duration // default 2s
	QuoteWaitPoll     time.Duration // default 100ms
	MonitorPoll       time.Duration // default 200ms
	RepegInterval     time.Duration // default 30s
	RepegThresholdTicks decimal.Decimal // default 2 ticks
	TickSize          decimal.Decimal
	MaxRepegsPerOrder int           // default 5
	MaxOrderLifetime  time.Duration // default until session close
	CancelConfirmTimeout time.Duration // default 5s
	LiquidityCollapseBelow float64 // default 30
	LiquidityPriorAbove    float64 // default 60
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		QuoteWaitTimeout:       2 * time.Second,
		QuoteWaitPoll:          100 * time.Millisecond,
		MonitorPoll:            200 * time.Millisecond,
		RepegInterval:          30 * time.Second,
		RepegThresholdTicks:    decimal.NewFromInt(2),
		TickSize:               decimal.NewFromFloat(0.01),
		MaxRepegsPerOrder:      5,
		MaxOrderLifetime:       6*time.Hour + 30*time.Minute,
		CancelConfirmTimeout:   5 * time.Second,
		LiquidityCollapseBelow: 30,
		LiquidityPriorAbove:    60,
	}
}

// Engine is the Smart Execution Engine. One Engine instance drives every
// order of every plan it is handed; it holds no per-plan state beyond the
// reference-counted subscription map, so it is safe to reuse across runs.
type Engine struct {
	cfg      Config
	quotes   QuoteSource
	analyzer *liquidity.Analyzer
	br       broker.Broker
	events   *events.Manager
	hours    *MarketHours
	log      zerolog.Logger

	subMu  sync.Mutex
	subRef map[domain.Symbol]int
}

// New builds an Engine. hours may be nil to disable the market-hours
// gate (e.g. in tests or a signal-only invocation).
func New(cfg Config, quotes QuoteSource, analyzer *liquidity.Analyzer, br broker.Broker, manager *events.Manager, hours *MarketHours, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		quotes:   quotes,
		analyzer: analyzer,
		br:       br,
		events:   manager,
		hours:    hours,
		log:      log.With().Str("component", "execution_engine").Logger(),
		subRef:   make(map[domain.Symbol]int),
	}
}

// Summary is the post-execution report of §4.5.
type Summary struct {
	OrdersTotal              int             `json:"orders_total"`
	OrdersSucceeded          int             `json:"orders_succeeded"`
	OrdersFailed             int             `json:"orders_failed"`
	TotalValue               decimal.Decimal `json:"total_value"`
	SuccessRate              float64         `json:"success_rate"`
	ExecutionDurationSeconds float64         `json:"execution_duration_seconds"`
	Status                   string          `json:"status"` // SUCCESS | PARTIAL | FAILURE
}

// ExecutePlan drives every non-HOLD item of plan to a terminal state, in
// the SELL-first order the planner already established, and returns the
// post-execution summary alongside each order's terminal record.
func (e *Engine) ExecutePlan(ctx context.Context, plan domain.RebalancePlan) (Summary, []domain.TradeExecuted) {
	start := time.Now()

	if e.hours != nil && !e.hours.IsOpen(start) {
		e.log.Warn().Str("plan_id", plan.PlanID).Msg("market closed, skipping plan execution")
		return Summary{Status: "FAILURE", SuccessRate: 1.0}, nil
	}

	records := make([]domain.TradeExecuted, 0, len(plan.Items))
	for _, item := range plan.Items {
		if item.Action == domain.ActionHold {
			continue
		}
		records = append(records, e.executeItem(ctx, item, plan.CorrelationID))
	}

	summary := e.summarize(records, time.Since(start))
	return summary, records
}

func (e *Engine) summarize(records []domain.TradeExecuted, elapsed time.Duration) Summary {
	s := Summary{OrdersTotal: len(records), ExecutionDurationSeconds: elapsed.Seconds()}
	total := decimal.Zero
	for _, r := range records {
		if r.Success {
			s.OrdersSucceeded++
		} else {
			s.OrdersFailed++
		}
		total = total.Add(r.TradeAmount)
	}
	s.TotalValue = total

	if s.OrdersTotal == 0 {
		s.SuccessRate = 1.0
		s.Status = "SUCCESS"
		return s
	}

	s.SuccessRate = float64(s.OrdersSucceeded) / float64(s.OrdersTotal)
	switch {
	case s.OrdersSucceeded == s.OrdersTotal:
		s.Status = "SUCCESS"
	case s.OrdersSucceeded > 0:
		s.Status = "PARTIAL"
	default:
		s.Status = "FAILURE"
	}
	return s
}

// executeItem runs one plan item through the full per-order sequence:
// subscribe, wait for a quote, price, validate, place, monitor/re-peg,
// finalize.
func (e *Engine) executeItem(ctx context.Context, item domain.RebalancePlanItem, correlationID string) domain.TradeExecuted {
	startedAt := time.Now()
	side := domain.SideBuy
	if item.Action == domain.ActionSell {
		side = domain.SideSell
	}

	order := &domain.ExecutionOrder{
		OrderID:       newOrderID(),
		CorrelationID: correlationID,
		Symbol:        item.Symbol,
		Side:          side,
		RequestedQty:  item.EstimatedQuantity.Abs(),
		Status:        domain.OrderNew,
		CreatedAt:     startedAt,
		UpdatedAt:     startedAt,
	}

	e.acquireSubscription(item.Symbol)
	defer e.releaseSubscription(item.Symbol)

	quote, ok := e.waitForQuote(ctx, item.Symbol)
	if !ok {
		return e.reject(order, startedAt, "no live quote available within wait window")
	}

	analysis := e.analyzer.Analyze(quote, order.RequestedQty, side)
	if ok, reason := e.analyzer.Validate(quote, order.RequestedQty, side); !ok {
		return e.reject(order, startedAt, reason)
	}

	order.LimitPrice = analysis.RecommendedPrice
	order.Status = domain.OrderReady

	report, err := e.br.PlaceOrder(ctx, broker.PlaceOrderRequest{
		ClientOrderID: order.OrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.RequestedQty,
		LimitPrice:    order.LimitPrice,
		TimeInForce:   "DAY",
	})
	if err != nil {
		return e.reject(order, startedAt, err.Error())
	}

	order.BrokerOrderID = report.BrokerOrderID
	order.Status = domain.OrderOpen
	e.events.Emit("execution_engine", &events.OrderSubmittedData{
		OrderID: order.OrderID, Symbol: order.Symbol.String(), Side: string(order.Side),
		LimitPrice: order.LimitPrice.String(), CorrelationID: correlationID,
	})
	e.applyReport(order, report)

	deadline := e.orderDeadline(startedAt)
	e.monitor(ctx, order, deadline)

	return e.finalize(order, startedAt)
}

// waitForQuote subscribes at the order-placement priority and polls until
// a quote is available or the bounded wait elapses.
func (e *Engine) waitForQuote(ctx context.Context, symbol domain.Symbol) (domain.Quote, bool) {
	e.quotes.Subscribe([]domain.Symbol{symbol}, orderPlacementPriority)

	deadline := time.Now().Add(e.cfg.QuoteWaitTimeout)
	for {
		if q, ok := e.quotes.GetQuote(symbol); ok {
			return q, true
		}
		if time.Now().After(deadline) {
			return domain.Quote{}, false
		}
		select {
		case <-ctx.Done():
			return domain.Quote{}, false
		case <-time.After(e.cfg.QuoteWaitPoll):
		}
	}
}

// monitor polls the broker for status changes until the order reaches a
// terminal state or deadline, firing re-pegs as triggers demand.
func (e *Engine) monitor(ctx context.Context, order *domain.ExecutionOrder, deadline time.Time) {
	priorLiquidityScore := 0.0
	openedAt := time.Now()

	for {
		if order.Status.IsTerminal() {
			return
		}

		if time.Now().After(deadline) {
			e.expireWithRemainder(ctx, order)
			return
		}

		select {
		case <-ctx.Done():
			e.expireWithRemainder(ctx, order)
			return
		case <-time.After(e.cfg.MonitorPoll):
		}

		report, err := e.br.GetOrder(ctx, order.BrokerOrderID)
		if err != nil {
			e.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("poll order status failed, retrying")
			continue
		}
		e.applyReport(order, report)
		if order.Status.IsTerminal() {
			return
		}

		quote, haveQuote := e.quotes.GetQuote(order.Symbol)
		liquidityCollapsed := false
		if haveQuote {
			analysis := e.analyzer.Analyze(quote, order.RemainingQty(), order.Side)
			liquidityCollapsed = priorLiquidityScore >= e.cfg.LiquidityPriorAbove && analysis.LiquidityScore < e.cfg.LiquidityCollapseBelow
			priorLiquidityScore = analysis.LiquidityScore
		}

		elapsedTrigger := time.Since(openedAt) > e.cfg.RepegInterval
		adverseMoveTrigger := haveQuote && e.adverseMove(order, quote)
		repegTriggered := elapsedTrigger || adverseMoveTrigger || liquidityCollapsed

		if repegTriggered && order.RepegCount >= e.cfg.MaxRepegsPerOrder {
			// A further re-peg trigger fired but the budget is already
			// spent: expire now rather than ride out the rest of the
			// session deadline with a stale, never-moving order.
			e.expireWithRemainder(ctx, order)
			return
		}

		if repegTriggered {
			if e.repeg(ctx, order, quote, haveQuote) {
				openedAt = time.Now()
			}
		}
	}
}

// adverseMove reports whether the market mid has moved against the order
// by more than RepegThresholdTicks since the order's limit price was set.
func (e *Engine) adverseMove(order *domain.ExecutionOrder, quote domain.Quote) bool {
	mid, ok := quote.MidPrice()
	if !ok || e.cfg.TickSize.IsZero() {
		return false
	}
	threshold := e.cfg.RepegThresholdTicks.Mul(e.cfg.TickSize)

	var adverse decimal.Decimal
	if order.Side == domain.SideBuy {
		adverse = mid.Sub(order.LimitPrice) // price moved up, away from the buyer
	} else {
		adverse = order.LimitPrice.Sub(mid) // price moved down, away from the seller
	}
	return adverse.GreaterThan(threshold)
}

// repeg cancels the open order, awaits confirmation, re-prices the
// unfilled remainder against a fresh quote, and resubmits. Returns true
// if a new order is now open.
func (e *Engine) repeg(ctx context.Context, order *domain.ExecutionOrder, lastQuote domain.Quote, haveLastQuote bool) bool {
	if !order.Status.CanTransition(domain.OrderCancelling) {
		return false
	}
	order.Status = domain.OrderCancelling
	order.UpdatedAt = time.Now()

	cancelCtx, cancel := context.WithTimeout(ctx, e.cfg.CancelConfirmTimeout)
	defer cancel()
	if err := e.br.CancelOrder(cancelCtx, order.BrokerOrderID); err != nil {
		e.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("cancel for re-peg failed, leaving order open")
		order.Status = domain.OrderOpen
		return false
	}

	remaining := order.RemainingQty()
	if !remaining.IsPositive() {
		return false
	}

	quote := lastQuote
	if q, ok := e.quotes.GetQuote(order.Symbol); ok {
		quote = q
	} else if !haveLastQuote {
		order.Status = domain.OrderOpen
		return false
	}

	analysis := e.analyzer.Analyze(quote, remaining, order.Side)
	order.Status = domain.OrderReady
	order.LimitPrice = analysis.RecommendedPrice

	report, err := e.br.PlaceOrder(ctx, broker.PlaceOrderRequest{
		ClientOrderID: fmt.Sprintf("%s-repeg-%d", order.OrderID, order.RepegCount+1),
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      remaining,
		LimitPrice:    order.LimitPrice,
		TimeInForce:   "DAY",
	})
	if err != nil {
		order.Status = domain.OrderRejected
		order.UpdatedAt = time.Now()
		return false
	}

	order.BrokerOrderID = report.BrokerOrderID
	order.Status = domain.OrderOpen
	order.RepegCount++
	order.UpdatedAt = time.Now()
	e.applyReport(order, report)

	e.events.Emit("execution_engine", &events.OrderRepeggedData{
		OrderID: order.OrderID, Symbol: order.Symbol.String(), RepegCount: order.RepegCount, NewPrice: order.LimitPrice.String(),
	})
	return true
}

// applyReport merges a broker status report into the order's filled
// quantity/price and advances its status, accruing partial fills toward
// the parent rather than overwriting them.
func (e *Engine) applyReport(order *domain.ExecutionOrder, report broker.OrderStatusReport) {
	if report.FilledQty.GreaterThan(order.FilledQty) {
		order.FilledQty = report.FilledQty
		order.FilledAvgPrice = report.FilledAvgPrice
	}
	if order.Status.CanTransition(report.Status) || report.Status == order.Status {
		order.Status = report.Status
	}
	order.UpdatedAt = time.Now()
}

// expireWithRemainder marks an order EXPIRED, attempting a best-effort
// cancel of any unfilled remainder first.
func (e *Engine) expireWithRemainder(ctx context.Context, order *domain.ExecutionOrder) {
	if order.Status.IsTerminal() {
		return
	}
	if order.BrokerOrderID != "" {
		cancelCtx, cancel := context.WithTimeout(ctx, e.cfg.CancelConfirmTimeout)
		_ = e.br.CancelOrder(cancelCtx, order.BrokerOrderID)
		cancel()
	}
	order.Status = domain.OrderExpired
	order.UpdatedAt = time.Now()
}

func (e *Engine) orderDeadline(startedAt time.Time) time.Time {
	if e.hours != nil {
		closeAt := e.hours.SessionCloseAt(startedAt)
		if closeAt.Before(startedAt.Add(e.cfg.MaxOrderLifetime)) {
			return closeAt
		}
	}
	return startedAt.Add(e.cfg.MaxOrderLifetime)
}

func (e *Engine) reject(order *domain.ExecutionOrder, startedAt time.Time, reason string) domain.TradeExecuted {
	order.Status = domain.OrderRejected
	order.UpdatedAt = time.Now()
	e.events.EmitError("execution_engine", fmt.Errorf("order %s rejected: %s", order.OrderID, reason), map[string]string{
		"order_id": order.OrderID, "symbol": order.Symbol.String(),
	})
	return e.toTradeExecuted(order, startedAt, reason)
}

func (e *Engine) finalize(order *domain.ExecutionOrder, startedAt time.Time) domain.TradeExecuted {
	errMsg := ""
	if order.Status != domain.OrderFilled && order.FilledQty.IsZero() {
		errMsg = "order did not fill before reaching terminal state " + string(order.Status)
	}
	record := e.toTradeExecuted(order, startedAt, errMsg)
	e.events.Emit("execution_engine", &events.TradeExecutedEventData{
		OrderID: order.OrderID, Symbol: order.Symbol.String(), Status: string(order.Status),
		Success: record.Success, CorrelationID: order.CorrelationID,
	})
	return record
}

func (e *Engine) toTradeExecuted(order *domain.ExecutionOrder, startedAt time.Time, errMsg string) domain.TradeExecuted {
	return domain.TradeExecuted{
		Symbol:         order.Symbol,
		Action:         order.Side,
		RequestedQty:   order.RequestedQty,
		FilledQty:      order.FilledQty,
		FilledAvgPrice: order.FilledAvgPrice,
		TradeAmount:    order.FilledQty.Mul(order.FilledAvgPrice),
		OrderID:        order.OrderID,
		OrderIDLast6:   domain.Last6(order.OrderID),
		Status:         order.Status,
		StartedAt:      startedAt,
		CompletedAt:    time.Now(),
		Success:        order.FilledQty.Equal(order.RequestedQty),
		ErrorMessage:   errMsg,
		CorrelationID:  order.CorrelationID,
	}
}

// acquireSubscription reference-counts a symbol's subscription across the
// orders that use it, subscribing on the first reference.
func (e *Engine) acquireSubscription(symbol domain.Symbol) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subRef[symbol]++
	if e.subRef[symbol] == 1 {
		e.quotes.Subscribe([]domain.Symbol{symbol}, orderPlacementPriority)
	}
}

// releaseSubscription unsubscribes once the last referencing order is
// done.
func (e *Engine) releaseSubscription(symbol domain.Symbol) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subRef[symbol]--
	if e.subRef[symbol] <= 0 {
		delete(e.subRef, symbol)
		e.quotes.Unsubscribe(symbol)
	}
}

var orderIDCounter uint64

func newOrderID() string {
	orderIDCounter++
	return fmt.Sprintf("ord-%d-%d", time.Now().UnixNano(), orderIDCounter)
}
