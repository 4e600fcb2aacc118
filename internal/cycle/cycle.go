// Package cycle wires the engine's five components into the one
// end-to-end run the invocation surface of spec.md §6 exposes: consolidate
// the strategies' partial signals, snapshot the portfolio, plan, and
// (unless signal-only) execute — emitting the trade-result record the
// surface returns. Grounded on the teacher's cmd/server wiring style:
// a thin entrypoint that constructs long-lived services and hands control
// to them, with the construction itself kept out of cmd/server.
package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/aggregation"
	"github.com/quantedge/tradecore/internal/broker"
	"github.com/quantedge/tradecore/internal/config"
	"github.com/quantedge/tradecore/internal/domain"
	"github.com/quantedge/tradecore/internal/events"
	"github.com/quantedge/tradecore/internal/execution"
	"github.com/quantedge/tradecore/internal/liquidity"
	"github.com/quantedge/tradecore/internal/marketdata"
	"github.com/quantedge/tradecore/internal/rebalance"
)

// Status mirrors the top-level status spec.md §6 names for the
// trade-result record.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPartial Status = "PARTIAL"
	StatusFailure Status = "FAILURE"
)

// Result is the trade-result record returned from every invocation:
// always carries status, success and warnings. A trade run always carries
// an execution_summary (with zero orders when it fails before any order is
// placed); a signal-only run carries the plan and no execution_summary.
type Result struct {
	Status           Status                 `json:"status"`
	Success          bool                   `json:"success"`
	CorrelationID    string                 `json:"correlation_id"`
	Plan             *domain.RebalancePlan  `json:"plan,omitempty"`
	ExecutionSummary *execution.Summary     `json:"execution_summary,omitempty"`
	Trades           []domain.TradeExecuted `json:"trades,omitempty"`
	Warnings         []string               `json:"warnings"`
}

// Orchestrator holds the long-lived services one invocation of the
// invocation surface needs: a broker, an aggregation store, the pure
// planner and liquidity analyzer, and (lazily, per cycle) a market data
// stream for pricing.
type Orchestrator struct {
	cfg      *config.Config
	log      zerolog.Logger
	br       broker.Broker
	events   *events.Manager
	analyzer *liquidity.Analyzer
	planner  *rebalance.Planner
	sessions *aggregation.Store
	hours    *execution.MarketHours

	// newTransport builds the market data Transport for one short-lived or
	// long-lived stream; overridden in tests to avoid dialing a real
	// endpoint.
	newTransport func(url string) marketdata.Transport
}

// New builds an Orchestrator. br is injected so trade and pnl can share a
// PaperBroker in tests, or a real HTTPBroker in production.
func New(cfg *config.Config, log zerolog.Logger, br broker.Broker, marketHoursOverride *bool) *Orchestrator {
	hours := execution.NewMarketHours(time.Local)
	hours.Override = marketHoursOverride

	liquidityCfg := liquidity.DefaultConfig()
	liquidityCfg.TickSize = cfg.TickSize

	return &Orchestrator{
		cfg:      cfg,
		log:      log.With().Str("service", "cycle").Logger(),
		br:       br,
		events:   events.NewManager(events.NewBus(), log),
		analyzer: liquidity.New(liquidityCfg),
		planner: rebalance.New(rebalance.Config{
			MinTradeAmount:    cfg.MinTradeAmount,
			CashReservePct:    cfg.CashReservePct,
			RoundingPrecision: 2,
		}),
		sessions: aggregation.NewStore(),
		hours:    &hours,
		newTransport: func(url string) marketdata.Transport {
			return marketdata.NewWSTransport(url)
		},
	}
}

// consolidate fans signals into one AggregationSession, stores each
// partial, and consolidates once every strategy has reported — the
// offline equivalent of the live fan-out/fan-in session, since this
// invocation surface receives every strategy's signal up front rather
// than over a live DSL feed (spec.md §1 scopes the DSL interpreter itself
// out; only the signal contract it emits is in scope here).
func (o *Orchestrator) consolidate(signals []domain.PartialSignal, correlationID string, now time.Time) (domain.TargetAllocation, error) {
	sessionID := uuid.NewString()
	o.sessions.CreateSession(sessionID, correlationID, len(signals), time.Duration(o.cfg.AggregationTimeout)*time.Second, now)
	o.events.Emit("cycle", &events.SessionCreatedData{SessionID: sessionID, CorrelationID: correlationID, TotalStrategies: len(signals)})

	for _, signal := range signals {
		signal.SessionID = sessionID
		result, err := o.sessions.StorePartialSignal(sessionID, signal, now)
		if err != nil {
			return domain.TargetAllocation{}, fmt.Errorf("store partial signal: %w", err)
		}
		o.events.Emit("cycle", &events.PartialSignalStoredData{
			SessionID: sessionID, StrategyID: signal.StrategyID,
			CompletedStrategies: result.CompletedStrategies, TotalStrategies: len(signals), Duplicate: result.Duplicate,
		})
	}

	session, _ := o.sessions.GetSession(sessionID)
	if session.Status != domain.SessionAggregating {
		o.sessions.UpdateSessionStatus(sessionID, domain.SessionFailed)
		return domain.TargetAllocation{}, fmt.Errorf("session %s did not complete: %d/%d strategies reported", sessionID, session.CompletedStrategies, session.TotalStrategies)
	}

	partials, err := o.sessions.GetAllPartialSignals(sessionID)
	if err != nil {
		return domain.TargetAllocation{}, err
	}
	allocation, err := aggregation.Consolidate(partials, correlationID, now)
	if err != nil {
		o.sessions.UpdateSessionStatus(sessionID, domain.SessionFailed)
		return domain.TargetAllocation{}, err
	}

	o.sessions.UpdateSessionStatus(sessionID, domain.SessionCompleted)
	o.events.Emit("cycle", &events.AllocationReadyData{SessionID: sessionID, CorrelationID: correlationID, SymbolCount: len(allocation.Weights)})
	return allocation, nil
}

// snapshot builds a PortfolioSnapshot from the broker's account and
// positions, pricing every held-or-targeted symbol from a short-lived
// market data stream (spec.md §4.1), falling back to the position's
// average entry price with a warning when no fresh quote arrives in time.
func (o *Orchestrator) snapshot(ctx context.Context, symbols []domain.Symbol) (domain.PortfolioSnapshot, []string, error) {
	account, err := o.br.GetAccount(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, nil, fmt.Errorf("get account: %w", err)
	}
	positions, err := o.br.GetPositions(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, nil, fmt.Errorf("get positions: %w", err)
	}

	priceSymbols := append([]domain.Symbol{}, symbols...)
	for sym := range positions {
		priceSymbols = append(priceSymbols, sym)
	}

	prices, warnings := o.fetchPrices(ctx, priceSymbols, positions)

	total := account.Cash
	for sym, pos := range positions {
		total = total.Add(pos.Quantity.Mul(prices[sym]))
	}

	var margin *domain.MarginInfo
	if account.MarginEnabled {
		margin = &domain.MarginInfo{BuyingPower: account.BuyingPower, LeverageFactor: account.Leverage, Enabled: true}
	}

	return domain.PortfolioSnapshot{
		Positions:  positions,
		Prices:     prices,
		Cash:       account.Cash,
		TotalValue: total,
		Margin:     margin,
	}, warnings, nil
}

// AccountSnapshot returns the current priced portfolio with no symbols
// targeted beyond what is already held — the read-only path behind the
// pnl command's account/positions snapshot. This is not a P&L reporting
// engine: it carries no cost-basis history or realized/unrealized split.
func (o *Orchestrator) AccountSnapshot(ctx context.Context) (domain.PortfolioSnapshot, []string, error) {
	return o.snapshot(ctx, nil)
}

// fetchPrices opens a market data stream just long enough to collect one
// quote per symbol, within a bounded wait, then tears it down — this
// invocation surface is a single-shot batch run, not the long-lived
// process that owns the stream for the engine's monitor/re-peg loop.
func (o *Orchestrator) fetchPrices(ctx context.Context, symbols []domain.Symbol, positions map[domain.Symbol]domain.Position) (map[domain.Symbol]decimal.Decimal, []string) {
	prices := make(map[domain.Symbol]decimal.Decimal, len(symbols))
	var warnings []string
	if len(symbols) == 0 {
		return prices, warnings
	}

	store := marketdata.NewStore(o.cfg.MaxSymbols)
	transport := o.newTransport(o.cfg.MarketDataWSURL)
	streamCfg := marketdata.DefaultConfig()
	streamCfg.MaxSymbols = o.cfg.MaxSymbols
	streamCfg.MaxQuoteAge = time.Duration(o.cfg.MaxQuoteAgeSeconds) * time.Second
	streamCfg.CleanupInterval = time.Duration(o.cfg.CleanupIntervalSecs) * time.Second

	stream := marketdata.New(streamCfg, transport, store, o.events, o.log)
	defer stream.Stop()
	if err := stream.Start(ctx); err != nil {
		o.log.Warn().Err(err).Msg("market data stream unavailable for pricing, falling back to average entry price")
	} else {
		stream.Subscribe(symbols, 1000.0)

		deadline := time.Now().Add(2 * time.Second)
	pricingWait:
		for time.Now().Before(deadline) {
			if o.allPriced(store, symbols) {
				break
			}
			select {
			case <-ctx.Done():
				break pricingWait
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	for _, sym := range symbols {
		if price, ok := store.GetPrice(sym); ok {
			prices[sym] = price
			continue
		}
		if pos, held := positions[sym]; held && pos.AverageEntryPrice.IsPositive() {
			prices[sym] = pos.AverageEntryPrice
			warnings = append(warnings, fmt.Sprintf("no live quote for %s, priced at average entry", sym))
			continue
		}
		warnings = append(warnings, fmt.Sprintf("no price available for %s", sym))
	}
	return prices, warnings
}

func (o *Orchestrator) allPriced(store *marketdata.Store, symbols []domain.Symbol) bool {
	for _, sym := range symbols {
		if _, ok := store.GetPrice(sym); !ok {
			return false
		}
	}
	return true
}

// Plan runs consolidation and planning but stops short of execution — the
// signal-only path of the invocation surface.
func (o *Orchestrator) Plan(ctx context.Context, signals []domain.PartialSignal, correlationID string, now time.Time) (domain.RebalancePlan, []string, error) {
	allocation, err := o.consolidate(signals, correlationID, now)
	if err != nil {
		return domain.RebalancePlan{}, nil, err
	}

	symbols := make([]domain.Symbol, 0, len(allocation.Weights))
	for sym := range allocation.Weights {
		symbols = append(symbols, sym)
	}

	snapshot, warnings, err := o.snapshot(ctx, symbols)
	if err != nil {
		return domain.RebalancePlan{}, warnings, err
	}

	plan, err := o.planner.Plan(allocation, snapshot, uuid.NewString(), now)
	if err != nil {
		return domain.RebalancePlan{}, warnings, err
	}
	o.events.Emit("cycle", &events.PlanGeneratedData{
		PlanID: plan.PlanID, CorrelationID: plan.CorrelationID, ItemCount: len(plan.Items), TotalTradeValue: plan.TotalTradeValue.String(),
	})
	return plan, warnings, nil
}

// Trade runs the full cycle: consolidate, snapshot, plan, execute.
func (o *Orchestrator) Trade(ctx context.Context, signals []domain.PartialSignal, correlationID string, now time.Time) Result {
	plan, warnings, err := o.Plan(ctx, signals, correlationID, now)
	if err != nil {
		return Result{Status: StatusFailure, Success: false, CorrelationID: correlationID,
			ExecutionSummary: &execution.Summary{Status: string(StatusFailure), SuccessRate: 1.0}, Warnings: append(warnings, err.Error())}
	}

	engineCfg := execution.DefaultConfig()
	engineCfg.TickSize = o.cfg.TickSize
	engineCfg.RepegInterval = time.Duration(o.cfg.RepegIntervalSecs) * time.Second
	engineCfg.MaxRepegsPerOrder = o.cfg.MaxRepegsPerOrder

	stream, quoteSource, err := o.executionQuoteSource(ctx, plan)
	if err != nil {
		return Result{Status: StatusFailure, Success: false, CorrelationID: correlationID, Plan: &plan,
			ExecutionSummary: &execution.Summary{Status: string(StatusFailure), SuccessRate: 1.0}, Warnings: append(warnings, err.Error())}
	}
	if stream != nil {
		defer stream.Stop()
	}

	engine := execution.New(engineCfg, quoteSource, o.analyzer, o.br, o.events, o.hours, o.log)
	summary, trades := engine.ExecutePlan(ctx, plan)

	status := StatusSuccess
	switch summary.Status {
	case "PARTIAL":
		status = StatusPartial
	case "FAILURE":
		status = StatusFailure
	}

	return Result{
		Status:           status,
		Success:          status != StatusFailure,
		CorrelationID:    correlationID,
		Plan:             &plan,
		ExecutionSummary: &summary,
		Trades:           trades,
		Warnings:         warnings,
	}
}

// executionQuoteSource starts the long-lived market data stream the
// execution engine drives its monitor/re-peg loop against for the
// lifetime of one trade cycle, pre-subscribing every symbol the plan
// touches at the resting priority tier so the engine's own
// order-placement subscribe only has to raise it.
func (o *Orchestrator) executionQuoteSource(ctx context.Context, plan domain.RebalancePlan) (*marketdata.Stream, execution.QuoteSource, error) {
	store := marketdata.NewStore(o.cfg.MaxSymbols)
	transport := o.newTransport(o.cfg.MarketDataWSURL)
	streamCfg := marketdata.DefaultConfig()
	streamCfg.MaxSymbols = o.cfg.MaxSymbols
	streamCfg.MaxQuoteAge = time.Duration(o.cfg.MaxQuoteAgeSeconds) * time.Second
	streamCfg.CleanupInterval = time.Duration(o.cfg.CleanupIntervalSecs) * time.Second

	stream := marketdata.New(streamCfg, transport, store, o.events, o.log)
	if err := stream.Start(ctx); err != nil {
		stream.Stop()
		return nil, nil, fmt.Errorf("start market data stream: %w", err)
	}

	symbols := make([]domain.Symbol, 0, len(plan.Items))
	for _, item := range plan.Items {
		if item.Action != domain.ActionHold {
			symbols = append(symbols, item.Symbol)
		}
	}
	stream.Subscribe(symbols, 1.0)
	return stream, stream, nil
}
