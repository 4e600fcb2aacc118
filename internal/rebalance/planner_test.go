package rebalance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/tradecore/internal/domain"
)

func defaultConfig() Config {
	return Config{
		MinTradeAmount:    decimal.NewFromFloat(25.00),
		CashReservePct:    decimal.NewFromFloat(0.01),
		RoundingPrecision: 2,
	}
}

func findItem(t *testing.T, items []domain.RebalancePlanItem, sym domain.Symbol) domain.RebalancePlanItem {
	t.Helper()
	for _, item := range items {
		if item.Symbol == sym {
			return item
		}
	}
	t.Fatalf("no plan item for symbol %s", sym)
	return domain.RebalancePlanItem{}
}

// S1: a partial reduction is not a liquidation.
func TestPlan_S1_PartialReductionIsNotALiquidation(t *testing.T) {
	planner := New(defaultConfig())

	snapshot := domain.PortfolioSnapshot{
		Positions:  map[domain.Symbol]domain.Position{"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(10)}},
		Prices:     map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
		Cash:       decimal.NewFromInt(9000),
		TotalValue: decimal.NewFromInt(10000),
	}
	allocation := domain.TargetAllocation{
		Weights:       map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromFloat(0.05)},
		CorrelationID: "corr-1",
	}

	plan, err := planner.Plan(allocation, snapshot, "plan-1", time.Now())
	require.NoError(t, err)

	item := findItem(t, plan.Items, "AAPL")
	assert.Equal(t, domain.ActionSell, item.Action)
	assert.True(t, item.TradeAmount.Sub(decimal.NewFromFloat(-505.00)).Abs().LessThan(decimal.NewFromFloat(0.01)))
	assert.True(t, item.TargetWeight.Equal(decimal.NewFromFloat(0.05)))
	assert.True(t, item.CurrentWeight.Equal(decimal.NewFromFloat(0.10)))
	assert.False(t, item.TradeAmount.Equal(decimal.NewFromInt(-1000)), "a partial reduction must not become a full liquidation")
}

// S2: full liquidation when target weight is zero.
func TestPlan_S2_FullLiquidation(t *testing.T) {
	planner := New(defaultConfig())

	snapshot := domain.PortfolioSnapshot{
		Positions:  map[domain.Symbol]domain.Position{"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(10)}},
		Prices:     map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
		Cash:       decimal.NewFromInt(9000),
		TotalValue: decimal.NewFromInt(10000),
	}
	allocation := domain.TargetAllocation{Weights: map[domain.Symbol]decimal.Decimal{}, CorrelationID: "corr-2"}

	plan, err := planner.Plan(allocation, snapshot, "plan-2", time.Now())
	require.NoError(t, err)

	item := findItem(t, plan.Items, "AAPL")
	assert.Equal(t, domain.ActionSell, item.Action)
	assert.True(t, item.TradeAmount.Equal(decimal.NewFromInt(-1000)))
	assert.True(t, item.TargetWeight.IsZero())
}

// S3: buy from an empty portfolio.
func TestPlan_S3_BuyFromEmpty(t *testing.T) {
	planner := New(defaultConfig())

	snapshot := domain.PortfolioSnapshot{
		Positions:  map[domain.Symbol]domain.Position{},
		Prices:     map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
		Cash:       decimal.NewFromInt(10000),
		TotalValue: decimal.NewFromInt(10000),
	}
	allocation := domain.TargetAllocation{Weights: map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromInt(1)}, CorrelationID: "corr-3"}

	plan, err := planner.Plan(allocation, snapshot, "plan-3", time.Now())
	require.NoError(t, err)

	item := findItem(t, plan.Items, "AAPL")
	assert.Equal(t, domain.ActionBuy, item.Action)
	assert.True(t, item.TradeAmount.Equal(decimal.NewFromInt(9900)))
	assert.True(t, item.CurrentWeight.IsZero())
}

func TestPlan_NoMicroTrades(t *testing.T) {
	cfg := defaultConfig()
	planner := New(cfg)

	snapshot := domain.PortfolioSnapshot{
		Positions:  map[domain.Symbol]domain.Position{"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(100)}},
		Prices:     map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromInt(100)},
		Cash:       decimal.NewFromInt(0),
		TotalValue: decimal.NewFromInt(10000),
	}
	// Target weight close to the current weight: with the 1% cash reserve the
	// target value is 9890.10, so this plans a SELL of 109.90; every non-HOLD
	// item must still clear the threshold.
	allocation := domain.TargetAllocation{Weights: map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromFloat(0.999)}, CorrelationID: "corr-4"}

	plan, err := planner.Plan(allocation, snapshot, "plan-4", time.Now())
	require.NoError(t, err)

	for _, item := range plan.Items {
		if item.Action != domain.ActionHold {
			assert.True(t, item.TradeAmount.Abs().GreaterThanOrEqual(cfg.MinTradeAmount))
		} else {
			assert.True(t, item.TradeAmount.IsZero())
		}
	}
}

func TestPlan_MissingPriceForHeldPositionIsFatal(t *testing.T) {
	planner := New(defaultConfig())

	snapshot := domain.PortfolioSnapshot{
		Positions:  map[domain.Symbol]domain.Position{"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(10)}},
		Prices:     map[domain.Symbol]decimal.Decimal{},
		Cash:       decimal.NewFromInt(9000),
		TotalValue: decimal.NewFromInt(10000),
	}
	allocation := domain.TargetAllocation{Weights: map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromFloat(0.1)}}

	_, err := planner.Plan(allocation, snapshot, "plan-5", time.Now())
	require.Error(t, err)
	var portfolioErr *domain.PortfolioError
	assert.ErrorAs(t, err, &portfolioErr)
}

func TestPlan_WeightSumOverOneIsRejected(t *testing.T) {
	planner := New(defaultConfig())
	snapshot := domain.PortfolioSnapshot{TotalValue: decimal.NewFromInt(1000), Cash: decimal.NewFromInt(1000)}
	allocation := domain.TargetAllocation{Weights: map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromFloat(0.7), "MSFT": decimal.NewFromFloat(0.5)}}

	_, err := planner.Plan(allocation, snapshot, "plan-6", time.Now())
	assert.Error(t, err)
}

func TestPlan_OrderingIsSellFirst(t *testing.T) {
	planner := New(defaultConfig())
	snapshot := domain.PortfolioSnapshot{
		Positions: map[domain.Symbol]domain.Position{
			"AAPL": {Symbol: "AAPL", Quantity: decimal.NewFromInt(10)},
			"MSFT": {Symbol: "MSFT", Quantity: decimal.NewFromInt(0)},
		},
		Prices:     map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromInt(100), "MSFT": decimal.NewFromInt(200)},
		Cash:       decimal.NewFromInt(9000),
		TotalValue: decimal.NewFromInt(10000),
	}
	allocation := domain.TargetAllocation{Weights: map[domain.Symbol]decimal.Decimal{"AAPL": decimal.Zero, "MSFT": decimal.NewFromFloat(0.5)}}

	plan, err := planner.Plan(allocation, snapshot, "plan-7", time.Now())
	require.NoError(t, err)

	sellIndex, buyIndex := -1, -1
	for i, item := range plan.Items {
		if item.Action == domain.ActionSell && sellIndex == -1 {
			sellIndex = i
		}
		if item.Action == domain.ActionBuy && buyIndex == -1 {
			buyIndex = i
		}
	}
	require.NotEqual(t, -1, sellIndex)
	require.NotEqual(t, -1, buyIndex)
	assert.Less(t, sellIndex, buyIndex)
}

func TestPlan_NonFractionableTruncatesQuantity(t *testing.T) {
	cfg := defaultConfig()
	cfg.Fractionable = func(sym domain.Symbol) bool { return false }
	planner := New(cfg)

	snapshot := domain.PortfolioSnapshot{
		Positions:  map[domain.Symbol]domain.Position{},
		Prices:     map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromInt(3)},
		Cash:       decimal.NewFromInt(100),
		TotalValue: decimal.NewFromInt(100),
	}
	allocation := domain.TargetAllocation{Weights: map[domain.Symbol]decimal.Decimal{"AAPL": decimal.NewFromInt(1)}}

	plan, err := planner.Plan(allocation, snapshot, "plan-8", time.Now())
	require.NoError(t, err)

	item := findItem(t, plan.Items, "AAPL")
	assert.True(t, item.EstimatedQuantity.Equal(item.EstimatedQuantity.Truncate(0)))
}

func TestFeeModel_MinTradeAmount(t *testing.T) {
	fee := FeeModel{FixedCost: decimal.NewFromFloat(1), PercentCost: decimal.NewFromFloat(0.001), MaxCostRatio: decimal.NewFromFloat(0.01)}
	// trade = fixed / (maxRatio - percent) = 1 / 0.009 = 111.11...
	got := fee.MinTradeAmount()
	assert.True(t, got.Sub(decimal.NewFromFloat(111.11)).Abs().LessThan(decimal.NewFromFloat(0.01)))
}
