package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantedge/tradecore/internal/domain"
)

func TestPaperBroker_PlaceOrder_FillsAtLimitByDefault(t *testing.T) {
	ctx := context.Background()
	pb := NewPaperBroker(decimal.NewFromInt(10000))

	report, err := pb.PlaceOrder(ctx, PlaceOrderRequest{
		Symbol:     "AAPL",
		Side:       domain.SideBuy,
		Quantity:   decimal.NewFromInt(10),
		LimitPrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, report.Status)
	assert.True(t, decimal.NewFromInt(10).Equal(report.FilledQty))
	assert.NotEmpty(t, report.BrokerOrderID)

	positions, err := pb.GetPositions(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(positions["AAPL"].Quantity))

	account, err := pb.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(9000).Equal(account.Cash))
}

func TestPaperBroker_SellReducesPositionAndAddsCash(t *testing.T) {
	ctx := context.Background()
	pb := NewPaperBroker(decimal.NewFromInt(1000))
	pb.SeedPosition(domain.Position{Symbol: "AAPL", Quantity: decimal.NewFromInt(10)})

	_, err := pb.PlaceOrder(ctx, PlaceOrderRequest{
		Symbol:     "AAPL",
		Side:       domain.SideSell,
		Quantity:   decimal.NewFromInt(4),
		LimitPrice: decimal.NewFromInt(50),
	})
	require.NoError(t, err)

	positions, _ := pb.GetPositions(ctx)
	assert.True(t, decimal.NewFromInt(6).Equal(positions["AAPL"].Quantity))

	account, _ := pb.GetAccount(ctx)
	assert.True(t, decimal.NewFromInt(1200).Equal(account.Cash))
}

func TestPaperBroker_CustomFillBehavior(t *testing.T) {
	ctx := context.Background()
	pb := NewPaperBroker(decimal.NewFromInt(10000))
	pb.FillBehavior = func(req PlaceOrderRequest) OrderStatusReport {
		return OrderStatusReport{
			Status:         domain.OrderRejected,
			FilledQty:      decimal.Zero,
			FilledAvgPrice: decimal.Zero,
		}
	}

	report, err := pb.PlaceOrder(ctx, PlaceOrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Quantity: decimal.NewFromInt(1), LimitPrice: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRejected, report.Status)
}

func TestPaperBroker_CancelOrder_UnknownIDErrors(t *testing.T) {
	pb := NewPaperBroker(decimal.NewFromInt(1000))
	err := pb.CancelOrder(context.Background(), "does-not-exist")
	assert.Error(t, err)
}
