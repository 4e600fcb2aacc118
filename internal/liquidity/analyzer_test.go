package liquidity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quantedge/tradecore/internal/domain"
)

func newAnalyzer() *Analyzer {
	return New(DefaultConfig())
}

// S4: no self-cross on a large BUY order.
func TestAnalyze_S4_NoSelfCrossOnLargeBuy(t *testing.T) {
	a := newAnalyzer()
	quote := domain.Quote{
		Symbol:   "SOXS",
		BidPrice: decimal.NewFromFloat(4.14),
		AskPrice: decimal.NewFromFloat(4.15),
		BidSize:  decimal.NewFromInt(37),
		AskSize:  decimal.NewFromInt(70),
	}

	result := a.Analyze(quote, decimal.NewFromFloat(4478.29), domain.SideBuy)

	assert.True(t, decimal.NewFromFloat(4.15).Equal(result.RecommendedPrice))
	assert.True(t, result.RecommendedPrice.LessThanOrEqual(quote.AskPrice))
}

// A corrupt-feed regression: quantizing a price already clamped to ask can
// round it back past ask if the re-clamp only happens pre-quantization.
func TestAnalyze_QuantizationNeverUncrossesTheClamp(t *testing.T) {
	a := newAnalyzer()
	quote := domain.Quote{
		Symbol:   "SOXS",
		BidPrice: decimal.NewFromFloat(4.147),
		AskPrice: decimal.NewFromFloat(4.157),
		BidSize:  decimal.NewFromInt(37),
		AskSize:  decimal.NewFromInt(70),
	}

	buy := a.Analyze(quote, decimal.NewFromFloat(4478.29), domain.SideBuy)
	assert.True(t, buy.RecommendedPrice.LessThanOrEqual(quote.AskPrice),
		"quantized BUY price %s must not exceed ask %s", buy.RecommendedPrice, quote.AskPrice)

	sell := a.Analyze(quote, decimal.NewFromFloat(4478.29), domain.SideSell)
	assert.True(t, sell.RecommendedPrice.GreaterThanOrEqual(quote.BidPrice),
		"quantized SELL price %s must not go below bid %s", sell.RecommendedPrice, quote.BidPrice)
}

func TestAnalyze_NeverCrossesTheMarket(t *testing.T) {
	a := newAnalyzer()
	sizes := []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(50), decimal.NewFromInt(500), decimal.NewFromInt(5000)}
	quote := domain.Quote{
		BidPrice: decimal.NewFromFloat(99.98),
		AskPrice: decimal.NewFromFloat(100.02),
		BidSize:  decimal.NewFromInt(200),
		AskSize:  decimal.NewFromInt(50),
	}

	for _, size := range sizes {
		buy := a.Analyze(quote, size, domain.SideBuy)
		assert.True(t, buy.RecommendedPrice.LessThanOrEqual(quote.AskPrice), "BUY price must never exceed ask for size %s", size)

		sell := a.Analyze(quote, size, domain.SideSell)
		assert.True(t, sell.RecommendedPrice.GreaterThanOrEqual(quote.BidPrice), "SELL price must never go below bid for size %s", size)
	}
}

func TestAnalyze_PriceIsTickQuantized(t *testing.T) {
	a := New(Config{TickSize: decimal.NewFromFloat(0.05), MinVolumeThreshold: decimal.NewFromInt(100), WideSpreadPct: decimal.NewFromFloat(0.01), ConfidenceFloor: decimal.NewFromFloat(0.1)})
	quote := domain.Quote{BidPrice: decimal.NewFromFloat(10.02), AskPrice: decimal.NewFromFloat(10.09), BidSize: decimal.NewFromInt(100), AskSize: decimal.NewFromInt(100)}

	result := a.Analyze(quote, decimal.NewFromInt(10), domain.SideBuy)

	remainder := result.RecommendedPrice.Mod(decimal.NewFromFloat(0.05))
	assert.True(t, remainder.Abs().LessThan(decimal.NewFromFloat(0.0001)), "price %s must be a multiple of tick size", result.RecommendedPrice)
}

func TestAnalyze_NeverEmitsNonPositivePrice(t *testing.T) {
	a := newAnalyzer()
	corrupt := domain.Quote{BidPrice: decimal.NewFromInt(-5), AskPrice: decimal.Zero, BidSize: decimal.Zero, AskSize: decimal.Zero}

	result := a.Analyze(corrupt, decimal.NewFromInt(10), domain.SideBuy)
	assert.True(t, result.RecommendedPrice.IsPositive())
}

func TestValidate(t *testing.T) {
	a := newAnalyzer()
	goodQuote := domain.Quote{BidPrice: decimal.NewFromInt(10), AskPrice: decimal.NewFromInt(11)}

	ok, reason := a.Validate(goodQuote, decimal.NewFromInt(10), domain.SideBuy)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = a.Validate(goodQuote, decimal.NewFromInt(-1), domain.SideBuy)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	noAsk := domain.Quote{BidPrice: decimal.NewFromInt(10), AskPrice: decimal.Zero}
	ok, _ = a.Validate(noAsk, decimal.NewFromInt(10), domain.SideBuy)
	assert.False(t, ok)
}

func TestStrategyHint(t *testing.T) {
	a := newAnalyzer()

	normal := Analysis{Confidence: 0.9, LiquidityScore: 80}
	assert.Equal(t, HintNormal, a.StrategyHint(normal, domain.SideBuy, decimal.NewFromInt(10), decimal.NewFromInt(1000)))

	thin := Analysis{Confidence: 0.5, LiquidityScore: 20}
	assert.Equal(t, HintPatient, a.StrategyHint(thin, domain.SideBuy, decimal.NewFromInt(10), decimal.NewFromInt(1000)))

	oversized := Analysis{Confidence: 0.5, LiquidityScore: 50}
	assert.Equal(t, HintSplit, a.StrategyHint(oversized, domain.SideBuy, decimal.NewFromInt(200), decimal.NewFromInt(100)))

	aggressive := Analysis{Confidence: 0.5, LiquidityScore: 50, VolumeImbalance: 0.8}
	assert.Equal(t, HintAggressive, a.StrategyHint(aggressive, domain.SideBuy, decimal.NewFromInt(10), decimal.NewFromInt(1000)))
}
