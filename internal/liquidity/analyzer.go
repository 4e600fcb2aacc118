// Package liquidity implements the pure, stateless pricing and scoring
// function that recommends a limit price for a prospective order without
// crossing the external market (spec §4.2). It performs no I/O and holds
// no state beyond its configured thresholds.
package liquidity

import (
	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/domain"
)

// Hint is the execution-strategy recommendation returned alongside an
// analysis.
type Hint string

const (
	HintNormal     Hint = "normal"
	HintPatient    Hint = "patient"
	HintAggressive Hint = "aggressive"
	HintSplit      Hint = "split"
)

// Config holds the thresholds the analyzer's scoring and confidence
// calculations are tuned against. TickSize also governs price
// quantization.
type Config struct {
	TickSize           decimal.Decimal
	MinVolumeThreshold decimal.Decimal // total quoted size below which volume score/confidence suffer
	WideSpreadPct      decimal.Decimal // spread/mid above which confidence is penalized
	ConfidenceFloor    decimal.Decimal
}

// DefaultConfig mirrors spec §6's tick_size default and reasonable
// fallbacks for the thresholds the spec leaves to implementation.
func DefaultConfig() Config {
	return Config{
		TickSize:           decimal.NewFromFloat(0.01),
		MinVolumeThreshold: decimal.NewFromInt(100),
		WideSpreadPct:      decimal.NewFromFloat(0.01),
		ConfidenceFloor:    decimal.NewFromFloat(0.1),
	}
}

// Analyzer is the pure pricing/scoring function, parameterized by Config.
type Analyzer struct {
	cfg Config
}

// New builds an Analyzer over cfg.
func New(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analysis is the output of Analyze.
type Analysis struct {
	RecommendedPrice decimal.Decimal
	LiquidityScore   float64 // 0-100
	VolumeImbalance  float64 // -1..1, positive = ask-heavy
	Confidence       float64 // 0-1
}

var (
	fallbackPrice = decimal.NewFromFloat(0.01)
	one           = decimal.NewFromInt(1)
	two           = decimal.NewFromInt(2)
)

// Analyze computes a recommended limit price, liquidity score and
// confidence for orderSize contracts of side against quote. It never
// returns a non-positive price, even given a corrupt quote.
func (a *Analyzer) Analyze(quote domain.Quote, orderSize decimal.Decimal, side domain.Side) Analysis {
	bid, ask := quote.BidPrice, quote.AskPrice
	bidSize, askSize := quote.BidSize, quote.AskSize

	sanitizedBid, _ := sanitizePrice(bid)
	sanitizedAsk, _ := sanitizePrice(ask)

	price := a.recommendPrice(sanitizedBid, sanitizedAsk, bidSize, askSize, orderSize, side)

	imbalance := volumeImbalance(bidSize, askSize)
	score := a.liquidityScore(sanitizedBid, sanitizedAsk, bidSize, askSize)
	confidence := a.confidence(sanitizedBid, sanitizedAsk, bidSize, askSize, orderSize, side)

	return Analysis{
		RecommendedPrice: price,
		LiquidityScore:   score,
		VolumeImbalance:  imbalance,
		Confidence:       confidence,
	}
}

// sanitizePrice substitutes the fallback 0.01 for a non-positive price, per
// the hard invariant that the analyzer never emits a non-positive price.
func sanitizePrice(p decimal.Decimal) (decimal.Decimal, bool) {
	if p.IsPositive() {
		return p, false
	}
	return fallbackPrice, true
}

// recommendPrice implements the BUY/SELL pricing algorithm of §4.2.
func (a *Analyzer) recommendPrice(bid, ask, bidSize, askSize, orderSize decimal.Decimal, side domain.Side) decimal.Decimal {
	tick := a.cfg.TickSize
	imbalance := volumeImbalance(bidSize, askSize)

	if side == domain.SideBuy {
		refSize := decimal.Max(askSize, one)
		fillRatio := orderSize.Div(refSize)

		var price decimal.Decimal
		if fillRatio.GreaterThan(decimal.NewFromFloat(0.8)) {
			price = ask
		} else {
			price = ask.Sub(tick)
		}

		// Opposing (bid) side heavy: imbalance strongly negative.
		if imbalance < -0.2 {
			price = price.Add(tick)
		}
		if price.GreaterThan(ask) {
			price = ask
		}
		// Nearest-multiple quantization can round back past ask (e.g.
		// ask=4.157, tick=0.01 rounds up to 4.16); re-clamp downward to the
		// nearest tick at-or-below ask so the no-self-cross invariant holds
		// after quantization, not just before it.
		quantized := quantize(price, tick)
		if quantized.GreaterThan(ask) {
			quantized = quantizeFloor(ask, tick)
		}
		return quantized
	}

	// SELL: symmetric around bid.
	refSize := decimal.Max(bidSize, one)
	fillRatio := orderSize.Div(refSize)

	var price decimal.Decimal
	if fillRatio.GreaterThan(decimal.NewFromFloat(0.8)) {
		price = bid
	} else {
		price = bid.Add(tick)
	}

	// Opposing (ask) side heavy: imbalance strongly positive.
	if imbalance > 0.2 {
		price = price.Sub(tick)
	}
	if price.LessThan(bid) {
		price = bid
	}
	quantized := quantize(price, tick)
	if quantized.LessThan(bid) {
		quantized = quantizeCeil(bid, tick)
	}
	return quantized
}

// quantize rounds price to the nearest positive multiple of tick.
func quantize(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	units := price.Div(tick).Round(0)
	quantized := units.Mul(tick)
	if !quantized.IsPositive() {
		return tick
	}
	return quantized
}

// quantizeFloor rounds price down to the nearest positive multiple of
// tick, used to re-clamp a BUY price that quantize rounded past the ask.
func quantizeFloor(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	units := price.Div(tick).Floor()
	quantized := units.Mul(tick)
	if !quantized.IsPositive() {
		return tick
	}
	return quantized
}

// quantizeCeil rounds price up to the nearest positive multiple of tick,
// used to re-clamp a SELL price that quantize rounded past the bid.
func quantizeCeil(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	units := price.Div(tick).Ceil()
	quantized := units.Mul(tick)
	if !quantized.IsPositive() {
		return tick
	}
	return quantized
}

// volumeImbalance returns (askSize-bidSize)/(askSize+bidSize), positive
// meaning the book is ask-heavy. Zero total size is neutral.
func volumeImbalance(bidSize, askSize decimal.Decimal) float64 {
	total := bidSize.Add(askSize)
	if total.IsZero() {
		return 0
	}
	imbalance := askSize.Sub(bidSize).Div(total)
	f, _ := imbalance.Float64()
	return clamp(f, -1, 1)
}

// liquidityScore sums volume (<=50), spread tightness (<=30) and book
// balance (<=20) into a 0-100 score.
func (a *Analyzer) liquidityScore(bid, ask, bidSize, askSize decimal.Decimal) float64 {
	volumeScore := a.volumeScore(bidSize, askSize)
	spreadScore := a.spreadScore(bid, ask)
	balanceScore := a.balanceScore(bidSize, askSize)
	return volumeScore + spreadScore + balanceScore
}

func (a *Analyzer) volumeScore(bidSize, askSize decimal.Decimal) float64 {
	total := bidSize.Add(askSize)
	threshold := a.cfg.MinVolumeThreshold
	if threshold.IsZero() {
		return 50
	}
	ratio := total.Div(threshold)
	f, _ := ratio.Float64()
	return clamp(f*50, 0, 50)
}

func (a *Analyzer) spreadScore(bid, ask decimal.Decimal) float64 {
	mid, ok := midPrice(bid, ask)
	if !ok || mid.IsZero() {
		return 0
	}
	spreadPct := ask.Sub(bid).Div(mid)
	wide := a.cfg.WideSpreadPct
	if wide.IsZero() {
		return 0
	}
	ratio := spreadPct.Div(wide)
	f, _ := ratio.Float64()
	return clamp((1-f)*30, 0, 30)
}

func (a *Analyzer) balanceScore(bidSize, askSize decimal.Decimal) float64 {
	imbalance := volumeImbalance(bidSize, askSize)
	absImbalance := imbalance
	if absImbalance < 0 {
		absImbalance = -absImbalance
	}
	return (1 - absImbalance) * 20
}

func midPrice(bid, ask decimal.Decimal) (decimal.Decimal, bool) {
	if bid.IsPositive() && ask.IsPositive() {
		return bid.Add(ask).Div(two), true
	}
	return decimal.Zero, false
}

// confidence starts at 1.0 and is reduced by thin volume, a wide spread,
// and an order size that exceeds available liquidity on its side.
func (a *Analyzer) confidence(bid, ask, bidSize, askSize, orderSize decimal.Decimal, side domain.Side) float64 {
	c := 1.0

	total := bidSize.Add(askSize)
	if total.LessThan(a.cfg.MinVolumeThreshold) {
		c -= 0.3
	}

	if mid, ok := midPrice(bid, ask); ok && mid.IsPositive() {
		spreadPct := ask.Sub(bid).Div(mid)
		if spreadPct.GreaterThan(a.cfg.WideSpreadPct) {
			c -= 0.2
		}
	}

	sideSize := askSize
	if side == domain.SideSell {
		sideSize = bidSize
	}
	if sideSize.IsPositive() && orderSize.Div(sideSize).GreaterThan(one) {
		c -= 0.3
	}

	floor, _ := a.cfg.ConfidenceFloor.Float64()
	return clamp(c, floor, 1.0)
}

// Validate reports whether an order of orderSize/side can be analyzed
// against quote at all.
func (a *Analyzer) Validate(quote domain.Quote, orderSize decimal.Decimal, side domain.Side) (bool, string) {
	if !orderSize.IsPositive() {
		return false, "order size must be positive"
	}
	if !quote.BidPrice.IsPositive() && !quote.AskPrice.IsPositive() {
		return false, "no market data: both bid and ask are non-positive"
	}
	if side == domain.SideBuy && !quote.AskPrice.IsPositive() {
		return false, "no ask price available for a BUY order"
	}
	if side == domain.SideSell && !quote.BidPrice.IsPositive() {
		return false, "no bid price available for a SELL order"
	}
	return true, ""
}

// StrategyHint recommends an execution strategy given an Analysis, the
// order's side and size. sideVolume is the quoted size on the order's own
// side (ask_size for BUY, bid_size for SELL).
func (a *Analyzer) StrategyHint(analysis Analysis, side domain.Side, orderSize, sideVolume decimal.Decimal) Hint {
	if analysis.Confidence > 0.8 && analysis.LiquidityScore > 70 {
		return HintNormal
	}
	if analysis.LiquidityScore < 30 {
		return HintPatient
	}
	if sideVolume.IsPositive() && orderSize.Div(sideVolume).GreaterThan(decimal.NewFromFloat(1.5)) {
		return HintSplit
	}
	if side == domain.SideBuy && analysis.VolumeImbalance > 0.5 {
		return HintAggressive
	}
	if side == domain.SideSell && analysis.VolumeImbalance < -0.5 {
		return HintAggressive
	}
	return HintNormal
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
