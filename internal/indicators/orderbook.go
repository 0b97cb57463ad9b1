package indicators

import (
	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// ImbalanceLabel qualifies the direction and strength of order-book
// pressure.
type ImbalanceLabel string

const (
	ImbalanceStrongBuy    ImbalanceLabel = "strong_buy"
	ImbalanceModerateBuy  ImbalanceLabel = "moderate_buy"
	ImbalanceBalanced     ImbalanceLabel = "balanced"
	ImbalanceModerateSell ImbalanceLabel = "moderate_sell"
	ImbalanceStrongSell   ImbalanceLabel = "strong_sell"
)

// LiquidityGrade classifies total quote-value resting within a depth
// window.
type LiquidityGrade string

const (
	LiquidityGood     LiquidityGrade = "good"
	LiquidityModerate LiquidityGrade = "moderate"
	LiquidityPoor     LiquidityGrade = "poor"
)

// OrderBookMetrics summarizes an order book's imbalance, walls, and
// liquidity at a given depth.
type OrderBookMetrics struct {
	VolumeImbalance decimal.Decimal // (bidVol - askVol) / (bidVol + askVol), range [-1, 1]
	ValueImbalance  decimal.Decimal // same ratio computed on quote value
	Label           ImbalanceLabel
	BidWalls        []exchange.PriceLevel
	AskWalls        []exchange.PriceLevel
	QuoteValue      decimal.Decimal
	Liquidity       LiquidityGrade
}

const wallMultiplier = 3.0 // k in "k x mean size"

// liquidity thresholds are expressed in quote currency units resting
// within the configured depth.
const (
	liquidityGoodThreshold     = 200000.0
	liquidityModerateThreshold = 50000.0
)

// imbalance bounds for qualitative labeling.
const (
	strongImbalanceThreshold   = 0.5
	moderateImbalanceThreshold = 0.15
)

// ComputeOrderBookMetrics looks at the top depth levels on each side of
// book and returns volume/value imbalance, a qualitative label, detected
// walls (levels exceeding wallMultiplier times the mean size on that
// side), and a liquidity grade from total resting quote value.
func ComputeOrderBookMetrics(book exchange.OrderBook, depth int) OrderBookMetrics {
	bids := topN(book.Bids, depth)
	asks := topN(book.Asks, depth)

	bidVol := sumQuantity(bids)
	askVol := sumQuantity(asks)
	bidValue := sumValue(bids)
	askValue := sumValue(asks)

	volImbalance := ratio(bidVol, askVol)
	valImbalance := ratio(bidValue, askValue)

	m := OrderBookMetrics{
		VolumeImbalance: volImbalance,
		ValueImbalance:  valImbalance,
		Label:           labelImbalance(volImbalance),
		BidWalls:        detectWalls(bids),
		AskWalls:        detectWalls(asks),
		QuoteValue:      bidValue.Add(askValue),
	}
	m.Liquidity = gradeLiquidity(m.QuoteValue)
	return m
}

func topN(levels []exchange.PriceLevel, n int) []exchange.PriceLevel {
	if n <= 0 || n >= len(levels) {
		return levels
	}
	return levels[:n]
}

func sumQuantity(levels []exchange.PriceLevel) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range levels {
		sum = sum.Add(l.Quantity)
	}
	return sum
}

func sumValue(levels []exchange.PriceLevel) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range levels {
		sum = sum.Add(l.Price.Mul(l.Quantity))
	}
	return sum
}

func ratio(a, b decimal.Decimal) decimal.Decimal {
	total := a.Add(b)
	if total.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Div(total)
}

func labelImbalance(imbalance decimal.Decimal) ImbalanceLabel {
	f, _ := imbalance.Float64()
	switch {
	case f >= strongImbalanceThreshold:
		return ImbalanceStrongBuy
	case f >= moderateImbalanceThreshold:
		return ImbalanceModerateBuy
	case f <= -strongImbalanceThreshold:
		return ImbalanceStrongSell
	case f <= -moderateImbalanceThreshold:
		return ImbalanceModerateSell
	default:
		return ImbalanceBalanced
	}
}

func detectWalls(levels []exchange.PriceLevel) []exchange.PriceLevel {
	if len(levels) == 0 {
		return nil
	}
	mean := sumQuantity(levels).Div(decimal.NewFromInt(int64(len(levels))))
	threshold := mean.Mul(decimal.NewFromFloat(wallMultiplier))

	var walls []exchange.PriceLevel
	for _, l := range levels {
		if l.Quantity.GreaterThanOrEqual(threshold) {
			walls = append(walls, l)
		}
	}
	return walls
}

func gradeLiquidity(quoteValue decimal.Decimal) LiquidityGrade {
	f, _ := quoteValue.Float64()
	switch {
	case f >= liquidityGoodThreshold:
		return LiquidityGood
	case f >= liquidityModerateThreshold:
		return LiquidityModerate
	default:
		return LiquidityPoor
	}
}
