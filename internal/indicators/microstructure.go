package indicators

import (
	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// SpreadClass qualifies the bid-ask spread relative to price.
type SpreadClass string

const (
	SpreadTight  SpreadClass = "tight"
	SpreadNormal SpreadClass = "normal"
	SpreadWide   SpreadClass = "wide"
)

const (
	tightSpreadBps  = 2.0
	normalSpreadBps = 10.0
)

// Microstructure summarizes a book's bid-ask spread and its class.
type Microstructure struct {
	AbsoluteSpread    decimal.Decimal
	RelativeSpreadBps decimal.Decimal
	SpreadClass       SpreadClass
}

// ComputeMicrostructure derives the bid-ask spread and its classification
// by fixed basis-point thresholds.
func ComputeMicrostructure(book exchange.OrderBook) Microstructure {
	bid := book.BestBid().Price
	ask := book.BestAsk().Price
	if bid.IsZero() || ask.IsZero() {
		return Microstructure{}
	}

	absSpread := ask.Sub(bid)
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	relBps := absSpread.Div(mid).Mul(decimal.NewFromInt(10000))

	relF, _ := relBps.Float64()
	class := SpreadWide
	switch {
	case relF <= tightSpreadBps:
		class = SpreadTight
	case relF <= normalSpreadBps:
		class = SpreadNormal
	}

	return Microstructure{
		AbsoluteSpread:    absSpread,
		RelativeSpreadBps: relBps,
		SpreadClass:       class,
	}
}

// EstimateSlippage walks the relevant side of the book (asks for a buy,
// bids for a sell) to fill quoteValue of notional, returning the
// size-weighted average fill price. It returns zero when that side of the
// book is empty, and the best price on that side when nothing is filled
// (a zero quoteValue).
func EstimateSlippage(book exchange.OrderBook, side exchange.Side, quoteValue decimal.Decimal) decimal.Decimal {
	levels := book.Asks
	if side == exchange.SideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return decimal.Zero
	}

	remaining := quoteValue
	filledValue := decimal.Zero
	filledQty := decimal.Zero

	for _, l := range levels {
		levelValue := l.Price.Mul(l.Quantity)
		if levelValue.GreaterThanOrEqual(remaining) {
			qty := remaining.Div(l.Price)
			filledValue = filledValue.Add(remaining)
			filledQty = filledQty.Add(qty)
			remaining = decimal.Zero
			break
		}
		filledValue = filledValue.Add(levelValue)
		filledQty = filledQty.Add(l.Quantity)
		remaining = remaining.Sub(levelValue)
	}

	if filledQty.IsZero() {
		return levels[0].Price
	}
	if !remaining.IsZero() {
		// book exhausted before filling the full notional; price the
		// shortfall at the last level walked.
		last := levels[len(levels)-1]
		filledValue = filledValue.Add(remaining)
		filledQty = filledQty.Add(remaining.Div(last.Price))
	}
	return filledValue.Div(filledQty)
}
