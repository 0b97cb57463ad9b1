package strategy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spotcore/internal/indicators"
	"spotcore/pkg/exchange"
)

// Engine evaluates the multi-factor strategy and retains the
// last-computed scores per instrument for observability, even when a tick
// produces no signal.
type Engine struct {
	weights    Weights
	thresholds Thresholds

	mu         sync.RWMutex
	lastScores map[string]Scores
}

// NewEngine builds a strategy engine with the given weights and thresholds.
func NewEngine(weights Weights, thresholds Thresholds) *Engine {
	return &Engine{weights: weights, thresholds: thresholds, lastScores: make(map[string]Scores)}
}

// LastScores returns the most recently computed scores for instrument, if
// any tick has been evaluated.
func (e *Engine) LastScores(instrument string) (Scores, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.lastScores[instrument]
	return s, ok
}

// Evaluate is the core scoring function: (candles, order book, trade tape,
// clock) -> Signal | none. It is deterministic and side-effect free aside
// from updating the engine's retained-scores cache.
func (e *Engine) Evaluate(instrument string, candles []exchange.Candle, book exchange.OrderBook, trades []exchange.Trade, now time.Time) (*Signal, bool) {
	if len(candles) == 0 {
		return nil, false
	}
	price := candles[len(candles)-1].Close

	micro := indicators.ComputeMicrostructure(book)
	obMetrics := indicators.ComputeOrderBookMetrics(book, 20)
	if micro.SpreadClass == indicators.SpreadWide || obMetrics.Liquidity == indicators.LiquidityPoor {
		return nil, false
	}

	profile := indicators.VolumeProfileFor(instrument, "", candles, e.thresholds.VolumeProfileBinCount)
	divergence := indicators.DetectDivergence(trades, e.thresholds.CVDLookback)
	zones := indicators.DetectZones(candles)

	buyScore, sellScore := e.scoreFactors(price, profile, obMetrics, divergence, zones, candles)

	e.mu.Lock()
	e.lastScores[instrument] = Scores{Instrument: instrument, BuyScore: buyScore, SellScore: sellScore, ComputedAt: now}
	e.mu.Unlock()

	var side exchange.Side
	switch {
	case buyScore >= e.thresholds.MinBuyScore && buyScore > sellScore:
		side = exchange.SideBuy
	case sellScore >= e.thresholds.MinSellScore && sellScore > buyScore:
		side = exchange.SideSell
	default:
		return nil, false
	}

	stop, takeProfit := e.placeStopAndTarget(side, price, profile, zones)
	maxScore := e.weights.MaxScore()
	score := buyScore
	if side == exchange.SideSell {
		score = sellScore
	}

	signal := &Signal{
		Instrument: instrument,
		Side:       side,
		Entry:      price,
		StopLoss:   stop,
		TakeProfit: takeProfit,
		Confidence: score / maxScore,
		BuyScore:   buyScore,
		SellScore:  sellScore,
		ComputedAt: now,
	}
	return signal, true
}

func (e *Engine) scoreFactors(
	price decimal.Decimal,
	profile indicators.VolumeProfile,
	obMetrics indicators.OrderBookMetrics,
	divergence indicators.DivergenceKind,
	zones []indicators.Zone,
	candles []exchange.Candle,
) (buy, sell float64) {
	w := e.weights

	// Volume-profile position: BUY when price < VAL, SELL when price > VAH.
	if !profile.VAL.IsZero() && price.LessThan(profile.VAL) {
		buy += w.VolumeProfile
	}
	if !profile.VAH.IsZero() && price.GreaterThan(profile.VAH) {
		sell += w.VolumeProfile
	}

	// Order-book imbalance: full weight for strong, half for moderate.
	switch obMetrics.Label {
	case indicators.ImbalanceStrongBuy:
		buy += w.OrderBookImbalance
	case indicators.ImbalanceModerateBuy:
		buy += w.OrderBookImbalance / 2
	case indicators.ImbalanceStrongSell:
		sell += w.OrderBookImbalance
	case indicators.ImbalanceModerateSell:
		sell += w.OrderBookImbalance / 2
	}

	// CVD divergence.
	switch divergence {
	case indicators.DivergenceBullish:
		buy += w.CVDDivergence
	case indicators.DivergenceBearish:
		sell += w.CVDDivergence
	}

	// Supply/demand zone.
	insideDemand, insideSupply := false, false
	for _, z := range zones {
		if !z.Fresh || !z.Contains(price) {
			continue
		}
		if z.Kind == indicators.ZoneDemand {
			insideDemand = true
		} else {
			insideSupply = true
		}
	}
	if insideDemand {
		buy += w.SupplyDemandZone
	}
	if insideSupply {
		sell += w.SupplyDemandZone
	}

	// HVN proximity.
	if nearest, ok := nearestLevel(profile.HVNLevels, price); ok {
		distPct := distancePct(price, nearest)
		above := price.GreaterThan(nearest)
		if distPct <= e.thresholds.HVNProximityPct {
			if above {
				buy += w.HVNProximity
			} else {
				sell += w.HVNProximity
			}
		}
	}

	// Time/volume amplifier: reinforces whichever side already leads if
	// recent volume is well above the window average.
	if isVolumeAmplified(candles, e.thresholds.VolumeAmplifierMultiple) {
		if buy > sell {
			buy += w.TimeVolumeAmplifier
		} else if sell > buy {
			sell += w.TimeVolumeAmplifier
		}
	}

	return buy, sell
}

func nearestLevel(levels []decimal.Decimal, price decimal.Decimal) (decimal.Decimal, bool) {
	if len(levels) == 0 {
		return decimal.Zero, false
	}
	nearest := levels[0]
	best := price.Sub(nearest).Abs()
	for _, l := range levels[1:] {
		d := price.Sub(l).Abs()
		if d.LessThan(best) {
			best = d
			nearest = l
		}
	}
	return nearest, true
}

func distancePct(price, level decimal.Decimal) float64 {
	if level.IsZero() {
		return 1
	}
	d := price.Sub(level).Abs().Div(level)
	f, _ := d.Float64()
	return f
}

func isVolumeAmplified(candles []exchange.Candle, multiple float64) bool {
	if len(candles) < 2 {
		return false
	}
	last := candles[len(candles)-1].Volume
	sum := decimal.Zero
	for _, c := range candles[:len(candles)-1] {
		sum = sum.Add(c.Volume)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(candles) - 1)))
	if avg.IsZero() {
		return false
	}
	ratio := last.Div(avg)
	f, _ := ratio.Float64()
	return f >= multiple
}

// placeStopAndTarget implements §4.4's stop-loss/take-profit placement:
// prefer the zone the price sits in, fall back to a nearby HVN, else a
// fixed fraction from entry; take-profit targets the nearest favorable
// POC or a fixed 2:1 reward:risk ratio.
func (e *Engine) placeStopAndTarget(side exchange.Side, entry decimal.Decimal, profile indicators.VolumeProfile, zones []indicators.Zone) (stop, takeProfit decimal.Decimal) {
	if side == exchange.SideBuy {
		stop = e.buyStop(entry, profile, zones)
		distance := entry.Sub(stop)
		if favorable := profile.POC; favorable.GreaterThan(entry) {
			takeProfit = favorable
		} else {
			takeProfit = entry.Add(distance.Mul(decimal.NewFromInt(2)))
		}
		return stop, takeProfit
	}

	stop = e.sellStop(entry, profile, zones)
	distance := stop.Sub(entry)
	if favorable := profile.POC; favorable.LessThan(entry) && !favorable.IsZero() {
		takeProfit = favorable
	} else {
		takeProfit = entry.Sub(distance.Mul(decimal.NewFromInt(2)))
	}
	return stop, takeProfit
}

func (e *Engine) buyStop(entry decimal.Decimal, profile indicators.VolumeProfile, zones []indicators.Zone) decimal.Decimal {
	for _, z := range zones {
		if z.Kind == indicators.ZoneDemand && z.Fresh && z.Contains(entry) {
			return z.Low
		}
	}
	if nearest, ok := nearestLevel(profile.HVNLevels, entry); ok && entry.GreaterThan(nearest) {
		if distancePct(entry, nearest) <= e.thresholds.HVNProximityPct*3 {
			return nearest
		}
	}
	return entry.Mul(decimal.NewFromFloat(1 - e.thresholds.StopLossFallbackPct))
}

func (e *Engine) sellStop(entry decimal.Decimal, profile indicators.VolumeProfile, zones []indicators.Zone) decimal.Decimal {
	for _, z := range zones {
		if z.Kind == indicators.ZoneSupply && z.Fresh && z.Contains(entry) {
			return z.High
		}
	}
	if nearest, ok := nearestLevel(profile.HVNLevels, entry); ok && entry.LessThan(nearest) {
		if distancePct(entry, nearest) <= e.thresholds.HVNProximityPct*3 {
			return nearest
		}
	}
	return entry.Mul(decimal.NewFromFloat(1 + e.thresholds.StopLossFallbackPct))
}
