// Package strategy implements the institutional multi-factor signal
// generator: a stateless function over candles, order book, and trade
// tape that scores BUY/SELL pressure across six weighted factors and
// emits a Signal or none.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// Signal is a trade intent emitted by the strategy engine.
type Signal struct {
	Instrument string
	Side       exchange.Side
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Confidence float64
	BuyScore   float64
	SellScore  float64
	ComputedAt time.Time
}

// Weights assigns a score contribution to each of the six factors.
type Weights struct {
	VolumeProfile       float64
	OrderBookImbalance  float64
	CVDDivergence       float64
	SupplyDemandZone    float64
	HVNProximity        float64
	TimeVolumeAmplifier float64
}

// DefaultWeights weighs every factor equally, matching the "weights all 1"
// baseline used in worked examples.
func DefaultWeights() Weights {
	return Weights{1, 1, 1, 1, 1, 1}
}

// MaxScore returns the maximum attainable score under w, used to derive
// Signal.Confidence.
func (w Weights) MaxScore() float64 {
	return w.VolumeProfile + w.OrderBookImbalance + w.CVDDivergence +
		w.SupplyDemandZone + w.HVNProximity + w.TimeVolumeAmplifier
}

// Thresholds gates signal emission and zone/HVN proximity checks.
type Thresholds struct {
	MinBuyScore             float64
	MinSellScore            float64
	HVNProximityPct         float64 // e.g. 0.005 = 0.5%
	VolumeAmplifierMultiple float64 // "recent volume >> average" trigger
	StopLossFallbackPct     float64 // fixed fraction below/above entry
	VolumeProfileBinCount   int
	CVDLookback             int
}

// DefaultThresholds matches the worked examples in the design: min_buy_score
// of 4 out of a possible 6, 0.5% HVN proximity, 2x volume amplifier.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinBuyScore:             4,
		MinSellScore:            4,
		HVNProximityPct:         0.005,
		VolumeAmplifierMultiple: 2.0,
		StopLossFallbackPct:     0.02,
		VolumeProfileBinCount:   24,
		CVDLookback:             30,
	}
}

// Scores is the last-computed per-factor and aggregate scoring snapshot,
// retained for observability even when no signal was emitted.
type Scores struct {
	Instrument string
	BuyScore   float64
	SellScore  float64
	ComputedAt time.Time
}
