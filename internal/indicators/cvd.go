package indicators

import (
	"gonum.org/v1/gonum/stat"

	"spotcore/pkg/exchange"
)

// DivergenceKind classifies a CVD/price divergence signal.
type DivergenceKind string

const (
	DivergenceNone    DivergenceKind = "none"
	DivergenceBullish DivergenceKind = "bullish_divergence"
	DivergenceBearish DivergenceKind = "bearish_divergence"
)

// divergenceThreshold bounds how far the normalized CVD trend must diverge
// from the normalized price trend before it counts as a signal rather than
// noise.
const divergenceThreshold = 0.5

// CumulativeVolumeDelta returns the running sum of signed trade volume:
// a buyer-aggressed trade (BuyerIsMaker=false) adds quantity, a
// seller-aggressed trade subtracts it.
func CumulativeVolumeDelta(trades []exchange.Trade) []float64 {
	cvd := make([]float64, len(trades))
	running := 0.0
	for i, t := range trades {
		qty, _ := t.Quantity.Float64()
		if t.BuyerIsMaker {
			running -= qty
		} else {
			running += qty
		}
		cvd[i] = running
	}
	return cvd
}

// DetectDivergence compares the price trend (normalized by its own
// volatility) against the CVD trend (normalized by its own volatility)
// over the most recent lookback trades. A bullish divergence is price
// trending down while CVD trends up beyond divergenceThreshold; bearish is
// the mirror case.
func DetectDivergence(trades []exchange.Trade, lookback int) DivergenceKind {
	if len(trades) < lookback || lookback < 2 {
		return DivergenceNone
	}
	window := trades[len(trades)-lookback:]

	prices := make([]float64, len(window))
	for i, t := range window {
		prices[i], _ = t.Price.Float64()
	}
	cvd := CumulativeVolumeDelta(window)

	priceTrend := normalizedTrend(prices)
	cvdTrend := normalizedTrend(cvd)

	switch {
	case priceTrend < 0 && cvdTrend-priceTrend >= divergenceThreshold:
		return DivergenceBullish
	case priceTrend > 0 && priceTrend-cvdTrend >= divergenceThreshold:
		return DivergenceBearish
	default:
		return DivergenceNone
	}
}

// normalizedTrend is (last - first) divided by the series' own standard
// deviation, so price and CVD — which live on unrelated scales — become
// comparable.
func normalizedTrend(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	_, sd := stat.MeanStdDev(series, nil)
	if sd == 0 {
		return 0
	}
	return (series[len(series)-1] - series[0]) / sd
}
