package indicators

import (
	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// ZoneKind distinguishes supply (resistance) from demand (support) zones.
type ZoneKind string

const (
	ZoneDemand ZoneKind = "demand"
	ZoneSupply ZoneKind = "supply"
)

// Zone is a consolidation range that preceded a favorable impulse move.
type Zone struct {
	Kind     ZoneKind
	Low      decimal.Decimal
	High     decimal.Decimal
	Fresh    bool    // untested since formation
	Strength float64 // decays on each intrusion, starts at 1.0
}

// Contains reports whether price falls within the zone's range.
func (z Zone) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(z.Low) && price.LessThanOrEqual(z.High)
}

const (
	consolidationSpanPct  = 0.01 // price span <= 1% of range low
	minConsolidationBars  = 4    // K
	impulseLookaheadBars  = 6
	impulseMinMovePct     = 0.015 // M
	strengthDecayPerTouch = 0.25
)

// DetectZones scans candles for consolidation ranges of at least
// minConsolidationBars bars with a price span within consolidationSpanPct,
// followed within impulseLookaheadBars by a move of at least
// impulseMinMovePct in the favorable direction: up for demand zones, down
// for supply zones.
func DetectZones(candles []exchange.Candle) []Zone {
	var zones []Zone
	if len(candles) < minConsolidationBars+1 {
		return zones
	}

	for start := 0; start+minConsolidationBars <= len(candles); start++ {
		end := start + minConsolidationBars
		window := candles[start:end]
		low, high := windowRange(window)
		if low.IsZero() {
			continue
		}
		spanPct := high.Sub(low).Div(low)
		spanF, _ := spanPct.Float64()
		if spanF > consolidationSpanPct {
			continue
		}

		lookaheadEnd := end + impulseLookaheadBars
		if lookaheadEnd > len(candles) {
			lookaheadEnd = len(candles)
		}
		if end >= lookaheadEnd {
			continue
		}
		impulse := candles[end:lookaheadEnd]

		if kind, ok := impulseDirection(high, impulse); ok {
			zone := Zone{Kind: kind, Low: low, High: high, Fresh: true, Strength: 1.0}
			applyIntrusions(&zone, candles[lookaheadEnd:])
			zones = append(zones, zone)
		}
	}
	return zones
}

func windowRange(window []exchange.Candle) (low, high decimal.Decimal) {
	low, high = window[0].Low, window[0].High
	for _, c := range window {
		if c.Low.LessThan(low) {
			low = c.Low
		}
		if c.High.GreaterThan(high) {
			high = c.High
		}
	}
	return low, high
}

func impulseDirection(consolidationHigh decimal.Decimal, impulse []exchange.Candle) (ZoneKind, bool) {
	if len(impulse) == 0 {
		return "", false
	}
	last := impulse[len(impulse)-1].Close
	move := last.Sub(consolidationHigh).Div(consolidationHigh)
	moveF, _ := move.Float64()

	if moveF >= impulseMinMovePct {
		return ZoneDemand, true
	}
	if moveF <= -impulseMinMovePct {
		return ZoneSupply, true
	}
	return "", false
}

// applyIntrusions decays a zone's strength and clears its freshness the
// first time price revisits its range after formation.
func applyIntrusions(zone *Zone, subsequent []exchange.Candle) {
	for _, c := range subsequent {
		if zone.Contains(c.Close) {
			zone.Fresh = false
			zone.Strength -= strengthDecayPerTouch
			if zone.Strength < 0 {
				zone.Strength = 0
			}
		}
	}
}
