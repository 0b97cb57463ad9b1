package positionmonitor

import (
	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// PeakTracker records each position's most favorable price seen since
// open, separate from the Position record itself so the monitor remains
// the single writer of trailing-stop state.
type PeakTracker struct {
	peaks map[string]decimal.Decimal // keyed by instrument
}

// NewPeakTracker builds an empty tracker.
func NewPeakTracker() *PeakTracker {
	return &PeakTracker{peaks: make(map[string]decimal.Decimal)}
}

// Observe folds the current price into the favorable-excursion watermark
// for instrument and returns the updated peak. The first observation
// seeds from entry.
func (t *PeakTracker) Observe(instrument string, side exchange.Side, price, entry decimal.Decimal) decimal.Decimal {
	peak, ok := t.peaks[instrument]
	if !ok {
		peak = entry
	}

	if side == exchange.SideBuy {
		if price.GreaterThan(peak) {
			peak = price
		}
	} else {
		if peak.IsZero() || price.LessThan(peak) {
			peak = price
		}
	}

	t.peaks[instrument] = peak
	return peak
}

// Drop forgets instrument's watermark, called once its position closes.
func (t *PeakTracker) Drop(instrument string) {
	delete(t.peaks, instrument)
}
