// Package positionmonitor runs the background loop that watches every
// open position for stop-loss, take-profit, trailing-stop, max-age, and
// adverse-condition exits.
package positionmonitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotcore/internal/indicators"
	"spotcore/internal/order"
	"spotcore/internal/risk"
	"spotcore/pkg/exchange"
)

const maxConsecutiveLoopFailures = 5

// Config bounds the monitor's cadence, trailing-stop behavior, and
// adverse-condition thresholds.
type Config struct {
	CheckInterval       time.Duration
	TrailingEnabled     bool
	TrailingPercent     decimal.Decimal
	MaxAge              time.Duration // zero disables the max-age check
	AdverseSpreadBps    decimal.Decimal
	AdverseMinLiquidity decimal.Decimal // aggregated top-10 quote value
}

// DefaultConfig matches the design's default 5-second check interval.
func DefaultConfig() Config {
	return Config{
		CheckInterval:       5 * time.Second,
		TrailingEnabled:     true,
		TrailingPercent:     decimal.NewFromFloat(0.01),
		MaxAge:              4 * time.Hour,
		AdverseSpreadBps:    decimal.NewFromInt(30),
		AdverseMinLiquidity: decimal.NewFromInt(20000),
	}
}

// PriceSource fetches the current price and order book for an instrument.
type PriceSource interface {
	LatestPrice(instrument string) (decimal.Decimal, bool)
	OrderBook(instrument string) (exchange.OrderBook, bool)
}

// Monitor watches every position the Risk Manager holds open and closes
// any that trip an exit condition.
type Monitor struct {
	cfg       Config
	risk      *risk.Manager
	lifecycle *order.Lifecycle
	prices    PriceSource

	peaks *PeakTracker

	consecutiveFailures int
	stopped             bool
}

// New builds a Monitor over rm's open positions, closing through lc and
// reading prices from prices.
func New(cfg Config, rm *risk.Manager, lc *order.Lifecycle, prices PriceSource) *Monitor {
	return &Monitor{cfg: cfg, risk: rm, lifecycle: lc, prices: prices, peaks: NewPeakTracker()}
}

// Run blocks, checking every open position on cfg.CheckInterval until ctx
// is cancelled or the monitor self-stops after too many consecutive
// loop-level failures.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.stopped {
				return
			}
			if err := m.tick(ctx); err != nil {
				m.consecutiveFailures++
				log.Error().Err(err).Int("consecutive_failures", m.consecutiveFailures).Msg("position monitor loop error")
				if m.consecutiveFailures >= maxConsecutiveLoopFailures {
					m.stopped = true
					log.Error().Msg("position monitor stopping itself after repeated loop failures")
					return
				}
				continue
			}
			m.consecutiveFailures = 0
		}
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	for _, pos := range m.risk.OpenPositions() {
		m.checkPosition(ctx, pos)
	}
	return nil
}

// checkPosition evaluates one position in the documented order: stop
// loss, take profit, trailing stop, max age, adverse conditions. A single
// position's error is logged and skipped, never propagated to the loop.
func (m *Monitor) checkPosition(ctx context.Context, pos *risk.Position) {
	price, ok := m.prices.LatestPrice(pos.Instrument)
	if !ok {
		log.Warn().Str("instrument", pos.Instrument).Msg("position monitor: price unavailable this tick")
		return
	}

	side := exchange.Side(pos.Side)

	if hitStopLoss(side, price, pos.StopLoss) {
		m.close(ctx, pos, order.ReasonStopLoss, price)
		return
	}
	if hitTakeProfit(side, price, pos.TakeProfit) {
		m.close(ctx, pos, order.ReasonTakeProfit, price)
		return
	}

	if m.cfg.TrailingEnabled {
		m.updateTrailingStop(pos, side, price)
	}

	if m.cfg.MaxAge > 0 && time.Since(pos.OpenedAt) > m.cfg.MaxAge {
		m.close(ctx, pos, order.ReasonMaxAge, price)
		return
	}

	if m.adverseConditions(pos.Instrument) {
		m.close(ctx, pos, order.ReasonAdverse, price)
	}
}

func hitStopLoss(side exchange.Side, price, stop decimal.Decimal) bool {
	if side == exchange.SideBuy {
		return price.LessThanOrEqual(stop)
	}
	return price.GreaterThanOrEqual(stop)
}

func hitTakeProfit(side exchange.Side, price, target decimal.Decimal) bool {
	if side == exchange.SideBuy {
		return price.GreaterThanOrEqual(target)
	}
	return price.LessThanOrEqual(target)
}

// updateTrailingStop tracks the most favorable price seen and tightens
// (never loosens) the position's stop from it.
func (m *Monitor) updateTrailingStop(pos *risk.Position, side exchange.Side, price decimal.Decimal) {
	peak := m.peaks.Observe(pos.Instrument, side, price, pos.EntryPrice)

	if side == exchange.SideBuy {
		newStop := peak.Mul(decimal.NewFromInt(1).Sub(m.cfg.TrailingPercent))
		if newStop.GreaterThan(pos.StopLoss) {
			pos.StopLoss = newStop
		}
	} else {
		newStop := peak.Mul(decimal.NewFromInt(1).Add(m.cfg.TrailingPercent))
		if newStop.LessThan(pos.StopLoss) {
			pos.StopLoss = newStop
		}
	}
	pos.HighPrice = peak
}

// adverseConditions reports whether the instrument's current spread is
// above the adverse threshold, or aggregated top-ten liquidity has fallen
// below the configured minimum. A missing book, or one with an empty side,
// reports no adverse condition.
func (m *Monitor) adverseConditions(instrument string) bool {
	book, ok := m.prices.OrderBook(instrument)
	if !ok || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return false
	}
	micro := indicators.ComputeMicrostructure(book)
	if micro.RelativeSpreadBps.GreaterThan(m.cfg.AdverseSpreadBps) {
		return true
	}
	metrics := indicators.ComputeOrderBookMetrics(book, 10)
	return metrics.QuoteValue.LessThan(m.cfg.AdverseMinLiquidity)
}

func (m *Monitor) close(ctx context.Context, pos *risk.Position, reason order.CloseReason, price decimal.Decimal) {
	m.peaks.Drop(pos.Instrument)
	if _, err := m.lifecycle.ClosePosition(ctx, pos, reason, price, false); err != nil {
		log.Error().Err(err).Str("instrument", pos.Instrument).Str("reason", string(reason)).Msg("position close failed")
	}
}
