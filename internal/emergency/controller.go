// Package emergency implements the controller that halts trading and
// mass-liquidates open positions when a daily-loss, per-position-loss, or
// kill-switch trigger fires.
package emergency

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotcore/internal/events"
	"spotcore/internal/order"
	"spotcore/internal/risk"
	"spotcore/pkg/exchange"
)

// PriceSource fetches the current price for a position-loss check.
type PriceSource interface {
	LatestPrice(instrument string) (decimal.Decimal, bool)
}

// Config bounds the controller's trigger thresholds.
type Config struct {
	MaxDailyLossPct          decimal.Decimal
	MaxSinglePositionLossPct decimal.Decimal
	KillSwitchPath           string
}

// Controller owns the trading-paused/emergency-mode flags and the
// concurrent mass-liquidation path.
type Controller struct {
	cfg       Config
	risk      *risk.Manager
	lifecycle *order.Lifecycle
	prices    PriceSource
	bus       *events.Bus

	mu            sync.Mutex
	tradingPaused bool
	emergencyMode bool
	closing       bool // guards against a second concurrent closure pass
}

// New builds a Controller.
func New(cfg Config, rm *risk.Manager, lc *order.Lifecycle, prices PriceSource, bus *events.Bus) *Controller {
	return &Controller{cfg: cfg, risk: rm, lifecycle: lc, prices: prices, bus: bus}
}

// IsTradingPaused reports whether the orchestrator should skip this cycle.
func (c *Controller) IsTradingPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tradingPaused
}

// CheckTriggers runs at the start of every orchestrator cycle: it
// evaluates the daily-loss, per-position-loss, and kill-switch-file
// triggers, firing the emergency closure path if any has tripped.
func (c *Controller) CheckTriggers(ctx context.Context) {
	if c.killSwitchActive() {
		c.Trigger(ctx, "kill_switch_file")
		return
	}

	dailyPct := c.risk.DailyPnLPercent()
	if dailyPct.Neg().GreaterThanOrEqual(c.cfg.MaxDailyLossPct) {
		c.Trigger(ctx, "daily_loss")
		return
	}

	for _, pos := range c.risk.OpenPositions() {
		price, ok := c.prices.LatestPrice(pos.Instrument)
		if !ok {
			continue
		}
		unrealizedPct := unrealizedPnLPercent(pos, price)
		if unrealizedPct.Neg().GreaterThanOrEqual(c.cfg.MaxSinglePositionLossPct) {
			c.Trigger(ctx, "per_position_loss")
			return
		}
	}
}

func unrealizedPnLPercent(pos *risk.Position, price decimal.Decimal) decimal.Decimal {
	if pos.EntryPrice.IsZero() {
		return decimal.Zero
	}
	var pct decimal.Decimal
	if pos.Side == string(exchange.SideBuy) {
		pct = price.Sub(pos.EntryPrice).Div(pos.EntryPrice)
	} else {
		pct = pos.EntryPrice.Sub(price).Div(pos.EntryPrice)
	}
	return pct
}

func (c *Controller) killSwitchActive() bool {
	if c.cfg.KillSwitchPath == "" {
		return false
	}
	_, err := os.Stat(c.cfg.KillSwitchPath)
	return err == nil
}

// Trigger sets emergency_mode and trading_paused, then concurrently
// closes every open position through the Lifecycle closure path. A
// second concurrent invocation is a no-op: emergency closure never
// happens twice at once.
func (c *Controller) Trigger(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.emergencyMode = true
	c.tradingPaused = true
	c.mu.Unlock()

	c.bus.Publish(events.EventEmergencyTriggered, events.EmergencyEvent{Trigger: reason})
	log.Error().Str("trigger", reason).Msg("EMERGENCY: liquidating all open positions")

	positions := c.risk.OpenPositions()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, failed int
	totalPnL := decimal.Zero

	for _, pos := range positions {
		wg.Add(1)
		go func(p *risk.Position) {
			defer wg.Done()
			closeCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
			defer cancel()
			result, err := c.lifecycle.ClosePosition(closeCtx, p, order.ReasonEmergency, decimal.Zero, true)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Error().Err(err).Str("instrument", p.Instrument).Msg("emergency closure failed")
				return
			}
			succeeded++
			totalPnL = totalPnL.Add(result.RealizedPnL)
		}(pos)
	}
	wg.Wait()

	log.Error().
		Int("closed", succeeded).
		Int("failed", failed).
		Str("realized_pnl", totalPnL.String()).
		Msg("emergency liquidation complete")

	c.mu.Lock()
	c.closing = false
	c.mu.Unlock()
}

// ResumeTrading clears trading_paused and emergency_mode. It is the only
// path back to normal operation after a trigger.
func (c *Controller) ResumeTrading() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tradingPaused = false
	c.emergencyMode = false
	c.bus.Publish(events.EventEmergencyResolved, events.EmergencyEvent{Trigger: "manual_resume"})
	log.Info().Msg("trading resumed after emergency")
}

// EmergencyMode reports whether the controller currently considers the
// system to be in an emergency state.
func (c *Controller) EmergencyMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emergencyMode
}
