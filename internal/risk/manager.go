package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotcore/internal/indicators"
	"spotcore/internal/strategy"
	"spotcore/pkg/exchange"
)

const consecutiveLossDisableThreshold = 2

// Manager is the risk gate. It owns every open Position and the
// process-local portfolio counters; on restart these are re-seeded from
// an exchange account snapshot rather than persisted.
type Manager struct {
	mu sync.Mutex

	limits Limits
	quote  string // quote asset balances are tracked in, e.g. "USDT"

	balance           decimal.Decimal
	dailyStartBalance decimal.Decimal
	runningDailyPnL   decimal.Decimal
	peakBalance       decimal.Decimal

	positions map[string]*Position // keyed by instrument

	symbolLosses   map[string]int
	symbolDisabled map[string]bool
	symbolLastLoss map[string]time.Time

	stats Stats
}

// NewManager builds a Risk Manager against the given limits and quote asset.
func NewManager(limits Limits, quote string) *Manager {
	return &Manager{
		limits:         limits,
		quote:          quote,
		positions:      make(map[string]*Position),
		symbolLosses:   make(map[string]int),
		symbolDisabled: make(map[string]bool),
		symbolLastLoss: make(map[string]time.Time),
	}
}

// SetDailyStart seeds the daily-start and peak balances, called once at
// orchestrator startup from the exchange account snapshot.
func (m *Manager) SetDailyStart(balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = balance
	m.dailyStartBalance = balance
	m.peakBalance = balance
}

// UpdateDailyPnL recomputes running daily P&L and the peak-balance
// watermark from a fresh balance read.
func (m *Manager) UpdateDailyPnL(currentBalance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = currentBalance
	m.runningDailyPnL = currentBalance.Sub(m.dailyStartBalance)
	if currentBalance.GreaterThan(m.peakBalance) {
		m.peakBalance = currentBalance
	}
}

// Level reports the current soft risk level derived from daily-loss
// consumption against the hard cap.
func (m *Manager) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level()
}

func (m *Manager) level() Level {
	if m.dailyStartBalance.IsZero() {
		return LevelNormal
	}
	lossPct := m.runningDailyPnL.Neg().Div(m.dailyStartBalance)
	cap := m.limits.MaxDailyLossPct

	switch {
	case lossPct.GreaterThanOrEqual(cap):
		return LevelLimit
	case lossPct.GreaterThanOrEqual(cap.Mul(decimal.NewFromFloat(0.8))):
		return LevelCaution
	case lossPct.GreaterThanOrEqual(cap.Mul(decimal.NewFromFloat(0.5))):
		return LevelWarning
	default:
		return LevelNormal
	}
}

// Validate is the seven-step gate described by the design: microstructure,
// position-count cap, daily-loss cap, drawdown cap, symbol-exposure cap,
// feasible sizing, and a final slippage re-check at the computed size.
func (m *Manager) Validate(sig *strategy.Signal, book exchange.OrderBook) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := time.Now()
	decide := func(d Decision) Decision {
		m.stats.Checks++
		if d.Approved {
			m.stats.Approvals++
		} else {
			m.stats.Rejections++
		}
		m.stats.LastCheckDuration = time.Since(started)
		return d
	}

	if m.symbolDisabled[sig.Instrument] {
		return decide(Decision{Reason: "symbol disabled after consecutive losses"})
	}
	if lastLoss, ok := m.symbolLastLoss[sig.Instrument]; ok && m.limits.CooldownAfterLoss > 0 {
		if time.Since(lastLoss) < m.limits.CooldownAfterLoss {
			return decide(Decision{Reason: "symbol cooling down after a losing close"})
		}
	}

	// 1. Microstructure re-validation at an initial sizing estimate.
	micro := indicators.ComputeMicrostructure(book)
	if micro.SpreadClass == indicators.SpreadWide {
		return decide(Decision{Reason: "spread too wide at signal time"})
	}
	if !m.limits.MinLiquidity.IsZero() {
		metrics := indicators.ComputeOrderBookMetrics(book, 20)
		if metrics.QuoteValue.LessThan(m.limits.MinLiquidity) {
			return decide(Decision{Reason: "book liquidity below minimum"})
		}
	}

	// 2. Open-position count below cap.
	if len(m.positions) >= m.limits.MaxOpenPositions {
		return decide(Decision{Reason: "open position cap reached"})
	}

	// 3. Running daily loss percent above the negative of the cap.
	level := m.level()
	if level == LevelLimit {
		return decide(Decision{Reason: "daily loss limit reached"})
	}

	// 4. Peak-to-current drawdown below the drawdown cap.
	if !m.peakBalance.IsZero() {
		drawdown := m.peakBalance.Sub(m.balance).Div(m.peakBalance)
		ddF, _ := drawdown.Float64()
		capF, _ := m.limits.MaxDrawdownPct.Float64()
		if ddF >= capF {
			return decide(Decision{Reason: "drawdown cap reached"})
		}
	}

	// 5. Per-symbol exposure fraction below the symbol-exposure cap.
	exposure := m.symbolExposureValue(sig.Instrument)
	maxExposure := m.balance.Mul(m.limits.MaxSymbolExposurePct)
	if exposure.GreaterThanOrEqual(maxExposure) {
		return decide(Decision{Reason: "symbol exposure cap reached"})
	}

	// 6. Position sizing.
	sizing, ok := m.computeSizing(sig, level)
	if !ok {
		return decide(Decision{Reason: "position size infeasible within risk budget"})
	}

	// 7. Final slippage re-validation at the computed size.
	estimatedFill := indicators.EstimateSlippage(book, exchange.Side(sig.Side), sizing.QuoteValue)
	if m.slippageExceedsReference(sig.Entry, estimatedFill) {
		return decide(Decision{Reason: "slippage at computed size exceeds tolerance"})
	}

	return decide(Decision{Approved: true, Sizing: sizing})
}

func (m *Manager) slippageExceedsReference(reference, estimated decimal.Decimal) bool {
	if reference.IsZero() || estimated.IsZero() {
		return false
	}
	deviation := estimated.Sub(reference).Abs().Div(reference)
	return deviation.GreaterThan(m.limits.MaxSlippagePct)
}

// Stats returns a snapshot of risk-gate activity counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// computeSizing implements §4.5's sizing formula: risk amount = balance ×
// risk_per_trade; risk per unit = |entry - stop|; quantity = risk /
// risk_per_unit, clamped to [min_size, max_size] in quote value. At
// CAUTION the computed quote value is shrunk by half before clamping.
func (m *Manager) computeSizing(sig *strategy.Signal, level Level) (Sizing, bool) {
	riskAmount := m.balance.Mul(m.limits.RiskPerTrade)
	riskPerUnit := sig.Entry.Sub(sig.StopLoss).Abs()
	if riskPerUnit.IsZero() {
		return Sizing{}, false
	}

	quantity := riskAmount.Div(riskPerUnit)
	quoteValue := quantity.Mul(sig.Entry)

	if level == LevelCaution {
		quoteValue = quoteValue.Div(decimal.NewFromInt(2))
		quantity = quoteValue.Div(sig.Entry)
	}

	if quoteValue.GreaterThan(m.limits.MaxOrderSize) {
		quoteValue = m.limits.MaxOrderSize
		quantity = quoteValue.Div(sig.Entry)
	}
	if quoteValue.LessThan(m.limits.MinOrderSize) {
		return Sizing{}, false
	}

	available := m.balance.Sub(m.limits.MinQuoteReserve)
	if quoteValue.GreaterThan(available) {
		return Sizing{}, false
	}

	return Sizing{
		Quantity:   quantity,
		QuoteValue: quoteValue,
		RiskAmount: riskAmount,
		RewardRisk: m.limits.RewardRiskMultiple,
	}, true
}

func (m *Manager) symbolExposureValue(instrument string) decimal.Decimal {
	if pos, ok := m.positions[instrument]; ok {
		return pos.Quantity.Mul(pos.EntryPrice)
	}
	return decimal.Zero
}

// AddPosition registers a newly opened position. The Risk Manager is the
// sole owner of Position records.
func (m *Manager) AddPosition(pos *Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Instrument] = pos
}

// RemovePosition removes a closed position and records its realized P&L
// against consecutive-loss tracking, disabling the symbol after
// consecutiveLossDisableThreshold losses in a row.
func (m *Manager) RemovePosition(instrument string, realizedPnL decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, instrument)

	if realizedPnL.IsNegative() {
		m.symbolLosses[instrument]++
		m.symbolLastLoss[instrument] = time.Now()
		if m.symbolLosses[instrument] >= consecutiveLossDisableThreshold {
			m.symbolDisabled[instrument] = true
			log.Warn().Str("instrument", instrument).Int("losses", m.symbolLosses[instrument]).Msg("symbol disabled after consecutive losses")
		}
	} else {
		m.symbolLosses[instrument] = 0
		m.symbolDisabled[instrument] = false
		delete(m.symbolLastLoss, instrument)
	}
}

// ReduceQuantity shrinks an open position's quantity after a partial fill
// on closure. Entry fees scale down with it, so the unclosed remainder
// carries only its share of the opening cost.
func (m *Manager) ReduceQuantity(instrument string, filled decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[instrument]
	if !ok {
		return
	}
	if !pos.Quantity.IsZero() {
		closedFraction := filled.Div(pos.Quantity)
		pos.EntryFees = pos.EntryFees.Mul(decimal.NewFromInt(1).Sub(closedFraction))
	}
	pos.Quantity = pos.Quantity.Sub(filled)
}

// Position returns the open position for instrument, if any.
func (m *Manager) Position(instrument string) (*Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[instrument]
	return pos, ok
}

// OpenPositions returns a snapshot of all currently open positions.
func (m *Manager) OpenPositions() []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// DailyPnLPercent returns running daily P&L as a fraction of the
// day's starting balance.
func (m *Manager) DailyPnLPercent() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dailyStartBalance.IsZero() {
		return decimal.Zero
	}
	return m.runningDailyPnL.Div(m.dailyStartBalance)
}
