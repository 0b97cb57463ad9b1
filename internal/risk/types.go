// Package risk implements the gate every signal passes through before
// becoming an order: position sizing, portfolio-level loss limits, and
// per-symbol loss tracking. The Risk Manager is the sole owner of
// Position records and portfolio state.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open, risk-manager-owned holding.
type Position struct {
	Instrument string
	Side       string // BUY or SELL, the direction opened
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	EntryFees  decimal.Decimal // quote-converted fees paid on the opening fill(s)
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	OpenedAt   time.Time
	HighPrice  decimal.Decimal // favorable excursion watermark, for trailing stops
}

// Limits configures the Risk Manager's hard and soft caps.
type Limits struct {
	RiskPerTrade         decimal.Decimal // fraction of balance risked per trade
	MaxDailyLossPct      decimal.Decimal
	MaxDrawdownPct       decimal.Decimal
	MaxSymbolExposurePct decimal.Decimal
	MaxOpenPositions     int
	MinOrderSize         decimal.Decimal
	MaxOrderSize         decimal.Decimal
	MinQuoteReserve      decimal.Decimal
	RewardRiskMultiple   decimal.Decimal
	MaxSlippagePct       decimal.Decimal // fraction, estimated fill vs entry
	MinLiquidity         decimal.Decimal // quote value resting in the book
	CooldownAfterLoss    time.Duration   // re-entry lockout per symbol after a losing close
}

// DefaultLimits matches the worked examples: 2% risk per trade, 5% daily
// loss cap, 10% drawdown cap, 30% single-symbol exposure cap.
func DefaultLimits() Limits {
	return Limits{
		RiskPerTrade:         decimal.NewFromFloat(0.02),
		MaxDailyLossPct:      decimal.NewFromFloat(0.05),
		MaxDrawdownPct:       decimal.NewFromFloat(0.10),
		MaxSymbolExposurePct: decimal.NewFromFloat(0.30),
		MaxOpenPositions:     5,
		MinOrderSize:         decimal.NewFromFloat(10),
		MaxOrderSize:         decimal.NewFromFloat(5000),
		MinQuoteReserve:      decimal.NewFromFloat(50),
		RewardRiskMultiple:   decimal.NewFromFloat(2),
		MaxSlippagePct:       decimal.NewFromFloat(0.01),
		MinLiquidity:         decimal.NewFromFloat(10000),
		CooldownAfterLoss:    5 * time.Minute,
	}
}

// Level is the soft risk level derived from daily-loss consumption:
// order sizes shrink at CAUTION and new orders are rejected at LIMIT.
type Level string

const (
	LevelNormal  Level = "NORMAL"
	LevelWarning Level = "WARNING"
	LevelCaution Level = "CAUTION"
	LevelLimit   Level = "LIMIT"
)

// Sizing is the outcome of a successful position-sizing computation.
type Sizing struct {
	Quantity   decimal.Decimal
	QuoteValue decimal.Decimal
	RiskAmount decimal.Decimal
	RewardRisk decimal.Decimal // reward:risk ratio at the default target multiple
}

// Stats counts risk-gate activity since process start, for observability.
type Stats struct {
	Checks            int
	Approvals         int
	Rejections        int
	LastCheckDuration time.Duration
}

// Decision is the Risk Manager's verdict on a signal.
type Decision struct {
	Approved bool
	Sizing   Sizing
	Reason   string
}
