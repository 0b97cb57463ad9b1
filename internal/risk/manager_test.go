package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotcore/internal/strategy"
	"spotcore/pkg/exchange"
)

func testBook(bid, ask string) exchange.OrderBook {
	bidPx := decimal.RequireFromString(bid)
	askPx := decimal.RequireFromString(ask)
	qty := decimal.RequireFromString("100")
	return exchange.OrderBook{
		Instrument: "BTCUSDT",
		Bids:       []exchange.PriceLevel{{Price: bidPx, Quantity: qty}},
		Asks:       []exchange.PriceLevel{{Price: askPx, Quantity: qty}},
	}
}

func TestValidate_HappyPathApproves(t *testing.T) {
	mgr := NewManager(DefaultLimits(), "USDT")
	mgr.SetDailyStart(decimal.NewFromInt(10000))

	sig := &strategy.Signal{
		Instrument: "BTCUSDT",
		Side:       exchange.SideBuy,
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(98),
		TakeProfit: decimal.NewFromInt(104),
	}

	decision := mgr.Validate(sig, testBook("99.99", "100.01"))
	require.True(t, decision.Approved, "reason: %s", decision.Reason)
	assert.True(t, decision.Sizing.Quantity.GreaterThan(decimal.Zero))
	// risk amount = 10000*0.02 = 200; risk/unit = 2 -> 100 units -> 10,000 quote value, clamped to max 5000.
	assert.True(t, decision.Sizing.QuoteValue.LessThanOrEqual(DefaultLimits().MaxOrderSize))
}

func TestValidate_RejectsAtDailyLossLimit(t *testing.T) {
	mgr := NewManager(DefaultLimits(), "USDT")
	mgr.SetDailyStart(decimal.NewFromInt(10000))
	mgr.UpdateDailyPnL(decimal.NewFromInt(9400)) // -6% loss, cap is 5%

	sig := &strategy.Signal{
		Instrument: "BTCUSDT",
		Side:       exchange.SideBuy,
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(98),
	}
	decision := mgr.Validate(sig, testBook("99.99", "100.01"))
	assert.False(t, decision.Approved)
	assert.Equal(t, "daily loss limit reached", decision.Reason)
}

func TestValidate_RejectsWhenOpenPositionCapReached(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxOpenPositions = 1
	mgr := NewManager(limits, "USDT")
	mgr.SetDailyStart(decimal.NewFromInt(10000))
	mgr.AddPosition(&Position{Instrument: "ETHUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(3000)})

	sig := &strategy.Signal{
		Instrument: "BTCUSDT",
		Side:       exchange.SideBuy,
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(98),
	}
	decision := mgr.Validate(sig, testBook("99.99", "100.01"))
	assert.False(t, decision.Approved)
	assert.Equal(t, "open position cap reached", decision.Reason)
}

func TestRemovePosition_DisablesSymbolAfterConsecutiveLosses(t *testing.T) {
	mgr := NewManager(DefaultLimits(), "USDT")
	mgr.SetDailyStart(decimal.NewFromInt(10000))
	mgr.AddPosition(&Position{Instrument: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)})

	mgr.RemovePosition("BTCUSDT", decimal.NewFromInt(-10))
	assert.False(t, mgr.symbolDisabled["BTCUSDT"])

	mgr.AddPosition(&Position{Instrument: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)})
	mgr.RemovePosition("BTCUSDT", decimal.NewFromInt(-5))
	assert.True(t, mgr.symbolDisabled["BTCUSDT"])

	sig := &strategy.Signal{Instrument: "BTCUSDT", Side: exchange.SideBuy, Entry: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(98)}
	decision := mgr.Validate(sig, testBook("99.99", "100.01"))
	assert.False(t, decision.Approved)
	assert.Equal(t, "symbol disabled after consecutive losses", decision.Reason)
}

func TestValidate_RejectsDuringPostLossCooldown(t *testing.T) {
	limits := DefaultLimits()
	limits.CooldownAfterLoss = time.Hour
	mgr := NewManager(limits, "USDT")
	mgr.SetDailyStart(decimal.NewFromInt(10000))

	mgr.AddPosition(&Position{Instrument: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)})
	mgr.RemovePosition("BTCUSDT", decimal.NewFromInt(-10))

	sig := &strategy.Signal{Instrument: "BTCUSDT", Side: exchange.SideBuy, Entry: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(98)}
	decision := mgr.Validate(sig, testBook("99.99", "100.01"))
	assert.False(t, decision.Approved)
	assert.Equal(t, "symbol cooling down after a losing close", decision.Reason)
}

func TestValidate_CooldownClearsAfterWinningClose(t *testing.T) {
	limits := DefaultLimits()
	limits.CooldownAfterLoss = time.Hour
	mgr := NewManager(limits, "USDT")
	mgr.SetDailyStart(decimal.NewFromInt(10000))

	mgr.AddPosition(&Position{Instrument: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)})
	mgr.RemovePosition("BTCUSDT", decimal.NewFromInt(-10))
	mgr.AddPosition(&Position{Instrument: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)})
	mgr.RemovePosition("BTCUSDT", decimal.NewFromInt(25))

	sig := &strategy.Signal{Instrument: "BTCUSDT", Side: exchange.SideBuy, Entry: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(98)}
	decision := mgr.Validate(sig, testBook("99.99", "100.01"))
	require.True(t, decision.Approved, "reason: %s", decision.Reason)
}

func TestValidate_RejectsThinBook(t *testing.T) {
	mgr := NewManager(DefaultLimits(), "USDT")
	mgr.SetDailyStart(decimal.NewFromInt(10000))

	thin := exchange.OrderBook{
		Instrument: "BTCUSDT",
		Bids:       []exchange.PriceLevel{{Price: decimal.NewFromFloat(99.99), Quantity: decimal.NewFromInt(1)}},
		Asks:       []exchange.PriceLevel{{Price: decimal.NewFromFloat(100.01), Quantity: decimal.NewFromInt(1)}},
	}
	sig := &strategy.Signal{Instrument: "BTCUSDT", Side: exchange.SideBuy, Entry: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(98)}
	decision := mgr.Validate(sig, thin)
	assert.False(t, decision.Approved)
	assert.Equal(t, "book liquidity below minimum", decision.Reason)
}

func TestStats_CountsApprovalsAndRejections(t *testing.T) {
	mgr := NewManager(DefaultLimits(), "USDT")
	mgr.SetDailyStart(decimal.NewFromInt(10000))

	sig := &strategy.Signal{Instrument: "BTCUSDT", Side: exchange.SideBuy, Entry: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(98)}
	mgr.Validate(sig, testBook("99.99", "100.01"))

	mgr.UpdateDailyPnL(decimal.NewFromInt(9400))
	mgr.Validate(sig, testBook("99.99", "100.01"))

	stats := mgr.Stats()
	assert.Equal(t, 2, stats.Checks)
	assert.Equal(t, 1, stats.Approvals)
	assert.Equal(t, 1, stats.Rejections)
}

func TestLevel_Thresholds(t *testing.T) {
	mgr := NewManager(DefaultLimits(), "USDT")
	mgr.SetDailyStart(decimal.NewFromInt(10000))

	assert.Equal(t, LevelNormal, mgr.Level())

	mgr.UpdateDailyPnL(decimal.NewFromInt(9920)) // -0.8%, half of 5% cap not yet reached
	assert.Equal(t, LevelNormal, mgr.Level())

	mgr.UpdateDailyPnL(decimal.NewFromInt(9750)) // -2.5%, at 50% of cap
	assert.Equal(t, LevelWarning, mgr.Level())

	mgr.UpdateDailyPnL(decimal.NewFromInt(9600)) // -4%, at 80% of cap
	assert.Equal(t, LevelCaution, mgr.Level())

	mgr.UpdateDailyPnL(decimal.NewFromInt(9400)) // -6%, over cap
	assert.Equal(t, LevelLimit, mgr.Level())
}
