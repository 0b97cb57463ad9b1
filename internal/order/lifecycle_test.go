package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spotcore/internal/events"
	"spotcore/internal/risk"
	"spotcore/pkg/exchange"
)

// lcGateway is a scripted gateway for lifecycle tests: SubmitOrder
// acknowledges with a fixed exchange ID, OrderStatus returns the
// configured report.
type lcGateway struct {
	submitErr error
	report    exchange.OrderStatusReport
}

func (g *lcGateway) AccountSnapshot(ctx context.Context) (exchange.AccountSnapshot, error) {
	return exchange.AccountSnapshot{}, nil
}
func (g *lcGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if g.submitErr != nil {
		return exchange.OrderAck{}, g.submitErr
	}
	return exchange.OrderAck{ExchangeOrderID: "ex-1", Status: exchange.StatusSubmitted, ClientID: req.ClientID}, nil
}
func (g *lcGateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	return nil
}
func (g *lcGateway) OrderStatus(ctx context.Context, symbol, exchangeOrderID string) (exchange.OrderStatusReport, error) {
	return g.report, nil
}
func (g *lcGateway) OrderBookSnapshot(ctx context.Context, symbol string, depth int) (exchange.OrderBook, error) {
	return exchange.OrderBook{}, nil
}
func (g *lcGateway) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (g *lcGateway) Candles(ctx context.Context, symbol, interval string, lookback int) ([]exchange.Candle, error) {
	return nil, nil
}
func (g *lcGateway) RecentTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	return nil, nil
}
func (g *lcGateway) ServerTime(ctx context.Context) (time.Time, error) { return time.Now(), nil }

func fastLifecycle(gw exchange.Gateway, rm *risk.Manager) *Lifecycle {
	lc := NewLifecycle(gw, rm, events.NewBus(), nil, "USDT")
	lc.SetPollerConfig(PollerConfig{Interval: time.Millisecond, Timeout: time.Second, MaxConsecutiveErrors: 3})
	return lc
}

func TestSubmitAndAwait_RecordsFullLifecycle(t *testing.T) {
	gw := &lcGateway{report: exchange.OrderStatusReport{
		Status:           exchange.StatusFilled,
		FilledQuantity:   decimal.NewFromInt(1),
		AverageFillPrice: decimal.NewFromFloat(100.5),
	}}
	rm := risk.NewManager(risk.DefaultLimits(), "USDT")
	lc := fastLifecycle(gw, rm)

	child, err := lc.SubmitAndAwait(context.Background(), "BTCUSDT", exchange.SideBuy, exchange.OrderTypeMarket, decimal.NewFromInt(1), decimal.Zero)
	if err != nil {
		t.Fatalf("SubmitAndAwait returned error: %v", err)
	}
	if !child.FilledQuantity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected full fill, got %s", child.FilledQuantity)
	}
	if !child.FillPrice.Equal(decimal.NewFromFloat(100.5)) {
		t.Fatalf("expected fill price from the report, got %s", child.FillPrice)
	}

	open := lc.Records().Open()
	if len(open) != 0 {
		t.Fatalf("expected no open order records after a terminal fill, got %d", len(open))
	}
}

func TestSubmitAndAwait_SubmitFailureMarksRejected(t *testing.T) {
	gw := &lcGateway{submitErr: errors.New("insufficient balance")}
	rm := risk.NewManager(risk.DefaultLimits(), "USDT")
	lc := fastLifecycle(gw, rm)

	_, err := lc.SubmitAndAwait(context.Background(), "BTCUSDT", exchange.SideBuy, exchange.OrderTypeMarket, decimal.NewFromInt(1), decimal.Zero)
	if err == nil {
		t.Fatalf("expected submit failure to propagate")
	}
	if open := lc.Records().Open(); len(open) != 0 {
		t.Fatalf("expected the rejected record to leave no open orders, got %d", len(open))
	}
}

func TestClosePosition_FullFillRemovesPosition(t *testing.T) {
	gw := &lcGateway{report: exchange.OrderStatusReport{
		Status:           exchange.StatusFilled,
		FilledQuantity:   decimal.NewFromFloat(0.1),
		AverageFillPrice: decimal.NewFromInt(41000),
		Fills: []exchange.Fill{
			{Price: decimal.NewFromInt(41000), Quantity: decimal.NewFromFloat(0.1), Commission: decimal.NewFromFloat(4.1), CommissionAsset: "USDT"},
		},
	}}
	rm := risk.NewManager(risk.DefaultLimits(), "USDT")
	rm.SetDailyStart(decimal.NewFromInt(10000))
	lc := fastLifecycle(gw, rm)

	pos := &risk.Position{
		Instrument: "BTCUSDT", Side: "BUY",
		Quantity: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromInt(42000),
		EntryFees: decimal.NewFromFloat(4.2),
		OpenedAt:  time.Now(),
	}
	rm.AddPosition(pos)

	result, err := lc.ClosePosition(context.Background(), pos, ReasonStopLoss, decimal.Zero, false)
	if err != nil {
		t.Fatalf("ClosePosition returned error: %v", err)
	}
	if !result.FullyClosed {
		t.Fatalf("expected full closure")
	}
	// (41000 - 42000) x 0.1 = -100 gross, minus 4.1 exit and 4.2 entry fees.
	if !result.RealizedPnL.Equal(decimal.NewFromFloat(-108.3)) {
		t.Fatalf("expected realized P&L -108.3, got %s", result.RealizedPnL)
	}
	if _, stillOpen := rm.Position("BTCUSDT"); stillOpen {
		t.Fatalf("expected position removed after full fill")
	}
}

func TestClosePosition_PartialFillReducesQuantity(t *testing.T) {
	gw := &lcGateway{report: exchange.OrderStatusReport{
		Status:           exchange.StatusPartiallyFilled,
		FilledQuantity:   decimal.NewFromFloat(0.04),
		AverageFillPrice: decimal.NewFromInt(41000),
	}}
	rm := risk.NewManager(risk.DefaultLimits(), "USDT")
	rm.SetDailyStart(decimal.NewFromInt(10000))
	lc := fastLifecycle(gw, rm)

	pos := &risk.Position{
		Instrument: "BTCUSDT", Side: "BUY",
		Quantity: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromInt(42000),
		EntryFees: decimal.NewFromFloat(4.2),
		OpenedAt:  time.Now(),
	}
	rm.AddPosition(pos)

	result, err := lc.ClosePosition(context.Background(), pos, ReasonStopLoss, decimal.Zero, false)
	if err != nil {
		t.Fatalf("ClosePosition returned error: %v", err)
	}
	if result.FullyClosed {
		t.Fatalf("expected partial closure")
	}
	// (41000 - 42000) x 0.04 = -40 gross, minus the closed 40% share of
	// the 4.2 entry fees.
	if !result.RealizedPnL.Equal(decimal.NewFromFloat(-41.68)) {
		t.Fatalf("expected realized P&L -41.68, got %s", result.RealizedPnL)
	}

	remaining, stillOpen := rm.Position("BTCUSDT")
	if !stillOpen {
		t.Fatalf("expected position to remain open after a partial fill")
	}
	if !remaining.Quantity.Equal(decimal.NewFromFloat(0.06)) {
		t.Fatalf("expected quantity reduced to 0.06, got %s", remaining.Quantity)
	}
	if !remaining.EntryFees.Equal(decimal.NewFromFloat(2.52)) {
		t.Fatalf("expected remaining entry fees 2.52, got %s", remaining.EntryFees)
	}
}

func TestClosePosition_SubmitFailureLeavesPositionUntouched(t *testing.T) {
	gw := &lcGateway{submitErr: errors.New("venue down")}
	rm := risk.NewManager(risk.DefaultLimits(), "USDT")
	rm.SetDailyStart(decimal.NewFromInt(10000))
	lc := fastLifecycle(gw, rm)

	pos := &risk.Position{
		Instrument: "BTCUSDT", Side: "BUY",
		Quantity: decimal.NewFromFloat(0.1), EntryPrice: decimal.NewFromInt(42000),
		OpenedAt: time.Now(),
	}
	rm.AddPosition(pos)

	_, err := lc.ClosePosition(context.Background(), pos, ReasonStopLoss, decimal.Zero, false)
	if err == nil {
		t.Fatalf("expected closure failure to propagate")
	}
	var exErr *exchange.Error
	if !errors.As(err, &exErr) || exErr.Kind != exchange.KindOrderExecution {
		t.Fatalf("expected an order-execution error, got %v", err)
	}
	if _, stillOpen := rm.Position("BTCUSDT"); !stillOpen {
		t.Fatalf("expected position untouched after a failed closure")
	}
}

func TestValidateReason(t *testing.T) {
	if err := ValidateReason(ReasonTakeProfit); err != nil {
		t.Fatalf("expected a known reason to validate: %v", err)
	}
	if err := ValidateReason("TYPO"); err == nil {
		t.Fatalf("expected an unknown reason to fail validation")
	}
}
