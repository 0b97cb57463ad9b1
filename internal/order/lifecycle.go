package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotcore/internal/events"
	"spotcore/internal/risk"
	"spotcore/pkg/db"
	"spotcore/pkg/exchange"
)

// CloseReason names why a position is being closed.
type CloseReason string

const (
	ReasonStopLoss   CloseReason = "STOP_LOSS"
	ReasonTakeProfit CloseReason = "TAKE_PROFIT"
	ReasonMaxAge     CloseReason = "MAX_AGE"
	ReasonAdverse    CloseReason = "ADVERSE"
	ReasonEmergency  CloseReason = "EMERGENCY"
	ReasonManual     CloseReason = "MANUAL"
)

const emergencyCloseTimeout = 15 * time.Second

// Lifecycle owns every Order record (via its Registry) and performs
// position closure: submitting the opposite-side market order, awaiting
// its fill, computing realized P&L, and reconciling the Risk Manager's
// Position record.
type Lifecycle struct {
	gw       exchange.Gateway
	risk     *risk.Manager
	bus      *events.Bus
	database *db.Database // optional; a nil database skips persistence
	quote    string

	records   *Registry
	pollerCfg PollerConfig
}

// NewLifecycle builds a Lifecycle bound to gw, risk manager rm, and event
// bus bus. database may be nil, in which case orders and closed trades
// are not persisted but every other behavior is unaffected.
func NewLifecycle(gw exchange.Gateway, rm *risk.Manager, bus *events.Bus, database *db.Database, quote string) *Lifecycle {
	return &Lifecycle{
		gw: gw, risk: rm, bus: bus, database: database, quote: quote,
		records:   NewRegistry(),
		pollerCfg: DefaultPollerConfig(),
	}
}

// SetPollerConfig overrides the default status-poll cadence and timeout.
func (l *Lifecycle) SetPollerConfig(cfg PollerConfig) { l.pollerCfg = cfg }

// Records exposes the order registry for observability. Mutation goes
// through Lifecycle methods only.
func (l *Lifecycle) Records() *Registry { return l.records }

// SubmitAndAwait creates an Order record, submits it to the venue, and
// polls until a terminal state (or an accepted partial fill). The record
// follows its status DAG throughout; the returned ChildOrder carries the
// fill outcome.
func (l *Lifecycle) SubmitAndAwait(ctx context.Context, symbol string, side exchange.Side, typ exchange.OrderType, quantity, limitPrice decimal.Decimal) (ChildOrder, error) {
	return l.submitAndAwait(ctx, symbol, side, typ, quantity, limitPrice, l.pollerCfg)
}

func (l *Lifecycle) submitAndAwait(ctx context.Context, symbol string, side exchange.Side, typ exchange.OrderType, quantity, limitPrice decimal.Decimal, cfg PollerConfig) (ChildOrder, error) {
	rec := l.records.Create(symbol, side, typ, quantity, limitPrice)

	ack, err := l.gw.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Quantity:   quantity,
		LimitPrice: limitPrice,
		ClientID:   rec.ID,
	})
	if err != nil {
		_ = l.records.UpdateStatus(rec.ID, exchange.OrderStatusReport{Status: exchange.StatusRejected})
		l.persistOrder(ctx, rec.ID)
		l.bus.Publish(events.EventOrderRejected, events.OrderLifecycleEvent{Instrument: symbol, Reason: err.Error()})
		return ChildOrder{}, err
	}

	if err := l.records.MarkSubmitted(rec.ID, ack.ExchangeOrderID); err != nil {
		log.Error().Err(err).Str("order_id", rec.ID).Msg("order record transition failed")
	}
	l.persistOrder(ctx, rec.ID)
	l.bus.Publish(events.EventOrderSubmitted, events.OrderLifecycleEvent{
		Instrument: symbol, ExchangeOrderID: ack.ExchangeOrderID, Status: string(exchange.StatusSubmitted),
	})

	result, err := AwaitTerminal(ctx, l.gw, symbol, ack.ExchangeOrderID, cfg)
	if err != nil {
		return ChildOrder{}, err
	}

	if updateErr := l.records.UpdateStatus(rec.ID, result.Report); updateErr != nil {
		log.Error().Err(updateErr).Str("order_id", rec.ID).Msg("order record transition failed")
	}
	fees := ComputeFees(result.Report.Fills, l.quote, nil)
	l.records.SetFees(rec.ID, fees)
	l.persistOrder(ctx, rec.ID)

	switch result.Report.Status {
	case exchange.StatusFilled:
		l.bus.Publish(events.EventOrderFilled, events.OrderLifecycleEvent{
			Instrument: symbol, ExchangeOrderID: ack.ExchangeOrderID, Status: string(exchange.StatusFilled),
		})
	case exchange.StatusPartiallyFilled:
		l.bus.Publish(events.EventOrderPartiallyFilled, events.OrderLifecycleEvent{
			Instrument: symbol, ExchangeOrderID: ack.ExchangeOrderID, Status: string(exchange.StatusPartiallyFilled),
		})
	}

	return ChildOrder{
		ExchangeOrderID: ack.ExchangeOrderID,
		FilledQuantity:  result.Report.FilledQuantity,
		FillPrice:       AverageFillPrice(result.Report),
		FeeQuote:        fees,
	}, nil
}

// CloseResult reports the outcome of closing a position.
type CloseResult struct {
	ExitPrice   decimal.Decimal
	FilledQty   decimal.Decimal
	RealizedPnL decimal.Decimal
	Fees        decimal.Decimal
	FullyClosed bool
}

// ClosePosition fetches the current price unless priceHint is non-zero,
// submits a MARKET order on the opposite side for the position's
// quantity, awaits a fill (with a shorter timeout when emergency=true),
// computes realized P&L, and either removes the position from the Risk
// Manager on a full fill or reduces its quantity on a partial fill.
// Failures propagate as closure errors; the position is left untouched.
func (l *Lifecycle) ClosePosition(ctx context.Context, pos *risk.Position, reason CloseReason, priceHint decimal.Decimal, emergency bool) (CloseResult, error) {
	closeSide := exchange.Side(pos.Side).Opposite()

	cfg := l.pollerCfg
	if emergency {
		cfg.Timeout = emergencyCloseTimeout
	}

	child, err := l.submitAndAwait(ctx, pos.Instrument, closeSide, exchange.OrderTypeMarket, pos.Quantity, decimal.Zero, cfg)
	if err != nil {
		kind := exchange.KindOrderExecution
		if emergency {
			kind = exchange.KindEmergencyClosureFailure
		}
		return CloseResult{}, exchange.New(kind, "ClosePosition", err)
	}

	exitPrice := child.FillPrice
	if exitPrice.IsZero() && !priceHint.IsZero() {
		exitPrice = priceHint
	}

	pnl := realizedPnL(pos, child.FilledQuantity, exitPrice, child.FeeQuote)

	fullyClosed := child.FilledQuantity.GreaterThanOrEqual(pos.Quantity)
	if fullyClosed {
		l.risk.RemovePosition(pos.Instrument, pnl)
		l.bus.Publish(events.EventPositionClosed, events.PositionEvent{
			Instrument: pos.Instrument, Side: pos.Side,
			Quantity: child.FilledQuantity.String(), RealizedPL: pnl.String(),
		})
		l.persistTrade(ctx, pos, reason, child.FilledQuantity, exitPrice, pnl, child.FeeQuote)
	} else {
		l.risk.ReduceQuantity(pos.Instrument, child.FilledQuantity)
	}

	log.Info().
		Str("instrument", pos.Instrument).
		Str("reason", string(reason)).
		Str("exit_price", exitPrice.String()).
		Str("realized_pnl", pnl.String()).
		Bool("fully_closed", fullyClosed).
		Msg("position closed")

	return CloseResult{
		ExitPrice:   exitPrice,
		FilledQty:   child.FilledQuantity,
		RealizedPnL: pnl,
		Fees:        child.FeeQuote,
		FullyClosed: fullyClosed,
	}, nil
}

// persistOrder upserts the current state of an order record. Failures
// are logged, not propagated.
func (l *Lifecycle) persistOrder(ctx context.Context, id string) {
	if l.database == nil {
		return
	}
	rec, ok := l.records.Get(id)
	if !ok {
		return
	}
	submittedAt := rec.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = rec.CreatedAt
	}
	err := l.database.UpsertOrder(ctx, db.OrderRecord{
		ID:              rec.ID,
		ExchangeOrderID: rec.ExchangeOrderID,
		Instrument:      rec.Instrument,
		Side:            string(rec.Side),
		Quantity:        rec.RequestedQuantity.String(),
		Status:          string(rec.Status),
		SubmittedAt:     submittedAt,
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", id).Msg("failed to persist order record")
	}
}

// persistTrade writes a closed position to database for the optimization
// agent to later read. Failures are logged, not propagated: a persistence
// error must never unwind an already-completed closure.
func (l *Lifecycle) persistTrade(ctx context.Context, pos *risk.Position, reason CloseReason, filledQty, exitPrice, pnl, fees decimal.Decimal) {
	if l.database == nil {
		return
	}
	now := time.Now()
	record := db.TradeRecord{
		ID:          uuid.NewString(),
		Instrument:  pos.Instrument,
		Side:        pos.Side,
		Quantity:    filledQty.String(),
		EntryPrice:  pos.EntryPrice.String(),
		ExitPrice:   exitPrice.String(),
		RealizedPnL: pnl.String(),
		Fees:        fees.String(),
		CloseReason: string(reason),
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    now,
	}
	if err := l.database.InsertTrade(ctx, record); err != nil {
		log.Error().Err(err).Str("instrument", pos.Instrument).Msg("failed to persist closed trade")
	}
}

// realizedPnL computes (exit - entry) x qty for a long position, mirrored
// for a short, minus entry and exit fees. On a partial close only the
// closed fraction's share of the entry fees is charged; the rest stays
// on the position for the remaining quantity's eventual close.
func realizedPnL(pos *risk.Position, filledQty, exitPrice, exitFees decimal.Decimal) decimal.Decimal {
	var gross decimal.Decimal
	if pos.Side == string(exchange.SideBuy) {
		gross = exitPrice.Sub(pos.EntryPrice).Mul(filledQty)
	} else {
		gross = pos.EntryPrice.Sub(exitPrice).Mul(filledQty)
	}

	entryFees := pos.EntryFees
	if !pos.Quantity.IsZero() && filledQty.LessThan(pos.Quantity) {
		entryFees = entryFees.Mul(filledQty.Div(pos.Quantity))
	}
	return gross.Sub(exitFees).Sub(entryFees)
}

// ValidateReason returns an error if reason is not one of the known
// closure reasons, guarding against a typo propagating into audit logs.
func ValidateReason(reason CloseReason) error {
	switch reason {
	case ReasonStopLoss, ReasonTakeProfit, ReasonMaxAge, ReasonAdverse, ReasonEmergency, ReasonManual:
		return nil
	default:
		return fmt.Errorf("unknown close reason %q", reason)
	}
}
