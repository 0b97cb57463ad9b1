// Package orchestrator owns the top-level trading loop: it schedules
// per-instrument analysis cycles, sequences startup and shutdown of every
// other component, and is the only component that starts or stops them.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotcore/internal/dedup"
	"spotcore/internal/emergency"
	"spotcore/internal/events"
	"spotcore/internal/indicators"
	"spotcore/internal/marketcache"
	"spotcore/internal/order"
	"spotcore/internal/positionmonitor"
	"spotcore/internal/risk"
	"spotcore/internal/strategy"
	"spotcore/pkg/db"
	"spotcore/pkg/exchange"
)

// Orchestrator sequences every long-lived component's lifecycle and runs
// the scheduled per-instrument analysis cycle.
type Orchestrator struct {
	gw        exchange.Gateway
	cache     *marketcache.Cache
	strategy  *strategy.Engine
	dedup     *dedup.Deduplicator
	risk      *risk.Manager
	router    order.RouterConfig
	lifecycle *order.Lifecycle
	monitor   *positionmonitor.Monitor
	emergency *emergency.Controller
	bus       *events.Bus
	database  *db.Database

	instruments []string
	quote       string
	schedule    string

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// Config bundles every collaborator the orchestrator wires together.
type Config struct {
	Gateway     exchange.Gateway
	Cache       *marketcache.Cache
	Strategy    *strategy.Engine
	Dedup       *dedup.Deduplicator
	Risk        *risk.Manager
	Router      order.RouterConfig
	Lifecycle   *order.Lifecycle
	Monitor     *positionmonitor.Monitor
	Emergency   *emergency.Controller
	Bus         *events.Bus
	Database    *db.Database // optional; absence is tolerated
	Instruments []string
	Quote       string
	Schedule    string // cron spec, e.g. "@every 1m"
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Orchestrator{
		gw:          cfg.Gateway,
		cache:       cfg.Cache,
		strategy:    cfg.Strategy,
		dedup:       cfg.Dedup,
		risk:        cfg.Risk,
		router:      cfg.Router,
		lifecycle:   cfg.Lifecycle,
		monitor:     cfg.Monitor,
		emergency:   cfg.Emergency,
		bus:         cfg.Bus,
		database:    cfg.Database,
		instruments: cfg.Instruments,
		quote:       cfg.Quote,
		schedule:    schedule,
		cron:        cron.New(),
	}
}

// Start snapshots the account balance, seeds the Risk Manager's daily
// start, starts the Position Monitor, and begins the scheduled analysis
// cycle. Database absence and per-instrument market data failures are
// logged but tolerated; an account snapshot failure aborts startup
// since the Risk Manager cannot be seeded without it.
func (o *Orchestrator) Start(ctx context.Context) error {
	snapshot, err := o.gw.AccountSnapshot(ctx)
	if err != nil {
		return err
	}
	balance := snapshot.Balances[o.quote]
	o.risk.SetDailyStart(balance)

	if o.database == nil {
		log.Warn().Msg("no database configured; trade history will not persist")
	}

	// A single instrument failing its initial backfill must not take the
	// service down; the analysis cycle simply skips instruments the cache
	// has no data for, and the next restart picks them back up.
	for _, instrument := range o.instruments {
		if err := o.cache.Start(ctx, instrument); err != nil {
			log.Error().Err(err).Str("instrument", instrument).Msg("market data startup failed; instrument disabled this run")
		}
	}

	go o.monitor.Run(ctx)

	if _, err := o.cron.AddFunc(o.schedule, func() { o.RunCycle(ctx) }); err != nil {
		return err
	}
	o.cron.Start()

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	log.Info().Strs("instruments", o.instruments).Msg("orchestrator started")
	return nil
}

// Stop tears the system down in the documented order: Position Monitor is
// implicitly bound to ctx cancellation by the caller; here we stop the
// scheduler, then market data streams, then leave the gateway and
// database to the caller (main.go) since they outlive a single
// orchestrator instance in tests.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.cron.Stop()
	for _, instrument := range o.instruments {
		o.cache.Stop(instrument)
	}
	o.running = false
	log.Info().Msg("orchestrator stopped")
}

// RunCycle runs one full analysis pass: refresh the portfolio balance,
// check emergency triggers, then for each instrument fetch candles/book,
// ask the strategy for a signal, and on a signal run it through dedup,
// risk, and routing.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	o.refreshBalance(ctx)

	o.emergency.CheckTriggers(ctx)
	if o.emergency.IsTradingPaused() {
		log.Warn().Msg("trading paused; skipping cycle")
		return
	}

	for _, instrument := range o.instruments {
		o.evaluateInstrument(ctx, instrument)
	}
}

// refreshBalance re-reads the quote balance so daily P&L and the peak
// watermark track exchange truth, not just locally observed fills. A
// failed read leaves the previous counters in place for this cycle.
func (o *Orchestrator) refreshBalance(ctx context.Context) {
	snapshot, err := o.gw.AccountSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("balance refresh failed; using last known portfolio state")
		return
	}
	o.risk.UpdateDailyPnL(snapshot.Balances[o.quote])
}

func (o *Orchestrator) evaluateInstrument(ctx context.Context, instrument string) {
	candles, ok := o.cache.Candles(instrument)
	if !ok || len(candles) == 0 {
		return
	}
	book, ok := o.cache.OrderBook(instrument)
	if !ok {
		return
	}
	trades, _ := o.cache.RecentTrades(instrument)

	sig, emitted := o.strategy.Evaluate(instrument, candles, book, trades, time.Now())
	if !emitted {
		return
	}
	o.bus.Publish(events.EventSignalEmitted, events.SignalEmitted{Instrument: instrument, Side: string(sig.Side), Score: sig.Confidence})

	if o.dedup.IsDuplicate(sig) {
		o.bus.Publish(events.EventSignalSuppressed, events.SignalEmitted{Instrument: instrument, Side: string(sig.Side)})
		return
	}

	decision := o.risk.Validate(sig, book)
	if !decision.Approved {
		o.bus.Publish(events.EventRiskCheckRejected, events.RiskEvent{Instrument: instrument, Reason: decision.Reason})
		return
	}
	o.bus.Publish(events.EventRiskCheckPassed, events.RiskEvent{Instrument: instrument})

	liquidity := indicators.ComputeOrderBookMetrics(book, 20).Liquidity
	spreadClass := indicators.ComputeMicrostructure(book).SpreadClass
	route := order.Classify(o.router, decision.Sizing.QuoteValue, liquidity, spreadClass)
	if route.Route == order.RouteReject {
		o.bus.Publish(events.EventOrderRejected, events.OrderLifecycleEvent{Instrument: instrument, Reason: route.Reason})
		return
	}

	o.execute(ctx, instrument, sig, decision, route, book)
}

func (o *Orchestrator) execute(ctx context.Context, instrument string, sig *strategy.Signal, decision risk.Decision, route order.RouteDecision, book exchange.OrderBook) {
	var filled decimal.Decimal
	var avgPrice decimal.Decimal
	var entryFees decimal.Decimal

	switch route.Route {
	case order.RouteTWAP:
		deps := order.Dependencies{
			CurrentBook: func(ctx context.Context) (exchange.OrderBook, error) {
				return o.gw.OrderBookSnapshot(ctx, instrument, 50)
			},
			SubmitMarketChunk: func(ctx context.Context, symbol string, side exchange.Side, qty decimal.Decimal) (order.ChildOrder, error) {
				return o.lifecycle.SubmitAndAwait(ctx, symbol, side, exchange.OrderTypeMarket, qty, decimal.Zero)
			},
		}
		result := order.Execute(ctx, order.DefaultTWAPConfig(), deps, instrument, sig.Side, decision.Sizing.Quantity, route.Splits, sig.Entry)
		filled, avgPrice, entryFees = result.TotalFilled, result.AverageFillPrice, result.TotalFeesQuote
	case order.RouteLimit:
		child, err := o.lifecycle.SubmitAndAwait(ctx, instrument, sig.Side, exchange.OrderTypeLimit, decision.Sizing.Quantity, sig.Entry)
		if err != nil {
			log.Error().Err(err).Str("instrument", instrument).Msg("order execution failed")
			return
		}
		filled, avgPrice, entryFees = child.FilledQuantity, child.FillPrice, child.FeeQuote
	default:
		child, err := o.lifecycle.SubmitAndAwait(ctx, instrument, sig.Side, exchange.OrderTypeMarket, decision.Sizing.Quantity, decimal.Zero)
		if err != nil {
			log.Error().Err(err).Str("instrument", instrument).Msg("order execution failed")
			return
		}
		filled, avgPrice, entryFees = child.FilledQuantity, child.FillPrice, child.FeeQuote
	}

	if filled.IsZero() {
		return
	}

	o.dedup.RegisterExecution(sig)
	o.risk.AddPosition(&risk.Position{
		Instrument: instrument,
		Side:       string(sig.Side),
		Quantity:   filled,
		EntryPrice: avgPrice,
		EntryFees:  entryFees,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		OpenedAt:   time.Now(),
		HighPrice:  avgPrice,
	})
	o.bus.Publish(events.EventPositionOpened, events.PositionEvent{Instrument: instrument, Side: string(sig.Side), Quantity: filled.String()})
}
