// Command spotcore runs the spot trading control plane: it loads
// configuration, wires every component together, and blocks until an
// interrupt or terminate signal initiates graceful shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotcore/internal/audit"
	"spotcore/internal/dedup"
	"spotcore/internal/emergency"
	"spotcore/internal/events"
	"spotcore/internal/marketcache"
	"spotcore/internal/orchestrator"
	"spotcore/internal/order"
	"spotcore/internal/positionmonitor"
	"spotcore/internal/risk"
	"spotcore/internal/strategy"
	"spotcore/pkg/config"
	"spotcore/pkg/db"
	"spotcore/pkg/exchange/binance"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	if cfg.DryRun {
		log.Warn().Msg("running in DRY_RUN mode: orders are not sent to the exchange gateway's signed endpoints without credentials")
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Warn().Err(err).Msg("database unavailable; trade history will not persist")
		database = nil
	}
	defer database.Close()

	auditLog, err := audit.Open(cfg.AuditPath)
	if err != nil {
		log.Fatal().Err(err).Msg("audit log init failed")
	}
	defer auditLog.Close()

	bus := events.NewBus()

	gw := binance.New(binance.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})

	cache := marketcache.New(gw, cfg.CandleInterval)

	strategyEngine := strategy.NewEngine(strategy.DefaultWeights(), strategy.DefaultThresholds())

	deduplicator := dedup.New(0, 0)

	limits := risk.DefaultLimits()
	limits.RiskPerTrade = decimal.NewFromFloat(cfg.RiskPerTradePct / 100)
	limits.MaxDailyLossPct = decimal.NewFromFloat(cfg.MaxDailyLossPct / 100)
	limits.MaxDrawdownPct = decimal.NewFromFloat(cfg.MaxDrawdownPct / 100)
	limits.MaxSymbolExposurePct = decimal.NewFromFloat(cfg.MaxSymbolExposurePct / 100)
	limits.MaxSlippagePct = decimal.NewFromFloat(cfg.MaxSlippagePct / 100)
	limits.MaxOpenPositions = cfg.MaxPositions
	limits.MinLiquidity = decimal.NewFromFloat(cfg.MinLiquidity)
	limits.MinQuoteReserve = decimal.NewFromFloat(cfg.MinQuoteReserve)
	limits.CooldownAfterLoss = cfg.LossCooldown
	limits.MinOrderSize = decimal.NewFromFloat(cfg.MinOrderSize)
	limits.MaxOrderSize = decimal.NewFromFloat(cfg.MaxOrderSize)
	riskMgr := risk.NewManager(limits, cfg.QuoteAsset)

	lifecycle := order.NewLifecycle(gw, riskMgr, bus, database, cfg.QuoteAsset)
	pollerCfg := order.DefaultPollerConfig()
	pollerCfg.Interval = cfg.OrderStatusPollInterval
	lifecycle.SetPollerConfig(pollerCfg)

	monitorCfg := positionmonitor.DefaultConfig()
	monitorCfg.CheckInterval = cfg.PositionPollInterval
	monitor := positionmonitor.New(monitorCfg, riskMgr, lifecycle, cache)

	emergencyCfg := emergency.Config{
		MaxDailyLossPct:          decimal.NewFromFloat(cfg.MaxDailyLossPct / 100),
		MaxSinglePositionLossPct: decimal.NewFromFloat(cfg.MaxPositionLossPct / 100),
		KillSwitchPath:           cfg.KillSwitchPath,
	}
	emergencyCtrl := emergency.New(emergencyCfg, riskMgr, lifecycle, cache, bus)

	router := order.DefaultRouterConfig()
	router.LargeOrderThreshold = decimal.NewFromFloat(cfg.TWAPThreshold)
	router.MaxSplits = cfg.TWAPChunks

	orch := orchestrator.New(orchestrator.Config{
		Gateway:     gw,
		Cache:       cache,
		Strategy:    strategyEngine,
		Dedup:       deduplicator,
		Risk:        riskMgr,
		Router:      router,
		Lifecycle:   lifecycle,
		Monitor:     monitor,
		Emergency:   emergencyCtrl,
		Bus:         bus,
		Database:    database,
		Instruments: cfg.Symbols,
		Quote:       cfg.QuoteAsset,
		Schedule:    cfg.CycleSchedule,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go auditPositionEvents(ctx, bus, auditLog)

	if err := orch.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("orchestrator failed to start")
	}
	log.Info().Strs("symbols", cfg.Symbols).Bool("dry_run", cfg.DryRun).Msg("spotcore started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received")
	cancel()
	orch.Stop()
}

// auditPositionEvents persists every position open/close to the audit
// trail independent of the structured application log.
func auditPositionEvents(ctx context.Context, bus *events.Bus, auditLog *audit.Logger) {
	opened, unsubOpened := bus.Subscribe(events.EventPositionOpened, 64)
	closed, unsubClosed := bus.Subscribe(events.EventPositionClosed, 64)
	defer unsubOpened()
	defer unsubClosed()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-opened:
			if ev, ok := msg.(events.PositionEvent); ok {
				_ = auditLog.Record("position_opened", ev.Instrument, map[string]any{"side": ev.Side, "quantity": ev.Quantity})
			}
		case msg := <-closed:
			if ev, ok := msg.(events.PositionEvent); ok {
				_ = auditLog.Record("position_closed", ev.Instrument, map[string]any{"side": ev.Side, "quantity": ev.Quantity, "realized_pl": ev.RealizedPL})
			}
		}
	}
}
