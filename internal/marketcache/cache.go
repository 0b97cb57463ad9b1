// Package marketcache maintains a per-instrument in-memory view of market
// state — latest price, recent trade tape, candle window, and order book —
// fed by a combination of REST snapshots and websocket streams, with a
// REST-only degraded mode when streams cannot establish.
package marketcache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
	"spotcore/pkg/exchange/binance"
)

// Health reports whether an instrument's live streams are up, or the cache
// has fallen back to periodic REST polling.
type Health string

const (
	HealthStreaming Health = "STREAMING"
	HealthDegraded  Health = "DEGRADED_REST_ONLY"
)

const (
	tradeTapeCapacity = 500
	candleWindow      = 300
	restPollInterval  = 5 * time.Second
)

type instrumentState struct {
	mu sync.RWMutex

	health      Health
	latestPrice decimal.Decimal
	book        exchange.OrderBook
	candles     []exchange.Candle
	trades      []exchange.Trade

	candleHandle *binance.StreamHandle
	depthHandle  *binance.StreamHandle
	tradeHandle  *binance.StreamHandle
}

// Cache is the market data cache for a fixed set of instruments.
type Cache struct {
	gw       *binance.Client
	interval string

	mu    sync.RWMutex
	state map[string]*instrumentState
}

// New builds a Cache backed by gw, streaming candles at the given interval
// ("1m", "5m", ...).
func New(gw *binance.Client, interval string) *Cache {
	return &Cache{gw: gw, interval: interval, state: make(map[string]*instrumentState)}
}

// Start begins tracking instrument: an initial REST backfill, followed by
// websocket subscriptions for candles, depth, and trades. If the streams
// fail to establish, the instrument is served from periodic REST polling
// instead (Health reports DEGRADED_REST_ONLY) rather than refusing to start.
func (c *Cache) Start(ctx context.Context, instrument string) error {
	st := &instrumentState{health: HealthStreaming}

	candles, err := c.gw.Candles(ctx, instrument, c.interval, candleWindow)
	if err != nil {
		return err
	}
	book, err := c.gw.OrderBookSnapshot(ctx, instrument, 100)
	if err != nil {
		return err
	}
	trades, err := c.gw.RecentTrades(ctx, instrument, tradeTapeCapacity)
	if err != nil {
		return err
	}

	st.candles = candles
	st.book = book
	st.trades = trades
	if len(candles) > 0 {
		st.latestPrice = candles[len(candles)-1].Close
	}

	c.mu.Lock()
	c.state[instrument] = st
	c.mu.Unlock()

	st.candleHandle = c.gw.SubscribeCandles(ctx, instrument, c.interval, func(ev binance.CandleEvent) {
		st.mu.Lock()
		defer st.mu.Unlock()
		st.latestPrice = ev.Candle.Close
		if !ev.Closed {
			return
		}
		if n := len(st.candles); n > 0 && st.candles[n-1].OpenTime.Equal(ev.Candle.OpenTime) {
			st.candles[n-1] = ev.Candle
			return
		}
		st.candles = append(st.candles, ev.Candle)
		if len(st.candles) > candleWindow {
			st.candles = st.candles[len(st.candles)-candleWindow:]
		}
	})

	st.depthHandle = c.gw.SubscribeDepth(ctx, instrument, func(ev binance.DepthEvent) {
		st.mu.Lock()
		defer st.mu.Unlock()
		if len(ev.Bids) > 0 {
			st.book.Bids = ev.Bids
		}
		if len(ev.Asks) > 0 {
			st.book.Asks = ev.Asks
		}
		st.book.CapturedAt = time.Now()
	})

	st.tradeHandle = c.gw.SubscribeTrades(ctx, instrument, func(ev binance.TradeEvent) {
		st.mu.Lock()
		defer st.mu.Unlock()
		st.trades = append(st.trades, ev)
		if len(st.trades) > tradeTapeCapacity {
			st.trades = st.trades[len(st.trades)-tradeTapeCapacity:]
		}
	})

	go c.degradeWatcher(ctx, instrument, st)
	return nil
}

// degradeWatcher falls back to REST polling once no new trade print has
// arrived for three consecutive poll intervals, signaling the streams are
// dead without tearing the instrument down.
func (c *Cache) degradeWatcher(ctx context.Context, instrument string, st *instrumentState) {
	ticker := time.NewTicker(restPollInterval)
	defer ticker.Stop()

	var lastTradeAt time.Time
	staleRounds := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.mu.RLock()
			var latest time.Time
			if n := len(st.trades); n > 0 {
				latest = st.trades[n-1].Timestamp
			}
			st.mu.RUnlock()

			if latest.Equal(lastTradeAt) {
				staleRounds++
			} else {
				staleRounds = 0
			}
			lastTradeAt = latest

			if staleRounds < 3 {
				st.mu.Lock()
				st.health = HealthStreaming
				st.mu.Unlock()
				continue
			}

			st.mu.Lock()
			st.health = HealthDegraded
			st.mu.Unlock()
			log.Warn().Str("instrument", instrument).Msg("market stream stale, falling back to REST poll")

			price, err := c.gw.LatestPrice(ctx, instrument)
			if err != nil {
				log.Warn().Err(err).Str("instrument", instrument).Msg("REST fallback poll failed")
				continue
			}
			book, err := c.gw.OrderBookSnapshot(ctx, instrument, 100)
			if err != nil {
				log.Warn().Err(err).Str("instrument", instrument).Msg("REST fallback book poll failed")
				continue
			}
			st.mu.Lock()
			st.latestPrice = price
			st.book = book
			st.mu.Unlock()
		}
	}
}

// Stop tears down instrument's subscriptions.
func (c *Cache) Stop(instrument string) {
	c.mu.Lock()
	st, ok := c.state[instrument]
	delete(c.state, instrument)
	c.mu.Unlock()
	if !ok {
		return
	}
	if st.candleHandle != nil {
		st.candleHandle.Close()
	}
	if st.depthHandle != nil {
		st.depthHandle.Close()
	}
	if st.tradeHandle != nil {
		st.tradeHandle.Close()
	}
}

func (c *Cache) get(instrument string) (*instrumentState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.state[instrument]
	return st, ok
}

// LatestPrice returns the cached latest price for instrument.
func (c *Cache) LatestPrice(instrument string) (decimal.Decimal, bool) {
	st, ok := c.get(instrument)
	if !ok {
		return decimal.Decimal{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.latestPrice, true
}

// OrderBook returns the cached order book snapshot for instrument.
func (c *Cache) OrderBook(instrument string) (exchange.OrderBook, bool) {
	st, ok := c.get(instrument)
	if !ok {
		return exchange.OrderBook{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.book, true
}

// Candles returns a copy of the cached candle window for instrument.
func (c *Cache) Candles(instrument string) ([]exchange.Candle, bool) {
	st, ok := c.get(instrument)
	if !ok {
		return nil, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]exchange.Candle, len(st.candles))
	copy(out, st.candles)
	return out, true
}

// RecentTrades returns a copy of the cached trade tape for instrument.
func (c *Cache) RecentTrades(instrument string) ([]exchange.Trade, bool) {
	st, ok := c.get(instrument)
	if !ok {
		return nil, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]exchange.Trade, len(st.trades))
	copy(out, st.trades)
	return out, true
}

// HealthOf reports the current stream health for instrument.
func (c *Cache) HealthOf(instrument string) (Health, bool) {
	st, ok := c.get(instrument)
	if !ok {
		return "", false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.health, true
}
