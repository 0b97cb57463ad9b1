package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// StreamKind selects which combined-stream channel to subscribe to.
type StreamKind string

const (
	StreamKindCandle StreamKind = "kline"
	StreamKindDepth  StreamKind = "depth"
	StreamKindTrade  StreamKind = "trade"
)

// CandleEvent is a delivered kline update. Closed reports whether this bar
// is final (Binance streams the in-progress bar on every tick).
type CandleEvent struct {
	Candle exchange.Candle
	Closed bool
}

// DepthEvent is an incremental order-book update.
type DepthEvent struct {
	Bids []exchange.PriceLevel
	Asks []exchange.PriceLevel
}

// TradeEvent is a single streamed tape print.
type TradeEvent = exchange.Trade

// StreamHandle lets a caller unsubscribe from a market data stream.
type StreamHandle struct {
	cancel context.CancelFunc
}

// Close tears down the stream's reconnect loop.
func (h *StreamHandle) Close() { h.cancel() }

const wsBase = "wss://stream.binance.com:9443/stream"

func streamName(symbol string, kind StreamKind, interval string) string {
	lower := strings.ToLower(symbol)
	switch kind {
	case StreamKindCandle:
		return fmt.Sprintf("%s@kline_%s", lower, interval)
	case StreamKindDepth:
		return fmt.Sprintf("%s@depth20@100ms", lower)
	case StreamKindTrade:
		return fmt.Sprintf("%s@trade", lower)
	default:
		return lower
	}
}

type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// subscribeRaw opens one combined-stream connection and dispatches raw
// payload bytes to onMessage, reconnecting with jittered exponential
// backoff until ctx is cancelled.
func subscribeRaw(ctx context.Context, name string, onMessage func([]byte)) {
	url := fmt.Sprintf("%s?streams=%s", wsBase, name)
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			delay := backoffDelay(attempt)
			log.Warn().Err(err).Str("stream", name).Dur("retry_in", delay).Msg("market stream dial failed")
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		log.Info().Str("stream", name).Msg("market stream connected")

		readLoop(ctx, conn, name, onMessage)
		_ = conn.Close()
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, name string, onMessage func([]byte)) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	defer close(done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("stream", name).Msg("market stream read error, reconnecting")
			}
			return
		}

		var env combinedEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		onMessage(env.Data)
	}
}

func backoffDelay(attempt int) time.Duration {
	base := 500 * time.Millisecond
	d := base * time.Duration(1<<uint(minInt(attempt, 6)))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SubscribeCandles streams closed and in-progress klines for symbol at
// interval, reconnecting automatically until the returned handle is
// closed or ctx is cancelled.
func (c *Client) SubscribeCandles(ctx context.Context, symbol, interval string, onEvent func(CandleEvent)) *StreamHandle {
	ctx, cancel := context.WithCancel(ctx)
	name := streamName(symbol, StreamKindCandle, interval)

	go subscribeRaw(ctx, name, func(raw []byte) {
		var payload struct {
			K struct {
				OpenTime int64  `json:"t"`
				Open     string `json:"o"`
				High     string `json:"h"`
				Low      string `json:"l"`
				Close    string `json:"c"`
				Volume   string `json:"v"`
				Trades   int    `json:"n"`
				IsClosed bool   `json:"x"`
			} `json:"k"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return
		}
		open, _ := decimal.NewFromString(payload.K.Open)
		high, _ := decimal.NewFromString(payload.K.High)
		low, _ := decimal.NewFromString(payload.K.Low)
		closePx, _ := decimal.NewFromString(payload.K.Close)
		volume, _ := decimal.NewFromString(payload.K.Volume)

		onEvent(CandleEvent{
			Candle: exchange.Candle{
				OpenTime:   time.UnixMilli(payload.K.OpenTime),
				Open:       open,
				High:       high,
				Low:        low,
				Close:      closePx,
				Volume:     volume,
				TradeCount: payload.K.Trades,
			},
			Closed: payload.K.IsClosed,
		})
	})

	return &StreamHandle{cancel: cancel}
}

// SubscribeDepth streams order-book delta snapshots for symbol.
func (c *Client) SubscribeDepth(ctx context.Context, symbol string, onEvent func(DepthEvent)) *StreamHandle {
	ctx, cancel := context.WithCancel(ctx)
	name := streamName(symbol, StreamKindDepth, "")

	go subscribeRaw(ctx, name, func(raw []byte) {
		var payload struct {
			Bids [][2]string `json:"bids"`
			Asks [][2]string `json:"asks"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return
		}
		onEvent(DepthEvent{
			Bids: parseLevels(payload.Bids),
			Asks: parseLevels(payload.Asks),
		})
	})

	return &StreamHandle{cancel: cancel}
}

// SubscribeTrades streams tape prints for symbol.
func (c *Client) SubscribeTrades(ctx context.Context, symbol string, onEvent func(TradeEvent)) *StreamHandle {
	ctx, cancel := context.WithCancel(ctx)
	name := streamName(symbol, StreamKindTrade, "")

	go subscribeRaw(ctx, name, func(raw []byte) {
		var payload struct {
			Price        string `json:"p"`
			Qty          string `json:"q"`
			Time         int64  `json:"T"`
			IsBuyerMaker bool   `json:"m"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return
		}
		price, errP := decimal.NewFromString(payload.Price)
		qty, errQ := decimal.NewFromString(payload.Qty)
		if errP != nil || errQ != nil {
			return
		}
		onEvent(TradeEvent{
			Timestamp:    time.UnixMilli(payload.Time),
			Price:        price,
			Quantity:     qty,
			BuyerIsMaker: payload.IsBuyerMaker,
		})
	})

	return &StreamHandle{cancel: cancel}
}
