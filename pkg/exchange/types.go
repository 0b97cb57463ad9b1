// Package exchange defines the venue-neutral contract the trading core
// speaks to: order types, the Gateway interface, and the error taxonomy
// every call surfaces through.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side denotes order/signal direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position opened on Side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType enumerates the order shapes the gateway can submit.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes exchange-reported order state.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusUnknown         OrderStatus = "UNKNOWN"
)

// IsTerminal reports whether a status is a terminal state for an order.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// OrderRequest captures an order intent to submit to the venue.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal // required for OrderTypeLimit
	ClientID   string
	RecvWindow time.Duration
}

// OrderAck is the venue's immediate acknowledgement of a submitted order.
type OrderAck struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
}

// Fill represents one exchange-reported fill for an order.
type Fill struct {
	TradeID         string
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	Timestamp       time.Time
}

// OrderStatusReport is the gateway's normalized view of an order's
// current state, used by the status poller.
type OrderStatusReport struct {
	ExchangeOrderID  string
	Status           OrderStatus
	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.Decimal
	Fills            []Fill
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime   time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	TradeCount int
}

// PriceLevel is one (price, quantity) entry in an order book side.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook is a snapshot of one instrument's depth. Bids are sorted
// descending by price, Asks ascending; both are non-empty for a valid book.
type OrderBook struct {
	Instrument string
	CapturedAt time.Time
	Bids       []PriceLevel
	Asks       []PriceLevel
}

// BestBid returns the highest bid, or a zero level if the book is empty.
func (b OrderBook) BestBid() PriceLevel {
	if len(b.Bids) == 0 {
		return PriceLevel{}
	}
	return b.Bids[0]
}

// BestAsk returns the lowest ask, or a zero level if the book is empty.
func (b OrderBook) BestAsk() PriceLevel {
	if len(b.Asks) == 0 {
		return PriceLevel{}
	}
	return b.Asks[0]
}

// Trade is one tape print.
type Trade struct {
	Timestamp    time.Time
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	BuyerIsMaker bool
}

// AccountSnapshot is a balance-by-asset view of the account.
type AccountSnapshot struct {
	Balances map[string]decimal.Decimal // asset -> free balance
}

// Gateway is the authenticated surface every venue adapter implements.
// All operations must be safe for concurrent use. The concrete Binance
// adapter lives in pkg/exchange/binance.
type Gateway interface {
	AccountSnapshot(ctx context.Context) (AccountSnapshot, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	OrderStatus(ctx context.Context, symbol, exchangeOrderID string) (OrderStatusReport, error)
	OrderBookSnapshot(ctx context.Context, symbol string, depth int) (OrderBook, error)
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Candles(ctx context.Context, symbol, interval string, lookback int) ([]Candle, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
	ServerTime(ctx context.Context) (time.Time, error)
}
