package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// unauthenticated does a public GET, still under the retry/breaker policy
// but outside the signed-weight accounting path (weight is still reserved
// against the shared budget since public endpoints share the same header).
func (c *Client) unauthenticated(ctx context.Context, op, path string, query url.Values, weight int, out any) error {
	if err := c.rateLimiter.AwaitWeight(ctx, weight); err != nil {
		return err
	}

	return c.retry.Do(ctx, c.breaker, nil, func(ctx context.Context) error {
		resp, err := c.http.R().SetContext(ctx).SetQueryParamsFromValues(query).Get(path)
		if err != nil {
			return exchange.New(exchange.KindTransportTransient, op, err)
		}
		if w := resp.Header().Get("X-MBX-USED-WEIGHT-1M"); w != "" {
			if used, convErr := strconv.Atoi(w); convErr == nil {
				c.rateLimiter.UpdateWeightUsage(used)
			}
		}
		if classified := classifyStatus(resp.StatusCode(), resp.Body()); classified != nil {
			return classified
		}
		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return exchange.New(exchange.KindTransportPermanent, op, fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	})
}

// ServerTime fetches Binance's current server clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.unauthenticated(ctx, "ServerTime", "/api/v3/time", nil, 1, &out); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(out.ServerTime), nil
}

type accountResponse struct {
	Balances []struct {
		Asset string `json:"asset"`
		Free  string `json:"free"`
	} `json:"balances"`
}

// AccountSnapshot returns free balances by asset.
func (c *Client) AccountSnapshot(ctx context.Context) (exchange.AccountSnapshot, error) {
	body, err := c.doSigned(ctx, "AccountSnapshot", "GET", "/api/v3/account", url.Values{}, 10)
	if err != nil {
		return exchange.AccountSnapshot{}, err
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.AccountSnapshot{}, exchange.New(exchange.KindTransportPermanent, "AccountSnapshot", err)
	}
	balances := make(map[string]decimal.Decimal, len(resp.Balances))
	for _, b := range resp.Balances {
		qty, parseErr := decimal.NewFromString(b.Free)
		if parseErr != nil {
			continue
		}
		balances[b.Asset] = qty
	}
	return exchange.AccountSnapshot{Balances: balances}, nil
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	Fills         []struct {
		TradeID         int64  `json:"tradeId"`
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	} `json:"fills"`
}

func mapStatus(venue string) exchange.OrderStatus {
	switch venue {
	case "NEW":
		return exchange.StatusSubmitted
	case "PARTIALLY_FILLED":
		return exchange.StatusPartiallyFilled
	case "FILLED":
		return exchange.StatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return exchange.StatusCancelled
	case "REJECTED":
		return exchange.StatusRejected
	case "EXPIRED":
		return exchange.StatusExpired
	default:
		return exchange.StatusUnknown
	}
}

// SubmitOrder places a market or limit order and returns the venue's
// immediate acknowledgement, including any fills reported synchronously
// (market orders commonly fill within the ack itself).
func (c *Client) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if err := c.rateLimiter.AwaitOrderSlot(ctx); err != nil {
		return exchange.OrderAck{}, err
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())
	if req.Type == exchange.OrderTypeLimit {
		params.Set("timeInForce", "GTC")
		params.Set("price", req.LimitPrice.String())
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}

	body, err := c.doSigned(ctx, "SubmitOrder", "POST", "/api/v3/order", params, 1)
	if err != nil {
		return exchange.OrderAck{}, exchange.New(exchange.KindOrderExecution, "SubmitOrder", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.OrderAck{}, exchange.New(exchange.KindOrderExecution, "SubmitOrder", err)
	}

	log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Int64("exchange_order_id", resp.OrderID).
		Str("status", resp.Status).
		Msg("order submitted")

	return exchange.OrderAck{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          mapStatus(resp.Status),
		ClientID:        resp.ClientOrderID,
	}, nil
}

// CancelOrder cancels an open order by venue order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", exchangeOrderID)
	_, err := c.doSigned(ctx, "CancelOrder", "DELETE", "/api/v3/order", params, 1)
	return err
}

// OrderStatus returns the normalized current state of a previously
// submitted order, including filled quantity and average fill price.
func (c *Client) OrderStatus(ctx context.Context, symbol, exchangeOrderID string) (exchange.OrderStatusReport, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", exchangeOrderID)
	body, err := c.doSigned(ctx, "OrderStatus", "GET", "/api/v3/order", params, 2)
	if err != nil {
		return exchange.OrderStatusReport{}, exchange.New(exchange.KindStatusCheck, "OrderStatus", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.OrderStatusReport{}, exchange.New(exchange.KindStatusCheck, "OrderStatus", err)
	}

	filled, _ := decimal.NewFromString(resp.ExecutedQty)

	var fills []exchange.Fill
	var valueSum decimal.Decimal
	for _, f := range resp.Fills {
		price, _ := decimal.NewFromString(f.Price)
		qty, _ := decimal.NewFromString(f.Qty)
		commission, _ := decimal.NewFromString(f.Commission)
		valueSum = valueSum.Add(price.Mul(qty))
		fills = append(fills, exchange.Fill{
			TradeID:         strconv.FormatInt(f.TradeID, 10),
			Price:           price,
			Quantity:        qty,
			Commission:      commission,
			CommissionAsset: f.CommissionAsset,
		})
	}

	var avgPrice decimal.Decimal
	if !filled.IsZero() {
		avgPrice = valueSum.Div(filled)
	}

	return exchange.OrderStatusReport{
		ExchangeOrderID:  strconv.FormatInt(resp.OrderID, 10),
		Status:           mapStatus(resp.Status),
		FilledQuantity:   filled,
		AverageFillPrice: avgPrice,
		Fills:            fills,
	}, nil
}

// OrderBookSnapshot fetches a depth snapshot for symbol.
func (c *Client) OrderBookSnapshot(ctx context.Context, symbol string, depth int) (exchange.OrderBook, error) {
	if depth <= 0 || depth > 5000 {
		depth = 100
	}
	var resp struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	query := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}}
	weight := 5
	if depth > 500 {
		weight = 50
	}
	if err := c.unauthenticated(ctx, "OrderBookSnapshot", "/api/v3/depth", query, weight, &resp); err != nil {
		return exchange.OrderBook{}, err
	}

	book := exchange.OrderBook{Instrument: symbol, CapturedAt: time.Now()}
	book.Bids = parseLevels(resp.Bids)
	book.Asks = parseLevels(resp.Asks)
	return book, nil
}

func parseLevels(raw [][2]string) []exchange.PriceLevel {
	levels := make([]exchange.PriceLevel, 0, len(raw))
	for _, r := range raw {
		price, errP := decimal.NewFromString(r[0])
		qty, errQ := decimal.NewFromString(r[1])
		if errP != nil || errQ != nil {
			continue
		}
		levels = append(levels, exchange.PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}

// LatestPrice returns the most recent traded price for symbol.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp struct {
		Price string `json:"price"`
	}
	query := url.Values{"symbol": {symbol}}
	if err := c.unauthenticated(ctx, "LatestPrice", "/api/v3/ticker/price", query, 2, &resp); err != nil {
		return decimal.Decimal{}, err
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Decimal{}, exchange.New(exchange.KindTransportPermanent, "LatestPrice", err)
	}
	return price, nil
}

// Candles returns the most recent `lookback` OHLCV bars at the given
// interval ("1m", "5m", "1h", ...).
func (c *Client) Candles(ctx context.Context, symbol, interval string, lookback int) ([]exchange.Candle, error) {
	var raw [][]any
	query := url.Values{"symbol": {symbol}, "interval": {interval}, "limit": {strconv.Itoa(lookback)}}
	if err := c.unauthenticated(ctx, "Candles", "/api/v3/klines", query, 2, &raw); err != nil {
		return nil, err
	}

	candles := make([]exchange.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 9 {
			continue
		}
		openMs, _ := row[0].(float64)
		open, _ := decimal.NewFromString(asString(row[1]))
		high, _ := decimal.NewFromString(asString(row[2]))
		low, _ := decimal.NewFromString(asString(row[3]))
		close, _ := decimal.NewFromString(asString(row[4]))
		volume, _ := decimal.NewFromString(asString(row[5]))
		trades, _ := row[8].(float64)

		candles = append(candles, exchange.Candle{
			OpenTime:   time.UnixMilli(int64(openMs)),
			Open:       open,
			High:       high,
			Low:        low,
			Close:      close,
			Volume:     volume,
			TradeCount: int(trades),
		})
	}
	return candles, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// RecentTrades returns the last `limit` tape prints for symbol.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	var raw []struct {
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		Time         int64  `json:"time"`
		IsBuyerMaker bool   `json:"isBuyerMaker"`
	}
	query := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	if err := c.unauthenticated(ctx, "RecentTrades", "/api/v3/trades", query, 10, &raw); err != nil {
		return nil, err
	}

	trades := make([]exchange.Trade, 0, len(raw))
	for _, t := range raw {
		price, errP := decimal.NewFromString(t.Price)
		qty, errQ := decimal.NewFromString(t.Qty)
		if errP != nil || errQ != nil {
			continue
		}
		trades = append(trades, exchange.Trade{
			Timestamp:    time.UnixMilli(t.Time),
			Price:        price,
			Quantity:     qty,
			BuyerIsMaker: t.IsBuyerMaker,
		})
	}
	return trades, nil
}
