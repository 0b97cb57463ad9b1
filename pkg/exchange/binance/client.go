// Package binance implements the exchange.Gateway contract against
// Binance's spot REST API: authenticated account/order operations, rate
// limiting, clock sync, and the retry/circuit-breaker policy from §4.1.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"spotcore/pkg/exchange"
)

// Config holds venue credentials and connection parameters.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow time.Duration
}

// Client is the spot-market Binance implementation of exchange.Gateway.
type Client struct {
	cfg     Config
	baseURL string
	http    *resty.Client

	timeSync    *exchange.TimeSync
	rateLimiter *exchange.RateLimiter
	breaker     *exchange.CircuitBreaker
	retry       exchange.RetryPolicy
}

var _ exchange.Gateway = (*Client)(nil)

// New builds a client. Order budgets match Binance spot defaults; callers
// needing different venue limits should adjust after construction.
func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(10*time.Second).
		SetHeader("X-MBX-APIKEY", cfg.APIKey)

	c := &Client{
		cfg:         cfg,
		baseURL:     base,
		http:        httpClient,
		rateLimiter: exchange.NewRateLimiter(1200, 10, 200000),
		breaker:     exchange.NewCircuitBreaker(5, 2, 30*time.Second),
		retry:       exchange.DefaultRetryPolicy(),
	}
	c.timeSync = exchange.NewTimeSync(30*time.Minute, func(ctx context.Context) (time.Time, error) {
		return c.ServerTime(ctx)
	})
	return c
}

// credentialsSet reports whether signed endpoints can be called.
func (c *Client) credentialsSet() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

func sign(query, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// encodeSorted renders query params in sorted key order, matching the
// signature Binance expects over "the sorted query string" (§6).
func encodeSorted(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// doSigned performs a signed REST call under the full rate-limit / retry /
// circuit-breaker policy, consuming the given request weight.
func (c *Client) doSigned(ctx context.Context, op, method, path string, params url.Values, weight int) ([]byte, error) {
	if !c.credentialsSet() {
		return nil, exchange.New(exchange.KindAuthentication, op, fmt.Errorf("api key/secret required"))
	}
	if err := c.rateLimiter.AwaitWeight(ctx, weight); err != nil {
		return nil, err
	}

	var body []byte
	err := c.retry.Do(ctx, c.breaker, func(ctx context.Context) error { return c.timeSync.Sync(ctx) }, func(ctx context.Context) error {
		if err := c.timeSync.SyncIfStale(ctx); err != nil {
			log.Warn().Err(err).Msg("time sync failed, proceeding with stale offset")
		}

		p := url.Values{}
		for k, v := range params {
			p[k] = v
		}
		p.Set("timestamp", strconv.FormatInt(c.timeSync.Now().UnixMilli(), 10))
		p.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow.Milliseconds(), 10))
		query := encodeSorted(p)
		signed := query + "&signature=" + sign(query, c.cfg.APISecret)

		req := c.http.R().SetContext(ctx)
		var resp *resty.Response
		var reqErr error
		switch method {
		case "GET", "DELETE":
			req.SetQueryString(signed)
			if method == "GET" {
				resp, reqErr = req.Get(path)
			} else {
				resp, reqErr = req.Delete(path)
			}
		default:
			req.SetHeader("Content-Type", "application/x-www-form-urlencoded")
			req.SetBody(signed)
			resp, reqErr = req.Post(path)
		}

		if reqErr != nil {
			return exchange.New(exchange.KindTransportTransient, op, reqErr)
		}

		if w := resp.Header().Get("X-MBX-USED-WEIGHT-1M"); w != "" {
			if used, convErr := strconv.Atoi(w); convErr == nil {
				c.rateLimiter.UpdateWeightUsage(used)
			}
		}

		classified := classifyStatus(resp.StatusCode(), resp.Body())
		if classified != nil {
			return classified
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// errorResponse matches Binance's {"code": -1021, "msg": "..."} shape.
type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classifyStatus turns an HTTP status + body into the taxonomy error the
// rest of the system expects, or nil if the call succeeded.
func classifyStatus(status int, body []byte) error {
	if status < 300 {
		return nil
	}

	var er errorResponse
	_ = json.Unmarshal(body, &er)

	if er.Code == -1021 {
		return exchange.New(exchange.KindClockSkew, "classifyStatus", fmt.Errorf("%s", er.Msg))
	}
	if status == 401 || status == 403 {
		return exchange.New(exchange.KindAuthentication, "classifyStatus", fmt.Errorf("%s", er.Msg))
	}
	if status == 400 || status == 404 || status == 422 {
		return exchange.New(exchange.KindTransportPermanent, "classifyStatus", fmt.Errorf("status %d: %s", status, er.Msg))
	}
	return exchange.New(exchange.KindTransportTransient, "classifyStatus", fmt.Errorf("status %d: %s", status, string(body)))
}
