package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// PollerConfig bounds the status poller's cadence and failure budget.
type PollerConfig struct {
	Interval             time.Duration
	Timeout              time.Duration
	MaxConsecutiveErrors int
}

// DefaultPollerConfig matches the design's default 2-second cadence.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Interval: 2 * time.Second, Timeout: 60 * time.Second, MaxConsecutiveErrors: 3}
}

// PollResult is the poller's outcome: either a terminal report or a
// partial-fill snapshot the caller must decide whether to keep waiting on.
type PollResult struct {
	Report  exchange.OrderStatusReport
	Partial bool
}

// AwaitTerminal polls gw.OrderStatus every cfg.Interval until the order
// reaches a terminal state, the timeout elapses, or MaxConsecutiveErrors
// gateway errors occur in a row (in which case it returns a
// KindStatusCheck error). A PARTIALLY_FILLED read returns immediately so
// the caller can decide whether to keep waiting. On timeout, one final
// best-effort read is attempted so a just-filled order isn't misreported.
func AwaitTerminal(ctx context.Context, gw exchange.Gateway, symbol, exchangeOrderID string, cfg PollerConfig) (PollResult, error) {
	deadline := time.Now().Add(cfg.Timeout)
	consecutiveErrors := 0

	for {
		report, err := gw.OrderStatus(ctx, symbol, exchangeOrderID)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= cfg.MaxConsecutiveErrors {
				return PollResult{}, exchange.New(exchange.KindStatusCheck, "AwaitTerminal", err)
			}
		} else {
			consecutiveErrors = 0
			if report.Status.IsTerminal() {
				return PollResult{Report: report}, nil
			}
			if report.Status == exchange.StatusPartiallyFilled {
				return PollResult{Report: report, Partial: true}, nil
			}
		}

		if time.Now().After(deadline) {
			final, finalErr := gw.OrderStatus(ctx, symbol, exchangeOrderID)
			if finalErr == nil {
				return PollResult{Report: final}, nil
			}
			return PollResult{}, exchange.New(exchange.KindStatusCheck, "AwaitTerminal", finalErr)
		}

		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}
}

// ComputeFees sums per-fill commissions, converting to quote currency via
// convert when the commission asset differs from quote.
func ComputeFees(fills []exchange.Fill, quoteAsset string, convert func(asset string, amount decimal.Decimal) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fills {
		amount := f.Commission
		if f.CommissionAsset != "" && f.CommissionAsset != quoteAsset && convert != nil {
			amount = convert(f.CommissionAsset, amount)
		}
		total = total.Add(amount)
	}
	return total
}

// AverageFillPrice prefers the exchange-reported average; when that field
// is zero it falls back to a size-weighted mean over fills, and to zero
// only if neither is available.
func AverageFillPrice(report exchange.OrderStatusReport) decimal.Decimal {
	if !report.AverageFillPrice.IsZero() {
		return report.AverageFillPrice
	}
	if len(report.Fills) == 0 {
		return decimal.Zero
	}
	valueSum := decimal.Zero
	qtySum := decimal.Zero
	for _, f := range report.Fills {
		valueSum = valueSum.Add(f.Price.Mul(f.Quantity))
		qtySum = qtySum.Add(f.Quantity)
	}
	if qtySum.IsZero() {
		return decimal.Zero
	}
	return valueSum.Div(qtySum)
}
