package order

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// TWAPConfig bounds the pre-chunk re-checks and pacing of a TWAP execution.
type TWAPConfig struct {
	Interval           time.Duration
	MaxSpreadBps       decimal.Decimal
	MaxPriceDeviation  decimal.Decimal // fraction, default 1%
	MinChunkQuoteValue decimal.Decimal
}

// DefaultTWAPConfig matches the design's defaults: 30s between chunks, 1%
// max price deviation from the initial reference.
func DefaultTWAPConfig() TWAPConfig {
	return TWAPConfig{
		Interval:           30 * time.Second,
		MaxSpreadBps:       decimal.NewFromInt(15),
		MaxPriceDeviation:  decimal.NewFromFloat(0.01),
		MinChunkQuoteValue: decimal.NewFromInt(50),
	}
}

// Stop-reason codes reported by Result.StopReason when a TWAP execution
// terminates before submitting every chunk.
const (
	StopReasonSpread          = "SPREAD_TOO_WIDE"
	StopReasonPriceDeviation  = "PRICE_DEVIATION"
	StopReasonChunkValue      = "CHUNK_VALUE_BELOW_MIN"
	StopReasonEmptyBook       = "EMPTY_BOOK"
	StopReasonBookUnavailable = "BOOK_UNAVAILABLE"
	StopReasonSubmitFailed    = "SUBMIT_FAILED"
	StopReasonCancelled       = "CANCELLED"
)

// ChildOrder is one chunk of a TWAP execution.
type ChildOrder struct {
	ExchangeOrderID string
	FilledQuantity  decimal.Decimal
	FillPrice       decimal.Decimal
	FeeQuote        decimal.Decimal
}

// Result aggregates a completed (or early-stopped) TWAP execution.
type Result struct {
	ChildOrders         []ChildOrder
	TotalFilled         decimal.Decimal
	AverageFillPrice    decimal.Decimal
	TotalFeesQuote      decimal.Decimal
	RealizedSlippagePct decimal.Decimal
	Elapsed             time.Duration
	StoppedEarly        bool
	StopReason          string
}

// Dependencies the executor needs from the rest of the system, injected
// so the execution loop itself has no direct gateway dependency.
type Dependencies struct {
	CurrentBook       func(ctx context.Context) (exchange.OrderBook, error)
	SubmitMarketChunk func(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal) (ChildOrder, error)
}

// Execute runs a TWAP execution of totalQuantity across cfg-derived
// chunks. The caller has already decided the split count (router output);
// Execute reduces it further here only if the per-chunk value would
// otherwise fall below MinChunkQuoteValue.
func Execute(ctx context.Context, cfg TWAPConfig, deps Dependencies, symbol string, side exchange.Side, totalQuantity decimal.Decimal, splits int, referencePrice decimal.Decimal) Result {
	start := time.Now()

	chunkQuantity := totalQuantity.Div(decimal.NewFromInt(int64(splits)))
	if chunkValue := chunkQuantity.Mul(referencePrice); chunkValue.LessThan(cfg.MinChunkQuoteValue) {
		feasible := totalQuantity.Mul(referencePrice).Div(cfg.MinChunkQuoteValue).IntPart()
		if feasible < 1 {
			feasible = 1
		}
		if int(feasible) < splits {
			splits = int(feasible)
			chunkQuantity = totalQuantity.Div(decimal.NewFromInt(int64(splits)))
		}
	}

	result := Result{}
	remaining := totalQuantity

	for i := 0; i < splits; i++ {
		isLast := i == splits-1
		qty := chunkQuantity
		if isLast {
			qty = remaining // absorb rounding remainder
		}

		book, err := deps.CurrentBook(ctx)
		if err != nil {
			result.StoppedEarly = true
			result.StopReason = StopReasonBookUnavailable
			log.Warn().Err(err).Str("symbol", symbol).Msg("TWAP stopped: book unavailable")
			break
		}

		if stopReason, stop := preChunkCheck(cfg, book, qty, referencePrice); stop {
			result.StoppedEarly = true
			result.StopReason = stopReason
			log.Warn().Str("symbol", symbol).Str("reason", stopReason).Msg("TWAP stopped early")
			break
		}

		child, err := deps.SubmitMarketChunk(ctx, symbol, side, qty)
		if err != nil {
			result.StoppedEarly = true
			result.StopReason = StopReasonSubmitFailed
			log.Warn().Err(err).Str("symbol", symbol).Int("chunk", i+1).Msg("TWAP chunk submission failed")
			break
		}

		result.ChildOrders = append(result.ChildOrders, child)
		result.TotalFilled = result.TotalFilled.Add(child.FilledQuantity)
		result.TotalFeesQuote = result.TotalFeesQuote.Add(child.FeeQuote)
		remaining = remaining.Sub(child.FilledQuantity)

		if !isLast {
			select {
			case <-ctx.Done():
				result.StoppedEarly = true
				result.StopReason = StopReasonCancelled
				result.Elapsed = time.Since(start)
				return finalize(result, referencePrice)
			case <-time.After(cfg.Interval):
			}
		}
	}

	result.Elapsed = time.Since(start)
	return finalize(result, referencePrice)
}

func finalize(result Result, referencePrice decimal.Decimal) Result {
	if result.TotalFilled.IsZero() {
		return result
	}

	valueSum := decimal.Zero
	for _, c := range result.ChildOrders {
		valueSum = valueSum.Add(c.FillPrice.Mul(c.FilledQuantity))
	}
	result.AverageFillPrice = valueSum.Div(result.TotalFilled)

	if !referencePrice.IsZero() {
		deviation := result.AverageFillPrice.Sub(referencePrice).Div(referencePrice)
		result.RealizedSlippagePct = deviation.Mul(decimal.NewFromInt(100))
	}
	return result
}

// preChunkCheck implements the three re-checks: spread, price deviation
// from the initial reference, and per-chunk quote value.
func preChunkCheck(cfg TWAPConfig, book exchange.OrderBook, chunkQuantity, referencePrice decimal.Decimal) (reason string, stop bool) {
	bid, ask := book.BestBid().Price, book.BestAsk().Price
	if bid.IsZero() || ask.IsZero() {
		return StopReasonEmptyBook, true
	}

	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	spreadBps := ask.Sub(bid).Div(mid).Mul(decimal.NewFromInt(10000))
	if spreadBps.GreaterThan(cfg.MaxSpreadBps) {
		return StopReasonSpread, true
	}

	deviation := mid.Sub(referencePrice).Abs().Div(referencePrice)
	if deviation.GreaterThan(cfg.MaxPriceDeviation) {
		return StopReasonPriceDeviation, true
	}

	chunkValue := chunkQuantity.Mul(mid)
	if chunkValue.LessThan(cfg.MinChunkQuoteValue) {
		return StopReasonChunkValue, true
	}

	return "", false
}
