// Package order implements the execution path from a sized trade intent
// to a filled position: the router classifies how to execute, the TWAP
// executor handles large orders, the status poller waits for terminal
// state, and the lifecycle owns Order records and position closure.
package order

import (
	"github.com/shopspring/decimal"

	"spotcore/internal/indicators"
)

// Route is the router's classification of how an order should be
// executed.
type Route string

const (
	RouteMarket Route = "market"
	RouteLimit  Route = "limit"
	RouteTWAP   Route = "twap"
	RouteReject Route = "reject"
)

// RouteDecision carries the chosen route plus, for TWAP, the chunk count.
type RouteDecision struct {
	Route  Route
	Splits int
	Reason string // populated only for RouteReject
}

// RouterConfig bounds the thresholds the classifier uses.
type RouterConfig struct {
	SmallOrderThreshold decimal.Decimal
	LargeOrderThreshold decimal.Decimal
	ChunkTarget         decimal.Decimal
	MinSplits           int
	MaxSplits           int
}

// DefaultRouterConfig matches the worked examples: quote values under
// 500 route market, 500-2000 limit, above 2000 TWAP with 3-5 splits.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SmallOrderThreshold: decimal.NewFromInt(500),
		LargeOrderThreshold: decimal.NewFromInt(2000),
		ChunkTarget:         decimal.NewFromInt(1000),
		MinSplits:           3,
		MaxSplits:           5,
	}
}

// Classify is the pure router function: (quote value, liquidity, spread)
// -> route. Poor liquidity always rejects regardless of size.
func Classify(cfg RouterConfig, quoteValue decimal.Decimal, liquidity indicators.LiquidityGrade, spread indicators.SpreadClass) RouteDecision {
	if liquidity == indicators.LiquidityPoor {
		return RouteDecision{Route: RouteReject, Reason: "poor liquidity"}
	}

	if quoteValue.LessThan(cfg.SmallOrderThreshold) {
		return RouteDecision{Route: RouteMarket}
	}

	if quoteValue.GreaterThan(cfg.LargeOrderThreshold) && liquidity == indicators.LiquidityGood {
		splits := int(quoteValue.Div(cfg.ChunkTarget).IntPart())
		if splits < cfg.MinSplits {
			splits = cfg.MinSplits
		}
		if splits > cfg.MaxSplits {
			splits = cfg.MaxSplits
		}
		return RouteDecision{Route: RouteTWAP, Splits: splits}
	}

	return RouteDecision{Route: RouteLimit}
}
