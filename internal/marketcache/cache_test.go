package marketcache

import (
	"testing"

	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

func TestCacheAccessors_ReturnCachedState(t *testing.T) {
	c := New(nil, "5m")
	st := &instrumentState{
		health:      HealthStreaming,
		latestPrice: decimal.NewFromFloat(100),
		book:        exchange.OrderBook{Bids: []exchange.PriceLevel{{Price: decimal.NewFromFloat(99), Quantity: decimal.NewFromInt(1)}}},
		candles:     []exchange.Candle{{Close: decimal.NewFromFloat(100)}},
		trades:      []exchange.Trade{{Price: decimal.NewFromFloat(100)}},
	}
	c.state["BTCUSDT"] = st

	price, ok := c.LatestPrice("BTCUSDT")
	if !ok || !price.Equal(decimal.NewFromFloat(100)) {
		t.Fatalf("expected cached latest price 100, got %s ok=%v", price, ok)
	}

	book, ok := c.OrderBook("BTCUSDT")
	if !ok || len(book.Bids) != 1 {
		t.Fatalf("expected cached book with one bid, got %+v ok=%v", book, ok)
	}

	candles, ok := c.Candles("BTCUSDT")
	if !ok || len(candles) != 1 {
		t.Fatalf("expected one cached candle, got %d ok=%v", len(candles), ok)
	}

	trades, ok := c.RecentTrades("BTCUSDT")
	if !ok || len(trades) != 1 {
		t.Fatalf("expected one cached trade, got %d ok=%v", len(trades), ok)
	}

	health, ok := c.HealthOf("BTCUSDT")
	if !ok || health != HealthStreaming {
		t.Fatalf("expected streaming health, got %s ok=%v", health, ok)
	}
}

func TestCacheAccessors_MissingInstrumentReturnsFalse(t *testing.T) {
	c := New(nil, "5m")
	if _, ok := c.LatestPrice("UNKNOWN"); ok {
		t.Fatalf("expected ok=false for an untracked instrument")
	}
	if _, ok := c.OrderBook("UNKNOWN"); ok {
		t.Fatalf("expected ok=false for an untracked instrument order book")
	}
}

func TestCandles_ReturnsDefensiveCopy(t *testing.T) {
	c := New(nil, "5m")
	c.state["BTCUSDT"] = &instrumentState{candles: []exchange.Candle{{Close: decimal.NewFromFloat(100)}}}

	out, _ := c.Candles("BTCUSDT")
	out[0].Close = decimal.NewFromFloat(999)

	fresh, _ := c.Candles("BTCUSDT")
	if fresh[0].Close.Equal(decimal.NewFromFloat(999)) {
		t.Fatalf("expected Candles to return a copy, mutation leaked into cache")
	}
}

func TestStop_RemovesInstrumentState(t *testing.T) {
	c := New(nil, "5m")
	c.state["BTCUSDT"] = &instrumentState{health: HealthStreaming}

	c.Stop("BTCUSDT")

	if _, ok := c.get("BTCUSDT"); ok {
		t.Fatalf("expected instrument state to be removed after Stop")
	}
}
