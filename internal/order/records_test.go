package order

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

func TestRegistry_CreateStartsPending(t *testing.T) {
	r := NewRegistry()
	o := r.Create("BTCUSDT", exchange.SideBuy, exchange.OrderTypeMarket, decimal.NewFromInt(1), decimal.Zero)

	if o.Status != exchange.StatusPending {
		t.Fatalf("expected a new record to start PENDING, got %s", o.Status)
	}
	if o.ID == "" {
		t.Fatalf("expected a locally generated order ID")
	}
}

func TestRegistry_MarkSubmittedAssignsExchangeID(t *testing.T) {
	r := NewRegistry()
	o := r.Create("BTCUSDT", exchange.SideBuy, exchange.OrderTypeMarket, decimal.NewFromInt(1), decimal.Zero)

	if err := r.MarkSubmitted(o.ID, "ex-123"); err != nil {
		t.Fatalf("MarkSubmitted returned error: %v", err)
	}
	got, _ := r.Get(o.ID)
	if got.Status != exchange.StatusSubmitted || got.ExchangeOrderID != "ex-123" {
		t.Fatalf("expected SUBMITTED with exchange ID, got %s / %q", got.Status, got.ExchangeOrderID)
	}

	// A second submission attempt on the same record violates the DAG.
	if err := r.MarkSubmitted(o.ID, "ex-456"); err == nil {
		t.Fatalf("expected re-submission of an already-submitted record to fail")
	}
}

func TestRegistry_UpdateStatusFollowsDAG(t *testing.T) {
	r := NewRegistry()
	o := r.Create("BTCUSDT", exchange.SideBuy, exchange.OrderTypeMarket, decimal.NewFromInt(2), decimal.Zero)
	_ = r.MarkSubmitted(o.ID, "ex-1")

	partial := exchange.OrderStatusReport{Status: exchange.StatusPartiallyFilled, FilledQuantity: decimal.NewFromInt(1)}
	if err := r.UpdateStatus(o.ID, partial); err != nil {
		t.Fatalf("SUBMITTED -> PARTIALLY_FILLED should be legal: %v", err)
	}

	// PARTIALLY_FILLED self-loop is allowed.
	if err := r.UpdateStatus(o.ID, partial); err != nil {
		t.Fatalf("PARTIALLY_FILLED self-loop should be legal: %v", err)
	}

	filled := exchange.OrderStatusReport{Status: exchange.StatusFilled, FilledQuantity: decimal.NewFromInt(2)}
	if err := r.UpdateStatus(o.ID, filled); err != nil {
		t.Fatalf("PARTIALLY_FILLED -> FILLED should be legal: %v", err)
	}

	// Terminal state: re-applying the same report is idempotent...
	if err := r.UpdateStatus(o.ID, filled); err != nil {
		t.Fatalf("re-applying FILLED should be an idempotent no-op: %v", err)
	}
	// ...but moving to a different state is not.
	err := r.UpdateStatus(o.ID, exchange.OrderStatusReport{Status: exchange.StatusCancelled})
	if err == nil {
		t.Fatalf("expected FILLED -> CANCELLED to be rejected")
	}
	var exErr *exchange.Error
	if !errors.As(err, &exErr) || exErr.Kind != exchange.KindInvariantViolation {
		t.Fatalf("expected an invariant-violation error, got %v", err)
	}
}

func TestRegistry_UpdateStatusRejectsOverfill(t *testing.T) {
	r := NewRegistry()
	o := r.Create("BTCUSDT", exchange.SideBuy, exchange.OrderTypeMarket, decimal.NewFromInt(1), decimal.Zero)
	_ = r.MarkSubmitted(o.ID, "ex-1")

	err := r.UpdateStatus(o.ID, exchange.OrderStatusReport{Status: exchange.StatusFilled, FilledQuantity: decimal.NewFromInt(2)})
	if err == nil {
		t.Fatalf("expected a fill exceeding the requested quantity to be rejected")
	}
}

func TestRegistry_OpenExcludesTerminalOrders(t *testing.T) {
	r := NewRegistry()
	a := r.Create("BTCUSDT", exchange.SideBuy, exchange.OrderTypeMarket, decimal.NewFromInt(1), decimal.Zero)
	b := r.Create("ETHUSDT", exchange.SideSell, exchange.OrderTypeMarket, decimal.NewFromInt(1), decimal.Zero)

	_ = r.MarkSubmitted(a.ID, "ex-a")
	_ = r.MarkSubmitted(b.ID, "ex-b")
	_ = r.UpdateStatus(b.ID, exchange.OrderStatusReport{Status: exchange.StatusFilled, FilledQuantity: decimal.NewFromInt(1)})

	open := r.Open()
	if len(open) != 1 || open[0].ID != a.ID {
		t.Fatalf("expected only the unfilled order to be open, got %d records", len(open))
	}
}
