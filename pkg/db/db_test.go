package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	d, err := New(path)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNew_RejectsEmptyPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected an error for an empty database path")
	}
}

func TestNew_CreatesSchema(t *testing.T) {
	d := openTestDB(t)

	trades, err := d.RecentTrades(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentTrades on a fresh database returned error: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades in a fresh database, got %d", len(trades))
	}
}

func sampleTrade(id, instrument string, closedAt time.Time) TradeRecord {
	return TradeRecord{
		ID:          id,
		Instrument:  instrument,
		Side:        "BUY",
		Quantity:    "1.5",
		EntryPrice:  "100",
		ExitPrice:   "105",
		RealizedPnL: "7.5",
		Fees:        "0.1",
		CloseReason: "TAKE_PROFIT",
		OpenedAt:    closedAt.Add(-time.Hour),
		ClosedAt:    closedAt,
	}
}

func TestInsertTrade_RoundTripsThroughRecentTrades(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	trade := sampleTrade("t1", "BTCUSDT", time.Unix(1700000000, 0))
	if err := d.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("InsertTrade returned error: %v", err)
	}

	got, err := d.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTrades returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(got))
	}
	if got[0].ID != trade.ID || got[0].Instrument != trade.Instrument || got[0].RealizedPnL != trade.RealizedPnL {
		t.Fatalf("round-tripped trade does not match inserted trade: %+v", got[0])
	}
	if !got[0].ClosedAt.Equal(trade.ClosedAt) {
		t.Fatalf("expected closed_at to round-trip exactly, got %v want %v", got[0].ClosedAt, trade.ClosedAt)
	}
}

func TestInsertTrade_DuplicateIDIsIgnored(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	trade := sampleTrade("dup", "BTCUSDT", time.Unix(1700000000, 0))
	if err := d.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("first InsertTrade returned error: %v", err)
	}
	if err := d.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("duplicate InsertTrade returned error: %v", err)
	}

	got, err := d.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTrades returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected duplicate insert to be a no-op, got %d rows", len(got))
	}
}

func TestRecentTrades_OrdersNewestFirstAndRespectsLimit(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	if err := d.InsertTrade(ctx, sampleTrade("older", "BTCUSDT", base)); err != nil {
		t.Fatalf("InsertTrade returned error: %v", err)
	}
	if err := d.InsertTrade(ctx, sampleTrade("newer", "BTCUSDT", base.Add(time.Hour))); err != nil {
		t.Fatalf("InsertTrade returned error: %v", err)
	}

	got, err := d.RecentTrades(ctx, 1)
	if err != nil {
		t.Fatalf("RecentTrades returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected limit to cap at 1 row, got %d", len(got))
	}
	if got[0].ID != "newer" {
		t.Fatalf("expected newest trade first, got %q", got[0].ID)
	}
}

func TestClose_NilDatabaseIsNoOp(t *testing.T) {
	var d *Database
	if err := d.Close(); err != nil {
		t.Fatalf("expected nil-receiver Close to be a no-op, got %v", err)
	}
}

func TestUpsertOrder_InsertsAndUpdatesStatus(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	rec := OrderRecord{
		ID:              "o1",
		ExchangeOrderID: "",
		Instrument:      "BTCUSDT",
		Side:            "BUY",
		Quantity:        "0.5",
		Status:          "PENDING",
		SubmittedAt:     time.Unix(1700000000, 0),
	}
	if err := d.UpsertOrder(ctx, rec); err != nil {
		t.Fatalf("UpsertOrder returned error: %v", err)
	}

	rec.ExchangeOrderID = "ex-9"
	rec.Status = "FILLED"
	if err := d.UpsertOrder(ctx, rec); err != nil {
		t.Fatalf("second UpsertOrder returned error: %v", err)
	}

	got, found, err := d.OrderByID(ctx, "o1")
	if err != nil {
		t.Fatalf("OrderByID returned error: %v", err)
	}
	if !found {
		t.Fatalf("expected order o1 to exist")
	}
	if got.Status != "FILLED" || got.ExchangeOrderID != "ex-9" {
		t.Fatalf("expected upsert to advance status and exchange id, got %+v", got)
	}
}

func TestOrderByID_MissingReturnsNotFound(t *testing.T) {
	d := openTestDB(t)
	if _, found, err := d.OrderByID(context.Background(), "nope"); err != nil || found {
		t.Fatalf("expected a clean not-found, got found=%v err=%v", found, err)
	}
}
