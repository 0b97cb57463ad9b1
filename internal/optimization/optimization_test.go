package optimization

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spotcore/pkg/db"
)

func openTestDB(t *testing.T) *db.Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	d, err := db.New(path)
	if err != nil {
		t.Fatalf("db.New returned error: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func insertTrade(t *testing.T, database *db.Database, id, instrument, pnl string, closedAt time.Time) {
	t.Helper()
	err := database.InsertTrade(context.Background(), db.TradeRecord{
		ID:          id,
		Instrument:  instrument,
		Side:        "BUY",
		Quantity:    "1",
		EntryPrice:  "100",
		ExitPrice:   "100",
		RealizedPnL: pnl,
		Fees:        "0",
		CloseReason: "TAKE_PROFIT",
		OpenedAt:    closedAt.Add(-time.Hour),
		ClosedAt:    closedAt,
	})
	if err != nil {
		t.Fatalf("InsertTrade returned error: %v", err)
	}
}

func TestAnalyze_ComputesWinRateAndAvgPnL(t *testing.T) {
	database := openTestDB(t)
	base := time.Unix(1700000000, 0)

	insertTrade(t, database, "1", "BTCUSDT", "10", base)
	insertTrade(t, database, "2", "BTCUSDT", "-4", base.Add(time.Minute))
	insertTrade(t, database, "3", "BTCUSDT", "10", base.Add(2*time.Minute))

	report, err := Analyze(context.Background(), database, 100)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	wantWinRate := 2.0 / 3.0
	if got := report.WinRateByInstrument["BTCUSDT"]; got != wantWinRate {
		t.Fatalf("expected win rate %v, got %v", wantWinRate, got)
	}

	wantAvg := decimal.NewFromInt(16).Div(decimal.NewFromInt(3))
	gotAvg := report.AvgPnLByInstrument["BTCUSDT"]
	if diff := gotAvg.Sub(wantAvg).Abs(); diff.GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Fatalf("expected avg pnl close to %s, got %s", wantAvg, gotAvg)
	}
}

func TestAnalyze_NoRecommendationBelowMinSample(t *testing.T) {
	database := openTestDB(t)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		insertTrade(t, database, idFor(i), "BTCUSDT", "-1", base.Add(time.Duration(i)*time.Minute))
	}

	report, err := Analyze(context.Background(), database, 100)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if len(report.Recommendations) != 0 {
		t.Fatalf("expected no recommendations below the minimum sample size, got %+v", report.Recommendations)
	}
}

func TestAnalyze_FlagsLowWinRateAndNegativeAvgPnLAboveMinSample(t *testing.T) {
	database := openTestDB(t)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 12; i++ {
		insertTrade(t, database, idFor(i), "ETHUSDT", "-1", base.Add(time.Duration(i)*time.Minute))
	}

	report, err := Analyze(context.Background(), database, 100)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if len(report.Recommendations) != 2 {
		t.Fatalf("expected both the low-win-rate and negative-avg-pnl recommendations, got %+v", report.Recommendations)
	}
	for _, rec := range report.Recommendations {
		if rec.Instrument != "ETHUSDT" || rec.SampleSize != 12 {
			t.Fatalf("unexpected recommendation: %+v", rec)
		}
	}
}

func TestAnalyze_EmptyHistoryReturnsEmptyReport(t *testing.T) {
	database := openTestDB(t)

	report, err := Analyze(context.Background(), database, 100)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if len(report.Recommendations) != 0 || len(report.WinRateByInstrument) != 0 {
		t.Fatalf("expected an empty report for an empty database, got %+v", report)
	}
}

func idFor(i int) string {
	return string(rune('a' + i))
}
