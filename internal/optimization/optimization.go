// Package optimization is the offline advisory agent: it reads closed
// trade history and produces recommendations for a human to review. It
// never writes back into the strategy engine's live weights — nothing in
// the hot trading path imports this package.
package optimization

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"spotcore/pkg/db"
)

// Recommendation is one advisory suggestion, always accompanied by the
// sample it's based on so a reviewer can judge its strength.
type Recommendation struct {
	Instrument string
	Note       string
	SampleSize int
}

// Report is the output of one analysis pass.
type Report struct {
	WinRateByInstrument map[string]float64
	AvgPnLByInstrument  map[string]decimal.Decimal
	Recommendations     []Recommendation
}

const minSampleForRecommendation = 10

// Analyze reads the most recent lookback trades from database and
// produces a Report. It is purely read-only: nothing here mutates live
// strategy state.
func Analyze(ctx context.Context, database *db.Database, lookback int) (Report, error) {
	trades, err := database.RecentTrades(ctx, lookback)
	if err != nil {
		return Report{}, err
	}

	type stats struct {
		wins, total int
		pnlSum      decimal.Decimal
	}
	byInstrument := make(map[string]*stats)

	for _, t := range trades {
		s, ok := byInstrument[t.Instrument]
		if !ok {
			s = &stats{pnlSum: decimal.Zero}
			byInstrument[t.Instrument] = s
		}
		pnl, err := decimal.NewFromString(t.RealizedPnL)
		if err != nil {
			continue
		}
		s.total++
		s.pnlSum = s.pnlSum.Add(pnl)
		if pnl.IsPositive() {
			s.wins++
		}
	}

	report := Report{
		WinRateByInstrument: make(map[string]float64),
		AvgPnLByInstrument:  make(map[string]decimal.Decimal),
	}

	instruments := make([]string, 0, len(byInstrument))
	for inst := range byInstrument {
		instruments = append(instruments, inst)
	}
	sort.Strings(instruments)

	for _, inst := range instruments {
		s := byInstrument[inst]
		winRate := 0.0
		if s.total > 0 {
			winRate = float64(s.wins) / float64(s.total)
		}
		avg := decimal.Zero
		if s.total > 0 {
			avg = s.pnlSum.Div(decimal.NewFromInt(int64(s.total)))
		}
		report.WinRateByInstrument[inst] = winRate
		report.AvgPnLByInstrument[inst] = avg

		if s.total < minSampleForRecommendation {
			continue
		}
		if winRate < 0.35 {
			report.Recommendations = append(report.Recommendations, Recommendation{
				Instrument: inst,
				Note:       "win rate is low; consider raising min_buy_score/min_sell_score for this instrument",
				SampleSize: s.total,
			})
		}
		if avg.IsNegative() {
			report.Recommendations = append(report.Recommendations, Recommendation{
				Instrument: inst,
				Note:       "average realized P&L is negative; consider tightening stop-loss placement",
				SampleSize: s.total,
			})
		}
	}

	return report, nil
}
