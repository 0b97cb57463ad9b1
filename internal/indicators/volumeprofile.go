// Package indicators implements the pure, stateless market-structure
// functions the strategy engine scores against: volume profile, order-book
// imbalance, cumulative volume delta, supply/demand zones, and
// microstructure. None of these hold state beyond a short memoization
// cache; callers own the candle/book/trade data they pass in.
package indicators

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

// VolumeProfile is the landmark set computed from a candle window binned
// by price.
type VolumeProfile struct {
	PriceBins    []decimal.Decimal
	VolumePerBin []decimal.Decimal
	POC          decimal.Decimal // price bin with the most volume
	VAH          decimal.Decimal // value-area high
	VAL          decimal.Decimal // value-area low
	HVNLevels    []decimal.Decimal
	LVNLevels    []decimal.Decimal
}

const defaultValueAreaFraction = 0.70

type volumeProfileCacheKey struct {
	instrument     string
	interval       string
	binCount       int
	lastCandleTime time.Time
}

var (
	volumeProfileCacheMu sync.Mutex
	volumeProfileCache   = make(map[volumeProfileCacheKey]volumeProfileCacheEntry)
)

type volumeProfileCacheEntry struct {
	computedAt time.Time
	profile    VolumeProfile
}

const volumeProfileCacheTTL = 10 * time.Second

// VolumeProfileFor memoizes ComputeVolumeProfile by
// (instrument, interval, bin count, last candle open time) with a short
// TTL, since re-binning an unchanged candle window is wasted work on every
// strategy tick within the same minute.
func VolumeProfileFor(instrument, interval string, candles []exchange.Candle, binCount int) VolumeProfile {
	if len(candles) == 0 {
		return VolumeProfile{}
	}
	key := volumeProfileCacheKey{instrument, interval, binCount, candles[len(candles)-1].OpenTime}

	volumeProfileCacheMu.Lock()
	if entry, ok := volumeProfileCache[key]; ok && time.Since(entry.computedAt) < volumeProfileCacheTTL {
		volumeProfileCacheMu.Unlock()
		return entry.profile
	}
	volumeProfileCacheMu.Unlock()

	profile := ComputeVolumeProfile(candles, binCount)

	volumeProfileCacheMu.Lock()
	volumeProfileCache[key] = volumeProfileCacheEntry{computedAt: time.Now(), profile: profile}
	volumeProfileCacheMu.Unlock()

	return profile
}

// ComputeVolumeProfile bins the given candles' volume by price into
// binCount equal-width bins across the window's [low, high] range, then
// derives POC (highest-volume bin), the value area covering
// defaultValueAreaFraction of total volume expanding outward from POC, and
// HVN/LVN as the top/bottom decile of bins by volume.
func ComputeVolumeProfile(candles []exchange.Candle, binCount int) VolumeProfile {
	if len(candles) == 0 || binCount <= 0 {
		return VolumeProfile{}
	}

	low, high := candles[0].Low, candles[0].High
	for _, c := range candles {
		if c.Low.LessThan(low) {
			low = c.Low
		}
		if c.High.GreaterThan(high) {
			high = c.High
		}
	}
	span := high.Sub(low)
	if span.IsZero() {
		span = decimal.NewFromFloat(0.01)
	}
	binWidth := span.Div(decimal.NewFromInt(int64(binCount)))

	bins := make([]decimal.Decimal, binCount)
	volumes := make([]decimal.Decimal, binCount)
	for i := range bins {
		bins[i] = low.Add(binWidth.Mul(decimal.NewFromInt(int64(i))))
		volumes[i] = decimal.Zero
	}

	for _, c := range candles {
		mid := c.High.Add(c.Low).Div(decimal.NewFromInt(2))
		idx := int(mid.Sub(low).Div(binWidth).IntPart())
		if idx < 0 {
			idx = 0
		}
		if idx >= binCount {
			idx = binCount - 1
		}
		volumes[idx] = volumes[idx].Add(c.Volume)
	}

	pocIdx := 0
	total := decimal.Zero
	for i, v := range volumes {
		total = total.Add(v)
		if v.GreaterThan(volumes[pocIdx]) {
			pocIdx = i
		}
	}

	vahIdx, valIdx := computeValueArea(volumes, pocIdx, total, defaultValueAreaFraction)

	hvn, lvn := hvnLvnLevels(bins, volumes)

	return VolumeProfile{
		PriceBins:    bins,
		VolumePerBin: volumes,
		POC:          bins[pocIdx],
		VAH:          bins[vahIdx],
		VAL:          bins[valIdx],
		HVNLevels:    hvn,
		LVNLevels:    lvn,
	}
}

// computeValueArea expands outward from pocIdx, alternately adding the
// higher-volume neighbor on each side, until the accumulated volume
// reaches fraction of total.
func computeValueArea(volumes []decimal.Decimal, pocIdx int, total decimal.Decimal, fraction float64) (vahIdx, valIdx int) {
	if total.IsZero() {
		return pocIdx, pocIdx
	}
	target := total.Mul(decimal.NewFromFloat(fraction))
	accumulated := volumes[pocIdx]
	lo, hi := pocIdx, pocIdx

	for accumulated.LessThan(target) {
		canExpandDown := lo > 0
		canExpandUp := hi < len(volumes)-1
		if !canExpandDown && !canExpandUp {
			break
		}

		downVol := decimal.Zero
		if canExpandDown {
			downVol = volumes[lo-1]
		}
		upVol := decimal.Zero
		if canExpandUp {
			upVol = volumes[hi+1]
		}

		if canExpandDown && (!canExpandUp || downVol.GreaterThanOrEqual(upVol)) {
			lo--
			accumulated = accumulated.Add(downVol)
		} else {
			hi++
			accumulated = accumulated.Add(upVol)
		}
	}
	return hi, lo
}

// hvnLvnLevels returns the bins in the top and bottom decile of volume.
func hvnLvnLevels(bins, volumes []decimal.Decimal) (hvn, lvn []decimal.Decimal) {
	type binVol struct {
		price  decimal.Decimal
		volume decimal.Decimal
	}
	sorted := make([]binVol, len(bins))
	for i := range bins {
		sorted[i] = binVol{bins[i], volumes[i]}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].volume.GreaterThan(sorted[j].volume) })

	decile := len(sorted) / 10
	if decile == 0 {
		decile = 1
	}
	for i := 0; i < decile && i < len(sorted); i++ {
		hvn = append(hvn, sorted[i].price)
	}
	for i := len(sorted) - decile; i < len(sorted); i++ {
		if i < 0 {
			continue
		}
		lvn = append(lvn, sorted[i].price)
	}
	return hvn, lvn
}
