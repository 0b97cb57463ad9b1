package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spotcore/pkg/exchange"
)

func flatCandle(t time.Time, price float64) exchange.Candle {
	return mkCandle(t, price-0.05, price+0.05, price, 10)
}

func TestDetectZones_DemandZoneOnUpwardImpulse(t *testing.T) {
	base := time.Now()
	var candles []exchange.Candle
	for i := 0; i < 4; i++ {
		candles = append(candles, flatCandle(base.Add(time.Duration(i)*time.Minute), 100))
	}
	price := 100.0
	for i := 4; i < 10; i++ {
		price += 1
		candles = append(candles, flatCandle(base.Add(time.Duration(i)*time.Minute), price))
	}

	zones := DetectZones(candles)
	found := false
	for _, z := range zones {
		if z.Kind == ZoneDemand {
			found = true
			if !z.Fresh || z.Strength != 1.0 {
				t.Fatalf("expected fresh zone at full strength, got %+v", z)
			}
		}
	}
	if !found {
		t.Fatalf("expected a demand zone, got %+v", zones)
	}
}

func TestDetectZones_SupplyZoneOnDownwardImpulse(t *testing.T) {
	base := time.Now()
	var candles []exchange.Candle
	for i := 0; i < 4; i++ {
		candles = append(candles, flatCandle(base.Add(time.Duration(i)*time.Minute), 100))
	}
	price := 100.0
	for i := 4; i < 10; i++ {
		price -= 1
		candles = append(candles, flatCandle(base.Add(time.Duration(i)*time.Minute), price))
	}

	zones := DetectZones(candles)
	found := false
	for _, z := range zones {
		if z.Kind == ZoneSupply {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a supply zone, got %+v", zones)
	}
}

func TestDetectZones_NoZoneWithoutImpulse(t *testing.T) {
	base := time.Now()
	var candles []exchange.Candle
	for i := 0; i < 12; i++ {
		candles = append(candles, flatCandle(base.Add(time.Duration(i)*time.Minute), 100))
	}
	zones := DetectZones(candles)
	if len(zones) != 0 {
		t.Fatalf("expected no zones when price never impulses, got %+v", zones)
	}
}

func TestApplyIntrusions_DecaysStrengthAndClearsFreshness(t *testing.T) {
	zone := Zone{Kind: ZoneDemand, Low: decimal.NewFromFloat(99), High: decimal.NewFromFloat(100), Fresh: true, Strength: 1.0}
	subsequent := []exchange.Candle{
		flatCandle(time.Now(), 99.5), // revisits the zone
	}
	applyIntrusions(&zone, subsequent)
	if zone.Fresh {
		t.Fatalf("expected zone to lose freshness after intrusion")
	}
	if zone.Strength != 0.75 {
		t.Fatalf("expected strength to decay by 0.25, got %v", zone.Strength)
	}
}

func TestApplyIntrusions_StrengthFloorsAtZero(t *testing.T) {
	zone := Zone{Low: decimal.NewFromFloat(99), High: decimal.NewFromFloat(100), Strength: 0.1}
	subsequent := []exchange.Candle{
		flatCandle(time.Now(), 99.5),
		flatCandle(time.Now().Add(time.Minute), 99.5),
	}
	applyIntrusions(&zone, subsequent)
	if zone.Strength != 0 {
		t.Fatalf("expected strength to floor at zero, got %v", zone.Strength)
	}
}
