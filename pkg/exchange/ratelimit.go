package exchange

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces the three independent budgets the gateway must
// respect: request weight per minute, orders per second, and orders per
// day. The weight budget is a per-minute counter that is overwritten from
// the exchange-reported used-weight header; the daily budget is a local
// count that resets at the next local midnight; the per-second order budget is a constant-refill
// token bucket, which golang.org/x/time/rate models directly.
type RateLimiter struct {
	mu sync.Mutex

	weightUsed   int
	weightLimit  int
	weightWindow time.Duration
	weightReset  time.Time

	dayUsed  int
	dayLimit int
	dayReset time.Time

	orderLimiter *rate.Limiter // orders per second
}

// NewRateLimiter builds a limiter with the given per-minute request
// weight budget, orders-per-second rate, and orders-per-day cap.
func NewRateLimiter(weightPerMinute int, ordersPerSecond float64, ordersPerDay int) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		weightLimit:  weightPerMinute,
		weightWindow: time.Minute,
		weightReset:  now.Add(time.Minute),
		dayLimit:     ordersPerDay,
		dayReset:     startOfNextDay(now),
		orderLimiter: rate.NewLimiter(rate.Limit(ordersPerSecond), 1),
	}
}

func startOfNextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).Add(24 * time.Hour)
}

// AwaitWeight blocks (sleeping, not spinning) until consuming `weight`
// request-weight units would not exceed the per-minute budget, then
// records the consumption.
func (rl *RateLimiter) AwaitWeight(ctx context.Context, weight int) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		if now.After(rl.weightReset) {
			rl.weightUsed = 0
			rl.weightReset = now.Add(rl.weightWindow)
		}
		if rl.weightLimit == 0 || rl.weightUsed+weight <= rl.weightLimit {
			rl.weightUsed += weight
			rl.mu.Unlock()
			return nil
		}
		sleepUntil := rl.weightReset
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(sleepUntil)):
		}
	}
}

// UpdateWeightUsage overwrites the tracked weight usage from an
// exchange-reported header value, resetting the window if it has
// elapsed. Used after every signed call to stay in sync with the venue's
// own accounting rather than drifting from local estimates alone.
func (rl *RateLimiter) UpdateWeightUsage(used int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	if now.After(rl.weightReset) {
		rl.weightReset = now.Add(rl.weightWindow)
	}
	rl.weightUsed = used
}

// AwaitOrderSlot blocks until the per-second order budget allows one more
// order, then checks the daily cap without waiting: once the cap is
// reached it returns a RateLimited-classified error, matching §4.1 ("Rejection is reserved for the hard daily cap").
func (rl *RateLimiter) AwaitOrderSlot(ctx context.Context) error {
	if err := rl.orderLimiter.Wait(ctx); err != nil {
		return err
	}

	rl.mu.Lock()
	now := time.Now()
	if now.After(rl.dayReset) {
		rl.dayUsed = 0
		rl.dayReset = startOfNextDay(now)
	}
	if rl.dayLimit > 0 && rl.dayUsed >= rl.dayLimit {
		rl.mu.Unlock()
		return New(KindRateLimited, "AwaitOrderSlot", nil)
	}
	rl.dayUsed++
	rl.mu.Unlock()
	return nil
}

// Usage returns current weight usage, its limit, and the daily order
// count, for observability.
func (rl *RateLimiter) Usage() (weightUsed, weightLimit, dayUsed, dayLimit int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.weightUsed, rl.weightLimit, rl.dayUsed, rl.dayLimit
}
