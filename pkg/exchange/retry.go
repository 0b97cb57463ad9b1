package exchange

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds the exponential-backoff-with-jitter retry loop used
// for TransportTransient errors, per §4.1/§7.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the teacher's conservative default: a
// handful of attempts, capped backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Do runs fn, retrying on errors classified KindTransportTransient or
// KindClockSkew (a single-shot retry after the caller's resync hook
// runs), stopping immediately on any other error kind. It also consults
// breaker (which may be nil) so an open breaker fails fast without
// spending a retry budget.
func (p RetryPolicy) Do(ctx context.Context, breaker *CircuitBreaker, onClockSkew func(context.Context) error, fn func(ctx context.Context) error) error {
	var lastErr error
	resyncedOnce := false

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if breaker != nil && !breaker.Allow() {
			return New(KindTransportTransient, "RetryPolicy.Do", ctx.Err())
		}

		err := fn(ctx)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return nil
		}
		lastErr = err

		if IsKind(err, KindClockSkew) && !resyncedOnce && onClockSkew != nil {
			resyncedOnce = true
			if syncErr := onClockSkew(ctx); syncErr != nil {
				return syncErr
			}
			continue // retry without a backoff sleep; this still uses one attempt
		}

		if !IsKind(err, KindTransportTransient) {
			if breaker != nil {
				breaker.RecordFailure()
			}
			return err
		}

		if breaker != nil {
			breaker.RecordFailure()
		}

		delay := p.backoff(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<uint(attempt))
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}
