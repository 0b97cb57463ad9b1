// Package dedup suppresses repeat signals for the same instrument,
// direction, and approximate price within a short time bucket, so a
// strategy re-evaluating every cycle does not re-enter a trade it just
// took.
package dedup

import (
	"fmt"
	"sync"
	"time"

	"spotcore/internal/strategy"
)

const (
	defaultTTL         = 10 * time.Minute
	defaultRoundDigits = 0
	bucketWidth        = 5 * time.Minute
)

// Deduplicator tracks recently seen signal fingerprints.
type Deduplicator struct {
	mu      sync.Mutex
	ttl     time.Duration
	round   int32
	entries map[string]time.Time
}

// New builds a Deduplicator with the given TTL and price-rounding digits.
// Zero values fall back to the documented defaults (10 minutes, round to
// the quote's integer unit).
func New(ttl time.Duration, roundDigits int32) *Deduplicator {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Deduplicator{ttl: ttl, round: roundDigits, entries: make(map[string]time.Time)}
}

func (d *Deduplicator) fingerprint(sig *strategy.Signal) string {
	price := sig.Entry.Round(d.round)
	bucket := sig.ComputedAt.Truncate(bucketWidth).Unix()
	return fmt.Sprintf("%s|%s|%s|%d", sig.Instrument, sig.Side, price.String(), bucket)
}

// expireLocked drops entries older than ttl. Callers must hold d.mu.
func (d *Deduplicator) expireLocked(now time.Time) {
	for k, seenAt := range d.entries {
		if now.Sub(seenAt) > d.ttl {
			delete(d.entries, k)
		}
	}
}

// IsDuplicate expires stale entries, then reports whether sig's
// fingerprint was already seen. On a miss it inserts the fingerprint and
// returns false.
func (d *Deduplicator) IsDuplicate(sig *strategy.Signal) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	d.expireLocked(now)

	fp := d.fingerprint(sig)
	if _, seen := d.entries[fp]; seen {
		return true
	}
	d.entries[fp] = now
	return false
}

// RegisterExecution refreshes the fingerprint's entry, extending its TTL
// from the moment of actual execution rather than signal generation.
func (d *Deduplicator) RegisterExecution(sig *strategy.Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[d.fingerprint(sig)] = time.Now()
}
