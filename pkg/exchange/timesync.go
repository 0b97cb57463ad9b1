package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TimeSync tracks the clock offset against an exchange's server time.
// The offset is a gateway-local fact: callers must never treat it as a
// correction to the process's own system clock.
type TimeSync struct {
	mu          sync.RWMutex
	offset      time.Duration
	lastSync    time.Time
	staleAfter  time.Duration
	fetchServer func(ctx context.Context) (time.Time, error)
}

// NewTimeSync builds a TimeSync that re-syncs when the offset is older
// than staleAfter.
func NewTimeSync(staleAfter time.Duration, fetchServer func(ctx context.Context) (time.Time, error)) *TimeSync {
	return &TimeSync{staleAfter: staleAfter, fetchServer: fetchServer}
}

// Sync samples the server clock once, assuming symmetric network latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	before := time.Now()
	server, err := ts.fetchServer(ctx)
	if err != nil {
		return New(KindTransportTransient, "TimeSync.Sync", err)
	}
	after := time.Now()

	latency := after.Sub(before) / 2
	localAtSample := before.Add(latency)

	ts.mu.Lock()
	ts.offset = server.Sub(localAtSample)
	ts.lastSync = after
	ts.mu.Unlock()

	log.Debug().Dur("offset", ts.offset).Msg("exchange time sync complete")
	return nil
}

// SyncIfStale re-syncs only if the last sync is older than staleAfter, or
// there has never been one.
func (ts *TimeSync) SyncIfStale(ctx context.Context) error {
	ts.mu.RLock()
	stale := ts.lastSync.IsZero() || time.Since(ts.lastSync) > ts.staleAfter
	ts.mu.RUnlock()
	if !stale {
		return nil
	}
	return ts.Sync(ctx)
}

// Now returns the local clock adjusted by the tracked offset — the value
// signed requests must use as their timestamp.
func (ts *TimeSync) Now() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().Add(ts.offset)
}

// Offset returns the current offset, for observability only.
func (ts *TimeSync) Offset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
