package exchange

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeSync_SyncComputesOffsetFromServerTime(t *testing.T) {
	serverAhead := 30 * time.Second
	ts := NewTimeSync(time.Minute, func(ctx context.Context) (time.Time, error) {
		return time.Now().Add(serverAhead), nil
	})

	if err := ts.Sync(context.Background()); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	offset := ts.Offset()
	diff := offset - serverAhead
	if diff < 0 {
		diff = -diff
	}
	if diff > 500*time.Millisecond {
		t.Fatalf("expected computed offset close to %v, got %v", serverAhead, offset)
	}
}

func TestTimeSync_SyncPropagatesFetchError(t *testing.T) {
	fetchErr := errors.New("network down")
	ts := NewTimeSync(time.Minute, func(ctx context.Context) (time.Time, error) {
		return time.Time{}, fetchErr
	})

	err := ts.Sync(context.Background())
	if !IsKind(err, KindTransportTransient) {
		t.Fatalf("expected a KindTransportTransient error, got %v", err)
	}
}

func TestTimeSync_SyncIfStaleSkipsWhenFresh(t *testing.T) {
	calls := 0
	ts := NewTimeSync(time.Hour, func(ctx context.Context) (time.Time, error) {
		calls++
		return time.Now(), nil
	})

	if err := ts.SyncIfStale(context.Background()); err != nil {
		t.Fatalf("first SyncIfStale returned error: %v", err)
	}
	if err := ts.SyncIfStale(context.Background()); err != nil {
		t.Fatalf("second SyncIfStale returned error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected SyncIfStale to skip a fresh sync, got %d fetch calls", calls)
	}
}

func TestTimeSync_SyncIfStaleResyncsWhenExpired(t *testing.T) {
	calls := 0
	ts := NewTimeSync(10*time.Millisecond, func(ctx context.Context) (time.Time, error) {
		calls++
		return time.Now(), nil
	})

	if err := ts.SyncIfStale(context.Background()); err != nil {
		t.Fatalf("first SyncIfStale returned error: %v", err)
	}
	time.Sleep(15 * time.Millisecond)
	if err := ts.SyncIfStale(context.Background()); err != nil {
		t.Fatalf("second SyncIfStale returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected SyncIfStale to resync once stale, got %d fetch calls", calls)
	}
}

func TestTimeSync_NowAppliesOffset(t *testing.T) {
	ts := NewTimeSync(time.Minute, func(ctx context.Context) (time.Time, error) {
		return time.Now().Add(time.Hour), nil
	})
	_ = ts.Sync(context.Background())

	if ts.Now().Sub(time.Now()) < 30*time.Minute {
		t.Fatalf("expected Now() to reflect the synced offset")
	}
}
