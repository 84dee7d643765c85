package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

func incrementCounter(expiresAt time.Time) storage.CounterMutation {
	return func(current storage.RateCounter, found bool) (storage.RateCounter, bool, error) {
		if !found {
			return storage.RateCounter{Key: current.Key, Count: 1, ExpiresAt: expiresAt}, true, nil
		}
		current.Count++
		return current, true, nil
	}
}

func TestUpdateCounterCreatesAndIncrements(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := storage.CounterKey{OwnerID: "u1", WindowIndex: 100}
	expires := testNow.Add(2 * time.Minute)

	for i := 0; i < 3; i++ {
		if err := store.UpdateCounter(ctx, key, incrementCounter(expires)); err != nil {
			t.Fatalf("update counter %d: %v", i, err)
		}
	}
	counter, found, err := store.GetCounter(ctx, key)
	if err != nil || !found {
		t.Fatalf("get counter: found=%v err=%v", found, err)
	}
	if counter.Count != 3 || counter.Version != 3 || !counter.ExpiresAt.Equal(expires) {
		t.Fatalf("counter = %+v", counter)
	}
}

func TestUpdateCounterSkipsWhenMutationDeclines(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := storage.CounterKey{OwnerID: "u1", WindowIndex: 1}

	err := store.UpdateCounter(ctx, key, func(current storage.RateCounter, found bool) (storage.RateCounter, bool, error) {
		return current, false, nil
	})
	if err != nil {
		t.Fatalf("update counter: %v", err)
	}
	if _, found, _ := store.GetCounter(ctx, key); found {
		t.Fatal("expected no counter to be written")
	}
}

func TestUpdateCounterReportsConcurrentWriter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := storage.CounterKey{OwnerID: "u1", WindowIndex: 7}
	expires := testNow.Add(2 * time.Minute)

	err := store.UpdateCounter(ctx, key, func(current storage.RateCounter, found bool) (storage.RateCounter, bool, error) {
		// Another writer inserts the same window first.
		if err := store.UpdateCounter(ctx, key, incrementCounter(expires)); err != nil {
			t.Fatalf("inner update: %v", err)
		}
		return storage.RateCounter{Key: key, Count: 1, ExpiresAt: expires}, true, nil
	})
	if !errors.Is(err, storage.ErrCounterConflict) {
		t.Fatalf("insert race err = %v, want ErrCounterConflict", err)
	}

	err = store.UpdateCounter(ctx, key, func(current storage.RateCounter, found bool) (storage.RateCounter, bool, error) {
		if err := store.UpdateCounter(ctx, key, incrementCounter(expires)); err != nil {
			t.Fatalf("inner update: %v", err)
		}
		current.Count++
		return current, true, nil
	})
	if !errors.Is(err, storage.ErrCounterConflict) {
		t.Fatalf("update race err = %v, want ErrCounterConflict", err)
	}
	counter, _, err := store.GetCounter(ctx, key)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if counter.Count != 2 {
		t.Fatalf("count = %d, want 2", counter.Count)
	}
}

func TestUpdateCounterPropagatesMutationError(t *testing.T) {
	store := openTestStore(t)
	boom := errors.New("boom")

	err := store.UpdateCounter(context.Background(), storage.CounterKey{OwnerID: "u"}, func(storage.RateCounter, bool) (storage.RateCounter, bool, error) {
		return storage.RateCounter{}, false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestPurgeExpiredCounters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := storage.CounterKey{OwnerID: "u1", WindowIndex: 1}
	fresh := storage.CounterKey{OwnerID: "u1", WindowIndex: 2}
	if err := store.UpdateCounter(ctx, old, incrementCounter(testNow.Add(-time.Minute))); err != nil {
		t.Fatalf("seed old: %v", err)
	}
	if err := store.UpdateCounter(ctx, fresh, incrementCounter(testNow.Add(time.Minute))); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}

	purged, err := store.PurgeExpiredCounters(ctx, testNow)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if _, found, _ := store.GetCounter(ctx, old); found {
		t.Fatal("expected expired counter to be purged")
	}
	if _, found, _ := store.GetCounter(ctx, fresh); !found {
		t.Fatal("expected fresh counter to remain")
	}
}
