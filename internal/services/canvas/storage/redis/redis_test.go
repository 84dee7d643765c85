package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

func TestParseCounter(t *testing.T) {
	key := storage.CounterKey{OwnerID: "u1", WindowIndex: 9}

	if _, found, err := parseCounter(key, nil); err != nil || found {
		t.Fatalf("empty hash: found=%v err=%v", found, err)
	}

	counter, found, err := parseCounter(key, map[string]string{"count": "4", "version": "3", "expires_at": "1772366520000"})
	if err != nil || !found {
		t.Fatalf("parse: found=%v err=%v", found, err)
	}
	if counter.Count != 4 || counter.Version != 3 || counter.Key != key {
		t.Fatalf("counter = %+v", counter)
	}
	if want := time.UnixMilli(1772366520000).UTC(); !counter.ExpiresAt.Equal(want) {
		t.Fatalf("expires = %v, want %v", counter.ExpiresAt, want)
	}

	if _, _, err := parseCounter(key, map[string]string{"count": "x", "version": "1"}); err == nil {
		t.Fatal("expected error for bad count")
	}
	if _, _, err := parseCounter(key, map[string]string{"count": "1", "version": ""}); err == nil {
		t.Fatal("expected error for bad version")
	}
}

func TestNewPixelUpdate(t *testing.T) {
	pixel := storage.Pixel{
		X:         5,
		Y:         7,
		Color:     "FF0000",
		OwnerID:   "u1",
		OwnerName: "ana",
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(NewPixelUpdate(pixel))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"pixel_update","x":5,"y":7,"color":"FF0000","userId":"u1","username":"ana","timestamp":"2026-03-01T12:00:00Z"}`
	if string(data) != want {
		t.Fatalf("update = %s, want %s", data, want)
	}
}

func TestNewClientRequiresAddr(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestNilStoresAreNotConfigured(t *testing.T) {
	var store *CounterStore
	if err := store.UpdateCounter(context.Background(), storage.CounterKey{}, nil); err == nil {
		t.Fatal("expected error from nil counter store")
	}
	var publisher *Publisher
	if err := publisher.PublishPixel(context.Background(), storage.Pixel{}); err == nil {
		t.Fatal("expected error from nil publisher")
	}
}

func openTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("PIXELWALL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PIXELWALL_TEST_REDIS_ADDR not set")
	}
	client, err := NewClient(context.Background(), Config{Addr: addr})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Fatalf("close client: %v", err)
		}
	})
	return client
}

func TestCounterStoreAgainstRedis(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()
	store := NewCounterStore(client, fmt.Sprintf("pixelwall:test:%d:", time.Now().UnixNano()))
	key := storage.CounterKey{OwnerID: "u1", WindowIndex: 1}
	expires := time.Now().Add(2 * time.Minute)

	increment := func(current storage.RateCounter, found bool) (storage.RateCounter, bool, error) {
		if !found {
			return storage.RateCounter{Key: key, Count: 1, ExpiresAt: expires}, true, nil
		}
		current.Count++
		return current, true, nil
	}
	for i := 0; i < 3; i++ {
		if err := store.UpdateCounter(ctx, key, increment); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	counter, found, err := store.GetCounter(ctx, key)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if counter.Count != 3 || counter.Version != 3 {
		t.Fatalf("counter = %+v", counter)
	}

	err = store.UpdateCounter(ctx, key, func(current storage.RateCounter, found bool) (storage.RateCounter, bool, error) {
		if err := store.UpdateCounter(ctx, key, increment); err != nil {
			t.Fatalf("inner update: %v", err)
		}
		current.Count++
		return current, true, nil
	})
	if !errors.Is(err, storage.ErrCounterConflict) {
		t.Fatalf("err = %v, want ErrCounterConflict", err)
	}
	if err := client.Del(ctx, store.key(key)).Err(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}

func TestPublisherAgainstRedis(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()
	channel := fmt.Sprintf("pixelwall-test-%d", time.Now().UnixNano())

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publisher := NewPublisher(client, channel)
	if err := publisher.PublishPixel(ctx, storage.Pixel{X: 1, Y: 2, Color: "00FF00", OwnerID: "u1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var update PixelUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if update.X != 1 || update.Y != 2 || update.Color != "00FF00" {
			t.Fatalf("update = %+v", update)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pixel update")
	}
}
