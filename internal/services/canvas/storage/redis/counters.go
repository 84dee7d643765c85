package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
	"github.com/redis/go-redis/v9"
)

const defaultCounterPrefix = "pixelwall:rate:"

// CounterStore keeps rate counters as Redis hashes guarded by WATCH.
// Expired windows are removed by key expiry.
type CounterStore struct {
	client *Client
	prefix string
}

// NewCounterStore builds a counter store. An empty prefix uses the default.
func NewCounterStore(client *Client, prefix string) *CounterStore {
	if prefix == "" {
		prefix = defaultCounterPrefix
	}
	return &CounterStore{client: client, prefix: prefix}
}

func (s *CounterStore) key(key storage.CounterKey) string {
	return s.prefix + key.String()
}

// UpdateCounter runs mutate inside a WATCH/MULTI transaction. A concurrent
// write to the same key reports storage.ErrCounterConflict.
func (s *CounterStore) UpdateCounter(ctx context.Context, key storage.CounterKey, mutate storage.CounterMutation) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis counter store is not configured")
	}
	if mutate == nil {
		return fmt.Errorf("counter mutation is required")
	}
	redisKey := s.key(key)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, redisKey).Result()
		if err != nil {
			return fmt.Errorf("read rate counter %s: %w", key, err)
		}
		current, found, err := parseCounter(key, values)
		if err != nil {
			return err
		}

		next, write, err := mutate(current, found)
		if err != nil || !write {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey,
				"count", next.Count,
				"expires_at", next.ExpiresAt.UTC().UnixMilli(),
				"version", current.Version+1,
			)
			pipe.ExpireAt(ctx, redisKey, next.ExpiresAt)
			return nil
		})
		return err
	}, redisKey)
	if errors.Is(err, redis.TxFailedErr) {
		return storage.ErrCounterConflict
	}
	return err
}

// GetCounter returns one stored counter.
func (s *CounterStore) GetCounter(ctx context.Context, key storage.CounterKey) (storage.RateCounter, bool, error) {
	if s == nil || s.client == nil {
		return storage.RateCounter{}, false, fmt.Errorf("redis counter store is not configured")
	}
	values, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return storage.RateCounter{}, false, fmt.Errorf("get rate counter %s: %w", key, err)
	}
	return parseCounter(key, values)
}

func parseCounter(key storage.CounterKey, values map[string]string) (storage.RateCounter, bool, error) {
	counter := storage.RateCounter{Key: key}
	if len(values) == 0 {
		return counter, false, nil
	}
	count, err := strconv.Atoi(values["count"])
	if err != nil {
		return storage.RateCounter{}, false, fmt.Errorf("parse rate counter %s count: %w", key, err)
	}
	version, err := strconv.ParseInt(values["version"], 10, 64)
	if err != nil {
		return storage.RateCounter{}, false, fmt.Errorf("parse rate counter %s version: %w", key, err)
	}
	if raw := values["expires_at"]; raw != "" {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return storage.RateCounter{}, false, fmt.Errorf("parse rate counter %s expiry: %w", key, err)
		}
		counter.ExpiresAt = time.UnixMilli(millis).UTC()
	}
	counter.Count = count
	counter.Version = version
	return counter, true, nil
}

var _ storage.CounterStore = (*CounterStore)(nil)
