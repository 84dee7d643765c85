// Package postgres provides a PostgreSQL-backed rate counter store for
// deployments that share counters across worker hosts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS canvas_rate_counters (
    owner_id TEXT NOT NULL,
    window_index BIGINT NOT NULL,
    count INTEGER NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    PRIMARY KEY (owner_id, window_index)
);
CREATE INDEX IF NOT EXISTS idx_canvas_rate_counters_expires_at
    ON canvas_rate_counters (expires_at);
`

// CounterStore persists rate counters in PostgreSQL.
type CounterStore struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn and ensures the counter table exists.
func Connect(ctx context.Context, dsn string) (*CounterStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	store := &CounterStore{pool: pool}
	if err := store.Ready(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure counter schema: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (s *CounterStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Ready checks that the database answers.
func (s *CounterStore) Ready(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "select 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// UpdateCounter reads the counter, applies mutate, and writes it back with a
// version check. Losing a race reports storage.ErrCounterConflict.
func (s *CounterStore) UpdateCounter(ctx context.Context, key storage.CounterKey, mutate storage.CounterMutation) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres counter store is not configured")
	}
	if mutate == nil {
		return fmt.Errorf("counter mutation is required")
	}

	current, found, err := s.GetCounter(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		current = storage.RateCounter{Key: key}
	}
	next, write, err := mutate(current, found)
	if err != nil || !write {
		return err
	}

	var tag pgconn.CommandTag
	if !found {
		tag, err = s.pool.Exec(
			ctx,
			`INSERT INTO canvas_rate_counters (owner_id, window_index, count, expires_at, version)
			 VALUES ($1, $2, $3, $4, 1)
			 ON CONFLICT (owner_id, window_index) DO NOTHING`,
			key.OwnerID,
			key.WindowIndex,
			next.Count,
			next.ExpiresAt.UTC(),
		)
	} else {
		tag, err = s.pool.Exec(
			ctx,
			`UPDATE canvas_rate_counters
			 SET count = $1, expires_at = $2, version = version + 1
			 WHERE owner_id = $3 AND window_index = $4 AND version = $5`,
			next.Count,
			next.ExpiresAt.UTC(),
			key.OwnerID,
			key.WindowIndex,
			current.Version,
		)
	}
	if err != nil {
		if isSerializationFailure(err) {
			return storage.ErrCounterConflict
		}
		return fmt.Errorf("write rate counter %s: %w", key, err)
	}
	if tag.RowsAffected() != 1 {
		return storage.ErrCounterConflict
	}
	return nil
}

// GetCounter returns one stored counter.
func (s *CounterStore) GetCounter(ctx context.Context, key storage.CounterKey) (storage.RateCounter, bool, error) {
	counter := storage.RateCounter{Key: key}
	var expiresAt time.Time
	err := s.pool.QueryRow(
		ctx,
		`SELECT count, expires_at, version FROM canvas_rate_counters
		 WHERE owner_id = $1 AND window_index = $2`,
		key.OwnerID,
		key.WindowIndex,
	).Scan(&counter.Count, &expiresAt, &counter.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.RateCounter{}, false, nil
	}
	if err != nil {
		return storage.RateCounter{}, false, fmt.Errorf("get rate counter %s: %w", key, err)
	}
	counter.ExpiresAt = expiresAt.UTC()
	return counter, true, nil
}

// PurgeExpiredCounters deletes counters that expired at or before now.
func (s *CounterStore) PurgeExpiredCounters(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM canvas_rate_counters WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

var _ storage.CounterStore = (*CounterStore)(nil)
