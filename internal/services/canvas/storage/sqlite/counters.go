package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

// UpdateCounter applies mutate to one rate counter with a version check.
// Losing a concurrent insert or update reports storage.ErrCounterConflict.
func (s *Store) UpdateCounter(ctx context.Context, key storage.CounterKey, mutate storage.CounterMutation) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if mutate == nil {
		return fmt.Errorf("counter mutation is required")
	}

	var (
		current   = storage.RateCounter{Key: key}
		expiresAt int64
		found     = true
	)
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT count, expires_at, version FROM canvas_rate_counters
		 WHERE owner_id = ? AND window_index = ?`,
		key.OwnerID,
		key.WindowIndex,
	).Scan(&current.Count, &expiresAt, &current.Version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		found = false
		current = storage.RateCounter{Key: key}
	case err != nil:
		if isSQLiteBusyError(err) {
			return storage.ErrCounterConflict
		}
		return fmt.Errorf("read rate counter %s: %w", key, err)
	default:
		current.ExpiresAt = fromMillis(expiresAt)
	}

	next, write, err := mutate(current, found)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}

	if !found {
		_, err := s.sqlDB.ExecContext(
			ctx,
			`INSERT INTO canvas_rate_counters (owner_id, window_index, count, expires_at, version)
			 VALUES (?, ?, ?, ?, 1)`,
			key.OwnerID,
			key.WindowIndex,
			next.Count,
			toMillis(next.ExpiresAt),
		)
		if err != nil {
			if isUniqueViolation(err) || isSQLiteBusyError(err) {
				return storage.ErrCounterConflict
			}
			return fmt.Errorf("insert rate counter %s: %w", key, err)
		}
		return nil
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE canvas_rate_counters
		 SET count = ?, expires_at = ?, version = version + 1
		 WHERE owner_id = ? AND window_index = ? AND version = ?`,
		next.Count,
		toMillis(next.ExpiresAt),
		key.OwnerID,
		key.WindowIndex,
		current.Version,
	)
	if err != nil {
		if isSQLiteBusyError(err) {
			return storage.ErrCounterConflict
		}
		return fmt.Errorf("update rate counter %s: %w", key, err)
	}
	affected, err := rowsAffected(result, "update rate counter")
	if err != nil {
		return err
	}
	if affected != 1 {
		return storage.ErrCounterConflict
	}
	return nil
}

// GetCounter returns one stored counter.
func (s *Store) GetCounter(ctx context.Context, key storage.CounterKey) (storage.RateCounter, bool, error) {
	if err := s.ready(ctx); err != nil {
		return storage.RateCounter{}, false, err
	}
	counter := storage.RateCounter{Key: key}
	var expiresAt int64
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT count, expires_at, version FROM canvas_rate_counters
		 WHERE owner_id = ? AND window_index = ?`,
		key.OwnerID,
		key.WindowIndex,
	).Scan(&counter.Count, &expiresAt, &counter.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RateCounter{}, false, nil
	}
	if err != nil {
		return storage.RateCounter{}, false, fmt.Errorf("get rate counter %s: %w", key, err)
	}
	counter.ExpiresAt = fromMillis(expiresAt)
	return counter, true, nil
}

// PurgeExpiredCounters deletes counters that expired at or before now.
func (s *Store) PurgeExpiredCounters(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM canvas_rate_counters WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("purge expired counters: %w", err)
	}
	return rowsAffected(result, "purge expired counters")
}

var _ storage.CounterStore = (*Store)(nil)
