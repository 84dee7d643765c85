package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

// queueProcessingLease is how long a claimed row stays invisible before
// another worker may reclaim it.
const queueProcessingLease = 2 * time.Minute

const queueColumns = `id, kind, payload, reply_handle, status, attempt_count, next_attempt_at, last_error, created_at, updated_at`

// Enqueue stores evt as pending. A duplicate ID is ignored and reported as
// false.
func (s *Store) Enqueue(ctx context.Context, evt storage.QueuedEvent) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	id := strings.TrimSpace(evt.ID)
	if id == "" {
		return false, fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(evt.Kind) == "" {
		return false, fmt.Errorf("event kind is required")
	}
	createdAt := evt.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	nextAttempt := evt.NextAttemptAt.UTC()
	if nextAttempt.IsZero() {
		nextAttempt = createdAt
	}
	payload := evt.Payload
	if payload == nil {
		payload = []byte{}
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO canvas_event_queue (`+queueColumns+`)
		 VALUES (?, ?, ?, ?, 'pending', 0, ?, '', ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id,
		evt.Kind,
		payload,
		evt.ReplyHandle,
		toMillis(nextAttempt),
		toMillis(createdAt),
		toMillis(createdAt),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue event %s: %w", id, err)
	}
	affected, err := rowsAffected(result, "enqueue event")
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ClaimDue marks up to limit due rows as processing and returns them. Rows
// left in processing longer than the lease are claimable again.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]storage.QueuedEvent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []storage.QueuedEvent{}, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin queue claim tx: %w", err)
	}
	defer tx.Rollback()

	staleBefore := now.Add(-queueProcessingLease)
	rows, err := tx.QueryContext(
		ctx,
		`SELECT `+queueColumns+`
		 FROM canvas_event_queue
		 WHERE (
			 status IN ('pending', 'failed') AND next_attempt_at <= ?
		 ) OR (
			 status = 'processing' AND updated_at <= ?
		 )
		 ORDER BY next_attempt_at, created_at, id
		 LIMIT ?`,
		toMillis(now),
		toMillis(staleBefore),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due queue rows: %w", err)
	}
	candidates, err := scanQueueRows(rows)
	if err != nil {
		return nil, err
	}

	claimed := make([]storage.QueuedEvent, 0, len(candidates))
	for _, candidate := range candidates {
		result, err := tx.ExecContext(
			ctx,
			`UPDATE canvas_event_queue
			 SET status = 'processing', updated_at = ?
			 WHERE id = ?
			   AND (
			   	(status IN ('pending', 'failed') AND next_attempt_at <= ?)
			   	OR (status = 'processing' AND updated_at <= ?)
			   )`,
			toMillis(now),
			candidate.ID,
			toMillis(now),
			toMillis(staleBefore),
		)
		if err != nil {
			return nil, fmt.Errorf("claim queue row %s: %w", candidate.ID, err)
		}
		affected, err := rowsAffected(result, "claim queue row")
		if err != nil {
			return nil, err
		}
		if affected == 1 {
			candidate.Status = storage.QueueProcessing
			candidate.UpdatedAt = now.UTC()
			claimed = append(claimed, candidate)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit queue claim tx: %w", err)
	}
	return claimed, nil
}

// Complete removes a processed row.
func (s *Store) Complete(ctx context.Context, id string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM canvas_event_queue WHERE id = ? AND status = 'processing'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("complete queue row %s: %w", id, err)
	}
	return ensureSingleQueueRow(result, id, "complete queue row", "deleted")
}

// Retry schedules a processing row for redelivery at nextAttempt.
func (s *Store) Retry(ctx context.Context, id string, attempt int, nextAttempt time.Time, lastError string, now time.Time) error {
	return s.release(ctx, id, storage.QueueFailed, attempt, nextAttempt, lastError, now)
}

// DeadLetter parks a processing row with its payload untouched.
func (s *Store) DeadLetter(ctx context.Context, id string, attempt int, lastError string, now time.Time) error {
	return s.release(ctx, id, storage.QueueDead, attempt, now, lastError, now)
}

func (s *Store) release(ctx context.Context, id string, status storage.QueueStatus, attempt int, nextAttempt time.Time, lastError string, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE canvas_event_queue
		 SET status = ?,
		     attempt_count = ?,
		     next_attempt_at = ?,
		     last_error = ?,
		     updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		string(status),
		attempt,
		toMillis(nextAttempt),
		lastError,
		toMillis(now),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark queue row %s %s: %w", id, status, err)
	}
	return ensureSingleQueueRow(result, id, "mark queue row "+string(status), "updated")
}

func ensureSingleQueueRow(result sql.Result, id, operation, verb string) error {
	affected, err := rowsAffected(result, operation)
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("%s %s: expected 1 row %s, got %d", operation, id, verb, affected)
	}
	return nil
}

// Summary returns queue depth by status and the oldest retry-eligible row.
func (s *Store) Summary(ctx context.Context) (storage.QueueSummary, error) {
	if err := s.ready(ctx); err != nil {
		return storage.QueueSummary{}, err
	}

	summary := storage.QueueSummary{}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT status, COUNT(*)
		 FROM canvas_event_queue
		 GROUP BY status`,
	)
	if err != nil {
		return storage.QueueSummary{}, fmt.Errorf("query queue summary counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return storage.QueueSummary{}, fmt.Errorf("scan queue summary count: %w", err)
		}
		switch storage.QueueStatus(status) {
		case storage.QueuePending:
			summary.PendingCount = count
		case storage.QueueProcessing:
			summary.ProcessingCount = count
		case storage.QueueFailed:
			summary.FailedCount = count
		case storage.QueueDead:
			summary.DeadCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return storage.QueueSummary{}, fmt.Errorf("iterate queue summary counts: %w", err)
	}

	var (
		id          string
		nextAttempt int64
	)
	err = s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, next_attempt_at
		 FROM canvas_event_queue
		 WHERE status IN ('pending', 'failed')
		 ORDER BY next_attempt_at ASC, created_at ASC
		 LIMIT 1`,
	).Scan(&id, &nextAttempt)
	if err == nil {
		summary.OldestPendingID = id
		summary.OldestPendingAt = fromMillis(nextAttempt)
		return summary, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return summary, nil
	}
	return storage.QueueSummary{}, fmt.Errorf("query oldest pending queue row: %w", err)
}

// List returns queue rows, optionally filtered by status, in retry order.
func (s *Store) List(ctx context.Context, status storage.QueueStatus, limit int) ([]storage.QueuedEvent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []storage.QueuedEvent{}, nil
	}
	normalized, err := storage.ParseQueueStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if normalized == "" {
		rows, err = s.sqlDB.QueryContext(
			ctx,
			`SELECT `+queueColumns+`
			 FROM canvas_event_queue
			 ORDER BY next_attempt_at ASC, created_at ASC
			 LIMIT ?`,
			limit,
		)
	} else {
		rows, err = s.sqlDB.QueryContext(
			ctx,
			`SELECT `+queueColumns+`
			 FROM canvas_event_queue
			 WHERE status = ?
			 ORDER BY next_attempt_at ASC, created_at ASC
			 LIMIT ?`,
			string(normalized),
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue rows: %w", err)
	}
	return scanQueueRows(rows)
}

// Get returns one queue row.
func (s *Store) Get(ctx context.Context, id string) (storage.QueuedEvent, bool, error) {
	if err := s.ready(ctx); err != nil {
		return storage.QueuedEvent{}, false, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+queueColumns+` FROM canvas_event_queue WHERE id = ?`, id)
	if err != nil {
		return storage.QueuedEvent{}, false, fmt.Errorf("get queue row %s: %w", id, err)
	}
	found, err := scanQueueRows(rows)
	if err != nil {
		return storage.QueuedEvent{}, false, err
	}
	if len(found) == 0 {
		return storage.QueuedEvent{}, false, nil
	}
	return found[0], true, nil
}

// Requeue moves one dead row back to pending with a fresh attempt budget.
func (s *Store) Requeue(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("event id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE canvas_event_queue
		 SET status = 'pending',
		     attempt_count = 0,
		     next_attempt_at = ?,
		     last_error = '',
		     updated_at = ?
		 WHERE id = ? AND status = 'dead'`,
		toMillis(now),
		toMillis(now),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("requeue dead queue row %s: %w", id, err)
	}
	affected, err := rowsAffected(result, "requeue dead queue row")
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// RequeueDead moves up to limit dead rows back to pending, oldest first.
func (s *Store) RequeueDead(ctx context.Context, limit int, now time.Time) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, fmt.Errorf("queue requeue limit must be greater than zero")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`WITH to_requeue AS (
			SELECT id
			FROM canvas_event_queue
			WHERE status = 'dead'
			ORDER BY next_attempt_at ASC, created_at ASC
			LIMIT ?
		)
		UPDATE canvas_event_queue
		SET status = 'pending',
		    attempt_count = 0,
		    next_attempt_at = ?,
		    last_error = '',
		    updated_at = ?
		WHERE status = 'dead'
		  AND EXISTS (
			  SELECT 1
			  FROM to_requeue
			  WHERE to_requeue.id = canvas_event_queue.id
		  )`,
		limit,
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue dead queue rows: %w", err)
	}
	affected, err := rowsAffected(result, "requeue dead queue rows")
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func scanQueueRows(rows *sql.Rows) ([]storage.QueuedEvent, error) {
	defer rows.Close()
	var events []storage.QueuedEvent
	for rows.Next() {
		var (
			evt                               storage.QueuedEvent
			status                            string
			nextAttempt, createdAt, updatedAt int64
		)
		if err := rows.Scan(
			&evt.ID,
			&evt.Kind,
			&evt.Payload,
			&evt.ReplyHandle,
			&status,
			&evt.AttemptCount,
			&nextAttempt,
			&evt.LastError,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		evt.Status = storage.QueueStatus(status)
		evt.NextAttemptAt = fromMillis(nextAttempt)
		evt.CreatedAt = fromMillis(createdAt)
		evt.UpdatedAt = fromMillis(updatedAt)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue rows: %w", err)
	}
	return events, nil
}

var _ storage.EventQueue = (*Store)(nil)
