package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

// RecordAttempt appends one delivery outcome.
func (s *Store) RecordAttempt(ctx context.Context, attempt storage.AttemptRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(attempt.EventID) == "" {
		return fmt.Errorf("event id is required")
	}
	createdAt := attempt.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO canvas_attempts (event_id, event_kind, consumer, outcome, attempt_count, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.EventID,
		attempt.EventKind,
		attempt.Consumer,
		attempt.Outcome,
		attempt.AttemptCount,
		attempt.LastError,
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("record attempt for %s: %w", attempt.EventID, err)
	}
	return nil
}

// ListAttempts returns the newest attempts first.
func (s *Store) ListAttempts(ctx context.Context, limit int) ([]storage.AttemptRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []storage.AttemptRecord{}, nil
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, event_id, event_kind, consumer, outcome, attempt_count, last_error, created_at
		 FROM canvas_attempts
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]storage.AttemptRecord, 0, limit)
	for rows.Next() {
		var (
			record    storage.AttemptRecord
			createdAt int64
		)
		if err := rows.Scan(
			&record.ID,
			&record.EventID,
			&record.EventKind,
			&record.Consumer,
			&record.Outcome,
			&record.AttemptCount,
			&record.LastError,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		attempts = append(attempts, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

var _ storage.AttemptStore = (*Store)(nil)
