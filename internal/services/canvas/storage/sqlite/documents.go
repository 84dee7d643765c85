package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/domain"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

// errVersionConflict marks a write whose optimistic version check failed.
var errVersionConflict = errors.New("record version changed")

const sessionColumns = `state, width, height, started_at, paused_at, resumed_at, reset_at, ended_at, pixels_cleared, created_by`

// RunTx runs fn inside a transaction and commits its write set. The whole
// function is retried when SQLite is busy, a version check fails, or a
// concurrent insert wins a unique key.
func (s *Store) RunTx(ctx context.Context, fn storage.TxFunc) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("transaction function is required")
	}
	var lastConflict error
	for attempt := 0; attempt < s.txAttempts; attempt++ {
		if attempt > 0 {
			if err := s.waitForRetry(ctx, attempt); err != nil {
				return err
			}
		}
		retry, err := s.runTxOnce(ctx, fn)
		if !retry {
			return err
		}
		lastConflict = err
	}
	return fmt.Errorf("document transaction after %d attempts: %w: %w", s.txAttempts, domain.ErrConflictRetryExhausted, lastConflict)
}

func (s *Store) waitForRetry(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt) * s.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Store) runTxOnce(ctx context.Context, fn storage.TxFunc) (bool, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		if isSQLiteBusyError(err) {
			return true, err
		}
		return false, fmt.Errorf("begin document tx: %w", err)
	}
	defer tx.Rollback()

	writes, err := fn(ctx, txReader{q: tx})
	if err != nil {
		return isSQLiteBusyError(err), err
	}
	if writes.Empty() {
		return false, nil
	}
	if err := applyWrites(ctx, tx, &writes); err != nil {
		if isSQLiteBusyError(err) || errors.Is(err, errVersionConflict) || isUniqueViolation(err) {
			return true, err
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		if isSQLiteBusyError(err) {
			return true, err
		}
		return false, fmt.Errorf("commit document tx: %w", err)
	}
	return false, nil
}

func applyWrites(ctx context.Context, tx *sql.Tx, writes *storage.WriteSet) error {
	for _, pixel := range writes.Pixels {
		if err := upsertPixel(ctx, tx, pixel); err != nil {
			return err
		}
	}
	for _, stat := range writes.UserStats {
		if err := writeUserStat(ctx, tx, stat); err != nil {
			return err
		}
	}
	if writes.DeleteSession != nil {
		if err := deleteSession(ctx, tx, *writes.DeleteSession); err != nil {
			return err
		}
	}
	if writes.Session != nil {
		if err := writeSession(ctx, tx, *writes.Session, writes.OverwriteSession); err != nil {
			return err
		}
	}
	if writes.Archive != nil {
		if err := insertArchive(ctx, tx, writes.Archive); err != nil {
			return err
		}
	}
	return nil
}

func upsertPixel(ctx context.Context, q queryer, pixel storage.Pixel) error {
	_, err := q.ExecContext(
		ctx,
		`INSERT INTO canvas_pixels (x, y, color, owner_id, owner_name, source, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(x, y) DO UPDATE SET
		   color = excluded.color,
		   owner_id = excluded.owner_id,
		   owner_name = excluded.owner_name,
		   source = excluded.source,
		   updated_at = excluded.updated_at`,
		pixel.X,
		pixel.Y,
		pixel.Color,
		pixel.OwnerID,
		pixel.OwnerName,
		pixel.Source,
		toMillis(pixel.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert pixel (%d,%d): %w", pixel.X, pixel.Y, err)
	}
	return nil
}

func writeUserStat(ctx context.Context, q queryer, stat storage.UserStat) error {
	if stat.Version == 0 {
		_, err := q.ExecContext(
			ctx,
			`INSERT INTO canvas_user_stats (owner_id, display_name, pixel_count, last_pixel_at, created_at, version)
			 VALUES (?, ?, ?, ?, ?, 1)`,
			stat.OwnerID,
			stat.DisplayName,
			stat.PixelCount,
			toMillis(stat.LastPixelAt),
			toMillis(stat.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert user stat %s: %w", stat.OwnerID, err)
		}
		return nil
	}
	result, err := q.ExecContext(
		ctx,
		`UPDATE canvas_user_stats
		 SET display_name = ?, pixel_count = ?, last_pixel_at = ?, version = version + 1
		 WHERE owner_id = ? AND version = ?`,
		stat.DisplayName,
		stat.PixelCount,
		toMillis(stat.LastPixelAt),
		stat.OwnerID,
		stat.Version,
	)
	if err != nil {
		return fmt.Errorf("update user stat %s: %w", stat.OwnerID, err)
	}
	affected, err := rowsAffected(result, "update user stat")
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("update user stat %s: %w", stat.OwnerID, errVersionConflict)
	}
	return nil
}

func sessionArgs(session storage.Session) []any {
	return []any{
		string(session.State),
		session.Width,
		session.Height,
		toMillis(session.StartedAt),
		toMillis(session.PausedAt),
		toMillis(session.ResumedAt),
		toMillis(session.ResetAt),
		toMillis(session.EndedAt),
		session.PixelsCleared,
		session.CreatedBy,
	}
}

func writeSession(ctx context.Context, q queryer, session storage.Session, overwrite bool) error {
	args := sessionArgs(session)
	switch {
	case overwrite:
		_, err := q.ExecContext(
			ctx,
			`INSERT INTO canvas_session (id, `+sessionColumns+`, version)
			 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			 ON CONFLICT(id) DO UPDATE SET
			   state = excluded.state,
			   width = excluded.width,
			   height = excluded.height,
			   started_at = excluded.started_at,
			   paused_at = excluded.paused_at,
			   resumed_at = excluded.resumed_at,
			   reset_at = excluded.reset_at,
			   ended_at = excluded.ended_at,
			   pixels_cleared = excluded.pixels_cleared,
			   created_by = excluded.created_by,
			   version = canvas_session.version + 1`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("replace session: %w", err)
		}
		return nil
	case session.Version == 0:
		_, err := q.ExecContext(
			ctx,
			`INSERT INTO canvas_session (id, `+sessionColumns+`, version)
			 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	}
	result, err := q.ExecContext(
		ctx,
		`UPDATE canvas_session
		 SET state = ?, width = ?, height = ?, started_at = ?, paused_at = ?, resumed_at = ?,
		     reset_at = ?, ended_at = ?, pixels_cleared = ?, created_by = ?, version = version + 1
		 WHERE id = 1 AND version = ?`,
		append(args, session.Version)...,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := rowsAffected(result, "update session")
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("update session: %w", errVersionConflict)
	}
	return nil
}

func deleteSession(ctx context.Context, q queryer, session storage.Session) error {
	result, err := q.ExecContext(ctx, `DELETE FROM canvas_session WHERE id = 1 AND version = ?`, session.Version)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := rowsAffected(result, "delete session")
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("delete session: %w", errVersionConflict)
	}
	return nil
}

// insertArchive stores archive under the first free key among Key, Key-1,
// Key-2, and so on, and records the chosen key on archive.
func insertArchive(ctx context.Context, q queryer, archive *storage.ArchivedSession) error {
	const maxSuffix = 100
	base := archive.Key
	for suffix := 0; suffix <= maxSuffix; suffix++ {
		key := base
		if suffix > 0 {
			key = fmt.Sprintf("%s-%d", base, suffix)
		}
		var taken int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM canvas_session_archive WHERE archive_key = ?`, key).Scan(&taken)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check archive key %s: %w", key, err)
		}
		_, err = q.ExecContext(
			ctx,
			`INSERT INTO canvas_session_archive (archive_key, `+sessionColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append([]any{key}, sessionArgs(archive.Session)...)...,
		)
		if err != nil {
			return fmt.Errorf("insert session archive %s: %w", key, err)
		}
		archive.Key = key
		return nil
	}
	return fmt.Errorf("no free archive key for %s", base)
}

type txReader struct {
	q queryer
}

func (r txReader) GetSession(ctx context.Context) (storage.Session, bool, error) {
	return getSession(ctx, r.q)
}

func (r txReader) GetUserStat(ctx context.Context, ownerID string) (storage.UserStat, bool, error) {
	return getUserStat(ctx, r.q, ownerID)
}

func (r txReader) GetPixel(ctx context.Context, x, y int) (storage.Pixel, bool, error) {
	return getPixel(ctx, r.q, x, y)
}

func getSession(ctx context.Context, q queryer) (storage.Session, bool, error) {
	var (
		session                                          storage.Session
		state                                            string
		startedAt, pausedAt, resumedAt, resetAt, endedAt int64
	)
	err := q.QueryRowContext(
		ctx,
		`SELECT `+sessionColumns+`, version FROM canvas_session WHERE id = 1`,
	).Scan(
		&state,
		&session.Width,
		&session.Height,
		&startedAt,
		&pausedAt,
		&resumedAt,
		&resetAt,
		&endedAt,
		&session.PixelsCleared,
		&session.CreatedBy,
		&session.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Session{}, false, nil
	}
	if err != nil {
		return storage.Session{}, false, fmt.Errorf("get session: %w", err)
	}
	session.State = storage.SessionState(state)
	session.StartedAt = fromMillis(startedAt)
	session.PausedAt = fromMillis(pausedAt)
	session.ResumedAt = fromMillis(resumedAt)
	session.ResetAt = fromMillis(resetAt)
	session.EndedAt = fromMillis(endedAt)
	return session, true, nil
}

func getUserStat(ctx context.Context, q queryer, ownerID string) (storage.UserStat, bool, error) {
	var (
		stat                 storage.UserStat
		lastPixel, createdAt int64
	)
	err := q.QueryRowContext(
		ctx,
		`SELECT owner_id, display_name, pixel_count, last_pixel_at, created_at, version
		 FROM canvas_user_stats WHERE owner_id = ?`,
		ownerID,
	).Scan(&stat.OwnerID, &stat.DisplayName, &stat.PixelCount, &lastPixel, &createdAt, &stat.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.UserStat{}, false, nil
	}
	if err != nil {
		return storage.UserStat{}, false, fmt.Errorf("get user stat %s: %w", ownerID, err)
	}
	stat.LastPixelAt = fromMillis(lastPixel)
	stat.CreatedAt = fromMillis(createdAt)
	return stat, true, nil
}

func getPixel(ctx context.Context, q queryer, x, y int) (storage.Pixel, bool, error) {
	var (
		pixel     storage.Pixel
		updatedAt int64
	)
	err := q.QueryRowContext(
		ctx,
		`SELECT x, y, color, owner_id, owner_name, source, updated_at
		 FROM canvas_pixels WHERE x = ? AND y = ?`,
		x,
		y,
	).Scan(&pixel.X, &pixel.Y, &pixel.Color, &pixel.OwnerID, &pixel.OwnerName, &pixel.Source, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Pixel{}, false, nil
	}
	if err != nil {
		return storage.Pixel{}, false, fmt.Errorf("get pixel (%d,%d): %w", x, y, err)
	}
	pixel.UpdatedAt = fromMillis(updatedAt)
	return pixel, true, nil
}

// GetSession returns the current session.
func (s *Store) GetSession(ctx context.Context) (storage.Session, bool, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Session{}, false, err
	}
	return getSession(ctx, s.sqlDB)
}

// GetPixel returns the pixel at (x, y).
func (s *Store) GetPixel(ctx context.Context, x, y int) (storage.Pixel, bool, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Pixel{}, false, err
	}
	return getPixel(ctx, s.sqlDB, x, y)
}

// GetUserStat returns the placement totals for ownerID.
func (s *Store) GetUserStat(ctx context.Context, ownerID string) (storage.UserStat, bool, error) {
	if err := s.ready(ctx); err != nil {
		return storage.UserStat{}, false, err
	}
	return getUserStat(ctx, s.sqlDB, ownerID)
}

// CountPixels returns the number of live pixels.
func (s *Store) CountPixels(ctx context.Context) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var count int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM canvas_pixels`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pixels: %w", err)
	}
	return count, nil
}

// ScanPixels pages through every pixel in (x, y) order.
func (s *Store) ScanPixels(ctx context.Context, pageSize int, fn func([]storage.Pixel) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if pageSize <= 0 {
		return fmt.Errorf("page size must be greater than zero")
	}
	var (
		lastX, lastY int
		first        = true
	)
	for {
		var (
			rows *sql.Rows
			err  error
		)
		if first {
			rows, err = s.sqlDB.QueryContext(
				ctx,
				`SELECT x, y, color, owner_id, owner_name, source, updated_at
				 FROM canvas_pixels ORDER BY x, y LIMIT ?`,
				pageSize,
			)
		} else {
			rows, err = s.sqlDB.QueryContext(
				ctx,
				`SELECT x, y, color, owner_id, owner_name, source, updated_at
				 FROM canvas_pixels WHERE (x, y) > (?, ?) ORDER BY x, y LIMIT ?`,
				lastX,
				lastY,
				pageSize,
			)
		}
		if err != nil {
			return fmt.Errorf("scan pixels: %w", err)
		}
		page, err := scanPixelRows(rows)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
		last := page[len(page)-1]
		lastX, lastY, first = last.X, last.Y, false
	}
}

func scanPixelRows(rows *sql.Rows) ([]storage.Pixel, error) {
	defer rows.Close()
	var page []storage.Pixel
	for rows.Next() {
		var (
			pixel     storage.Pixel
			updatedAt int64
		)
		if err := rows.Scan(&pixel.X, &pixel.Y, &pixel.Color, &pixel.OwnerID, &pixel.OwnerName, &pixel.Source, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan pixel row: %w", err)
		}
		pixel.UpdatedAt = fromMillis(updatedAt)
		page = append(page, pixel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pixel rows: %w", err)
	}
	return page, nil
}

// DeletePixelBatch removes up to limit pixels.
func (s *Store) DeletePixelBatch(ctx context.Context, limit int) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, fmt.Errorf("delete limit must be greater than zero")
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM canvas_pixels
		 WHERE rowid IN (SELECT rowid FROM canvas_pixels ORDER BY x, y LIMIT ?)`,
		limit,
	)
	if err != nil {
		return 0, fmt.Errorf("delete pixel batch: %w", err)
	}
	affected, err := rowsAffected(result, "delete pixel batch")
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// ListArchivedSessions returns the most recently ended sessions first.
func (s *Store) ListArchivedSessions(ctx context.Context, limit int) ([]storage.ArchivedSession, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []storage.ArchivedSession{}, nil
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT archive_key, `+sessionColumns+`
		 FROM canvas_session_archive
		 ORDER BY ended_at DESC, archive_key DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list archived sessions: %w", err)
	}
	defer rows.Close()

	archived := make([]storage.ArchivedSession, 0, limit)
	for rows.Next() {
		var (
			entry                                            storage.ArchivedSession
			state                                            string
			startedAt, pausedAt, resumedAt, resetAt, endedAt int64
		)
		if err := rows.Scan(
			&entry.Key,
			&state,
			&entry.Session.Width,
			&entry.Session.Height,
			&startedAt,
			&pausedAt,
			&resumedAt,
			&resetAt,
			&endedAt,
			&entry.Session.PixelsCleared,
			&entry.Session.CreatedBy,
		); err != nil {
			return nil, fmt.Errorf("scan archived session: %w", err)
		}
		entry.Session.State = storage.SessionState(state)
		entry.Session.StartedAt = fromMillis(startedAt)
		entry.Session.PausedAt = fromMillis(pausedAt)
		entry.Session.ResumedAt = fromMillis(resumedAt)
		entry.Session.ResetAt = fromMillis(resetAt)
		entry.Session.EndedAt = fromMillis(endedAt)
		archived = append(archived, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived sessions: %w", err)
	}
	return archived, nil
}

var _ storage.DocumentStore = (*Store)(nil)
