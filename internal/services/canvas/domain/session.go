package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/louisbranch/pixelwall/internal/platform/clock"
	"github.com/louisbranch/pixelwall/internal/platform/logging"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Session defaults and limits.
const (
	DefaultCanvasWidth    = 100
	DefaultCanvasHeight   = 100
	MinCanvasDimension    = 10
	MaxCanvasDimension    = 100000
	DefaultResetBatchSize = 500
	archiveKeyPrefix      = "session-"
)

// ClampDimension bounds an explicit canvas dimension to
// [MinCanvasDimension, MaxCanvasDimension]. Zero stays zero so callers can
// still ask for the default.
func ClampDimension(n int) int {
	if n == 0 {
		return 0
	}
	if n < MinCanvasDimension {
		return MinCanvasDimension
	}
	if n > MaxCanvasDimension {
		return MaxCanvasDimension
	}
	return n
}

type sessionDocuments interface {
	RunTx(ctx context.Context, fn storage.TxFunc) error
	GetSession(ctx context.Context) (storage.Session, bool, error)
	CountPixels(ctx context.Context) (int64, error)
	DeletePixelBatch(ctx context.Context, limit int) (int, error)
}

// StartInput configures a new session.
type StartInput struct {
	Width     int
	Height    int
	CreatedBy string
}

// ResetResult summarizes a reset.
type ResetResult struct {
	Session storage.Session
	Cleared int64
	// Batches counts delete batches that removed at least one pixel.
	Batches int
}

// EndResult summarizes an end.
type EndResult struct {
	Archived   bool
	ArchiveKey string
	Session    storage.Session
}

// SessionStatus is a read-only view of the current session.
type SessionStatus struct {
	Found      bool
	Session    storage.Session
	PixelCount int64
}

// SessionMachine drives the canvas session lifecycle.
type SessionMachine struct {
	docs      sessionDocuments
	clock     clock.Clock
	logger    *slog.Logger
	batchSize int
}

// NewSessionMachine creates a session state machine. batchSize <= 0 uses
// DefaultResetBatchSize.
func NewSessionMachine(docs sessionDocuments, c clock.Clock, logger *slog.Logger, batchSize int) *SessionMachine {
	if batchSize <= 0 {
		batchSize = DefaultResetBatchSize
	}
	return &SessionMachine{
		docs:      docs,
		clock:     clock.OrReal(c),
		logger:    logging.OrDefault(logger),
		batchSize: batchSize,
	}
}

// Start replaces whatever session exists with a fresh active one.
func (m *SessionMachine) Start(ctx context.Context, in StartInput) (storage.Session, error) {
	if err := m.ready(); err != nil {
		return storage.Session{}, err
	}
	if in.Width < 0 || in.Height < 0 {
		return storage.Session{}, &Rejection{Reason: RejectInvalidPayload, Detail: "dimensions must not be negative"}
	}
	width, height := in.Width, in.Height
	if width == 0 {
		width = DefaultCanvasWidth
	}
	if height == 0 {
		height = DefaultCanvasHeight
	}
	now := m.clock.Now().UTC()
	next := storage.Session{
		State:     storage.SessionActive,
		Width:     width,
		Height:    height,
		StartedAt: now,
		CreatedBy: in.CreatedBy,
	}
	err := m.docs.RunTx(ctx, func(context.Context, storage.TxReader) (storage.WriteSet, error) {
		return storage.WriteSet{Session: &next, OverwriteSession: true}, nil
	})
	if err != nil {
		return storage.Session{}, storeError("start session", err)
	}
	m.logger.Info("session_started", "width", width, "height", height, "created_by", in.CreatedBy)
	return next, nil
}

// Pause moves an active session to paused.
func (m *SessionMachine) Pause(ctx context.Context) (storage.Session, error) {
	return m.transition(ctx, "pause", storage.SessionActive, func(s *storage.Session, now time.Time) {
		s.State = storage.SessionPaused
		s.PausedAt = now
	})
}

// Resume moves a paused session back to active.
func (m *SessionMachine) Resume(ctx context.Context) (storage.Session, error) {
	return m.transition(ctx, "resume", storage.SessionPaused, func(s *storage.Session, now time.Time) {
		s.State = storage.SessionActive
		s.ResumedAt = now
	})
}

func (m *SessionMachine) transition(ctx context.Context, op string, from storage.SessionState, apply func(*storage.Session, time.Time)) (storage.Session, error) {
	if err := m.ready(); err != nil {
		return storage.Session{}, err
	}
	now := m.clock.Now().UTC()
	var next storage.Session
	err := m.docs.RunTx(ctx, func(ctx context.Context, tx storage.TxReader) (storage.WriteSet, error) {
		current, found, err := tx.GetSession(ctx)
		if err != nil {
			return storage.WriteSet{}, err
		}
		if !found {
			return storage.WriteSet{}, &Rejection{Reason: RejectNoSession, Detail: op}
		}
		if current.State != from {
			return storage.WriteSet{}, &Rejection{Reason: RejectInvalidTransition, State: string(current.State), Detail: op}
		}
		next = current
		apply(&next, now)
		return storage.WriteSet{Session: &next}, nil
	})
	if err != nil {
		if _, ok := AsRejection(err); ok {
			return storage.Session{}, err
		}
		return storage.Session{}, storeError(op+" session", err)
	}
	m.logger.Info("session_"+op, "state", next.State)
	return next, nil
}

// Reset deletes every pixel in bounded batches and marks the session active
// with the cleared count. A failure midway leaves the remaining pixels in
// place; calling Reset again continues from there.
func (m *SessionMachine) Reset(ctx context.Context) (ResetResult, error) {
	if err := m.ready(); err != nil {
		return ResetResult{}, err
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "canvas.reset")
	defer span.End()

	if _, found, err := m.docs.GetSession(ctx); err != nil {
		return ResetResult{}, storeError("load session", err)
	} else if !found {
		return ResetResult{}, &Rejection{Reason: RejectNoSession, Detail: "reset"}
	}

	var result ResetResult
	for {
		deleted, err := m.docs.DeletePixelBatch(ctx, m.batchSize)
		if err != nil {
			m.logger.Error("session_reset_batch_failed", "cleared", result.Cleared, "batches", result.Batches, "error", err)
			return result, storeError("delete pixel batch", err)
		}
		if deleted > 0 {
			result.Batches++
			result.Cleared += int64(deleted)
		}
		if deleted < m.batchSize {
			break
		}
	}
	span.SetAttributes(
		attribute.Int64("reset.cleared", result.Cleared),
		attribute.Int("reset.batches", result.Batches),
	)

	now := m.clock.Now().UTC()
	err := m.docs.RunTx(ctx, func(ctx context.Context, tx storage.TxReader) (storage.WriteSet, error) {
		current, found, err := tx.GetSession(ctx)
		if err != nil {
			return storage.WriteSet{}, err
		}
		if !found {
			return storage.WriteSet{}, &Rejection{Reason: RejectNoSession, Detail: "reset"}
		}
		next := current
		next.State = storage.SessionActive
		next.ResetAt = now
		next.PixelsCleared = result.Cleared
		result.Session = next
		return storage.WriteSet{Session: &next}, nil
	})
	if err != nil {
		if _, ok := AsRejection(err); ok {
			return result, err
		}
		return result, storeError("mark session reset", err)
	}
	m.logger.Info("session_reset", "cleared", result.Cleared, "batches", result.Batches)
	return result, nil
}

// End archives the current session and removes it. Ending with no current
// session succeeds without doing anything.
func (m *SessionMachine) End(ctx context.Context) (EndResult, error) {
	if err := m.ready(); err != nil {
		return EndResult{}, err
	}
	now := m.clock.Now().UTC()
	var archive *storage.ArchivedSession
	err := m.docs.RunTx(ctx, func(ctx context.Context, tx storage.TxReader) (storage.WriteSet, error) {
		archive = nil
		current, found, err := tx.GetSession(ctx)
		if err != nil {
			return storage.WriteSet{}, err
		}
		if !found {
			return storage.WriteSet{}, nil
		}
		archived := current
		archived.State = storage.SessionEnded
		archived.EndedAt = now
		archive = &storage.ArchivedSession{
			Key:     fmt.Sprintf("%s%d", archiveKeyPrefix, now.UnixMilli()),
			Session: archived,
		}
		return storage.WriteSet{DeleteSession: &current, Archive: archive}, nil
	})
	if err != nil {
		return EndResult{}, storeError("end session", err)
	}
	if archive == nil {
		return EndResult{}, nil
	}
	m.logger.Info("session_ended", "archive_key", archive.Key)
	return EndResult{Archived: true, ArchiveKey: archive.Key, Session: archive.Session}, nil
}

// Status reads the current session and the live pixel count.
func (m *SessionMachine) Status(ctx context.Context) (SessionStatus, error) {
	if err := m.ready(); err != nil {
		return SessionStatus{}, err
	}
	session, found, err := m.docs.GetSession(ctx)
	if err != nil {
		return SessionStatus{}, storeError("load session", err)
	}
	count, err := m.docs.CountPixels(ctx)
	if err != nil {
		return SessionStatus{}, storeError("count pixels", err)
	}
	return SessionStatus{Found: found, Session: session, PixelCount: count}, nil
}

func (m *SessionMachine) ready() error {
	if m == nil || m.docs == nil {
		return Permanent(fmt.Errorf("session machine is not configured"))
	}
	return nil
}
