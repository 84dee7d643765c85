// Package ingest validates inbound canvas commands, applies caller
// permissions, and enqueues them for the delivery worker.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/louisbranch/pixelwall/internal/platform/clock"
	"github.com/louisbranch/pixelwall/internal/platform/logging"
	"github.com/louisbranch/pixelwall/internal/services/canvas/domain"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

type enqueuer interface {
	Enqueue(ctx context.Context, evt storage.QueuedEvent) (bool, error)
}

// Refusals renders the replies sent to callers without permission.
type Refusals interface {
	ForbiddenSession() string
	ForbiddenSnapshot() string
}

// Config wires a Service.
type Config struct {
	Queue      enqueuer
	Authorizer Authorizer
	Notifier   storage.Notifier
	Refusals   Refusals
	Clock      clock.Clock
	Logger     *slog.Logger
	// NewID generates event IDs; defaults to random UUIDs.
	NewID func() string
}

// Result reports what Submit did with one command.
type Result struct {
	EventID string
	// Queued is false for refused commands and duplicate IDs.
	Queued    bool
	Duplicate bool
	Refused   bool
}

// Service accepts canvas commands from a transport.
type Service struct {
	queue      enqueuer
	authorizer Authorizer
	notifier   storage.Notifier
	refusals   Refusals
	clock      clock.Clock
	logger     *slog.Logger
	newID      func() string
}

// NewService builds an ingest service.
func NewService(cfg Config) *Service {
	authorizer := cfg.Authorizer
	if authorizer == nil {
		authorizer = NewRoleAuthorizer(nil)
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		queue:      cfg.Queue,
		authorizer: authorizer,
		notifier:   cfg.Notifier,
		refusals:   cfg.Refusals,
		clock:      clock.OrReal(cfg.Clock),
		logger:     logging.OrDefault(cfg.Logger),
		newID:      newID,
	}
}

// Submit normalizes evt for caller and enqueues it. Admin-only commands
// from other callers are refused with a reply and never enqueued.
func (s *Service) Submit(ctx context.Context, caller Caller, evt domain.Event) (Result, error) {
	if s == nil || s.queue == nil {
		return Result{}, fmt.Errorf("ingest queue is not configured")
	}
	if err := evt.Validate(); err != nil {
		return Result{}, err
	}

	keepOwner := false
	if placesForOther(evt, caller) {
		admin, err := s.authorizer.IsAdmin(ctx, caller)
		if err != nil {
			return Result{}, fmt.Errorf("check admin for %s: %w", caller.ID, err)
		}
		keepOwner = admin
	}
	normalize(&evt, caller, keepOwner)
	if requiresAdmin(evt) {
		admin, err := s.authorizer.IsAdmin(ctx, caller)
		if err != nil {
			return Result{}, fmt.Errorf("check admin for %s: %w", caller.ID, err)
		}
		if !admin {
			s.refuse(ctx, caller, evt)
			return Result{Refused: true}, nil
		}
	}

	if strings.TrimSpace(evt.ID) == "" {
		evt.ID = s.newID()
	}

	queued, err := domain.EncodeEvent(evt)
	if err != nil {
		return Result{}, err
	}
	now := s.clock.Now().UTC()
	queued.CreatedAt = now
	queued.NextAttemptAt = now

	inserted, err := s.queue.Enqueue(ctx, queued)
	if err != nil {
		return Result{}, fmt.Errorf("enqueue %s event: %w", evt.Kind, err)
	}
	if !inserted {
		s.logger.InfoContext(ctx, "event_duplicate", "event_id", evt.ID, "kind", string(evt.Kind))
		return Result{EventID: evt.ID, Duplicate: true}, nil
	}
	s.logger.InfoContext(ctx, "event_enqueued", "event_id", evt.ID, "kind", string(evt.Kind), "caller_id", caller.ID)
	return Result{EventID: evt.ID, Queued: true}, nil
}

func requiresAdmin(evt domain.Event) bool {
	switch evt.Kind {
	case domain.KindSnapshot:
		return true
	case domain.KindSession:
		return evt.Session.Action != domain.ActionStatus
	default:
		return false
	}
}

// placesForOther reports whether evt places a pixel under an owner other
// than caller.
func placesForOther(evt domain.Event, caller Caller) bool {
	if evt.Kind != domain.KindPixel || evt.Pixel == nil {
		return false
	}
	owner := strings.TrimSpace(evt.Pixel.OwnerID)
	return owner != "" && owner != caller.ID
}

// normalize fills caller identity and canonical forms into copies of the
// payload so the submitted event is left untouched. Pixels are owned by the
// caller unless keepOwner lets an admin place for someone else.
func normalize(evt *domain.Event, caller Caller, keepOwner bool) {
	switch evt.Kind {
	case domain.KindPixel:
		p := *evt.Pixel
		p.Color = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(p.Color), "#"))
		if !keepOwner {
			p.OwnerID = caller.ID
			p.OwnerName = caller.Name
		}
		evt.Pixel = &p
	case domain.KindSession:
		cmd := *evt.Session
		cmd.Action = domain.SessionAction(strings.ToLower(strings.TrimSpace(string(cmd.Action))))
		if cmd.Action == domain.ActionStart {
			cmd.Width = domain.ClampDimension(cmd.Width)
			cmd.Height = domain.ClampDimension(cmd.Height)
		}
		if cmd.CallerID == "" {
			cmd.CallerID = caller.ID
		}
		evt.Session = &cmd
	case domain.KindSnapshot:
		req := *evt.Snapshot
		if req.RequestedBy == "" {
			req.RequestedBy = caller.ID
		}
		evt.Snapshot = &req
	}
}

func (s *Service) refuse(ctx context.Context, caller Caller, evt domain.Event) {
	s.logger.WarnContext(ctx, "command_forbidden", "caller_id", caller.ID, "kind", string(evt.Kind))
	if s.notifier == nil || s.refusals == nil || evt.ReplyHandle == "" {
		return
	}
	text := s.refusals.ForbiddenSession()
	if evt.Kind == domain.KindSnapshot {
		text = s.refusals.ForbiddenSnapshot()
	}
	if err := s.notifier.Reply(ctx, evt.ReplyHandle, text); err != nil {
		s.logger.WarnContext(ctx, "reply_failed", "caller_id", caller.ID, "error", err)
	}
}
