package domain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/louisbranch/pixelwall/internal/platform/logging"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

const tracerName = "pixelwall/canvas"

// Replies renders user-visible replies for handler outcomes.
type Replies interface {
	PixelPlaced(pixel storage.Pixel) string
	Rejected(rejection *Rejection) string
	SessionStarted(session storage.Session) string
	SessionPaused() string
	SessionResumed() string
	SessionReset(result ResetResult) string
	SessionEnded(result EndResult) string
	SessionStatus(status SessionStatus) string
	SnapshotGenerated(result SnapshotResult) string
	SnapshotAnnouncement(result SnapshotResult) storage.Announcement
}

// Dispatcher routes decoded events to their handlers and relays the outcome.
type Dispatcher struct {
	pixels    *Mutator
	sessions  *SessionMachine
	snapshots *SnapshotEngine
	notifier  storage.Notifier
	replies   Replies
	logger    *slog.Logger
}

// DispatcherConfig wires a Dispatcher. Notifier and Replies may be nil, in
// which case outcomes are not relayed.
type DispatcherConfig struct {
	Pixels    *Mutator
	Sessions  *SessionMachine
	Snapshots *SnapshotEngine
	Notifier  storage.Notifier
	Replies   Replies
	Logger    *slog.Logger
}

// NewDispatcher creates an event dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		pixels:    cfg.Pixels,
		sessions:  cfg.Sessions,
		snapshots: cfg.Snapshots,
		notifier:  cfg.Notifier,
		replies:   cfg.Replies,
		logger:    logging.OrDefault(cfg.Logger),
	}
}

// Dispatch handles one event. A nil error or a *Rejection means the event
// is done; any other error is subject to the delivery policy.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) error {
	if err := evt.Validate(); err != nil {
		return Permanent(err)
	}
	var err error
	switch evt.Kind {
	case KindPixel:
		err = d.handlePixel(ctx, evt)
	case KindSession:
		err = d.handleSession(ctx, evt)
	case KindSnapshot:
		err = d.handleSnapshot(ctx, evt)
	default:
		return Permanent(&UnknownEventTypeError{Kind: string(evt.Kind)})
	}
	if rejection, ok := AsRejection(err); ok {
		d.reply(ctx, evt, d.rejected(rejection))
	}
	return err
}

func (d *Dispatcher) handlePixel(ctx context.Context, evt Event) error {
	if d.pixels == nil {
		return Permanent(fmt.Errorf("no pixel handler"))
	}
	placement, err := d.pixels.PlacePixel(ctx, *evt.Pixel)
	if err != nil {
		return err
	}
	if d.replies != nil {
		d.reply(ctx, evt, d.replies.PixelPlaced(placement.Pixel))
	}
	return nil
}

func (d *Dispatcher) handleSession(ctx context.Context, evt Event) error {
	if d.sessions == nil {
		return Permanent(fmt.Errorf("no session handler"))
	}
	cmd := *evt.Session
	var text string
	switch cmd.Action {
	case ActionStart:
		session, err := d.sessions.Start(ctx, StartInput{Width: cmd.Width, Height: cmd.Height, CreatedBy: cmd.CallerID})
		if err != nil {
			return err
		}
		text = d.render(func(r Replies) string { return r.SessionStarted(session) })
	case ActionPause:
		if _, err := d.sessions.Pause(ctx); err != nil {
			return err
		}
		text = d.render(func(r Replies) string { return r.SessionPaused() })
	case ActionResume:
		if _, err := d.sessions.Resume(ctx); err != nil {
			return err
		}
		text = d.render(func(r Replies) string { return r.SessionResumed() })
	case ActionReset:
		result, err := d.sessions.Reset(ctx)
		if err != nil {
			return err
		}
		text = d.render(func(r Replies) string { return r.SessionReset(result) })
	case ActionEnd:
		result, err := d.sessions.End(ctx)
		if err != nil {
			return err
		}
		text = d.render(func(r Replies) string { return r.SessionEnded(result) })
	case ActionStatus:
		status, err := d.sessions.Status(ctx)
		if err != nil {
			return err
		}
		text = d.render(func(r Replies) string { return r.SessionStatus(status) })
	default:
		return &Rejection{Reason: RejectInvalidPayload, Detail: fmt.Sprintf("unknown session action %q", cmd.Action)}
	}
	d.reply(ctx, evt, text)
	return nil
}

func (d *Dispatcher) handleSnapshot(ctx context.Context, evt Event) error {
	if d.snapshots == nil {
		return Permanent(fmt.Errorf("no snapshot handler"))
	}
	result, err := d.snapshots.Render(ctx, *evt.Snapshot)
	if err != nil {
		return err
	}
	if d.replies == nil {
		return nil
	}
	d.reply(ctx, evt, d.replies.SnapshotGenerated(result))
	if d.notifier != nil {
		announcement := d.replies.SnapshotAnnouncement(result)
		if announcement.Timestamp.IsZero() {
			announcement.Timestamp = result.Manifest.Timestamp
		}
		if err := d.notifier.Announce(ctx, announcement); err != nil {
			d.logger.Warn("snapshot_announce_failed", "snapshot_id", result.Manifest.ID, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) render(fn func(Replies) string) string {
	if d.replies == nil {
		return ""
	}
	return fn(d.replies)
}

func (d *Dispatcher) rejected(rejection *Rejection) string {
	if d.replies == nil {
		return ""
	}
	return d.replies.Rejected(rejection)
}

// reply relays text best-effort. Reply failures never fail the event.
func (d *Dispatcher) reply(ctx context.Context, evt Event, text string) {
	if d.notifier == nil || evt.ReplyHandle == "" || text == "" {
		return
	}
	if err := d.notifier.Reply(ctx, evt.ReplyHandle, text); err != nil {
		d.logger.Warn("reply_failed", "event_id", evt.ID, "kind", evt.Kind, "error", err)
	}
}
