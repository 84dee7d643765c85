// Package replies renders localized, user-facing canvas outcomes.
package replies

import (
	"strings"

	"github.com/louisbranch/pixelwall/internal/services/canvas/domain"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Localizer is the minimal message-printer contract replies need.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

var supported = language.NewMatcher([]language.Tag{
	language.English,
	language.MustParse("pt-BR"),
})

// Catalog renders replies in one language.
type Catalog struct {
	loc Localizer
}

// New returns a catalog for the best supported match of tag. An empty or
// unparseable tag falls back to English.
func New(tag string) *Catalog {
	lang := language.English
	if parsed, err := language.Parse(strings.TrimSpace(tag)); err == nil {
		_, index, _ := supported.Match(parsed)
		if index == 1 {
			lang = language.MustParse("pt-BR")
		}
	}
	return &Catalog{loc: message.NewPrinter(lang)}
}

// NewWithLocalizer returns a catalog backed by loc.
func NewWithLocalizer(loc Localizer) *Catalog {
	return &Catalog{loc: loc}
}

var _ domain.Replies = (*Catalog)(nil)

func (c *Catalog) PixelPlaced(pixel storage.Pixel) string {
	return c.localize("canvas.pixel.placed", pixel.X, pixel.Y, pixel.Color)
}

func (c *Catalog) Rejected(rejection *domain.Rejection) string {
	if rejection == nil {
		return ""
	}
	switch rejection.Reason {
	case domain.RejectInvalidColor:
		return c.localize("canvas.reject.invalid_color", rejection.Detail)
	case domain.RejectSessionInactive:
		if rejection.State == "" || rejection.State == "missing" {
			return c.localize("canvas.reject.no_active_session")
		}
		return c.localize("canvas.reject.session_inactive", rejection.State)
	case domain.RejectOutOfBounds:
		return c.localize("canvas.reject.out_of_bounds", rejection.Width-1, rejection.Height-1)
	case domain.RejectCoordinateTooLarge:
		return c.localize("canvas.reject.coordinate_too_large")
	case domain.RejectRateLimited:
		return c.localize("canvas.reject.rate_limited", rejection.Count, rejection.Max)
	case domain.RejectNoSession:
		return c.localize("canvas.reject.no_session", rejection.Detail)
	case domain.RejectInvalidTransition:
		return c.localize("canvas.reject.invalid_transition", rejection.Detail, rejection.State)
	default:
		return c.localize("canvas.reject.invalid_payload", rejection.Detail)
	}
}

func (c *Catalog) SessionStarted(session storage.Session) string {
	return c.localize("canvas.session.started", session.Width, session.Height)
}

func (c *Catalog) SessionPaused() string { return c.localize("canvas.session.paused") }

func (c *Catalog) SessionResumed() string { return c.localize("canvas.session.resumed") }

func (c *Catalog) SessionReset(result domain.ResetResult) string {
	return c.localize("canvas.session.reset", result.Cleared, result.Batches)
}

func (c *Catalog) SessionEnded(result domain.EndResult) string {
	if !result.Archived {
		return c.localize("canvas.session.ended_none")
	}
	return c.localize("canvas.session.ended", result.ArchiveKey)
}

func (c *Catalog) SessionStatus(status domain.SessionStatus) string {
	if !status.Found {
		return c.localize("canvas.session.status_none")
	}
	s := status.Session
	return c.localize("canvas.session.status", string(s.State), s.Width, s.Height, status.PixelCount)
}

func (c *Catalog) SnapshotGenerated(result domain.SnapshotResult) string {
	m := result.Manifest
	return c.localize("canvas.snapshot.generated", result.Elapsed.Seconds(), len(m.Tiles), m.PixelCount, result.ManifestURL)
}

func (c *Catalog) SnapshotAnnouncement(result domain.SnapshotResult) storage.Announcement {
	m := result.Manifest
	return storage.Announcement{
		Title:       c.localize("canvas.snapshot.announce_title"),
		Description: c.localize("canvas.snapshot.announce_body", m.CanvasWidth, m.CanvasHeight, m.PixelCount, len(m.Tiles), m.ThumbnailURL),
		ImageURL:    m.ThumbnailURL,
		Footer:      c.localize("canvas.snapshot.announce_footer", m.TileEdgeLength),
		Timestamp:   m.Timestamp,
	}
}

// ForbiddenSession is the refusal sent to non-admin session callers.
func (c *Catalog) ForbiddenSession() string { return c.localize("canvas.ingest.forbidden_session") }

// ForbiddenSnapshot is the refusal sent to non-admin snapshot callers.
func (c *Catalog) ForbiddenSnapshot() string { return c.localize("canvas.ingest.forbidden_snapshot") }

func (c *Catalog) localize(key string, args ...any) string {
	if c == nil || c.loc == nil {
		return key
	}
	return c.loc.Sprintf(key, args...)
}
