package replies

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/domain"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
	"golang.org/x/text/message"
)

func TestEnglishPixelAndRejections(t *testing.T) {
	t.Parallel()

	c := New("en")
	if got := c.PixelPlaced(storage.Pixel{X: 5, Y: 5, Color: "FF0000"}); got != "Pixel placed at (5, 5) with color #FF0000" {
		t.Fatalf("placed = %q", got)
	}

	tests := []struct {
		rejection *domain.Rejection
		want      string
	}{
		{&domain.Rejection{Reason: domain.RejectInvalidColor, Detail: "red"}, "Invalid color format: red. Use 6-digit hex (e.g., FF0000)"},
		{&domain.Rejection{Reason: domain.RejectRateLimited, Count: 20, Max: 20}, "Rate limit exceeded (20/20 per minute)"},
		{&domain.Rejection{Reason: domain.RejectOutOfBounds, Width: 100, Height: 100}, "Coordinates out of bounds (0-99, 0-99)"},
		{&domain.Rejection{Reason: domain.RejectSessionInactive, State: "paused"}, "Session is paused"},
		{&domain.Rejection{Reason: domain.RejectSessionInactive, State: "missing"}, "No active session"},
		{&domain.Rejection{Reason: domain.RejectCoordinateTooLarge}, "Coordinates too large"},
		{&domain.Rejection{Reason: domain.RejectInvalidTransition, State: "active", Detail: "resume"}, "Cannot resume a session that is active."},
	}
	for _, tc := range tests {
		if got := c.Rejected(tc.rejection); got != tc.want {
			t.Fatalf("Rejected(%s) = %q, want %q", tc.rejection.Reason, got, tc.want)
		}
	}
}

func TestEnglishSnapshotSummary(t *testing.T) {
	t.Parallel()

	c := New("en-US")
	result := domain.SnapshotResult{
		Manifest: storage.SnapshotManifest{
			Tiles:          []storage.ManifestTile{{}},
			PixelCount:     2,
			CanvasWidth:    500,
			CanvasHeight:   400,
			TileEdgeLength: 512,
			ThumbnailURL:   "https://x/thumb.png",
			Timestamp:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		ManifestURL: "https://x/manifest.json",
		Elapsed:     1500 * time.Millisecond,
	}
	want := "Snapshot generated in 1.5s: 1 tiles (2 pixels)\nManifest: https://x/manifest.json"
	if got := c.SnapshotGenerated(result); got != want {
		t.Fatalf("generated = %q, want %q", got, want)
	}

	a := c.SnapshotAnnouncement(result)
	if a.Title != "Canvas Snapshot" || a.Footer != "Tile size: 512px | Sparse chunking" {
		t.Fatalf("announcement = %+v", a)
	}
	if !strings.Contains(a.Description, "**Canvas:** 500x400 pixels") || !strings.Contains(a.Description, "[View Thumbnail](https://x/thumb.png)") {
		t.Fatalf("description = %q", a.Description)
	}
	if a.ImageURL != "https://x/thumb.png" || !a.Timestamp.Equal(result.Manifest.Timestamp) {
		t.Fatalf("announcement = %+v", a)
	}
}

func TestPortugueseCatalog(t *testing.T) {
	t.Parallel()

	c := New("pt-BR")
	if got := c.SessionPaused(); got != "Sessão pausada." {
		t.Fatalf("paused = %q", got)
	}
	if got := c.ForbiddenSession(); got != "Você não tem permissão para gerenciar sessões." {
		t.Fatalf("forbidden = %q", got)
	}
}

func TestUnknownLanguageFallsBackToEnglish(t *testing.T) {
	t.Parallel()

	for _, tag := range []string{"", "not a tag", "ja"} {
		if got := New(tag).ForbiddenSession(); got != "You do not have permission to manage sessions." {
			t.Fatalf("New(%q).ForbiddenSession() = %q", tag, got)
		}
	}
}

func TestSessionMessages(t *testing.T) {
	t.Parallel()

	c := New("en")
	if got := c.SessionEnded(domain.EndResult{}); got != "There is no session to end." {
		t.Fatalf("ended none = %q", got)
	}
	if got := c.SessionEnded(domain.EndResult{Archived: true, ArchiveKey: "session-1"}); got != "Session ended and archived as session-1." {
		t.Fatalf("ended = %q", got)
	}
	if got := c.SessionReset(domain.ResetResult{Cleared: 900, Batches: 2}); got != "Canvas reset: 900 pixels cleared in 2 batches." {
		t.Fatalf("reset = %q", got)
	}
	status := domain.SessionStatus{Found: true, Session: storage.Session{State: storage.SessionActive, Width: 100, Height: 100}, PixelCount: 4}
	if got := c.SessionStatus(status); got != "Session is active on a 100x100 canvas with 4 pixels." {
		t.Fatalf("status = %q", got)
	}
}

func TestCustomLocalizer(t *testing.T) {
	t.Parallel()

	c := NewWithLocalizer(fakeLocalizer{values: map[string]string{"canvas.session.started": "go %dx%d"}})
	if got := c.SessionStarted(storage.Session{Width: 1, Height: 2}); got != "go 1x2" {
		t.Fatalf("started = %q", got)
	}
	if got := c.SessionResumed(); got != "canvas.session.resumed" {
		t.Fatalf("missing key = %q, want key echo", got)
	}
}

type fakeLocalizer struct {
	values map[string]string
}

func (f fakeLocalizer) Sprintf(key message.Reference, args ...any) string {
	asString, ok := key.(string)
	if !ok {
		return ""
	}
	template := f.values[asString]
	if template == "" {
		return asString
	}
	return fmt.Sprintf(template, args...)
}
