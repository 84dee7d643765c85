package replies

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, "canvas.pixel.placed", "Pixel placed at (%d, %d) with color #%s")
	message.SetString(lang, "canvas.reject.invalid_color", "Invalid color format: %s. Use 6-digit hex (e.g., FF0000)")
	message.SetString(lang, "canvas.reject.no_active_session", "No active session")
	message.SetString(lang, "canvas.reject.session_inactive", "Session is %s")
	message.SetString(lang, "canvas.reject.out_of_bounds", "Coordinates out of bounds (0-%d, 0-%d)")
	message.SetString(lang, "canvas.reject.coordinate_too_large", "Coordinates too large")
	message.SetString(lang, "canvas.reject.rate_limited", "Rate limit exceeded (%d/%d per minute)")
	message.SetString(lang, "canvas.reject.no_session", "There is no session to %s.")
	message.SetString(lang, "canvas.reject.invalid_transition", "Cannot %s a session that is %s.")
	message.SetString(lang, "canvas.reject.invalid_payload", "Invalid request: %s")
	message.SetString(lang, "canvas.session.started", "Session started on a %dx%d canvas.")
	message.SetString(lang, "canvas.session.paused", "Session paused.")
	message.SetString(lang, "canvas.session.resumed", "Session resumed.")
	message.SetString(lang, "canvas.session.reset", "Canvas reset: %d pixels cleared in %d batches.")
	message.SetString(lang, "canvas.session.ended", "Session ended and archived as %s.")
	message.SetString(lang, "canvas.session.ended_none", "There is no session to end.")
	message.SetString(lang, "canvas.session.status", "Session is %s on a %dx%d canvas with %d pixels.")
	message.SetString(lang, "canvas.session.status_none", "No session has been started.")
	message.SetString(lang, "canvas.snapshot.generated", "Snapshot generated in %.1fs: %d tiles (%d pixels)\nManifest: %s")
	message.SetString(lang, "canvas.snapshot.announce_title", "Canvas Snapshot")
	message.SetString(lang, "canvas.snapshot.announce_body", "**Canvas:** %dx%d pixels\n**Pixels drawn:** %d\n**Tiles:** %d (sparse)\n\n[View Thumbnail](%s)")
	message.SetString(lang, "canvas.snapshot.announce_footer", "Tile size: %dpx | Sparse chunking")
	message.SetString(lang, "canvas.ingest.forbidden_session", "You do not have permission to manage sessions.")
	message.SetString(lang, "canvas.ingest.forbidden_snapshot", "You do not have permission to create snapshots.")
}
