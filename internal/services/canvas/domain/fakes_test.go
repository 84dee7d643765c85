package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

type pixelKey struct{ x, y int }

// memDocs is an in-memory DocumentStore.
type memDocs struct {
	mu        sync.Mutex
	session   *storage.Session
	pixels    map[pixelKey]storage.Pixel
	stats     map[string]storage.UserStat
	archive   []storage.ArchivedSession
	manifests map[string]storage.SnapshotManifest

	txCalls     int
	deleteCalls int
	txErr       error
	getErr      error
	deleteErr   error
	manifestErr error
}

func newMemDocs() *memDocs {
	return &memDocs{
		pixels:    map[pixelKey]storage.Pixel{},
		stats:     map[string]storage.UserStat{},
		manifests: map[string]storage.SnapshotManifest{},
	}
}

func (m *memDocs) setSession(s storage.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
}

func (m *memDocs) putPixels(pixels ...storage.Pixel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pixels {
		m.pixels[pixelKey{p.X, p.Y}] = p
	}
}

type memTx struct{ m *memDocs }

func (t memTx) GetSession(context.Context) (storage.Session, bool, error) {
	if t.m.session == nil {
		return storage.Session{}, false, nil
	}
	return *t.m.session, true, nil
}

func (t memTx) GetUserStat(_ context.Context, ownerID string) (storage.UserStat, bool, error) {
	s, ok := t.m.stats[ownerID]
	return s, ok, nil
}

func (t memTx) GetPixel(_ context.Context, x, y int) (storage.Pixel, bool, error) {
	p, ok := t.m.pixels[pixelKey{x, y}]
	return p, ok, nil
}

func (m *memDocs) RunTx(ctx context.Context, fn storage.TxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++
	if m.txErr != nil {
		return m.txErr
	}
	writes, err := fn(ctx, memTx{m})
	if err != nil {
		return err
	}
	for _, p := range writes.Pixels {
		m.pixels[pixelKey{p.X, p.Y}] = p
	}
	for _, s := range writes.UserStats {
		s.Version++
		m.stats[s.OwnerID] = s
	}
	if writes.DeleteSession != nil {
		m.session = nil
	}
	if writes.Session != nil {
		next := *writes.Session
		next.Version++
		m.session = &next
	}
	if writes.Archive != nil {
		m.archive = append(m.archive, *writes.Archive)
	}
	return nil
}

func (m *memDocs) GetSession(ctx context.Context) (storage.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return storage.Session{}, false, m.getErr
	}
	return memTx{m}.GetSession(ctx)
}

func (m *memDocs) GetPixel(ctx context.Context, x, y int) (storage.Pixel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.GetPixel(ctx, x, y)
}

func (m *memDocs) GetUserStat(ctx context.Context, ownerID string) (storage.UserStat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.GetUserStat(ctx, ownerID)
}

func (m *memDocs) CountPixels(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.pixels)), nil
}

func (m *memDocs) sortedPixels() []storage.Pixel {
	out := make([]storage.Pixel, 0, len(m.pixels))
	for _, p := range m.pixels {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

func (m *memDocs) ScanPixels(_ context.Context, pageSize int, fn func([]storage.Pixel) error) error {
	m.mu.Lock()
	all := m.sortedPixels()
	m.mu.Unlock()
	for start := 0; start < len(all); start += pageSize {
		end := min(start+pageSize, len(all))
		if err := fn(all[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memDocs) DeletePixelBatch(_ context.Context, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	deleted := 0
	for _, p := range m.sortedPixels() {
		if deleted == limit {
			break
		}
		delete(m.pixels, pixelKey{p.X, p.Y})
		deleted++
	}
	return deleted, nil
}

func (m *memDocs) ListArchivedSessions(context.Context, int) ([]storage.ArchivedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.ArchivedSession(nil), m.archive...), nil
}

func (m *memDocs) PutManifest(_ context.Context, manifest storage.SnapshotManifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.manifestErr != nil {
		return m.manifestErr
	}
	if _, ok := m.manifests[manifest.ID]; ok {
		return storage.ErrManifestExists
	}
	m.manifests[manifest.ID] = manifest
	return nil
}

func (m *memDocs) GetManifest(_ context.Context, id string) (storage.SnapshotManifest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	manifest, ok := m.manifests[id]
	return manifest, ok, nil
}

// memCounters is an in-memory CounterStore. conflicts makes the next n
// updates report ErrCounterConflict; failures makes them fail outright.
type memCounters struct {
	mu        sync.Mutex
	counters  map[storage.CounterKey]storage.RateCounter
	conflicts int
	failures  int
	calls     int
	err       error
}

func newMemCounters() *memCounters {
	return &memCounters{counters: map[storage.CounterKey]storage.RateCounter{}}
}

func (c *memCounters) UpdateCounter(_ context.Context, key storage.CounterKey, mutate storage.CounterMutation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.conflicts > 0 {
		c.conflicts--
		return storage.ErrCounterConflict
	}
	if c.failures > 0 {
		c.failures--
		return c.err
	}
	current, found := c.counters[key]
	next, write, err := mutate(current, found)
	if err != nil {
		return err
	}
	if write {
		next.Version = current.Version + 1
		c.counters[key] = next
	}
	return nil
}

type putCall struct {
	path        string
	contentType string
	size        int
}

// memArtifacts records uploads. Paths containing failOn are rejected.
type memArtifacts struct {
	mu     sync.Mutex
	puts   []putCall
	data   map[string][]byte
	failOn []string
}

func newMemArtifacts(failOn ...string) *memArtifacts {
	return &memArtifacts{data: map[string][]byte{}, failOn: failOn}
}

func (a *memArtifacts) Put(_ context.Context, path, contentType string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, fail := range a.failOn {
		if strings.Contains(path, fail) {
			return "", errors.New("bucket unavailable")
		}
	}
	a.puts = append(a.puts, putCall{path: path, contentType: contentType, size: len(data)})
	a.data[path] = append([]byte(nil), data...)
	return "https://artifacts.test/" + path, nil
}

func (a *memArtifacts) paths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.puts))
	for _, p := range a.puts {
		out = append(out, p.path)
	}
	sort.Strings(out)
	return out
}

type recordingNotifier struct {
	mu            sync.Mutex
	replies       []string
	handles       []string
	announcements []storage.Announcement
	replyErr      error
}

func (n *recordingNotifier) Reply(_ context.Context, handle, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handles = append(n.handles, handle)
	n.replies = append(n.replies, text)
	return n.replyErr
}

func (n *recordingNotifier) Announce(_ context.Context, a storage.Announcement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.announcements = append(n.announcements, a)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	pixels []storage.Pixel
	err    error
}

func (p *recordingPublisher) PublishPixel(_ context.Context, pixel storage.Pixel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pixels = append(p.pixels, pixel)
	return p.err
}

// textReplies renders outcomes as plain tokens.
type textReplies struct{}

func (textReplies) PixelPlaced(p storage.Pixel) string {
	return fmt.Sprintf("placed %d,%d #%s", p.X, p.Y, p.Color)
}

func (textReplies) Rejected(r *Rejection) string {
	return r.Error()
}

func (textReplies) SessionStarted(s storage.Session) string {
	return fmt.Sprintf("started %dx%d", s.Width, s.Height)
}

func (textReplies) SessionPaused() string {
	return "paused"
}

func (textReplies) SessionResumed() string {
	return "resumed"
}

func (textReplies) SessionReset(r ResetResult) string {
	return fmt.Sprintf("reset %d", r.Cleared)
}

func (textReplies) SessionEnded(r EndResult) string {
	return "ended " + r.ArchiveKey
}

func (textReplies) SessionStatus(s SessionStatus) string {
	return fmt.Sprintf("status %v", s.Found)
}

func (textReplies) SnapshotGenerated(r SnapshotResult) string {
	return fmt.Sprintf("snapshot %d tiles", len(r.Manifest.Tiles))
}

func (textReplies) SnapshotAnnouncement(r SnapshotResult) storage.Announcement {
	return storage.Announcement{Title: "snapshot", ImageURL: r.Manifest.ThumbnailURL}
}
