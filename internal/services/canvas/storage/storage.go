// Package storage defines the canvas records and the persistence contracts
// the canvas domain depends on. Backends live in subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SessionState is the lifecycle state of the current canvas session.
type SessionState string

const (
	SessionActive SessionState = "active"
	SessionPaused SessionState = "paused"
	SessionEnded  SessionState = "ended"
)

// Pixel is one painted canvas cell. At most one record exists per (X, Y).
type Pixel struct {
	X         int
	Y         int
	Color     string
	OwnerID   string
	OwnerName string
	Source    string
	UpdatedAt time.Time
}

// UserStat tracks placement totals per owner.
type UserStat struct {
	OwnerID     string
	DisplayName string
	PixelCount  int64
	LastPixelAt time.Time
	CreatedAt   time.Time
	// Version is the optimistic-concurrency token; zero means not stored.
	Version int64
}

// Session is the singleton "current" canvas record.
type Session struct {
	State         SessionState
	Width         int
	Height        int
	StartedAt     time.Time
	PausedAt      time.Time
	ResumedAt     time.Time
	ResetAt       time.Time
	EndedAt       time.Time
	PixelsCleared int64
	CreatedBy     string
	// Version is the optimistic-concurrency token; zero means not stored.
	Version int64
}

// Bounded reports whether the session has finite dimensions.
func (s Session) Bounded() bool {
	return s.Width > 0 && s.Height > 0
}

// ArchivedSession is an ended session copied under a unique key.
type ArchivedSession struct {
	Key     string
	Session Session
}

// CounterKey identifies one rate-limit window for one owner.
type CounterKey struct {
	OwnerID     string
	WindowIndex int64
}

// String renders the key as "<owner>_<window>".
func (k CounterKey) String() string {
	return fmt.Sprintf("%s_%d", k.OwnerID, k.WindowIndex)
}

// RateCounter is the placement count for one owner window.
type RateCounter struct {
	Key       CounterKey
	Count     int
	ExpiresAt time.Time
	// Version is the optimistic-concurrency token; zero means not stored.
	Version int64
}

// ManifestTile references one uploaded tile image.
type ManifestTile struct {
	TileX int    `json:"tileX"`
	TileY int    `json:"tileY"`
	URL   string `json:"url"`
}

// SnapshotManifest is the immutable record of one snapshot run.
type SnapshotManifest struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	CanvasWidth    int            `json:"canvasWidth"`
	CanvasHeight   int            `json:"canvasHeight"`
	OriginX        int            `json:"originX"`
	OriginY        int            `json:"originY"`
	TileEdgeLength int            `json:"tileEdgeLength"`
	PixelScale     int            `json:"pixelScale"`
	TileGridX      int            `json:"tileGridX"`
	TileGridY      int            `json:"tileGridY"`
	Tiles          []ManifestTile `json:"tiles"`
	ThumbnailURL   string         `json:"thumbnailUrl"`
	PixelCount     int            `json:"pixelCount"`
	DroppedTiles   int            `json:"droppedTiles"`
}

// ErrManifestExists is returned when a manifest ID is already stored.
var ErrManifestExists = errors.New("snapshot manifest already exists")

// TxReader is the read side of a document transaction.
type TxReader interface {
	GetSession(ctx context.Context) (Session, bool, error)
	GetUserStat(ctx context.Context, ownerID string) (UserStat, bool, error)
	GetPixel(ctx context.Context, x, y int) (Pixel, bool, error)
}

// WriteSet is the set of writes a transaction function commits. Records with
// a non-zero Version are written only if the stored version still matches.
type WriteSet struct {
	Pixels    []Pixel
	UserStats []UserStat
	// Session replaces the current record, checked against Session.Version
	// unless OverwriteSession is set.
	Session          *Session
	OverwriteSession bool
	// DeleteSession removes the current record if its version matches.
	DeleteSession *Session
	// Archive is inserted under Archive.Key. Stores rewrite the key with a
	// numeric suffix when it is already taken.
	Archive *ArchivedSession
}

// Empty reports whether the write set carries no writes.
func (w WriteSet) Empty() bool {
	return len(w.Pixels) == 0 && len(w.UserStats) == 0 && w.Session == nil && w.DeleteSession == nil && w.Archive == nil
}

// TxFunc reads through tx and returns the writes to commit. Stores may call
// it several times when a conflict forces a retry, so it must not have side
// effects outside its return values.
type TxFunc func(ctx context.Context, tx TxReader) (WriteSet, error)

// DocumentStore holds pixels, user stats, sessions, and manifests.
type DocumentStore interface {
	RunTx(ctx context.Context, fn TxFunc) error
	GetSession(ctx context.Context) (Session, bool, error)
	GetPixel(ctx context.Context, x, y int) (Pixel, bool, error)
	GetUserStat(ctx context.Context, ownerID string) (UserStat, bool, error)
	CountPixels(ctx context.Context) (int64, error)
	// ScanPixels visits every pixel in (x, y) order in pages of pageSize.
	ScanPixels(ctx context.Context, pageSize int, fn func([]Pixel) error) error
	// DeletePixelBatch deletes up to limit pixels and reports how many went.
	DeletePixelBatch(ctx context.Context, limit int) (int, error)
	ListArchivedSessions(ctx context.Context, limit int) ([]ArchivedSession, error)
	PutManifest(ctx context.Context, manifest SnapshotManifest) error
	GetManifest(ctx context.Context, id string) (SnapshotManifest, bool, error)
}

// ErrCounterConflict reports a concurrent modification of a rate counter.
var ErrCounterConflict = errors.New("rate counter modified concurrently")

// CounterMutation computes the next counter value. It returns write=false to
// leave the stored counter untouched.
type CounterMutation func(current RateCounter, found bool) (next RateCounter, write bool, err error)

// CounterStore performs atomic read-modify-write on rate counters.
type CounterStore interface {
	// UpdateCounter returns ErrCounterConflict when another writer won.
	UpdateCounter(ctx context.Context, key CounterKey, mutate CounterMutation) error
}

// QueueStatus is the delivery status of one queued event.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
	QueueDead       QueueStatus = "dead"
)

// ParseQueueStatus normalizes a status filter. Empty means no filter.
func ParseQueueStatus(raw string) (QueueStatus, error) {
	switch status := QueueStatus(raw); status {
	case "", QueuePending, QueueProcessing, QueueFailed, QueueDead:
		return status, nil
	default:
		return "", fmt.Errorf("invalid queue status %q", raw)
	}
}

// QueuedEvent is one event envelope in the delivery queue.
type QueuedEvent struct {
	ID            string
	Kind          string
	Payload       []byte
	ReplyHandle   string
	Status        QueueStatus
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// QueueSummary reports queue depth by status and the oldest due row.
type QueueSummary struct {
	PendingCount    int
	ProcessingCount int
	FailedCount     int
	DeadCount       int
	OldestPendingID string
	OldestPendingAt time.Time
}

// EventQueue is the at-least-once delivery queue with a dead-letter status.
type EventQueue interface {
	// Enqueue stores evt as pending and reports false if its ID already exists.
	Enqueue(ctx context.Context, evt QueuedEvent) (bool, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]QueuedEvent, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, attempt int, nextAttempt time.Time, lastError string, now time.Time) error
	DeadLetter(ctx context.Context, id string, attempt int, lastError string, now time.Time) error
	Summary(ctx context.Context) (QueueSummary, error)
	List(ctx context.Context, status QueueStatus, limit int) ([]QueuedEvent, error)
	Requeue(ctx context.Context, id string, now time.Time) (bool, error)
	RequeueDead(ctx context.Context, limit int, now time.Time) (int, error)
}

// ArtifactStore persists rendered artifacts and returns their durable URL.
type ArtifactStore interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// Announcement is a rich message posted to a shared channel.
type Announcement struct {
	Title       string
	Description string
	ImageURL    string
	Footer      string
	Timestamp   time.Time
}

// Notifier relays text to whoever issued an event.
type Notifier interface {
	// Reply delivers text addressed by an opaque reply handle.
	Reply(ctx context.Context, handle, text string) error
	// Announce posts to the configured broadcast channel, if any.
	Announce(ctx context.Context, announcement Announcement) error
}

// PixelPublisher fans placed pixels out to live viewers.
type PixelPublisher interface {
	PublishPixel(ctx context.Context, pixel Pixel) error
}

// AttemptRecord is one durable delivery outcome record.
type AttemptRecord struct {
	ID           int64
	EventID      string
	EventKind    string
	Consumer     string
	Outcome      string
	AttemptCount int
	LastError    string
	CreatedAt    time.Time
}

// AttemptStore persists delivery attempt records.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt AttemptRecord) error
	ListAttempts(ctx context.Context, limit int) ([]AttemptRecord, error)
}
