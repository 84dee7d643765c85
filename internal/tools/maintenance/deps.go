package maintenance

import (
	"context"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/domain"
	"github.com/louisbranch/pixelwall/internal/services/canvas/ingest"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

type queueInspector interface {
	Summary(context.Context) (storage.QueueSummary, error)
	List(context.Context, storage.QueueStatus, int) ([]storage.QueuedEvent, error)
}

type queueRequeuer interface {
	Requeue(context.Context, string, time.Time) (bool, error)
	RequeueDead(context.Context, int, time.Time) (int, error)
}

type attemptLister interface {
	ListAttempts(context.Context, int) ([]storage.AttemptRecord, error)
}

type manifestLister interface {
	ListManifests(context.Context, int) ([]storage.SnapshotManifest, error)
}

type counterPurger interface {
	PurgeExpiredCounters(context.Context, time.Time) (int64, error)
}

type eventSubmitter interface {
	Submit(context.Context, ingest.Caller, domain.Event) (ingest.Result, error)
}
