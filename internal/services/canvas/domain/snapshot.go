package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/louisbranch/pixelwall/internal/platform/clock"
	"github.com/louisbranch/pixelwall/internal/platform/logging"
	"github.com/louisbranch/pixelwall/internal/platform/timeouts"
	"github.com/louisbranch/pixelwall/internal/platform/workpool"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTileSize           = 2048
	DefaultMaxTileImagePixels = 4096
	DefaultMaxThumbnailDim    = 800
	DefaultScanPageSize       = 1000
	defaultSnapshotPrefix     = "snapshots"
)

// SnapshotConfig tunes a SnapshotEngine. Zero fields take defaults.
type SnapshotConfig struct {
	TileSize           int
	MaxTileImagePixels int
	MaxThumbnailDim    int
	Workers            int
	ScanPageSize       int
	PathPrefix         string
}

func (c SnapshotConfig) normalized() SnapshotConfig {
	if c.TileSize <= 0 {
		c.TileSize = DefaultTileSize
	}
	if c.MaxTileImagePixels <= 0 {
		c.MaxTileImagePixels = DefaultMaxTileImagePixels
	}
	if c.MaxThumbnailDim <= 0 {
		c.MaxThumbnailDim = DefaultMaxThumbnailDim
	}
	if c.Workers <= 0 {
		c.Workers = workpool.Size(2, 4, 32)
	}
	if c.ScanPageSize <= 0 {
		c.ScanPageSize = DefaultScanPageSize
	}
	if c.PathPrefix == "" {
		c.PathPrefix = defaultSnapshotPrefix
	}
	return c
}

type snapshotDocuments interface {
	GetSession(ctx context.Context) (storage.Session, bool, error)
	ScanPixels(ctx context.Context, pageSize int, fn func([]storage.Pixel) error) error
	PutManifest(ctx context.Context, manifest storage.SnapshotManifest) error
}

// SnapshotResult is a persisted snapshot run.
type SnapshotResult struct {
	Manifest    storage.SnapshotManifest
	ManifestURL string
	Elapsed     time.Duration
}

// SnapshotEngine renders the live canvas into sparse tiles and a thumbnail.
type SnapshotEngine struct {
	docs      snapshotDocuments
	artifacts storage.ArtifactStore
	clock     clock.Clock
	logger    *slog.Logger
	cfg       SnapshotConfig
	// newSuffix disambiguates snapshots started in the same millisecond.
	newSuffix func() string
}

// NewSnapshotEngine creates a snapshot engine.
func NewSnapshotEngine(docs snapshotDocuments, artifacts storage.ArtifactStore, c clock.Clock, logger *slog.Logger, cfg SnapshotConfig) *SnapshotEngine {
	return &SnapshotEngine{
		docs:      docs,
		artifacts: artifacts,
		clock:     clock.OrReal(c),
		logger:    logging.OrDefault(logger),
		cfg:       cfg.normalized(),
		newSuffix: randomSuffix,
	}
}

func randomSuffix() string {
	return uuid.NewString()[:8]
}

// Config returns the effective configuration.
func (e *SnapshotEngine) Config() SnapshotConfig { return e.cfg }

// uploadJob is one PNG to render and upload. A nil group marks the thumbnail.
type uploadJob struct {
	group *TileGroup
}

// Render snapshots the canvas as it is when the scan runs.
func (e *SnapshotEngine) Render(ctx context.Context, req SnapshotRequest) (SnapshotResult, error) {
	if e == nil || e.docs == nil || e.artifacts == nil {
		return SnapshotResult{}, fmt.Errorf("snapshot engine is not configured")
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "canvas.snapshot")
	defer span.End()

	started := e.clock.Now()
	id := strconv.FormatInt(started.UnixMilli(), 10) + "-" + e.newSuffix()
	dir := path.Join(e.cfg.PathPrefix, id)

	pixels, err := e.scan(ctx)
	if err != nil {
		return SnapshotResult{}, err
	}
	width, height, err := e.dimensions(ctx, req)
	if err != nil {
		return SnapshotResult{}, err
	}
	bounds := CanvasBounds(width, height, pixels)
	groups, inside := GroupByTile(pixels, e.cfg.TileSize, bounds)
	_, tilesX, tilesY := TileGrid(bounds, e.cfg.TileSize)
	scale := PixelScale(e.cfg.TileSize, e.cfg.MaxTileImagePixels)
	span.SetAttributes(
		attribute.Int("canvas.pixels", inside),
		attribute.Int("canvas.tiles", len(groups)),
	)

	jobs := make([]uploadJob, 0, len(groups)+1)
	for i := range groups {
		jobs = append(jobs, uploadJob{group: &groups[i]})
	}
	if !bounds.Empty() {
		jobs = append(jobs, uploadJob{})
	}

	var (
		mu           sync.Mutex
		tiles        = make(map[TileIndex]string, len(groups))
		dropped      int
		thumbnailURL string
		thumbnailErr error
	)
	err = workpool.Run(ctx, e.cfg.Workers, jobs, func(ctx context.Context, job uploadJob) error {
		if job.group == nil {
			url, err := e.uploadThumbnail(ctx, dir, bounds, pixels)
			mu.Lock()
			thumbnailURL, thumbnailErr = url, err
			mu.Unlock()
			return nil
		}
		url, err := e.uploadTile(ctx, dir, *job.group, bounds, scale)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			dropped++
			e.logger.WarnContext(ctx, "snapshot_tile_upload_failed",
				slog.String("snapshot_id", id),
				slog.Int("tile_x", job.group.Index.X),
				slog.Int("tile_y", job.group.Index.Y),
				slog.String("error", err.Error()),
			)
			return nil
		}
		tiles[job.group.Index] = url
		return nil
	})
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("render snapshot tiles: %w", err)
	}
	if thumbnailErr != nil {
		return SnapshotResult{}, thumbnailErr
	}

	manifest := storage.SnapshotManifest{
		ID:             id,
		Timestamp:      started.UTC(),
		CanvasWidth:    bounds.Width(),
		CanvasHeight:   bounds.Height(),
		OriginX:        bounds.MinX,
		OriginY:        bounds.MinY,
		TileEdgeLength: e.cfg.TileSize,
		PixelScale:     scale,
		TileGridX:      tilesX,
		TileGridY:      tilesY,
		Tiles:          make([]storage.ManifestTile, 0, len(tiles)),
		ThumbnailURL:   thumbnailURL,
		PixelCount:     inside,
		DroppedTiles:   dropped,
	}
	for _, group := range groups {
		url, ok := tiles[group.Index]
		if !ok {
			continue
		}
		manifest.Tiles = append(manifest.Tiles, storage.ManifestTile{TileX: group.Index.X, TileY: group.Index.Y, URL: url})
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return SnapshotResult{}, Permanent(fmt.Errorf("encode manifest: %w", err))
	}
	manifestURL, err := e.put(ctx, path.Join(dir, "manifest.json"), "application/json", body)
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("upload manifest %s: %w: %w", id, ErrUploadFailure, err)
	}
	if err := e.docs.PutManifest(ctx, manifest); err != nil {
		return SnapshotResult{}, storeError("put manifest", err)
	}

	elapsed := e.clock.Now().Sub(started)
	e.logger.InfoContext(ctx, "snapshot_rendered",
		slog.String("snapshot_id", id),
		slog.Int("tiles", len(manifest.Tiles)),
		slog.Int("dropped_tiles", dropped),
		slog.Int("pixels", inside),
		slog.Duration("elapsed", elapsed),
	)
	return SnapshotResult{Manifest: manifest, ManifestURL: manifestURL, Elapsed: elapsed}, nil
}

func (e *SnapshotEngine) scan(ctx context.Context) ([]storage.Pixel, error) {
	var pixels []storage.Pixel
	err := e.docs.ScanPixels(ctx, e.cfg.ScanPageSize, func(page []storage.Pixel) error {
		pixels = append(pixels, page...)
		return nil
	})
	if err != nil {
		return nil, storeError("scan pixels", err)
	}
	return pixels, nil
}

func (e *SnapshotEngine) dimensions(ctx context.Context, req SnapshotRequest) (int, int, error) {
	if req.Width > 0 && req.Height > 0 {
		return req.Width, req.Height, nil
	}
	session, found, err := e.docs.GetSession(ctx)
	if err != nil {
		return 0, 0, storeError("get session", err)
	}
	if found && session.Bounded() {
		return session.Width, session.Height, nil
	}
	return 0, 0, nil
}

// put writes one artifact under the upload timeout.
func (e *SnapshotEngine) put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.ArtifactUpload)
	defer cancel()
	return e.artifacts.Put(ctx, name, contentType, data)
}

func (e *SnapshotEngine) uploadTile(ctx context.Context, dir string, group TileGroup, bounds Bounds, scale int) (string, error) {
	rect := TileRect(group.Index, e.cfg.TileSize, bounds)
	data, err := EncodePNG(RenderTile(rect, scale, group.Pixels))
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("tile-%d-%d.png", group.Index.X, group.Index.Y)
	return e.put(ctx, path.Join(dir, name), "image/png", data)
}

func (e *SnapshotEngine) uploadThumbnail(ctx context.Context, dir string, bounds Bounds, pixels []storage.Pixel) (string, error) {
	img, _ := RenderThumbnail(bounds, e.cfg.MaxThumbnailDim, pixels)
	data, err := EncodePNG(img)
	if err != nil {
		return "", Permanent(err)
	}
	url, err := e.put(ctx, path.Join(dir, "thumbnail.png"), "image/png", data)
	if err != nil {
		return "", fmt.Errorf("upload thumbnail: %w: %w", ErrUploadFailure, err)
	}
	return url, nil
}
