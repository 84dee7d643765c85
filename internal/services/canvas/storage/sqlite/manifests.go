package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

// PutManifest inserts an immutable snapshot manifest.
func (s *Store) PutManifest(ctx context.Context, manifest storage.SnapshotManifest) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(manifest.ID)
	if id == "" {
		return fmt.Errorf("manifest id is required")
	}
	body, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", id, err)
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO snapshot_manifests (id, created_at, tile_count, pixel_count, manifest_json)
		 VALUES (?, ?, ?, ?, ?)`,
		id,
		toMillis(manifest.Timestamp),
		len(manifest.Tiles),
		manifest.PixelCount,
		string(body),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrManifestExists
		}
		return fmt.Errorf("insert manifest %s: %w", id, err)
	}
	return nil
}

// GetManifest returns the manifest stored under id.
func (s *Store) GetManifest(ctx context.Context, id string) (storage.SnapshotManifest, bool, error) {
	if err := s.ready(ctx); err != nil {
		return storage.SnapshotManifest{}, false, err
	}
	var body string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT manifest_json FROM snapshot_manifests WHERE id = ?`, strings.TrimSpace(id)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SnapshotManifest{}, false, nil
	}
	if err != nil {
		return storage.SnapshotManifest{}, false, fmt.Errorf("get manifest %s: %w", id, err)
	}
	var manifest storage.SnapshotManifest
	if err := json.Unmarshal([]byte(body), &manifest); err != nil {
		return storage.SnapshotManifest{}, false, fmt.Errorf("decode manifest %s: %w", id, err)
	}
	return manifest, true, nil
}

// ListManifests returns the newest manifests first.
func (s *Store) ListManifests(ctx context.Context, limit int) ([]storage.SnapshotManifest, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []storage.SnapshotManifest{}, nil
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT manifest_json FROM snapshot_manifests ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer rows.Close()

	manifests := make([]storage.SnapshotManifest, 0, limit)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		var manifest storage.SnapshotManifest
		if err := json.Unmarshal([]byte(body), &manifest); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		manifests = append(manifests, manifest)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifests: %w", err)
	}
	return manifests, nil
}
