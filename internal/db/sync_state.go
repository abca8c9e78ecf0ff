package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/argh/internal/models"
)

// GetWatermark returns the last successful sync time of a repository
// resource. ok is false when the resource was never synced.
func (db *DB) GetWatermark(ctx context.Context, repoID int64, resource models.Resource) (time.Time, bool, error) {
	var last time.Time
	err := db.queryRow(ctx,
		`SELECT last_synced_at FROM sync_watermarks WHERE repository_id = ? AND resource = ?`,
		repoID, string(resource)).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get watermark: %w", err)
	}
	return last.UTC(), true, nil
}

// SetWatermark records a successful sync of a repository resource
func (db *DB) SetWatermark(ctx context.Context, repoID int64, resource models.Resource, at time.Time) error {
	err := db.exec(ctx, `
	INSERT INTO sync_watermarks (repository_id, resource, last_synced_at)
	VALUES (?, ?, ?)
	ON CONFLICT(repository_id, resource) DO UPDATE SET
		last_synced_at = excluded.last_synced_at
	`, repoID, string(resource), utc(at))
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}
	return nil
}

// SetWatermarks advances several resources of one repository atomically
func (db *DB) SetWatermarks(ctx context.Context, repoID int64, at time.Time, resources ...models.Resource) error {
	return db.inTx(ctx, func(t *tx) error {
		for _, resource := range resources {
			if err := t.exec(ctx, `
			INSERT INTO sync_watermarks (repository_id, resource, last_synced_at)
			VALUES (?, ?, ?)
			ON CONFLICT(repository_id, resource) DO UPDATE SET
				last_synced_at = excluded.last_synced_at
			`, repoID, string(resource), utc(at)); err != nil {
				return fmt.Errorf("failed to set %s watermark: %w", resource, err)
			}
		}
		return nil
	})
}
