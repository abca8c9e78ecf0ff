package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SyncRun is the stored summary of one sync pass
type SyncRun struct {
	ID             string
	Target         string
	StartedAt      time.Time
	FinishedAt     time.Time
	ReposProcessed int
	ReposSkipped   int
	IssuesSynced   int
	PRsSynced      int
	Errors         []string
}

// RecordSyncRun stores a finished sync pass
func (db *DB) RecordSyncRun(ctx context.Context, run SyncRun) error {
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to encode sync errors: %w", err)
	}

	err = db.exec(ctx, `
	INSERT INTO sync_runs (id, target, started_at, finished_at, repos_processed, repos_skipped,
		issues_synced, prs_synced, error_count, errors)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Target, utc(run.StartedAt), utc(run.FinishedAt), run.ReposProcessed, run.ReposSkipped,
		run.IssuesSynced, run.PRsSynced, len(errs), string(encoded))
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// LastSyncRun returns the most recent pass for a target
func (db *DB) LastSyncRun(ctx context.Context, target string) (*SyncRun, error) {
	var run SyncRun
	var encoded string
	err := db.queryRow(ctx, `
		SELECT id, target, started_at, finished_at, repos_processed, repos_skipped, issues_synced, prs_synced, errors
		FROM sync_runs WHERE target = ?
		ORDER BY started_at DESC LIMIT 1`, target).
		Scan(&run.ID, &run.Target, &run.StartedAt, &run.FinishedAt, &run.ReposProcessed, &run.ReposSkipped,
			&run.IssuesSynced, &run.PRsSynced, &encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	if err := json.Unmarshal([]byte(encoded), &run.Errors); err != nil {
		return nil, fmt.Errorf("failed to decode sync errors: %w", err)
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	return &run, nil
}
