package db

import (
	"context"
	"fmt"
	"time"

	"github.com/wesm/argh/internal/models"
)

// SaveMaintainerAssertion upserts one source's claim. first_seen_at is kept
// from the first time the (repository, user, source) triple was seen.
func (db *DB) SaveMaintainerAssertion(ctx context.Context, a models.MaintainerAssertion) error {
	seen := a.LastSeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	err := db.exec(ctx, `
	INSERT INTO maintainer_assertions (repository_id, user_id, source, confidence, first_seen_at, last_seen_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(repository_id, user_id, source) DO UPDATE SET
		confidence = excluded.confidence,
		last_seen_at = excluded.last_seen_at
	`, a.RepositoryID, a.UserID, string(a.Source), a.Confidence, utc(seen), utc(seen))
	if err != nil {
		return fmt.Errorf("failed to save maintainer assertion: %w", err)
	}
	return nil
}

// MaintainerAssertions lists every assertion for a repository
func (db *DB) MaintainerAssertions(ctx context.Context, repoID int64) ([]models.MaintainerAssertion, error) {
	rows, err := db.query(ctx, `
		SELECT repository_id, user_id, source, confidence, first_seen_at, last_seen_at
		FROM maintainer_assertions
		WHERE repository_id = ?
		ORDER BY user_id, source`, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list maintainer assertions: %w", err)
	}
	defer rows.Close()

	var out []models.MaintainerAssertion
	for rows.Next() {
		var a models.MaintainerAssertion
		var source string
		if err := rows.Scan(&a.RepositoryID, &a.UserID, &source, &a.Confidence, &a.FirstSeenAt, &a.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan maintainer assertion: %w", err)
		}
		a.Source = models.MaintainerSource(source)
		a.FirstSeenAt = a.FirstSeenAt.UTC()
		a.LastSeenAt = a.LastSeenAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Maintainers returns the non-bot users with at least one assertion for a
// repository
func (db *DB) Maintainers(ctx context.Context, repoID int64) (map[int64]bool, error) {
	all, err := db.maintainers(ctx, `a.repository_id = ?`, repoID)
	if err != nil {
		return nil, err
	}
	set := all[repoID]
	if set == nil {
		set = make(map[int64]bool)
	}
	return set, nil
}

// maintainers maps repositories matching filter, a condition on
// maintainer_assertions a, to their non-bot maintainers
func (db *DB) maintainers(ctx context.Context, filter string, args ...any) (map[int64]map[int64]bool, error) {
	rows, err := db.query(ctx, `
		SELECT DISTINCT a.repository_id, a.user_id, COALESCE(u.login, ''), COALESCE(u.type, '')
		FROM maintainer_assertions a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE `+filter, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list maintainers: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]map[int64]bool)
	for rows.Next() {
		var repoID, userID int64
		var login, userType string
		if err := rows.Scan(&repoID, &userID, &login, &userType); err != nil {
			return nil, fmt.Errorf("failed to scan maintainer: %w", err)
		}
		if models.IsBot(login, userType) {
			continue
		}
		if out[repoID] == nil {
			out[repoID] = make(map[int64]bool)
		}
		out[repoID][userID] = true
	}
	return out, rows.Err()
}
