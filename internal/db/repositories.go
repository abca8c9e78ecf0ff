package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/argh/internal/models"
)

// SaveRepository saves a repository to the database
func (db *DB) SaveRepository(ctx context.Context, repo *models.Repository) error {
	query := `
	INSERT INTO repositories (id, owner, name, full_name, visibility, private, archived, created_at, updated_at, pushed_at, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner = excluded.owner,
		name = excluded.name,
		full_name = excluded.full_name,
		visibility = excluded.visibility,
		private = excluded.private,
		archived = excluded.archived,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		pushed_at = excluded.pushed_at,
		synced_at = excluded.synced_at
	`

	err := db.exec(ctx, query,
		repo.ID, repo.Owner, repo.Name, repo.FullName, repo.Visibility, repo.Private, repo.Archived,
		utc(repo.CreatedAt), utc(repo.UpdatedAt), utcPtr(repo.PushedAt), utc(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save repository: %w", err)
	}

	return nil
}

const repositoryColumns = `id, owner, name, full_name, visibility, private, archived, created_at, updated_at, pushed_at`

func scanRepository(row interface{ Scan(...any) error }) (*models.Repository, error) {
	var repo models.Repository
	var created, updated, pushed sql.NullTime
	if err := row.Scan(&repo.ID, &repo.Owner, &repo.Name, &repo.FullName, &repo.Visibility,
		&repo.Private, &repo.Archived, &created, &updated, &pushed); err != nil {
		return nil, err
	}
	repo.CreatedAt = created.Time.UTC()
	repo.UpdatedAt = updated.Time.UTC()
	repo.PushedAt = nullTimePtr(pushed)
	return &repo, nil
}

// GetRepositoryByFullName gets a repository by its full name, case-insensitively
func (db *DB) GetRepositoryByFullName(ctx context.Context, fullName string) (*models.Repository, error) {
	row := db.queryRow(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE LOWER(full_name) = ?`,
		strings.ToLower(fullName))

	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	return repo, nil
}

// GetRepository gets a repository by id
func (db *DB) GetRepository(ctx context.Context, id int64) (*models.Repository, error) {
	repo, err := scanRepository(db.queryRow(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// StarRepository marks a repository as starred by a user
func (db *DB) StarRepository(ctx context.Context, userID, repoID int64) error {
	err := db.exec(ctx, `
	INSERT INTO starred_repositories (user_id, repository_id, starred_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id, repository_id) DO NOTHING
	`, userID, repoID, utc(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to star repository: %w", err)
	}
	return nil
}

// UnstarRepository removes a user's star
func (db *DB) UnstarRepository(ctx context.Context, userID, repoID int64) error {
	if err := db.exec(ctx,
		`DELETE FROM starred_repositories WHERE user_id = ? AND repository_id = ?`,
		userID, repoID); err != nil {
		return fmt.Errorf("failed to unstar repository: %w", err)
	}
	return nil
}

// StarredRepositories returns the ids of the repositories a user starred
func (db *DB) StarredRepositories(ctx context.Context, userID int64) (map[int64]bool, error) {
	rows, err := db.query(ctx, `SELECT repository_id FROM starred_repositories WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list starred repositories: %w", err)
	}
	defer rows.Close()

	starred := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan starred repository: %w", err)
		}
		starred[id] = true
	}
	return starred, rows.Err()
}
