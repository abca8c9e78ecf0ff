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

// saveUserQuery never touches the company columns; those belong to
// enrichment and manual overrides and survive every re-sync.
const saveUserQuery = `
	INSERT INTO users (id, login, type, avatar_url, synced_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		login = excluded.login,
		type = CASE WHEN excluded.type = '' THEN users.type ELSE excluded.type END,
		avatar_url = CASE WHEN excluded.avatar_url = '' THEN users.avatar_url ELSE excluded.avatar_url END,
		synced_at = excluded.synced_at
	`

// SaveUser saves a user to the database
func (db *DB) SaveUser(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == 0 {
		return nil
	}
	if err := db.exec(ctx, saveUserQuery, user.ID, user.Login, user.Type, user.AvatarURL, utc(time.Now())); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (t *tx) saveUser(ctx context.Context, user *models.User, now time.Time) error {
	if user == nil || user.ID == 0 {
		return nil
	}
	if err := t.exec(ctx, saveUserQuery, user.ID, user.Login, user.Type, user.AvatarURL, now); err != nil {
		return fmt.Errorf("failed to save user %s: %w", user.Login, err)
	}
	return nil
}

// UserIDByLogin looks up a known user's id by login, case-insensitively
func (db *DB) UserIDByLogin(ctx context.Context, login string) (int64, bool, error) {
	var id int64
	err := db.queryRow(ctx, `SELECT id FROM users WHERE LOWER(login) = ? ORDER BY synced_at DESC LIMIT 1`,
		strings.ToLower(strings.TrimSpace(login))).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up user %s: %w", login, err)
	}
	return id, true, nil
}

// GetUser gets a user by id
func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := db.queryRow(ctx, `SELECT id, login, type, avatar_url FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Login, &u.Type, &u.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// SetGitHubCompany records the company from a user's GitHub profile. An
// empty company leaves the stored value alone.
func (db *DB) SetGitHubCompany(ctx context.Context, userID int64, company string) error {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil
	}
	if err := db.exec(ctx, `UPDATE users SET github_company = ? WHERE id = ?`, company, userID); err != nil {
		return fmt.Errorf("failed to set github company: %w", err)
	}
	return nil
}

// SetEnrichedCompany records a company reported by an external enrichment source
func (db *DB) SetEnrichedCompany(ctx context.Context, userID int64, company string) error {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil
	}
	if err := db.exec(ctx, `UPDATE users SET enriched_company = ? WHERE id = ?`, company, userID); err != nil {
		return fmt.Errorf("failed to set enriched company: %w", err)
	}
	return nil
}

// SetCompanyOverride sets or, with an empty company, clears the manual
// company of a user
func (db *DB) SetCompanyOverride(ctx context.Context, login, company string) error {
	id, ok, err := db.UserIDByLogin(ctx, login)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s: %w", login, ErrNotFound)
	}

	var value any
	if c := strings.TrimSpace(company); c != "" {
		value = c
	}
	if err := db.exec(ctx, `UPDATE users SET company_override = ? WHERE id = ?`, value, id); err != nil {
		return fmt.Errorf("failed to set company override: %w", err)
	}
	return nil
}

// Company holds every company value known for a user
type Company struct {
	Override string
	GitHub   string
	Enriched string
}

// Effective returns the manual override, else the GitHub profile company,
// else the enrichment company.
func (c Company) Effective() string {
	for _, v := range []string{c.Override, c.GitHub, c.Enriched} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
