package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// migration is a single schema step. Statements are split on ";" and must
// be valid for both sqlite and PostgreSQL.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS repositories (
	id BIGINT PRIMARY KEY,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	full_name TEXT NOT NULL,
	visibility TEXT NOT NULL DEFAULT '',
	private BOOLEAN NOT NULL DEFAULT FALSE,
	archived BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP,
	updated_at TIMESTAMP,
	pushed_at TIMESTAMP,
	synced_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_repositories_full_name ON repositories(full_name);

CREATE TABLE IF NOT EXISTS users (
	id BIGINT PRIMARY KEY,
	login TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	github_company TEXT,
	enriched_company TEXT,
	company_override TEXT,
	synced_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_login ON users(login);

CREATE TABLE IF NOT EXISTS work_items (
	item_type TEXT NOT NULL,
	id BIGINT NOT NULL,
	repository_id BIGINT NOT NULL,
	number INTEGER NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	author_id BIGINT,
	comment_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	closed_at TIMESTAMP,
	draft BOOLEAN NOT NULL DEFAULT FALSE,
	merged BOOLEAN NOT NULL DEFAULT FALSE,
	merged_at TIMESTAMP,
	mergeable_state TEXT NOT NULL DEFAULT '',
	additions INTEGER,
	deletions INTEGER,
	changed_files INTEGER,
	synced_at TIMESTAMP NOT NULL,
	PRIMARY KEY (item_type, id)
);

CREATE INDEX IF NOT EXISTS idx_work_items_repo_number ON work_items(repository_id, item_type, number);
CREATE INDEX IF NOT EXISTS idx_work_items_state ON work_items(state);

CREATE TABLE IF NOT EXISTS labels (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS work_item_labels (
	item_type TEXT NOT NULL,
	item_id BIGINT NOT NULL,
	label_id BIGINT NOT NULL,
	PRIMARY KEY (item_type, item_id, label_id)
);

CREATE TABLE IF NOT EXISTS work_item_assignees (
	item_type TEXT NOT NULL,
	item_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	PRIMARY KEY (item_type, item_id, user_id)
);

CREATE TABLE IF NOT EXISTS comments (
	id BIGINT PRIMARY KEY,
	item_type TEXT NOT NULL,
	item_id BIGINT NOT NULL,
	user_id BIGINT,
	body TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	synced_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_comments_item ON comments(item_type, item_id);

CREATE TABLE IF NOT EXISTS reviews (
	id BIGINT PRIMARY KEY,
	pull_request_id BIGINT NOT NULL,
	user_id BIGINT,
	state TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMP,
	synced_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reviews_pull_request ON reviews(pull_request_id);

CREATE TABLE IF NOT EXISTS reactions (
	item_type TEXT NOT NULL,
	item_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	content TEXT NOT NULL,
	synced_at TIMESTAMP NOT NULL,
	PRIMARY KEY (item_type, item_id, user_id, content)
);

CREATE TABLE IF NOT EXISTS sync_watermarks (
	repository_id BIGINT NOT NULL,
	resource TEXT NOT NULL,
	last_synced_at TIMESTAMP NOT NULL,
	PRIMARY KEY (repository_id, resource)
);

CREATE TABLE IF NOT EXISTS maintainer_assertions (
	repository_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	source TEXT NOT NULL,
	confidence INTEGER NOT NULL,
	first_seen_at TIMESTAMP NOT NULL,
	last_seen_at TIMESTAMP NOT NULL,
	PRIMARY KEY (repository_id, user_id, source)
);

CREATE TABLE IF NOT EXISTS user_preferences (
	user_id BIGINT PRIMARY KEY,
	prefer_known_customers BOOLEAN NOT NULL DEFAULT FALSE,
	prefer_recent_activity BOOLEAN NOT NULL DEFAULT FALSE,
	prefer_waiting_on_me BOOLEAN NOT NULL DEFAULT FALSE,
	prefer_quick_wins BOOLEAN NOT NULL DEFAULT FALSE,
	starred_only BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS starred_repositories (
	user_id BIGINT NOT NULL,
	repository_id BIGINT NOT NULL,
	starred_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, repository_id)
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	repos_processed INTEGER NOT NULL DEFAULT 0,
	repos_skipped INTEGER NOT NULL DEFAULT 0,
	issues_synced INTEGER NOT NULL DEFAULT 0,
	prs_synced INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_target ON sync_runs(target, started_at)
`,
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

// migrate applies every migration newer than the recorded schema version.
// Versions are tracked in schema_migrations so the same bookkeeping works on
// sqlite and PostgreSQL.
func (db *DB) migrate(ctx context.Context) error {
	if err := db.exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := db.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if current >= latestVersion() {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		slog.Info("applying migration", "version", m.Version, "description", m.Description)

		err := db.inTx(ctx, func(t *tx) error {
			for _, stmt := range splitStatements(m.SQL) {
				if err := t.exec(ctx, stmt); err != nil {
					return err
				}
			}
			return t.exec(ctx,
				`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Description, utc(time.Now()))
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}

	return nil
}

// schemaVersion reads the highest applied migration version
func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := db.queryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
