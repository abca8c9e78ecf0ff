package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/argh/internal/models"
)

// SaveWorkItem upserts an issue or pull request with its author, assignees
// and labels in one transaction. Fetched values win, except that file stats
// missing from item keep their stored values.
func (db *DB) SaveWorkItem(ctx context.Context, item *models.WorkItem) error {
	now := utc(time.Now())
	return db.inTx(ctx, func(t *tx) error {
		if err := t.saveUser(ctx, item.Author, now); err != nil {
			return err
		}
		for i := range item.Assignees {
			if err := t.saveUser(ctx, &item.Assignees[i], now); err != nil {
				return err
			}
		}

		var authorID any
		if id := item.AuthorID(); id != 0 {
			authorID = id
		}

		query := `
		INSERT INTO work_items (item_type, id, repository_id, number, title, body, state, author_id, comment_count,
			created_at, updated_at, closed_at, draft, merged, merged_at, mergeable_state,
			additions, deletions, changed_files, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_type, id) DO UPDATE SET
			repository_id = excluded.repository_id,
			number = excluded.number,
			title = excluded.title,
			body = excluded.body,
			state = excluded.state,
			author_id = excluded.author_id,
			comment_count = excluded.comment_count,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at,
			draft = excluded.draft,
			merged = excluded.merged,
			merged_at = excluded.merged_at,
			mergeable_state = excluded.mergeable_state,
			additions = COALESCE(excluded.additions, work_items.additions),
			deletions = COALESCE(excluded.deletions, work_items.deletions),
			changed_files = COALESCE(excluded.changed_files, work_items.changed_files),
			synced_at = excluded.synced_at
		`
		if err := t.exec(ctx, query,
			string(item.Type), item.ID, item.RepositoryID, item.Number, item.Title, item.Body, item.State,
			authorID, item.CommentCount, utc(item.CreatedAt), utc(item.UpdatedAt), utcPtr(item.ClosedAt),
			item.Draft, item.Merged, utcPtr(item.MergedAt), item.MergeableState,
			item.Additions, item.Deletions, item.ChangedFiles, now,
		); err != nil {
			return fmt.Errorf("failed to save %s #%d: %w", item.Type, item.Number, err)
		}

		if err := t.exec(ctx, `DELETE FROM work_item_labels WHERE item_type = ? AND item_id = ?`,
			string(item.Type), item.ID); err != nil {
			return fmt.Errorf("failed to clear labels: %w", err)
		}
		for _, label := range item.Labels {
			if err := t.exec(ctx, `
			INSERT INTO labels (id, name, color) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, color = excluded.color
			`, label.ID, label.Name, label.Color); err != nil {
				return fmt.Errorf("failed to save label %s: %w", label.Name, err)
			}
			if err := t.exec(ctx, `
			INSERT INTO work_item_labels (item_type, item_id, label_id) VALUES (?, ?, ?)
			ON CONFLICT(item_type, item_id, label_id) DO NOTHING
			`, string(item.Type), item.ID, label.ID); err != nil {
				return fmt.Errorf("failed to save item label: %w", err)
			}
		}

		if err := t.exec(ctx, `DELETE FROM work_item_assignees WHERE item_type = ? AND item_id = ?`,
			string(item.Type), item.ID); err != nil {
			return fmt.Errorf("failed to clear assignees: %w", err)
		}
		for _, a := range item.Assignees {
			if err := t.exec(ctx, `
			INSERT INTO work_item_assignees (item_type, item_id, user_id) VALUES (?, ?, ?)
			ON CONFLICT(item_type, item_id, user_id) DO NOTHING
			`, string(item.Type), item.ID, a.ID); err != nil {
				return fmt.Errorf("failed to save assignee: %w", err)
			}
		}
		return nil
	})
}

// SaveComments upserts comments and their authors
func (db *DB) SaveComments(ctx context.Context, comments []*models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	now := utc(time.Now())
	return db.inTx(ctx, func(t *tx) error {
		for _, c := range comments {
			if err := t.saveUser(ctx, c.Author, now); err != nil {
				return err
			}
			var userID any
			if c.Author != nil && c.Author.ID != 0 {
				userID = c.Author.ID
			}
			if err := t.exec(ctx, `
			INSERT INTO comments (id, item_type, item_id, user_id, body, created_at, updated_at, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				body = excluded.body,
				updated_at = excluded.updated_at,
				synced_at = excluded.synced_at
			`, c.ID, string(c.ItemType), c.ItemID, userID, c.Body, utc(c.CreatedAt), utc(c.UpdatedAt), now); err != nil {
				return fmt.Errorf("failed to save comment %d: %w", c.ID, err)
			}
		}
		return nil
	})
}

// SaveReviews upserts pull request reviews and their authors
func (db *DB) SaveReviews(ctx context.Context, reviews []*models.Review) error {
	if len(reviews) == 0 {
		return nil
	}
	now := utc(time.Now())
	return db.inTx(ctx, func(t *tx) error {
		for _, r := range reviews {
			if err := t.saveUser(ctx, r.Reviewer, now); err != nil {
				return err
			}
			var userID any
			if r.Reviewer != nil && r.Reviewer.ID != 0 {
				userID = r.Reviewer.ID
			}
			if err := t.exec(ctx, `
			INSERT INTO reviews (id, pull_request_id, user_id, state, body, submitted_at, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state,
				body = excluded.body,
				submitted_at = excluded.submitted_at,
				synced_at = excluded.synced_at
			`, r.ID, r.PullRequestID, userID, r.State, r.Body, utcPtr(r.SubmittedAt), now); err != nil {
				return fmt.Errorf("failed to save review %d: %w", r.ID, err)
			}
		}
		return nil
	})
}

// SaveReactions upserts reactions of allowed kinds. Re-saving an existing
// reaction only touches synced_at. Returns how many were stored.
func (db *DB) SaveReactions(ctx context.Context, reactions []*models.Reaction) (int, error) {
	stored := 0
	now := utc(time.Now())
	err := db.inTx(ctx, func(t *tx) error {
		for _, r := range reactions {
			if r.User == nil || r.User.ID == 0 || !models.IsAllowedReaction(r.Content) {
				continue
			}
			if err := t.saveUser(ctx, r.User, now); err != nil {
				return err
			}
			if err := t.exec(ctx, `
			INSERT INTO reactions (item_type, item_id, user_id, content, synced_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(item_type, item_id, user_id, content) DO UPDATE SET
				synced_at = excluded.synced_at
			`, string(r.ItemType), r.ItemID, r.User.ID, r.Content, now); err != nil {
				return fmt.Errorf("failed to save reaction: %w", err)
			}
			stored++
		}
		return nil
	})
	return stored, err
}

const workItemColumns = `w.item_type, w.id, w.repository_id, w.number, w.title, w.body, w.state,
	w.comment_count, w.created_at, w.updated_at, w.closed_at, w.draft, w.merged, w.merged_at,
	w.mergeable_state, w.additions, w.deletions, w.changed_files,
	w.author_id, u.login, u.type, u.avatar_url`

// scanWorkItem scans workItemColumns followed by any extra columns
func scanWorkItem(row interface{ Scan(...any) error }, extra ...any) (*models.WorkItem, error) {
	var item models.WorkItem
	var itemType string
	var closedAt, mergedAt sql.NullTime
	var additions, deletions, changed sql.NullInt64
	var authorID sql.NullInt64
	var login, userType, avatar sql.NullString

	dest := []any{&itemType, &item.ID, &item.RepositoryID, &item.Number, &item.Title, &item.Body, &item.State,
		&item.CommentCount, &item.CreatedAt, &item.UpdatedAt, &closedAt, &item.Draft, &item.Merged, &mergedAt,
		&item.MergeableState, &additions, &deletions, &changed,
		&authorID, &login, &userType, &avatar}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	item.Type = models.ItemType(itemType)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	item.ClosedAt = nullTimePtr(closedAt)
	item.MergedAt = nullTimePtr(mergedAt)
	item.Additions = nullIntPtr(additions)
	item.Deletions = nullIntPtr(deletions)
	item.ChangedFiles = nullIntPtr(changed)
	if authorID.Valid {
		item.Author = &models.User{ID: authorID.Int64, Login: login.String, Type: userType.String, AvatarURL: avatar.String}
	}
	return &item, nil
}

// GetWorkItem gets a work item with its author and assignees
func (db *DB) GetWorkItem(ctx context.Context, ref models.ItemRef) (*models.WorkItem, error) {
	row := db.queryRow(ctx, `SELECT `+workItemColumns+`
		FROM work_items w LEFT JOIN users u ON u.id = w.author_id
		WHERE w.item_type = ? AND w.id = ?`, string(ref.Type), ref.ID)

	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}

	assignees, err := db.assignees(ctx, `w.item_type = ? AND w.id = ?`, string(ref.Type), ref.ID)
	if err != nil {
		return nil, err
	}
	item.Assignees = assignees[ref]
	return item, nil
}

// FindWorkItem gets a work item by repository and number
func (db *DB) FindWorkItem(ctx context.Context, repoID int64, itemType models.ItemType, number int) (*models.WorkItem, error) {
	var id int64
	err := db.queryRow(ctx, `SELECT id FROM work_items WHERE repository_id = ? AND item_type = ? AND number = ?`,
		repoID, string(itemType), number).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find work item: %w", err)
	}
	return db.GetWorkItem(ctx, models.ItemRef{Type: itemType, ID: id})
}

// ListComments returns an item's comments, oldest first, with their authors
func (db *DB) ListComments(ctx context.Context, ref models.ItemRef) ([]*models.Comment, error) {
	rows, err := db.query(ctx, `
		SELECT c.id, c.item_type, c.item_id, c.body, c.created_at, c.updated_at, u.id, u.login, u.type
		FROM comments c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.item_type = ? AND c.item_id = ?
		ORDER BY c.created_at, c.id`, string(ref.Type), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*models.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func scanComment(rows *sql.Rows) (*models.Comment, error) {
	var c models.Comment
	var itemType string
	var userID sql.NullInt64
	var login, userType sql.NullString
	if err := rows.Scan(&c.ID, &itemType, &c.ItemID, &c.Body, &c.CreatedAt, &c.UpdatedAt,
		&userID, &login, &userType); err != nil {
		return nil, fmt.Errorf("failed to scan comment: %w", err)
	}
	c.ItemType = models.ItemType(itemType)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if userID.Valid {
		c.Author = &models.User{ID: userID.Int64, Login: login.String, Type: userType.String}
	}
	return &c, nil
}

// assignees maps items matching filter, a condition on work_items w, to
// their assigned users
func (db *DB) assignees(ctx context.Context, filter string, args ...any) (map[models.ItemRef][]models.User, error) {
	rows, err := db.query(ctx, `
		SELECT a.item_type, a.item_id, u.id, u.login, u.type, u.avatar_url
		FROM work_item_assignees a
		JOIN users u ON u.id = a.user_id
		JOIN work_items w ON w.item_type = a.item_type AND w.id = a.item_id
		WHERE `+filter+`
		ORDER BY a.item_type, a.item_id, u.login`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignees: %w", err)
	}
	defer rows.Close()

	out := make(map[models.ItemRef][]models.User)
	for rows.Next() {
		var itemType string
		var itemID int64
		var u models.User
		if err := rows.Scan(&itemType, &itemID, &u.ID, &u.Login, &u.Type, &u.AvatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan assignee: %w", err)
		}
		ref := models.ItemRef{Type: models.ItemType(itemType), ID: itemID}
		out[ref] = append(out[ref], u)
	}
	return out, rows.Err()
}
