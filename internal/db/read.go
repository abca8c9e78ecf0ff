package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wesm/argh/internal/models"
)

// OpenItem is an open work item with everything the recommendation engine
// derives its signals from
type OpenItem struct {
	Item          *models.WorkItem
	RepoFullName  string
	AuthorCompany Company
	// Comments are ordered oldest first
	Comments []*models.Comment
	// ReactionCount is the number of distinct (user, kind) reactions
	ReactionCount int
}

// OpenItems loads every open work item with its comments, assignees and
// reaction counts. Queries run one after another so the single sqlite
// connection is never needed twice at once.
func (db *DB) OpenItems(ctx context.Context) ([]*OpenItem, error) {
	rows, err := db.query(ctx, `SELECT `+workItemColumns+`,
			r.full_name, u.company_override, u.github_company, u.enriched_company
		FROM work_items w
		JOIN repositories r ON r.id = w.repository_id
		LEFT JOIN users u ON u.id = w.author_id
		WHERE w.state = ?
		ORDER BY w.item_type, w.id`, "open")
	if err != nil {
		return nil, fmt.Errorf("failed to list open items: %w", err)
	}

	var items []*OpenItem
	index := make(map[models.ItemRef]*OpenItem)
	for rows.Next() {
		var fullName string
		var override, github, enriched sql.NullString
		item, err := scanWorkItem(rows, &fullName, &override, &github, &enriched)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan open item: %w", err)
		}
		open := &OpenItem{
			Item:         item,
			RepoFullName: fullName,
			AuthorCompany: Company{
				Override: override.String,
				GitHub:   github.String,
				Enriched: enriched.String,
			},
		}
		items = append(items, open)
		index[item.Ref()] = open
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to list open items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	if err := db.attachComments(ctx, index); err != nil {
		return nil, err
	}
	if err := db.attachReactionCounts(ctx, index); err != nil {
		return nil, err
	}

	assignees, err := db.assignees(ctx, `w.state = ?`, "open")
	if err != nil {
		return nil, err
	}
	for ref, users := range assignees {
		if open, ok := index[ref]; ok {
			open.Item.Assignees = users
		}
	}

	return items, nil
}

func (db *DB) attachComments(ctx context.Context, index map[models.ItemRef]*OpenItem) error {
	rows, err := db.query(ctx, `
		SELECT c.id, c.item_type, c.item_id, c.body, c.created_at, c.updated_at, u.id, u.login, u.type
		FROM comments c
		JOIN work_items w ON w.item_type = c.item_type AND w.id = c.item_id
		LEFT JOIN users u ON u.id = c.user_id
		WHERE w.state = ?
		ORDER BY c.item_type, c.item_id, c.created_at, c.id`, "open")
	if err != nil {
		return fmt.Errorf("failed to list open item comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return err
		}
		if open, ok := index[models.ItemRef{Type: c.ItemType, ID: c.ItemID}]; ok {
			open.Comments = append(open.Comments, c)
		}
	}
	return rows.Err()
}

func (db *DB) attachReactionCounts(ctx context.Context, index map[models.ItemRef]*OpenItem) error {
	rows, err := db.query(ctx, `
		SELECT r.item_type, r.item_id, COUNT(*)
		FROM reactions r
		JOIN work_items w ON w.item_type = r.item_type AND w.id = r.item_id
		WHERE w.state = ?
		GROUP BY r.item_type, r.item_id`, "open")
	if err != nil {
		return fmt.Errorf("failed to count reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var itemType string
		var itemID int64
		var count int
		if err := rows.Scan(&itemType, &itemID, &count); err != nil {
			return fmt.Errorf("failed to scan reaction count: %w", err)
		}
		if open, ok := index[models.ItemRef{Type: models.ItemType(itemType), ID: itemID}]; ok {
			open.ReactionCount = count
		}
	}
	return rows.Err()
}

// AllMaintainers maps every repository to its non-bot maintainers
func (db *DB) AllMaintainers(ctx context.Context) (map[int64]map[int64]bool, error) {
	return db.maintainers(ctx, `1 = 1`)
}

// CountRows returns the row count of each table, for sync diagnostics
func (db *DB) CountRows(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range []string{
		"repositories", "users", "work_items", "labels", "work_item_labels", "work_item_assignees",
		"comments", "reviews", "reactions", "sync_watermarks", "maintainer_assertions",
	} {
		var n int
		if err := db.queryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
