package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/argh/internal/models"
)

// GetPreferences returns a user's preferences, all false when none are stored
func (db *DB) GetPreferences(ctx context.Context, userID int64) (models.Preferences, error) {
	var p models.Preferences
	err := db.queryRow(ctx, `
		SELECT prefer_known_customers, prefer_recent_activity, prefer_waiting_on_me, prefer_quick_wins, starred_only
		FROM user_preferences WHERE user_id = ?`, userID).
		Scan(&p.PreferKnownCustomers, &p.PreferRecentActivity, &p.PreferWaitingOnMe, &p.PreferQuickWins, &p.StarredOnly)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Preferences{}, nil
	}
	if err != nil {
		return models.Preferences{}, fmt.Errorf("failed to get preferences: %w", err)
	}
	return p, nil
}

// PatchPreferences applies the set fields of patch and returns the result.
// Each column is written by its own fixed statement.
func (db *DB) PatchPreferences(ctx context.Context, userID int64, patch models.PreferencesPatch) (models.Preferences, error) {
	if patch.Empty() {
		return db.GetPreferences(ctx, userID)
	}

	now := utc(time.Now())
	err := db.inTx(ctx, func(t *tx) error {
		if err := t.exec(ctx, `
		INSERT INTO user_preferences (user_id, updated_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING
		`, userID, now); err != nil {
			return err
		}

		fields := []struct {
			value *bool
			query string
		}{
			{patch.PreferKnownCustomers, `UPDATE user_preferences SET prefer_known_customers = ?, updated_at = ? WHERE user_id = ?`},
			{patch.PreferRecentActivity, `UPDATE user_preferences SET prefer_recent_activity = ?, updated_at = ? WHERE user_id = ?`},
			{patch.PreferWaitingOnMe, `UPDATE user_preferences SET prefer_waiting_on_me = ?, updated_at = ? WHERE user_id = ?`},
			{patch.PreferQuickWins, `UPDATE user_preferences SET prefer_quick_wins = ?, updated_at = ? WHERE user_id = ?`},
			{patch.StarredOnly, `UPDATE user_preferences SET starred_only = ?, updated_at = ? WHERE user_id = ?`},
		}
		for _, f := range fields {
			if f.value == nil {
				continue
			}
			if err := t.exec(ctx, f.query, *f.value, now, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Preferences{}, fmt.Errorf("failed to patch preferences: %w", err)
	}
	return db.GetPreferences(ctx, userID)
}
