package recommend

import (
	"time"

	"github.com/wesm/argh/internal/db"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/turn"
)

// userContext is what the engine knows about the requesting user relative
// to one item's repository
type userContext struct {
	id         int64
	maintainer bool
	starred    bool
}

func assigned(item *models.WorkItem, userID int64) bool {
	for _, a := range item.Assignees {
		if a.ID == userID {
			return true
		}
	}
	return false
}

// eligible reports whether an item may be recommended to the user. Items
// waiting on their author only qualify for an assignee.
func eligible(open *db.OpenItem, state turn.State, user userContext, prefs models.Preferences, snoozed map[models.ItemRef]bool) bool {
	item := open.Item
	if !item.IsOpen() {
		return false
	}
	if item.Type == models.ItemPullRequest && item.Draft {
		return false
	}
	if snoozed[item.Ref()] {
		return false
	}
	if state.Turn != turn.Maintainer && !assigned(item, user.id) {
		return false
	}
	if prefs.StarredOnly && !user.maintainer && !user.starred {
		return false
	}
	return true
}

func (e *Engine) extractSignals(open *db.OpenItem, state turn.State, user userContext, maintainers map[int64]bool) Signals {
	item := open.Item
	w := e.weights

	s := Signals{
		WaitingOnMe:         (state.Turn == turn.Maintainer && user.maintainer) || assigned(item, user.id),
		KnownCustomerAuthor: isCustomer(e.classifier, open.AuthorCompany.Effective()),
		AuthorIsMaintainer:  maintainers[item.AuthorID()],
		MaintainedOrStarred: user.maintainer || user.starred,
		ReactionScore:       min(open.ReactionCount, w.MaxReactions),
		LastActivityAt:      item.UpdatedAt,
	}

	comments := max(item.CommentCount, len(open.Comments))
	s.QuickWin = comments <= w.QuickWinMaxComments

	// Last activity is the latest comment, or the item's update time when
	// nobody has commented.
	var latest time.Time
	commenters := make(map[int64]bool)
	for _, c := range open.Comments {
		if c.CreatedAt.After(latest) {
			latest = c.CreatedAt
		}
		if c.Author != nil && c.Author.ID != 0 && !c.Author.IsBot() {
			commenters[c.Author.ID] = true
		}
	}
	if !latest.IsZero() {
		s.LastActivityAt = latest
	}
	s.UniqueCommenterCount = min(len(commenters), w.MaxCommenters)
	return s
}
